package domain

import (
	"fmt"
	"time"
)

// RequestKind selects which pending-request table a record lives in.
type RequestKind string

const (
	KindRegistration  RequestKind = "registration"
	KindPasswordReset RequestKind = "password_reset"
)

// ParseRequestKind accepts both the canonical kind and its URL form.
func ParseRequestKind(s string) (RequestKind, error) {
	switch s {
	case string(KindRegistration), "registrations":
		return KindRegistration, nil
	case string(KindPasswordReset), "password-reset", "password-resets":
		return KindPasswordReset, nil
	}
	return "", fmt.Errorf("unknown request kind %q: %w", s, ErrValidation)
}

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusCompleted RequestStatus = "completed"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
	StatusFailed    RequestStatus = "failed"
	StatusExpired   RequestStatus = "expired"
)

// Terminal reports whether no further transition is allowed out of s.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusCompleted, StatusRejected, StatusCancelled, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Succeeded reports whether s is the success status for either kind.
func (s RequestStatus) Succeeded() bool {
	return s == StatusApproved || s == StatusCompleted
}

// Declined reports whether s means the user turned the request down.
func (s RequestStatus) Declined() bool {
	return s == StatusRejected || s == StatusCancelled
}

// AllowsResolution reports whether the confirming agent may move a request of
// this kind into status s. Registrations are approved or rejected; resets are
// completed or cancelled. Both may fail. Expiry belongs to the sweeper.
func (k RequestKind) AllowsResolution(s RequestStatus) bool {
	switch s {
	case StatusFailed:
		return true
	case StatusApproved, StatusRejected:
		return k == KindRegistration
	case StatusCompleted, StatusCancelled:
		return k == KindPasswordReset
	}
	return false
}

// PendingRequest is a registration or password reset awaiting confirmation in Telegram.
// PK: request_id. GSIs: username, chat_id. ExpiresAt is a Unix timestamp used as DynamoDB TTL.
type PendingRequest struct {
	RequestID    string        `json:"id" dynamodbav:"request_id"`
	Kind         RequestKind   `json:"kind" dynamodbav:"kind"`
	Username     string        `json:"username" dynamodbav:"username"`
	PasswordHash string        `json:"-" dynamodbav:"password_hash"`
	ChatID       string        `json:"chat_id" dynamodbav:"chat_id"`
	Status       RequestStatus `json:"status" dynamodbav:"status"`
	Error        string        `json:"error,omitempty" dynamodbav:"error,omitempty"`
	CreatedAt    time.Time     `json:"created" dynamodbav:"created_at"`
	ExpiresAt    int64         `json:"expires_at" dynamodbav:"expires_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty" dynamodbav:"resolved_at,omitempty"`
}

// Expired reports whether the request's TTL has passed at now.
func (r *PendingRequest) Expired(now time.Time) bool {
	return r.ExpiresAt <= now.Unix()
}

// Done reports whether the record no longer needs to exist.
func (r *PendingRequest) Done(now time.Time) bool {
	return r.Status != StatusPending || r.Expired(now)
}

type RegistrationRequest struct {
	Username string `json:"username" validate:"required,username"`
	Password string `json:"password" validate:"required,min=8,max=72"`
	ChatID   string `json:"telegram_chat_id" validate:"required,chatid"`
}

type PasswordResetRequest struct {
	Username    string `json:"username" validate:"required,username"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=72"`
}

type ResolveRequest struct {
	Status RequestStatus `json:"status" validate:"required"`
	Error  string        `json:"error"`
}

// DeliveryPrompt is what the confirmation bot needs to ask the user.
type DeliveryPrompt struct {
	RequestID string      `json:"request_id"`
	Kind      RequestKind `json:"kind"`
	ChatID    string      `json:"chat_id"`
	Username  string      `json:"username"`
	ExpiresAt int64       `json:"expires_at"`
}

// StatusEvent is published after a pending request changes status.
type StatusEvent struct {
	Kind      RequestKind   `json:"kind"`
	RequestID string        `json:"request_id"`
	Status    RequestStatus `json:"status"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

type OutcomeKind string

const (
	OutcomeSuccess   OutcomeKind = "success"
	OutcomeCancelled OutcomeKind = "cancelled"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeExpired   OutcomeKind = "expired"
)

// Outcome is what a waiting client is told once its request resolves.
type Outcome struct {
	Kind    OutcomeKind   `json:"outcome"`
	Status  RequestStatus `json:"status"`
	Message string        `json:"message"`
}
