package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrValidation     = errors.New("validation failed")
	ErrLookupFailed   = errors.New("lookup failed")
	ErrDeliveryFailed = errors.New("delivery failed")
	ErrStore          = errors.New("store error")
)

// LookupFailure carries the message shown to the user when a BIN lookup fails.
// It matches ErrLookupFailed with errors.Is.
type LookupFailure struct {
	Message string
	Cause   error
}

func (e *LookupFailure) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *LookupFailure) Is(target error) bool { return target == ErrLookupFailed }

func (e *LookupFailure) Unwrap() error { return e.Cause }
