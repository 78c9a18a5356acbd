package request

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/infrastructure/events"
	"github.com/bincheck-api/internal/metrics"
	"github.com/bincheck-api/internal/pkg/id"
	"github.com/bincheck-api/internal/pkg/validate"
	"golang.org/x/crypto/bcrypt"
)

const defaultTTL = 10 * time.Minute

type Service interface {
	SubmitRegistration(ctx context.Context, req domain.RegistrationRequest) (*domain.PendingRequest, error)
	SubmitPasswordReset(ctx context.Context, req domain.PasswordResetRequest) (*domain.PendingRequest, error)
	Get(ctx context.Context, kind domain.RequestKind, requestID string) (*domain.PendingRequest, error)
	Resend(ctx context.Context, kind domain.RequestKind, requestID string) (*domain.PendingRequest, error)
	Resolve(ctx context.Context, kind domain.RequestKind, requestID string, req domain.ResolveRequest) (*domain.PendingRequest, error)
	Watch(ctx context.Context, kind domain.RequestKind, requestID string) (<-chan domain.Outcome, error)
}

type requestStore interface {
	Put(ctx context.Context, req *domain.PendingRequest) error
	Get(ctx context.Context, kind domain.RequestKind, requestID string) (*domain.PendingRequest, error)
	PendingByUsername(ctx context.Context, kind domain.RequestKind, username string) ([]domain.PendingRequest, error)
	PendingByChatID(ctx context.Context, kind domain.RequestKind, chatID string) ([]domain.PendingRequest, error)
	Transition(ctx context.Context, kind domain.RequestKind, requestID string, status domain.RequestStatus, errMsg string, at time.Time) (*domain.PendingRequest, error)
}

type userStore interface {
	GetByUsername(ctx context.Context, username string) (*domain.User, error)
}

// accountStore commits the account change of a confirmed request together
// with the request's move out of pending.
type accountStore interface {
	Register(ctx context.Context, pr *domain.PendingRequest, u *domain.User, b *domain.ChannelBinding, at time.Time) (*domain.PendingRequest, error)
	ResetPassword(ctx context.Context, pr *domain.PendingRequest, userID string, at time.Time) (*domain.PendingRequest, error)
}

type bindingStore interface {
	Get(ctx context.Context, username string) (*domain.ChannelBinding, error)
	GetByChatID(ctx context.Context, chatID string) (*domain.ChannelBinding, error)
}

// Deliverer hands a confirmation prompt to the external channel.
type Deliverer interface {
	Deliver(ctx context.Context, p domain.DeliveryPrompt) error
}

type eventBus interface {
	Publish(e domain.StatusEvent)
	Subscribe(filter events.Filter) (<-chan domain.StatusEvent, func())
	Settled(kind domain.RequestKind, requestID string) (domain.StatusEvent, bool)
}

type service struct {
	requests  requestStore
	users     userStore
	bindings  bindingStore
	accounts  accountStore
	deliverer Deliverer
	events    eventBus
	ttl       time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
}

type ServiceDeps struct {
	RequestRepo requestStore
	UserRepo    userStore
	BindingRepo bindingStore
	AccountRepo accountStore
	Deliverer   Deliverer
	Events      eventBus
	TTL         time.Duration
	Metrics     *metrics.Metrics
}

func NewService(deps ServiceDeps) Service {
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &service{
		requests:  deps.RequestRepo,
		users:     deps.UserRepo,
		bindings:  deps.BindingRepo,
		accounts:  deps.AccountRepo,
		deliverer: deps.Deliverer,
		events:    deps.Events,
		ttl:       ttl,
		now:       func() time.Time { return time.Now().UTC() },
		metrics:   deps.Metrics,
	}
}

func (s *service) SubmitRegistration(ctx context.Context, req domain.RegistrationRequest) (*domain.PendingRequest, error) {
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}
	// Uniqueness is check-then-act; two concurrent submissions can both pass.
	if _, err := s.users.GetByUsername(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("username %q is already registered: %w", req.Username, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, err := s.bindings.Get(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("username %q is already linked to Telegram: %w", req.Username, domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if _, err := s.bindings.GetByChatID(ctx, req.ChatID); err == nil {
		return nil, fmt.Errorf("this Telegram account is already linked: %w", domain.ErrConflict)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if err := s.ensureNoPending(ctx, domain.KindRegistration, req.Username, req.ChatID); err != nil {
		return nil, err
	}
	return s.submit(ctx, domain.KindRegistration, req.Username, req.Password, req.ChatID)
}

func (s *service) SubmitPasswordReset(ctx context.Context, req domain.PasswordResetRequest) (*domain.PendingRequest, error) {
	if err := validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%v: %w", err, domain.ErrValidation)
	}
	if _, err := s.users.GetByUsername(ctx, req.Username); err != nil {
		return nil, err
	}
	binding, err := s.bindings.Get(ctx, req.Username)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("no Telegram account is linked to this username: %w", domain.ErrValidation)
	}
	if err != nil {
		return nil, err
	}
	if err := s.ensureNoPending(ctx, domain.KindPasswordReset, req.Username, binding.ChatID); err != nil {
		return nil, err
	}
	return s.submit(ctx, domain.KindPasswordReset, req.Username, req.NewPassword, binding.ChatID)
}

// ensureNoPending ignores pending records whose TTL has already passed.
func (s *service) ensureNoPending(ctx context.Context, kind domain.RequestKind, username, chatID string) error {
	now := s.now()
	byUser, err := s.requests.PendingByUsername(ctx, kind, username)
	if err != nil {
		return err
	}
	if live(byUser, now) {
		return fmt.Errorf("a %s is already pending for %q: %w", kind, username, domain.ErrConflict)
	}
	byChat, err := s.requests.PendingByChatID(ctx, kind, chatID)
	if err != nil {
		return err
	}
	if live(byChat, now) {
		return fmt.Errorf("a %s is already pending for this Telegram account: %w", kind, domain.ErrConflict)
	}
	return nil
}

func live(reqs []domain.PendingRequest, now time.Time) bool {
	for i := range reqs {
		if !reqs[i].Done(now) {
			return true
		}
	}
	return false
}

func (s *service) submit(ctx context.Context, kind domain.RequestKind, username, password, chatID string) (*domain.PendingRequest, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	pr := &domain.PendingRequest{
		RequestID:    id.New(),
		Kind:         kind,
		Username:     username,
		PasswordHash: string(hash),
		ChatID:       chatID,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.ttl).Unix(),
	}
	if err := s.requests.Put(ctx, pr); err != nil {
		return nil, err
	}
	s.metrics.Request(string(kind), "submitted")
	if err := s.deliver(ctx, pr); err != nil {
		return pr, err
	}
	return pr, nil
}

func (s *service) deliver(ctx context.Context, pr *domain.PendingRequest) error {
	if s.deliverer == nil {
		return fmt.Errorf("no confirmation channel configured: %w", domain.ErrDeliveryFailed)
	}
	err := s.deliverer.Deliver(ctx, domain.DeliveryPrompt{
		RequestID: pr.RequestID,
		Kind:      pr.Kind,
		ChatID:    pr.ChatID,
		Username:  pr.Username,
		ExpiresAt: pr.ExpiresAt,
	})
	if err != nil {
		s.metrics.Request(string(pr.Kind), "delivery_failed")
		slog.Warn("confirmation delivery failed", "kind", pr.Kind, "request_id", pr.RequestID, "err", err)
		if !errors.Is(err, domain.ErrDeliveryFailed) {
			return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
		}
		return err
	}
	s.metrics.Request(string(pr.Kind), "delivered")
	return nil
}

func (s *service) Get(ctx context.Context, kind domain.RequestKind, requestID string) (*domain.PendingRequest, error) {
	return s.requests.Get(ctx, kind, requestID)
}

func (s *service) Resend(ctx context.Context, kind domain.RequestKind, requestID string) (*domain.PendingRequest, error) {
	pr, err := s.requests.Get(ctx, kind, requestID)
	if err != nil {
		return nil, err
	}
	if pr.Status != domain.StatusPending {
		return nil, fmt.Errorf("request is already %s: %w", pr.Status, domain.ErrConflict)
	}
	if pr.Expired(s.now()) {
		return nil, fmt.Errorf("request has expired: %w", domain.ErrConflict)
	}
	if err := s.deliver(ctx, pr); err != nil {
		return pr, err
	}
	return pr, nil
}

func (s *service) Resolve(ctx context.Context, kind domain.RequestKind, requestID string, req domain.ResolveRequest) (*domain.PendingRequest, error) {
	if !kind.AllowsResolution(req.Status) {
		return nil, fmt.Errorf("a %s cannot be resolved as %q: %w", kind, req.Status, domain.ErrValidation)
	}
	pr, err := s.requests.Get(ctx, kind, requestID)
	if err != nil {
		return nil, err
	}
	if pr.Status != domain.StatusPending {
		return nil, fmt.Errorf("request is already %s: %w", pr.Status, domain.ErrConflict)
	}
	now := s.now()
	if req.Status.Succeeded() && pr.Expired(now) {
		return nil, fmt.Errorf("request has expired: %w", domain.ErrConflict)
	}

	var updated *domain.PendingRequest
	status, errMsg := req.Status, req.Error
	if status.Succeeded() {
		updated, err = s.confirm(ctx, pr, now)
		if err != nil {
			if !errors.Is(err, domain.ErrConflict) {
				return nil, err
			}
			// A request that left pending meanwhile is the caller's conflict;
			// otherwise the account side refused and the request fails.
			cur, getErr := s.requests.Get(ctx, kind, requestID)
			if getErr != nil {
				return nil, getErr
			}
			if cur.Status != domain.StatusPending {
				return nil, err
			}
			status, errMsg = domain.StatusFailed, err.Error()
		}
	}
	if updated == nil {
		updated, err = s.requests.Transition(ctx, kind, requestID, status, errMsg, now)
		if err != nil {
			return nil, err
		}
	}
	s.metrics.Request(string(kind), string(updated.Status))
	slog.Info("pending request resolved", "kind", kind, "request_id", requestID, "status", updated.Status)
	if s.events != nil {
		s.events.Publish(domain.StatusEvent{
			Kind:      kind,
			RequestID: requestID,
			Status:    updated.Status,
			Error:     updated.Error,
			At:        now,
		})
	}
	return updated, nil
}

// confirm applies the account change a successful confirmation stands for and
// resolves the request in the same write.
func (s *service) confirm(ctx context.Context, pr *domain.PendingRequest, now time.Time) (*domain.PendingRequest, error) {
	if s.accounts == nil {
		return nil, fmt.Errorf("no account store configured: %w", domain.ErrStore)
	}
	switch pr.Kind {
	case domain.KindRegistration:
		u := &domain.User{
			UserID:       id.New(),
			Username:     pr.Username,
			PasswordHash: pr.PasswordHash,
			Role:         domain.RoleUser,
			Enable:       1,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		b := &domain.ChannelBinding{Username: pr.Username, ChatID: pr.ChatID, BoundAt: now}
		return s.accounts.Register(ctx, pr, u, b, now)
	case domain.KindPasswordReset:
		u, err := s.users.GetByUsername(ctx, pr.Username)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("user %q no longer exists: %w", pr.Username, domain.ErrConflict)
		}
		if err != nil {
			return nil, err
		}
		return s.accounts.ResetPassword(ctx, pr, u.UserID, now)
	}
	return nil, fmt.Errorf("unknown request kind %q: %w", pr.Kind, domain.ErrValidation)
}
