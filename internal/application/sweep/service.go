package sweep

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/infrastructure/events"
	"github.com/bincheck-api/internal/metrics"
)

const (
	defaultInterval = time.Hour

	triggerEvent = "event"
	triggerTimer = "timer"
)

type Service interface {
	// Listen deletes requests as soon as they reach a terminal status. It returns
	// when ctx is cancelled or the event stream closes.
	Listen(ctx context.Context)
	// Run calls SweepExpired every interval until ctx is cancelled.
	Run(ctx context.Context)
	SweepExpired(ctx context.Context) (int, error)
}

type requestStore interface {
	Kinds() []domain.RequestKind
	Get(ctx context.Context, kind domain.RequestKind, requestID string) (*domain.PendingRequest, error)
	Delete(ctx context.Context, kind domain.RequestKind, requestID string) error
	ListExpired(ctx context.Context, kind domain.RequestKind, now time.Time) ([]domain.PendingRequest, error)
	DeleteMany(ctx context.Context, kind domain.RequestKind, requestIDs []string) (int, error)
}

type subscriber interface {
	SubscribeReliable(filter events.Filter) (<-chan domain.StatusEvent, func())
}

type service struct {
	requests requestStore
	events   subscriber
	interval time.Duration
	now      func() time.Time
	metrics  *metrics.Metrics
}

type ServiceDeps struct {
	RequestRepo requestStore
	Events      subscriber // optional; Listen is a no-op without it
	Interval    time.Duration
	Metrics     *metrics.Metrics
}

func NewService(deps ServiceDeps) Service {
	interval := deps.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &service{
		requests: deps.RequestRepo,
		events:   deps.Events,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		metrics:  deps.Metrics,
	}
}

func terminalOnly(e domain.StatusEvent) bool { return e.Status.Terminal() }

func (s *service) Listen(ctx context.Context) {
	if s.events == nil {
		return
	}
	// Every terminal event must reach reap, so this subscription never drops.
	updates, release := s.events.SubscribeReliable(terminalOnly)
	defer release()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-updates:
			if !ok {
				return
			}
			s.onEvent(ctx, e)
		}
	}
}

func (s *service) onEvent(ctx context.Context, e domain.StatusEvent) {
	// Re-read so the decision is made on stored state, not on the event.
	pr, err := s.requests.Get(ctx, e.Kind, e.RequestID)
	if errors.Is(err, domain.ErrNotFound) {
		return
	}
	if err != nil {
		slog.Warn("sweep: reload after status change failed", "kind", e.Kind, "request_id", e.RequestID, "err", err)
		return
	}
	if _, err := s.reap(ctx, e.Kind, []domain.PendingRequest{*pr}, triggerEvent); err != nil {
		slog.Warn("sweep: delete after status change failed", "kind", e.Kind, "request_id", e.RequestID, "err", err)
	}
}

func (s *service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				slog.Error("sweep: scheduled run failed", "deleted", n, "err", err)
				continue
			}
			slog.Info("sweep: scheduled run complete", "deleted", n)
		}
	}
}

// SweepExpired deletes every request whose expires_at has passed, across all
// kinds. A failure on one kind does not stop the others.
func (s *service) SweepExpired(ctx context.Context) (int, error) {
	now := s.now()
	total := 0
	var errs []error
	for _, kind := range s.requests.Kinds() {
		expired, err := s.requests.ListExpired(ctx, kind, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		n, err := s.reap(ctx, kind, expired, triggerTimer)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// reap deletes the records that are terminal or past expiry and skips the rest.
// Deleting a record that is already gone is not an error.
func (s *service) reap(ctx context.Context, kind domain.RequestKind, reqs []domain.PendingRequest, trigger string) (int, error) {
	now := s.now()
	ids := make([]string, 0, len(reqs))
	for i := range reqs {
		if reqs[i].Done(now) {
			ids = append(ids, reqs[i].RequestID)
		}
	}
	var (
		n   int
		err error
	)
	switch len(ids) {
	case 0:
		return 0, nil
	case 1:
		if err = s.requests.Delete(ctx, kind, ids[0]); err == nil {
			n = 1
		}
	default:
		n, err = s.requests.DeleteMany(ctx, kind, ids)
	}
	s.metrics.Swept(string(kind), trigger, n)
	if n > 0 {
		slog.Info("sweep: deleted requests", "kind", kind, "trigger", trigger, "count", n)
	}
	return n, err
}
