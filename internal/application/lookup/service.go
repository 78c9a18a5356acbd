package lookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bincheck-api/internal/domain"
	"github.com/bincheck-api/internal/metrics"
	"github.com/bincheck-api/internal/pkg/id"
)

const (
	historyWriteTimeout = 5 * time.Second
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Service interface {
	Lookup(ctx context.Context, userID, rawBIN string) (*domain.BINRecord, error)
	History(ctx context.Context, userID string, limit int) ([]domain.LookupHistoryEntry, error)
	Known() []domain.KnownBIN
	Warm(ctx context.Context, bins []string) map[string]error
}

type binStore interface {
	Get(ctx context.Context, bin string) (*domain.BINRecord, error)
	Put(ctx context.Context, rec *domain.BINRecord) error
}

type historyStore interface {
	Put(ctx context.Context, e *domain.LookupHistoryEntry) error
	ListByUser(ctx context.Context, userID string, limit int32) ([]domain.LookupHistoryEntry, error)
}

type binProvider interface {
	Lookup(ctx context.Context, bin string) (*domain.BINRecord, error)
}

type frontCache interface {
	Get(bin string) (*domain.BINRecord, bool)
	Set(rec *domain.BINRecord)
}

type service struct {
	cache    binStore
	history  historyStore
	provider binProvider
	front    frontCache
	known    []domain.KnownBIN
	metrics  *metrics.Metrics
}

type ServiceDeps struct {
	CacheRepo   binStore
	HistoryRepo historyStore
	Provider    binProvider
	FrontCache  frontCache // optional
	Known       []domain.KnownBIN
	Metrics     *metrics.Metrics
}

func NewService(deps ServiceDeps) Service {
	return &service{
		cache:    deps.CacheRepo,
		history:  deps.HistoryRepo,
		provider: deps.Provider,
		front:    deps.FrontCache,
		known:    deps.Known,
		metrics:  deps.Metrics,
	}
}

func (s *service) Lookup(ctx context.Context, userID, rawBIN string) (*domain.BINRecord, error) {
	bin, err := domain.NormalizeBIN(rawBIN)
	if err != nil {
		return nil, err
	}

	if s.front != nil {
		if rec, ok := s.front.Get(bin); ok {
			s.metrics.Lookup("memory", "hit")
			s.recordHistory(ctx, userID, rec, domain.SourceCache)
			return rec, nil
		}
	}

	rec, err := s.cache.Get(ctx, bin)
	if err == nil {
		s.metrics.Lookup(domain.SourceCache, "hit")
		s.remember(rec)
		s.recordHistory(ctx, userID, rec, domain.SourceCache)
		return rec, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		s.metrics.Lookup(domain.SourceCache, "error")
		return nil, err
	}

	start := time.Now()
	rec, err = s.provider.Lookup(ctx, bin)
	s.metrics.ProviderCall(time.Since(start))
	if err != nil {
		s.metrics.Lookup(domain.SourceProvider, "failed")
		slog.Info("bin provider lookup failed", "bin", bin, "err", err)
		if !errors.Is(err, domain.ErrLookupFailed) {
			return nil, &domain.LookupFailure{Message: "BIN lookup failed", Cause: err}
		}
		return nil, err
	}
	rec.BIN = bin
	if err := s.cache.Put(ctx, rec); err != nil {
		s.metrics.Lookup(domain.SourceProvider, "store_error")
		return nil, fmt.Errorf("cache bin %s: %w", bin, err)
	}
	s.metrics.Lookup(domain.SourceProvider, "ok")
	s.remember(rec)
	s.recordHistory(ctx, userID, rec, domain.SourceProvider)
	return rec, nil
}

func (s *service) remember(rec *domain.BINRecord) {
	if s.front != nil {
		s.front.Set(rec)
	}
}

// recordHistory appends to the user's lookup log without blocking or failing the lookup.
func (s *service) recordHistory(ctx context.Context, userID string, rec *domain.BINRecord, source string) {
	if userID == "" || s.history == nil {
		return
	}
	entry := &domain.LookupHistoryEntry{
		UserID:     userID,
		HistoryID:  id.New(),
		BIN:        rec.BIN,
		Bank:       rec.Bank,
		Country:    rec.Country,
		Brand:      rec.Brand,
		Type:       rec.Type,
		Level:      rec.Level,
		Source:     source,
		LookedUpAt: time.Now().UTC(),
	}
	go func() {
		hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), historyWriteTimeout)
		defer cancel()
		if err := s.history.Put(hctx, entry); err != nil {
			slog.Warn("failed to record lookup history", "user_id", userID, "bin", entry.BIN, "err", err)
		}
	}()
}

func (s *service) History(ctx context.Context, userID string, limit int) ([]domain.LookupHistoryEntry, error) {
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return s.history.ListByUser(ctx, userID, int32(limit))
}

func (s *service) Known() []domain.KnownBIN {
	out := make([]domain.KnownBIN, len(s.known))
	copy(out, s.known)
	return out
}

// Warm looks up every bin in turn and collects per-BIN failures.
func (s *service) Warm(ctx context.Context, bins []string) map[string]error {
	failed := map[string]error{}
	for _, bin := range bins {
		if ctx.Err() != nil {
			failed[bin] = ctx.Err()
			continue
		}
		if _, err := s.Lookup(ctx, "", bin); err != nil {
			failed[bin] = err
		}
	}
	return failed
}
