package handler

import (
	"context"
	"net/http"

	"github.com/bincheck-api/internal/domain"
	"github.com/go-chi/chi/v5"
)

type sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type frontCache interface {
	Delete(bin string)
	Len() int
}

type subscriptionCounter interface {
	Subscribers() int
}

// AdminHandler exposes operator actions to admin-role callers.
type AdminHandler struct {
	sweep  sweeper
	front  frontCache
	events subscriptionCounter
}

// NewAdminHandler builds the handler; front and events may be nil.
func NewAdminHandler(sweep sweeper, front frontCache, events subscriptionCounter) *AdminHandler {
	return &AdminHandler{sweep: sweep, front: front, events: events}
}

type SweepEnvelope struct {
	Deleted int    `json:"deleted"`
	Error   string `json:"error,omitempty"`
}

type StatsEnvelope struct {
	FrontCacheEntries int `json:"front_cache_entries"`
	Watchers          int `json:"watchers"`
}

func (h *AdminHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweep.SweepExpired(r.Context())
	if err != nil {
		status, msg := statusFor(err)
		writeJSON(w, status, SweepEnvelope{Deleted: n, Error: msg})
		return
	}
	writeJSON(w, http.StatusOK, SweepEnvelope{Deleted: n})
}

// Evict drops a BIN from the in-process front cache so the next lookup
// re-reads the persistent cache.
func (h *AdminHandler) Evict(w http.ResponseWriter, r *http.Request) {
	bin, err := domain.NormalizeBIN(chi.URLParam(r, "bin"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if h.front != nil {
		h.front.Delete(bin)
	}
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "evicted " + bin})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	var s StatsEnvelope
	if h.front != nil {
		s.FrontCacheEntries = h.front.Len()
	}
	if h.events != nil {
		s.Watchers = h.events.Subscribers()
	}
	writeJSON(w, http.StatusOK, s)
}
