package handler

import (
	"net/http"
	"strconv"

	"github.com/bincheck-api/internal/application/lookup"
	"github.com/bincheck-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// BINHandler serves BIN lookups and the caller's lookup history.
type BINHandler struct {
	svc lookup.Service
}

func NewBINHandler(svc lookup.Service) *BINHandler { return &BINHandler{svc: svc} }

func (h *BINHandler) Lookup(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	rec, err := h.svc.Lookup(r.Context(), claims.UserID, chi.URLParam(r, "bin"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *BINHandler) History(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.svc.History(r.Context(), claims.UserID, limit)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryEnvelope{Data: entries})
}

func (h *BINHandler) Known(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, KnownEnvelope{Data: h.svc.Known()})
}
