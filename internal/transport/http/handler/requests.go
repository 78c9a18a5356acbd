package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bincheck-api/internal/application/request"
	"github.com/bincheck-api/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// RequestHandler serves registration and password-reset requests, the push
// channel clients wait on, and the confirming agent's resolution endpoint.
type RequestHandler struct {
	svc      request.Service
	upgrader websocket.Upgrader
}

// NewRequestHandler builds the handler. checkOrigin may be nil to accept the
// gorilla default same-origin policy.
func NewRequestHandler(svc request.Service, checkOrigin func(*http.Request) bool) *RequestHandler {
	return &RequestHandler{
		svc: svc,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
	}
}

func (h *RequestHandler) SubmitRegistration(w http.ResponseWriter, r *http.Request) {
	var req domain.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pr, err := h.svc.SubmitRegistration(r.Context(), req)
	h.writeSubmitted(w, r, pr, err, "Confirm the registration in Telegram.")
}

func (h *RequestHandler) SubmitPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req domain.PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pr, err := h.svc.SubmitPasswordReset(r.Context(), req)
	h.writeSubmitted(w, r, pr, err, "Confirm the password reset in Telegram.")
}

func (h *RequestHandler) writeSubmitted(w http.ResponseWriter, r *http.Request, pr *domain.PendingRequest, err error, msg string) {
	if err != nil {
		status, errMsg := statusFor(err)
		if pr != nil && errors.Is(err, domain.ErrDeliveryFailed) {
			// Stored but not delivered; the client may resend.
			writeJSON(w, status, RequestEnvelope{Request: pr, Error: errMsg})
			return
		}
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, RequestEnvelope{Request: pr, Message: msg})
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	pr, err := h.svc.Get(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestEnvelope{Request: pr})
}

func (h *RequestHandler) Resend(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	pr, err := h.svc.Resend(r.Context(), kind, chi.URLParam(r, "id"))
	h.writeSubmitted(w, r, pr, err, "Confirmation prompt sent again.")
}

// Resolve is called by the confirming agent once the user answers in Telegram.
func (h *RequestHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	var req domain.ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pr, err := h.svc.Resolve(r.Context(), kind, chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestEnvelope{Request: pr})
}

// Watch upgrades to a websocket, sends the single outcome of the request and
// closes. A client that disconnects first stops the watch.
func (h *RequestHandler) Watch(w http.ResponseWriter, r *http.Request) {
	kind, ok := kindParam(w, r)
	if !ok {
		return
	}
	requestID := chi.URLParam(r, "id")
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outcomes, err := h.svc.Watch(ctx, kind, requestID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "request_id", requestID, "err", err)
		return
	}
	defer conn.Close()

	// The read loop only exists to notice the client going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					slog.Info("websocket closed by client", "request_id", requestID, "err", err)
				}
				return
			}
		}
	}()

	outcome, ok := <-outcomes
	if !ok {
		return
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(outcome); err != nil {
		slog.Warn("websocket write failed", "request_id", requestID, "err", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(outcome.Kind)),
		time.Now().Add(wsWriteTimeout))
}

func kindParam(w http.ResponseWriter, r *http.Request) (domain.RequestKind, bool) {
	kind, err := domain.ParseRequestKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return "", false
	}
	return kind, true
}
