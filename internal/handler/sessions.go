package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/capitalize-ai/oncall-dispatch/internal/middleware"
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/session"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
)

// EventLister replays a session's dispatch audit events.
// *nats.StreamManager implements it.
type EventLister interface {
	ListEvents(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.DispatchEvent, uint64, bool, error)
}

// SessionHandler handles session endpoints.
type SessionHandler struct {
	store  session.Store
	events EventLister
}

// NewSessionHandler creates a new session handler. events is nil when the
// audit stream is disabled.
func NewSessionHandler(store session.Store, events EventLister) *SessionHandler {
	return &SessionHandler{store: store, events: events}
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// Archive handles GET /api/v1/sessions/{id}/archive
func (h *SessionHandler) Archive(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	archived, err := h.store.Archive(r.Context(), id)
	if err != nil {
		h.writeStoreError(r.Context(), w, err)
		return
	}
	if archived == nil {
		archived = []*model.ConversationSession{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":  id,
		"generations": archived,
	})
}

// EventsResponse is a page of audit events.
type EventsResponse struct {
	Events       []model.DispatchEvent `json:"events"`
	LastSequence uint64                `json:"last_sequence"`
	HasMore      bool                  `json:"has_more"`
}

// Events handles GET /api/v1/sessions/{id}/events
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(id); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, "event log disabled")
		return
	}

	var after uint64
	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			after = parsed
		}
	}
	limit := queryInt(r, "limit", 50, 200)

	events, last, more, err := h.events.ListEvents(ctx, id, after, limit)
	if err != nil {
		logger.FromContext(ctx).Error("failed to list events", zap.String("session_id", id), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "event log unavailable")
		return
	}
	if events == nil {
		events = []model.DispatchEvent{}
	}
	writeJSON(w, http.StatusOK, EventsResponse{Events: events, LastSequence: last, HasMore: more})
}

func (h *SessionHandler) writeStoreError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNotFound) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	logger.FromContext(ctx).Error("session store error", zap.Error(err))
	writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
}
