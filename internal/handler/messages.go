package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/oncall-dispatch/internal/executor"
	"github.com/capitalize-ai/oncall-dispatch/internal/middleware"
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/session"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
)

// Dispatcher runs dispatch cycles. *dispatch.Orchestrator implements it.
type Dispatcher interface {
	Process(ctx context.Context, msg model.MessageContext) (model.WorkflowResult, error)
	Dispatch(ctx context.Context, msg model.MessageContext, cls model.Classification) (model.WorkflowResult, error)
}

// MessageHandler handles message endpoints.
type MessageHandler struct {
	dispatcher Dispatcher
	now        func() time.Time
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(d Dispatcher) *MessageHandler {
	return &MessageHandler{
		dispatcher: d,
		now:        time.Now,
	}
}

// ClassificationRequest is a precomputed classification supplied by the caller.
type ClassificationRequest struct {
	Type       string   `json:"type"`
	Severity   string   `json:"severity"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities,omitempty"`
}

// ProcessMessageRequest is the body of POST /api/v1/messages.
type ProcessMessageRequest struct {
	UserID         string                 `json:"user_id"`
	ChannelID      string                 `json:"channel_id"`
	ChannelType    string                 `json:"channel_type"`
	ThreadID       string                 `json:"thread_id,omitempty"`
	Text           string                 `json:"text"`
	Metadata       map[string]string      `json:"metadata,omitempty"`
	Classification *ClassificationRequest `json:"classification,omitempty"`
}

// ProcessMessageResponse is the reply to POST /api/v1/messages.
type ProcessMessageResponse struct {
	SessionID        string               `json:"session_id"`
	Result           model.WorkflowResult `json:"result"`
	ProcessingTimeMs int64                `json:"processing_time_ms"`
}

// Process handles POST /api/v1/messages
func (h *MessageHandler) Process(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	var req ProcessMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChannelType == "" {
		req.ChannelType = string(model.ChannelAPI)
	}

	if err := validateProcessRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := model.NewMessageContext(req.UserID, req.ChannelID, model.ChannelType(req.ChannelType), req.ThreadID, req.Text, h.now(), req.Metadata)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var result model.WorkflowResult
	if c := req.Classification; c != nil {
		cls := model.NormalizeClassification(c.Type, c.Severity, c.Confidence, c.Entities)
		result, err = h.dispatcher.Dispatch(ctx, msg, cls)
	} else {
		result, err = h.dispatcher.Process(ctx, msg)
	}
	if err != nil {
		writeDispatchError(ctx, w, err)
		return
	}

	writeJSON(w, http.StatusOK, ProcessMessageResponse{
		SessionID:        result.SessionID,
		Result:           result,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
	})
}

func validateProcessRequest(req ProcessMessageRequest) error {
	if err := middleware.ValidateIdentifier("user_id", req.UserID); err != nil {
		return err
	}
	if err := middleware.ValidateIdentifier("channel_id", req.ChannelID); err != nil {
		return err
	}
	if req.ThreadID != "" {
		if err := middleware.ValidateIdentifier("thread_id", req.ThreadID); err != nil {
			return err
		}
	}
	return middleware.ValidateMessageText(req.Text)
}

// writeDispatchError maps dispatch errors to responses. Bodies never carry
// error detail.
func writeDispatchError(ctx context.Context, w http.ResponseWriter, err error) {
	log := logger.FromContext(ctx)
	switch {
	case errors.Is(err, session.ErrStoreFailure):
		log.Error("session store unavailable", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	case errors.Is(err, executor.ErrInternalConsistency):
		log.Error("workflow reached executor in an invalid state", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	default:
		log.Error("dispatch failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
