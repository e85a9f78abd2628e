package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/slack"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
)

const unavailableReply = "Sorry, I couldn't process that right now. Please try again in a few minutes."

// Replier posts chat replies. *slack.Client implements it.
type Replier interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) (string, error)
}

// SlackHandler receives Slack Events API callbacks. Events are acknowledged
// immediately and dispatched in the background; replies go to the thread.
type SlackHandler struct {
	verifier   *slack.Verifier
	dispatcher Dispatcher
	replier    Replier
	logger     *logger.Logger
	timeout    time.Duration
	now        func() time.Time

	wg sync.WaitGroup
}

// NewSlackHandler creates a new Slack events handler.
func NewSlackHandler(v *slack.Verifier, d Dispatcher, replier Replier, log *logger.Logger, timeout time.Duration) *SlackHandler {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &SlackHandler{
		verifier:   v,
		dispatcher: d,
		replier:    replier,
		logger:     log,
		timeout:    timeout,
		now:        time.Now,
	}
}

// Events handles POST /slack/events
func (h *SlackHandler) Events(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.verifier.Verify(r.Header, body); err != nil {
		h.logger.Warn("rejected slack request", zap.Error(err))
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	env, err := slack.ParseEnvelope(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch env.Type {
	case slack.TypeURLVerification:
		writeJSON(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	case slack.TypeEventCallback:
	default:
		w.WriteHeader(http.StatusOK)
		return
	}

	// Slack redelivers events it considers unacknowledged; the first
	// delivery is already being handled.
	if r.Header.Get("X-Slack-Retry-Num") != "" || !env.Event.Actionable() {
		w.WriteHeader(http.StatusOK)
		return
	}

	msg, err := env.Event.Message(env.EventID, h.now())
	if err != nil {
		if errors.Is(err, model.ErrInvalidMessage) {
			// Mention-only messages clean to empty text.
			w.WriteHeader(http.StatusOK)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.handle(msg)
	}()
	w.WriteHeader(http.StatusOK)
}

func (h *SlackHandler) handle(msg model.MessageContext) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	log := h.logger.With(
		zap.String("user_id", msg.UserID),
		zap.String("channel_id", msg.ChannelID),
		zap.String("event_id", msg.Metadata[slack.MetaEventID]),
	)
	ctx = logger.IntoContext(ctx, log)

	text := unavailableReply
	result, err := h.dispatcher.Process(ctx, msg)
	if err != nil {
		log.Error("slack dispatch failed", zap.Error(err))
	} else {
		text = result.ResponseText
	}
	if text == "" {
		return
	}

	if _, err := h.replier.PostMessage(ctx, msg.ChannelID, slack.ReplyThread(msg), text); err != nil {
		log.Error("failed to post slack reply", zap.Error(err))
	}
}

// Wait blocks until in-flight events have been handled.
func (h *SlackHandler) Wait() {
	h.wg.Wait()
}
