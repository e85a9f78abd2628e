package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/oncall-dispatch/internal/executor"
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/registry"
	"github.com/capitalize-ai/oncall-dispatch/internal/session"
	"github.com/capitalize-ai/oncall-dispatch/internal/slack"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
)

type fakeDispatcher struct {
	mu       sync.Mutex
	messages []model.MessageContext
	cls      *model.Classification
	err      error
}

func (f *fakeDispatcher) Process(_ context.Context, msg model.MessageContext) (model.WorkflowResult, error) {
	return f.run(msg, nil)
}

func (f *fakeDispatcher) Dispatch(_ context.Context, msg model.MessageContext, cls model.Classification) (model.WorkflowResult, error) {
	return f.run(msg, &cls)
}

func (f *fakeDispatcher) run(msg model.MessageContext, cls *model.Classification) (model.WorkflowResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	f.cls = cls
	if f.err != nil {
		return model.WorkflowResult{}, f.err
	}
	return model.WorkflowResult{
		SessionID:    msg.SessionKey().ID(),
		Status:       model.StatusNoMatch,
		ResponseText: executor.GenericResponse,
	}, nil
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func TestProcessMessage(t *testing.T) {
	d := &fakeDispatcher{}
	r := chi.NewRouter()
	r.Post("/messages", NewMessageHandler(d).Process)

	rec := do(t, r, http.MethodPost, "/messages", ProcessMessageRequest{UserID: "U1", ChannelID: "C1", Text: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ProcessMessageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, model.SessionKey{UserID: "U1", ChannelID: "C1"}.ID(), resp.SessionID)
	assert.Equal(t, executor.GenericResponse, resp.Result.ResponseText)
	assert.Equal(t, model.ChannelAPI, d.messages[0].ChannelType)
	assert.Nil(t, d.cls)
}

func TestProcessMessageWithClassification(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewMessageHandler(d)

	rec := do(t, http.HandlerFunc(h.Process), http.MethodPost, "/", ProcessMessageRequest{
		UserID: "U1", ChannelID: "C1", ChannelType: "slack", Text: "db down",
		Classification: &ClassificationRequest{Type: "incident", Severity: "critical", Confidence: 0.9},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, d.cls)
	assert.Equal(t, model.TypeIncident, d.cls.Type)
	assert.Equal(t, model.SeverityCritical, d.cls.Severity)
}

func TestProcessMessageRejectsBadInput(t *testing.T) {
	h := http.HandlerFunc(NewMessageHandler(&fakeDispatcher{}).Process)

	for name, req := range map[string]ProcessMessageRequest{
		"no user":     {ChannelID: "C1", Text: "x"},
		"no text":     {UserID: "U1", ChannelID: "C1"},
		"bad channel": {UserID: "U1", ChannelID: "C1", ChannelType: "fax", Text: "x"},
		"bad thread":  {UserID: "U1", ChannelID: "C1", ThreadID: "a b", Text: "x"},
		"bad user id": {UserID: "U 1", ChannelID: "C1", Text: "x"},
	} {
		rec := do(t, h, http.MethodPost, "/", req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProcessMessageErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: disk full", session.ErrStoreFailure), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: unknown action", executor.ErrInternalConsistency), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := http.HandlerFunc(NewMessageHandler(&fakeDispatcher{err: tt.err}).Process)
		rec := do(t, h, http.MethodPost, "/", ProcessMessageRequest{UserID: "U1", ChannelID: "C1", Text: "x"})
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		assert.NotContains(t, rec.Body.String(), "disk full")
	}
}

type fakeEvents struct {
	events []model.DispatchEvent
	err    error
}

func (f *fakeEvents) ListEvents(_ context.Context, sessionID string, after uint64, limit int) ([]model.DispatchEvent, uint64, bool, error) {
	if f.err != nil {
		return nil, 0, false, f.err
	}
	var out []model.DispatchEvent
	for _, e := range f.events {
		if e.SessionID == sessionID && e.Sequence > after && len(out) < limit {
			out = append(out, e)
		}
	}
	var last uint64
	if len(out) > 0 {
		last = out[len(out)-1].Sequence
	}
	return out, last, len(out) == limit, nil
}

func sessionRouter(h *SessionHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/sessions/{id}", h.Get)
	r.Get("/sessions/{id}/archive", h.Archive)
	r.Get("/sessions/{id}/events", h.Events)
	return r
}

func TestSessionEndpoints(t *testing.T) {
	store := session.NewMemoryStore(time.Hour)
	key := model.SessionKey{UserID: "U1", ChannelID: "C1"}
	sess, err := store.GetOrCreate(context.Background(), key, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sess))

	events := &fakeEvents{events: []model.DispatchEvent{
		{SessionID: sess.ID, Sequence: 1, Type: model.EventTypeNoMatch},
		{SessionID: sess.ID, Sequence: 2, Type: model.EventTypeEscalated},
		{SessionID: "other", Sequence: 3},
	}}
	r := sessionRouter(NewSessionHandler(store, events))

	rec := do(t, r, http.MethodGet, "/sessions/"+sess.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got model.ConversationSession
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, sess.ID, got.ID)

	rec = do(t, r, http.MethodGet, "/sessions/"+sess.ID+"/archive", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"session_id":"`+sess.ID+`","generations":[]}`, rec.Body.String())

	rec = do(t, r, http.MethodGet, "/sessions/"+sess.ID+"/events?after_sequence=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page EventsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	require.Len(t, page.Events, 1)
	assert.Equal(t, model.EventTypeEscalated, page.Events[0].Type)
	assert.Equal(t, uint64(2), page.LastSequence)

	missing := model.SessionKey{UserID: "nobody", ChannelID: "C1"}.ID()
	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/sessions/"+missing, nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/sessions/not-a-uuid", nil).Code)
}

func TestSessionEventsDisabled(t *testing.T) {
	r := sessionRouter(NewSessionHandler(session.NewMemoryStore(time.Hour), nil))
	id := model.SessionKey{UserID: "U1", ChannelID: "C1"}.ID()
	assert.Equal(t, http.StatusNotImplemented, do(t, r, http.MethodGet, "/sessions/"+id+"/events", nil).Code)

	r = sessionRouter(NewSessionHandler(session.NewMemoryStore(time.Hour), &fakeEvents{err: errors.New("nats down")}))
	assert.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodGet, "/sessions/"+id+"/events", nil).Code)
}

type fakeLoader struct {
	reg  *registry.Registry
	defs []model.WorkflowDefinition
	err  error
}

func (f *fakeLoader) Load() (*registry.Snapshot, error) {
	if f.err != nil {
		return nil, f.err
	}
	if err := f.reg.Reload(f.defs); err != nil {
		return nil, err
	}
	return f.reg.Snapshot(), nil
}

func workflow(name string, priority int) model.WorkflowDefinition {
	return model.WorkflowDefinition{Name: name, Priority: priority, Enabled: true, Actions: []model.ActionSpec{{Type: model.ActionRespond}}}
}

func workflowRouter(h *WorkflowHandler) http.Handler {
	r := chi.NewRouter()
	r.Get("/workflows", h.List)
	r.Post("/workflows/reload", h.Reload)
	r.Post("/workflows/{name}/disable", h.Disable)
	r.Post("/workflows/{name}/enable", h.Enable)
	return r
}

func TestWorkflowEndpoints(t *testing.T) {
	reg := registry.New()
	loader := &fakeLoader{reg: reg, defs: []model.WorkflowDefinition{workflow("low", 1), workflow("high", 9)}}
	r := workflowRouter(NewWorkflowHandler(reg, loader))

	rec := do(t, r, http.MethodPost, "/workflows/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, r, http.MethodGet, "/workflows", nil)
	var list WorkflowList
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Equal(t, uint64(1), list.Version)
	require.Len(t, list.Workflows, 2)
	assert.Equal(t, "high", list.Workflows[0].Name)

	rec = do(t, r, http.MethodPost, "/workflows/high/disable", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"low"}, activeNames(reg))

	assert.Equal(t, http.StatusOK, do(t, r, http.MethodPost, "/workflows/high/enable", nil).Code)
	assert.Len(t, reg.ActiveDefinitions(), 2)

	assert.Equal(t, http.StatusNotFound, do(t, r, http.MethodPost, "/workflows/ghost/disable", nil).Code)
}

func TestWorkflowReloadInvalid(t *testing.T) {
	reg := registry.New()
	bad := model.WorkflowDefinition{Name: "broken"}
	r := workflowRouter(NewWorkflowHandler(reg, &fakeLoader{reg: reg, defs: []model.WorkflowDefinition{bad}}))

	rec := do(t, r, http.MethodPost, "/workflows/reload", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "issues")
	assert.Equal(t, uint64(0), reg.Snapshot().Version)
}

func activeNames(reg *registry.Registry) []string {
	var out []string
	for _, d := range reg.ActiveDefinitions() {
		out = append(out, d.Name)
	}
	return out
}

func TestReady(t *testing.T) {
	reg := registry.New()
	h := NewHealthHandler(nil, reg)

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, reg.Load([]model.WorkflowDefinition{workflow("a", 1)}))
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []string
	threads []string
}

func (f *fakeReplier) PostMessage(_ context.Context, _, threadTS, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	f.threads = append(f.threads, threadTS)
	return "1.0", nil
}

func slackRequest(t *testing.T, secret, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewBufferString(body))
	req.Header.Set(slack.HeaderTimestamp, ts)
	req.Header.Set(slack.HeaderSignature, slack.Sign([]byte(secret), ts, []byte(body)))
	return req
}

func TestSlackEvents(t *testing.T) {
	d := &fakeDispatcher{}
	replier := &fakeReplier{}
	h := NewSlackHandler(slack.NewVerifier("shh"), d, replier, logger.NewNop(), time.Second)

	rec := httptest.NewRecorder()
	h.Events(rec, slackRequest(t, "shh", `{"type":"url_verification","challenge":"c-1"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"challenge":"c-1"}`, rec.Body.String())

	body := `{"type":"event_callback","event_id":"Ev9","event":{"type":"app_mention","user":"U1","channel":"C1","text":"<@U0BOT> is prod down?","ts":"171.5"}}`
	rec = httptest.NewRecorder()
	h.Events(rec, slackRequest(t, "shh", body))
	require.Equal(t, http.StatusOK, rec.Code)
	h.Wait()

	require.Len(t, d.messages, 1)
	assert.Equal(t, "is prod down?", d.messages[0].Text)
	assert.Equal(t, model.ChannelSlack, d.messages[0].ChannelType)
	assert.Equal(t, []string{executor.GenericResponse}, replier.replies)
	assert.Equal(t, []string{"171.5"}, replier.threads)
}

func TestSlackEventsIgnored(t *testing.T) {
	d := &fakeDispatcher{}
	h := NewSlackHandler(slack.NewVerifier("shh"), d, &fakeReplier{}, logger.NewNop(), time.Second)

	bodies := []string{
		`{"type":"event_callback","event":{"type":"message","user":"U1","bot_id":"B1","channel":"C1","text":"echo"}}`,
		`{"type":"event_callback","event":{"type":"app_mention","user":"U1","channel":"C1","text":"<@U0BOT>"}}`,
		`{"type":"app_rate_limited"}`,
	}
	for _, b := range bodies {
		rec := httptest.NewRecorder()
		h.Events(rec, slackRequest(t, "shh", b))
		assert.Equal(t, http.StatusOK, rec.Code, b)
	}

	retry := slackRequest(t, "shh", `{"type":"event_callback","event":{"type":"message","user":"U1","channel":"C1","text":"again"}}`)
	retry.Header.Set("X-Slack-Retry-Num", "1")
	h.Events(httptest.NewRecorder(), retry)

	h.Wait()
	assert.Empty(t, d.messages)
}

func TestSlackEventsBadSignature(t *testing.T) {
	h := NewSlackHandler(slack.NewVerifier("shh"), &fakeDispatcher{}, &fakeReplier{}, logger.NewNop(), time.Second)
	rec := httptest.NewRecorder()
	h.Events(rec, slackRequest(t, "wrong", `{"type":"url_verification","challenge":"x"}`))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlackDispatchFailureReplies(t *testing.T) {
	replier := &fakeReplier{}
	h := NewSlackHandler(slack.NewVerifier("shh"), &fakeDispatcher{err: session.ErrStoreFailure}, replier, logger.NewNop(), time.Second)

	body := `{"type":"event_callback","event":{"type":"message","user":"U1","channel":"C1","text":"help","ts":"1.1","thread_ts":"1.0"}}`
	h.Events(httptest.NewRecorder(), slackRequest(t, "shh", body))
	h.Wait()

	assert.Equal(t, []string{unavailableReply}, replier.replies)
	assert.Equal(t, []string{"1.0"}, replier.threads)
}
