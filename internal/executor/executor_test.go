package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/render"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
)

type notifyCall struct {
	channels []string
	n        model.Notification
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []notifyCall
	err   error
}

func (f *fakeNotifier) Notify(_ context.Context, channels []string, n model.Notification) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, notifyCall{channels: channels, n: n})
	if f.err != nil {
		return false, f.err
	}
	return true, nil
}

type fakeTicketer struct {
	id  string
	err error
}

func (f *fakeTicketer) CreateTicket(context.Context, string, string) (string, error) {
	return f.id, f.err
}

type fakeSearcher struct {
	hits  []model.SearchHit
	err   error
	block bool
}

func (f *fakeSearcher) Search(ctx context.Context, _ string, _ int) ([]model.SearchHit, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.hits, f.err
}

type fakeDocs struct{ docs []model.Document }

func (f *fakeDocs) Fetch(context.Context, string, int) ([]model.Document, error) {
	return f.docs, nil
}

var (
	msg = model.MessageContext{UserID: "U1", ChannelID: "C1", ChannelType: model.ChannelSlack, ThreadID: "t1", Text: "payments db is down"}
	now = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
)

func newSession() *model.ConversationSession {
	return model.NewSession(msg.SessionKey(), 1, now)
}

func newEngine(t *testing.T) *render.Engine {
	t.Helper()
	e := render.New("")
	require.NoError(t, e.SetTemplates(map[string]string{
		"incident_ack": "Escalated at {{.escalation_level}} priority, ticket {{.ticket_id}}.",
		"kb":           "Results: {{.kb_results}}",
		"docs":         "{{.doc_count}} docs:\n{{.docs}}",
	}))
	return e
}

func incidentWorkflow() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		Name:    "incident_response",
		Enabled: true,
		Actions: []model.ActionSpec{
			{Type: model.ActionEscalate, Params: map[string]any{"escalation_level": "high", "notify_channels": []any{"#oncall"}}},
			{Type: model.ActionCreateTicket, Params: map[string]any{"priority": "high"}},
			{Type: model.ActionRespond, Params: map[string]any{"template": "incident_ack"}},
		},
	}
}

func kbWorkflow() *model.WorkflowDefinition {
	return &model.WorkflowDefinition{
		Name:    "kb",
		Enabled: true,
		Actions: []model.ActionSpec{
			{Type: model.ActionSearchKB, Params: map[string]any{"max_results": 3}},
			{Type: model.ActionRespond, Params: map[string]any{"template": "kb"}},
		},
	}
}

var incidentCls = model.Classification{Type: model.TypeIncident, Severity: model.SeverityCritical, Confidence: 0.9}

func TestExecuteIncidentEscalates(t *testing.T) {
	notifier := &fakeNotifier{}
	ex := New(Dependencies{
		Notifier: notifier,
		Ticketer: &fakeTicketer{id: "#42"},
		Renderer: newEngine(t),
	}, Config{}, logger.NewNop())

	sess := newSession()
	res, updated, err := ex.Execute(context.Background(), incidentWorkflow(), incidentCls, msg, sess)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.True(t, res.EscalationRequired)
	assert.Equal(t, "incident_response", res.WorkflowName())
	assert.Equal(t, "#42", res.TicketID)
	assert.Equal(t, "Escalated at high priority, ticket #42.", res.ResponseText)
	require.Len(t, res.Outcomes, 3)
	for _, o := range res.Outcomes {
		assert.True(t, o.Success)
	}

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, []string{"#oncall"}, notifier.calls[0].channels)
	assert.Equal(t, "high", notifier.calls[0].n.Level)

	assert.Equal(t, model.SessionEscalated, updated.Status)
	assert.Nil(t, updated.ActiveWorkflow)
	assert.Equal(t, model.SessionActive, sess.Status, "input session must not be modified")
}

func TestExecuteEmptyKnowledgeBase(t *testing.T) {
	ex := New(Dependencies{Searcher: &fakeSearcher{}, Renderer: newEngine(t)}, Config{}, logger.NewNop())

	cls := model.Classification{Type: model.TypeKnowledgeQuery, Severity: model.SeverityLow, Confidence: 0.8}
	res, updated, err := ex.Execute(context.Background(), kbWorkflow(), cls, msg, newSession())
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.False(t, res.EscalationRequired)
	assert.Equal(t, "Results: no results", res.ResponseText)
	assert.Equal(t, model.SessionResolved, updated.Status)
}

func TestExecuteSearchHits(t *testing.T) {
	hits := []model.SearchHit{{Title: "Runbook", Excerpt: "restart the pool", Source: "runbook.md"}}
	ex := New(Dependencies{Searcher: &fakeSearcher{hits: hits}, Renderer: newEngine(t)}, Config{}, logger.NewNop())

	res, _, err := ex.Execute(context.Background(), kbWorkflow(), model.Classification{Type: model.TypeKnowledgeQuery, Severity: model.SeverityLow}, msg, newSession())
	require.NoError(t, err)
	assert.Equal(t, "Results: 1. Runbook: restart the pool (runbook.md)", res.ResponseText)
}

func TestExecuteCriticalFailureHalts(t *testing.T) {
	notifier := &fakeNotifier{}
	ex := New(Dependencies{
		Notifier: notifier,
		Ticketer: &fakeTicketer{err: errors.New("jira: 500 internal secret detail")},
		Renderer: newEngine(t),
	}, Config{FallbackChannels: []string{"#sre-fallback"}}, logger.NewNop())

	wf := incidentWorkflow()
	wf.Actions = wf.Actions[1:] // ticket first, no escalate

	res, updated, err := ex.Execute(context.Background(), wf, incidentCls, msg, newSession())
	require.NoError(t, err)

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.True(t, res.EscalationRequired)
	require.Len(t, res.Outcomes, 1, "respond must not run after a critical failure")
	assert.False(t, res.Outcomes[0].Success)
	assert.Contains(t, res.Outcomes[0].Error, "collaborator failure")
	assert.NotContains(t, res.ResponseText, "secret")
	assert.Contains(t, res.ResponseText, "escalated")

	require.Len(t, notifier.calls, 1)
	assert.Equal(t, []string{"#sre-fallback"}, notifier.calls[0].channels)
	assert.Equal(t, "fallback", notifier.calls[0].n.Level)
	assert.Equal(t, model.SessionEscalated, updated.Status)
}

func TestExecuteNonCriticalFailureContinues(t *testing.T) {
	notifier := &fakeNotifier{}
	ex := New(Dependencies{
		Notifier: notifier,
		Searcher: &fakeSearcher{err: errors.New("index offline")},
		Renderer: newEngine(t),
	}, Config{FallbackChannels: []string{"#sre"}}, logger.NewNop())

	res, _, err := ex.Execute(context.Background(), kbWorkflow(), model.Classification{Type: model.TypeKnowledgeQuery, Severity: model.SeverityLow}, msg, newSession())
	require.NoError(t, err)

	assert.Equal(t, model.StatusPartiallyFailed, res.Status)
	require.Len(t, res.Outcomes, 2)
	assert.False(t, res.Outcomes[0].Success)
	assert.True(t, res.Outcomes[1].Success)
	assert.Contains(t, res.ResponseText, "Results:\n\n")
	assert.Contains(t, res.ResponseText, "escalated")
	assert.True(t, res.EscalationRequired)
	assert.Len(t, notifier.calls, 1)
}

func TestExecuteTimeout(t *testing.T) {
	ex := New(Dependencies{Searcher: &fakeSearcher{block: true}, Renderer: newEngine(t)}, Config{}, logger.NewNop())

	wf := kbWorkflow()
	wf.Actions[0].Timeout = 10 * time.Millisecond

	res, _, err := ex.Execute(context.Background(), wf, model.Classification{Type: model.TypeKnowledgeQuery, Severity: model.SeverityLow}, msg, newSession())
	require.NoError(t, err)
	assert.Equal(t, model.StatusPartiallyFailed, res.Status)
	assert.Contains(t, res.Outcomes[0].Error, ErrCollaboratorTimeout.Error())
}

func TestExecuteFetchDocs(t *testing.T) {
	ex := New(Dependencies{
		DocFetcher: &fakeDocs{docs: []model.Document{{Title: "Deploy guide", Source: "deploy.md"}}},
		Renderer:   newEngine(t),
	}, Config{}, logger.NewNop())

	wf := &model.WorkflowDefinition{Name: "deploy", Actions: []model.ActionSpec{
		{Type: model.ActionFetchDocs},
		{Type: model.ActionRespond, Params: map[string]any{"template": "docs"}},
	}}
	res, _, err := ex.Execute(context.Background(), wf, model.Classification{Type: model.TypeDeploymentHelp, Severity: model.SeverityLow}, msg, newSession())
	require.NoError(t, err)
	assert.Equal(t, "1 docs:\n- Deploy guide (deploy.md)", res.ResponseText)
}

func TestExecuteDefaultResponse(t *testing.T) {
	ex := New(Dependencies{Ticketer: &fakeTicketer{id: "T-1"}}, Config{}, logger.NewNop())

	wf := &model.WorkflowDefinition{Name: "support", Actions: []model.ActionSpec{{Type: model.ActionCreateTicket}}}
	res, _, err := ex.Execute(context.Background(), wf, model.Classification{Type: model.TypeSupportRequest, Severity: model.SeverityMedium}, msg, newSession())
	require.NoError(t, err)
	assert.Equal(t, DefaultResponse(model.TypeSupportRequest), res.ResponseText)
}

func TestExecuteUnknownActionType(t *testing.T) {
	ex := New(Dependencies{}, Config{}, logger.NewNop())

	wf := &model.WorkflowDefinition{Name: "bad", Actions: []model.ActionSpec{{Type: "teleport"}}}
	_, _, err := ex.Execute(context.Background(), wf, incidentCls, msg, newSession())
	assert.ErrorIs(t, err, ErrInternalConsistency)
}
