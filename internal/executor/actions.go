package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

// Scratch keys shared between actions and visible to templates.
const (
	keyMessage         = "message"
	keyUserID          = "user_id"
	keyChannelID       = "channel_id"
	keyClassification  = "classification"
	keySeverity        = "severity"
	keyConfidence      = "confidence"
	keyEntities        = "entities"
	keyWorkflow        = "workflow"
	keyKBResults       = "kb_results"
	keyKBCount         = "kb_count"
	keyKBHits          = "kb_hits"
	keyDocs            = "docs"
	keyDocCount        = "doc_count"
	keyTicketID        = "ticket_id"
	keyEscalated       = "escalated"
	keyEscalationLevel = "escalation_level"
)

const noResults = "no results"

// execution is the per-run state of one Execute call.
type execution struct {
	wf       *model.WorkflowDefinition
	cls      model.Classification
	msg      model.MessageContext
	sess     *model.ConversationSession
	scratch  map[string]any
	outcomes []model.ActionOutcome
	response string
	ticketID string
}

func newScratch(wf *model.WorkflowDefinition, cls model.Classification, msg model.MessageContext) map[string]any {
	return map[string]any{
		keyMessage:        msg.Text,
		keyUserID:         msg.UserID,
		keyChannelID:      msg.ChannelID,
		keyClassification: string(cls.Type),
		keySeverity:       string(cls.Severity),
		keyConfidence:     cls.Confidence,
		keyEntities:       strings.Join(cls.Entities, ", "),
		keyWorkflow:       wf.Name,
		keyEscalated:      false,
	}
}

func (r *execution) escalated() bool {
	v, _ := r.scratch[keyEscalated].(bool)
	return v
}

func (r *execution) notification(level string, now time.Time) model.Notification {
	return model.Notification{
		Level:     level,
		Summary:   summary(r.cls, r.msg.Text),
		SessionID: r.sess.ID,
		Workflow:  r.wf.Name,
		UserID:    r.msg.UserID,
		ChannelID: r.msg.ChannelID,
		ThreadID:  r.msg.ThreadID,
		Severity:  r.cls.Severity,
		Text:      r.msg.Text,
		CreatedAt: now,
	}
}

func (e *Executor) escalate(ctx context.Context, run *execution, action model.ActionSpec) error {
	if e.deps.Notifier == nil {
		return fmt.Errorf("%w: no notifier configured", ErrCollaboratorFailure)
	}

	level := action.StringParam("escalation_level", string(run.cls.Severity))
	channels := action.StringsParam("notify_channels")
	if len(channels) == 0 {
		channels = e.cfg.FallbackChannels
	}
	n := run.notification(level, e.now())

	err := e.call(ctx, action, func(ctx context.Context) error {
		ok, err := e.deps.Notifier.Notify(ctx, channels, n)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("notification not delivered")
		}
		return nil
	})
	if err != nil {
		return err
	}

	run.scratch[keyEscalated] = true
	run.scratch[keyEscalationLevel] = level
	return nil
}

func (e *Executor) createTicket(ctx context.Context, run *execution, action model.ActionSpec) error {
	if e.deps.Ticketer == nil {
		return fmt.Errorf("%w: no ticketer configured", ErrCollaboratorFailure)
	}

	priority := action.StringParam("priority", ticketPriority(run.cls.Severity))
	var id string
	err := e.call(ctx, action, func(ctx context.Context) error {
		var err error
		id, err = e.deps.Ticketer.CreateTicket(ctx, priority, summary(run.cls, run.msg.Text))
		return err
	})
	if err != nil {
		return err
	}

	run.ticketID = id
	run.scratch[keyTicketID] = id
	return nil
}

func (e *Executor) searchKB(ctx context.Context, run *execution, action model.ActionSpec) error {
	if e.deps.Searcher == nil {
		return fmt.Errorf("%w: no searcher configured", ErrCollaboratorFailure)
	}

	query := action.StringParam("query", run.msg.Text)
	limit := action.IntParam("max_results", 3)
	var hits []model.SearchHit
	err := e.call(ctx, action, func(ctx context.Context) error {
		var err error
		hits, err = e.deps.Searcher.Search(ctx, query, limit)
		return err
	})
	if err != nil {
		return err
	}

	run.scratch[keyKBHits] = hits
	run.scratch[keyKBCount] = len(hits)
	run.scratch[keyKBResults] = formatHits(hits)
	return nil
}

func (e *Executor) fetchDocs(ctx context.Context, run *execution, action model.ActionSpec) error {
	if e.deps.DocFetcher == nil {
		return fmt.Errorf("%w: no document fetcher configured", ErrCollaboratorFailure)
	}

	topic := action.StringParam("topic", run.msg.Text)
	limit := action.IntParam("max_docs", 3)
	var docs []model.Document
	err := e.call(ctx, action, func(ctx context.Context) error {
		var err error
		docs, err = e.deps.DocFetcher.Fetch(ctx, topic, limit)
		return err
	})
	if err != nil {
		return err
	}

	run.scratch[keyDocCount] = len(docs)
	run.scratch[keyDocs] = formatDocs(docs)
	return nil
}

func (e *Executor) respond(ctx context.Context, run *execution, action model.ActionSpec) error {
	name := action.StringParam("template", run.wf.ResponseTemplate)
	if name == "" {
		return nil
	}
	if e.deps.Renderer == nil {
		return fmt.Errorf("%w: no renderer configured", ErrCollaboratorFailure)
	}

	data := make(map[string]any, len(run.scratch))
	for k, v := range run.scratch {
		data[k] = v
	}
	var text string
	err := e.call(ctx, action, func(context.Context) error {
		var err error
		text, err = e.deps.Renderer.Render(name, data)
		return err
	})
	if err != nil {
		return err
	}

	run.response = text
	return nil
}

// responseText picks the text returned to the user for a finished run.
func (e *Executor) responseText(run *execution, status model.ResultStatus) string {
	if status == model.StatusFailed {
		return failedText
	}

	text := run.response
	if text == "" && run.wf.ResponseTemplate != "" && e.deps.Renderer != nil {
		if rendered, err := e.deps.Renderer.Render(run.wf.ResponseTemplate, run.scratch); err == nil {
			text = rendered
		}
	}
	if text == "" {
		text = DefaultResponse(run.cls.Type)
	}

	if status == model.StatusPartiallyFailed {
		text = text + "\n\n" + partialText
	}
	return text
}

const (
	failedText  = "Something went wrong while handling your request. I've escalated it to the on-call team and someone will follow up shortly."
	partialText = "Some steps could not be completed, so I've escalated this to the on-call team."
)

// GenericResponse is returned when no workflow matches.
const GenericResponse = "I understand you need help. Let me assist you with that."

// DefaultResponse is the text used when a completed workflow produced none.
func DefaultResponse(t model.ClassificationType) string {
	switch t {
	case model.TypeIncident:
		return "Incident acknowledged. The on-call team has been notified."
	case model.TypeKnowledgeQuery:
		return "Here is what I found in the knowledge base."
	case model.TypeSupportRequest:
		return "Your support request has been logged and the team will respond soon."
	case model.TypeDeploymentHelp:
		return "Here is the deployment guidance I have."
	}
	return GenericResponse
}

func ticketPriority(s model.Severity) string {
	switch s {
	case model.SeverityCritical, model.SeverityHigh:
		return "high"
	case model.SeverityMedium:
		return "medium"
	}
	return "low"
}

func summary(cls model.Classification, text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if r := []rune(text); len(r) > 120 {
		text = string(r[:117]) + "..."
	}
	return fmt.Sprintf("[%s/%s] %s", cls.Type, cls.Severity, text)
}

func formatHits(hits []model.SearchHit) string {
	if len(hits) == 0 {
		return noResults
	}
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s: %s", i+1, h.Title, h.Excerpt)
		if h.Source != "" {
			fmt.Fprintf(&b, " (%s)", h.Source)
		}
	}
	return b.String()
}

func formatDocs(docs []model.Document) string {
	if len(docs) == 0 {
		return noResults
	}
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- %s (%s)", d.Title, d.Source)
	}
	return b.String()
}
