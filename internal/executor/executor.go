// Package executor runs the ordered actions of a matched workflow.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
	"github.com/capitalize-ai/oncall-dispatch/pkg/metrics"
)

var (
	// ErrCollaboratorTimeout is recorded when a collaborator call exceeds its deadline.
	ErrCollaboratorTimeout = errors.New("collaborator timeout")

	// ErrCollaboratorFailure is recorded when a collaborator call fails.
	ErrCollaboratorFailure = errors.New("collaborator failure")

	// ErrInternalConsistency is returned when a workflow reaches the executor
	// in a state registry validation should have rejected.
	ErrInternalConsistency = errors.New("internal consistency error")
)

// Notifier delivers escalation notifications.
type Notifier interface {
	Notify(ctx context.Context, channels []string, n model.Notification) (bool, error)
}

// Ticketer opens tickets in an issue tracker.
type Ticketer interface {
	CreateTicket(ctx context.Context, priority, summary string) (string, error)
}

// Searcher queries the knowledge base.
type Searcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]model.SearchHit, error)
}

// DocFetcher returns reference documents for a topic.
type DocFetcher interface {
	Fetch(ctx context.Context, topic string, limit int) ([]model.Document, error)
}

// Renderer renders named response templates.
type Renderer interface {
	Render(name string, data map[string]any) (string, error)
}

// Dependencies are the collaborators actions dispatch to. A nil collaborator
// makes its actions fail as collaborator failures.
type Dependencies struct {
	Notifier   Notifier
	Ticketer   Ticketer
	Searcher   Searcher
	DocFetcher DocFetcher
	Renderer   Renderer
}

// Config holds executor settings.
type Config struct {
	// DefaultTimeout bounds collaborator calls for actions without their own timeout.
	DefaultTimeout time.Duration

	// FallbackChannels are paged when a workflow fails without escalating.
	FallbackChannels []string
}

// Executor runs workflows. It is safe for concurrent use.
type Executor struct {
	deps   Dependencies
	cfg    Config
	logger *logger.Logger
	now    func() time.Time
}

// New creates an executor.
func New(deps Dependencies, cfg Config, log *logger.Logger) *Executor {
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 10 * time.Second
	}
	return &Executor{deps: deps, cfg: cfg, logger: log, now: time.Now}
}

// WithRenderer returns a copy of e that renders responses with r.
func (e *Executor) WithRenderer(r Renderer) *Executor {
	c := *e
	c.deps.Renderer = r
	return &c
}

var tracer = otel.Tracer("github.com/capitalize-ai/oncall-dispatch/internal/executor")

// Execute runs wf's actions in order and returns the cycle result together
// with the updated session. sess is not modified.
//
// Collaborator failures are recorded as action outcomes. A failure of a
// critical action halts the sequence, fails the workflow, and pages the
// fallback channels. Only ErrInternalConsistency is returned as an error.
func (e *Executor) Execute(ctx context.Context, wf *model.WorkflowDefinition, cls model.Classification, msg model.MessageContext, sess *model.ConversationSession) (model.WorkflowResult, *model.ConversationSession, error) {
	updated := sess.Clone()
	name := wf.Name
	updated.ActiveWorkflow = &name

	run := &execution{
		wf:      wf,
		cls:     cls,
		msg:     msg,
		sess:    updated,
		scratch: newScratch(wf, cls, msg),
	}

	var halted, partial bool
	for _, action := range wf.Actions {
		start := e.now()
		err := e.runAction(ctx, run, action)
		if errors.Is(err, ErrInternalConsistency) {
			return model.WorkflowResult{}, sess, err
		}

		outcome := model.ActionOutcome{Action: action.Type, Success: err == nil, Duration: e.now().Sub(start)}
		metrics.RecordAction(string(action.Type), outcome.Success, outcome.Duration.Seconds())
		if err != nil {
			outcome.Error = err.Error()
			e.logger.Warn("action failed",
				zap.String("workflow", wf.Name),
				zap.String("action", string(action.Type)),
				zap.Bool("critical", action.IsCritical()),
				zap.Error(err),
			)
		}
		run.outcomes = append(run.outcomes, outcome)

		if err != nil {
			if action.IsCritical() {
				halted = true
				break
			}
			partial = true
		}
	}

	status := model.StatusCompleted
	switch {
	case halted:
		status = model.StatusFailed
	case partial:
		status = model.StatusPartiallyFailed
	}

	escalated := run.escalated()
	if status != model.StatusCompleted && !escalated {
		e.pageFallback(ctx, run, status)
	}

	result := model.WorkflowResult{
		SessionID:          updated.ID,
		Workflow:           &name,
		Status:             status,
		Outcomes:           run.outcomes,
		EscalationRequired: escalated || status != model.StatusCompleted,
		TicketID:           run.ticketID,
		Classification:     cls,
	}
	result.ResponseText = e.responseText(run, status)

	updated.ActiveWorkflow = nil
	switch {
	case result.EscalationRequired || updated.Status == model.SessionEscalated:
		updated.Status = model.SessionEscalated
	case status == model.StatusCompleted:
		updated.Status = model.SessionResolved
	default:
		updated.Status = model.SessionActive
	}

	return result, updated, nil
}

func (e *Executor) runAction(ctx context.Context, run *execution, action model.ActionSpec) error {
	ctx, span := tracer.Start(ctx, "action."+string(action.Type))
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow", run.wf.Name),
		attribute.Bool("critical", action.IsCritical()),
	)

	var err error
	switch action.Type {
	case model.ActionEscalate:
		err = e.escalate(ctx, run, action)
	case model.ActionCreateTicket:
		err = e.createTicket(ctx, run, action)
	case model.ActionSearchKB:
		err = e.searchKB(ctx, run, action)
	case model.ActionFetchDocs:
		err = e.fetchDocs(ctx, run, action)
	case model.ActionRespond:
		err = e.respond(ctx, run, action)
	default:
		err = fmt.Errorf("%w: workflow %q has unknown action type %q", ErrInternalConsistency, run.wf.Name, action.Type)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// call runs fn under the action's deadline and classifies its error.
// fn is abandoned, not waited for, if it outlives the deadline.
func (e *Executor) call(ctx context.Context, action model.ActionSpec, fn func(ctx context.Context) error) error {
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := e.now()
	done := make(chan error, 1)
	go func() { done <- fn(ctx) }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	metrics.RecordCollaborator(string(action.Type), e.now().Sub(start).Seconds())

	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s after %s", ErrCollaboratorTimeout, action.Type, timeout)
	default:
		return fmt.Errorf("%w: %s: %v", ErrCollaboratorFailure, action.Type, err)
	}
}

func (e *Executor) pageFallback(ctx context.Context, run *execution, status model.ResultStatus) {
	if e.deps.Notifier == nil || len(e.cfg.FallbackChannels) == 0 {
		e.logger.Error("workflow did not complete and no fallback escalation is configured",
			zap.String("workflow", run.wf.Name),
			zap.String("status", string(status)),
		)
		return
	}

	n := run.notification("fallback", e.now())
	err := e.call(ctx, model.ActionSpec{Type: model.ActionEscalate}, func(ctx context.Context) error {
		ok, err := e.deps.Notifier.Notify(ctx, e.cfg.FallbackChannels, n)
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("notification not delivered")
		}
		return nil
	})
	if err != nil {
		e.logger.Error("fallback escalation failed",
			zap.String("workflow", run.wf.Name),
			zap.Strings("channels", e.cfg.FallbackChannels),
			zap.Error(err),
		)
		return
	}
	e.logger.Info("fallback escalation sent",
		zap.String("workflow", run.wf.Name),
		zap.String("status", string(status)),
	)
}
