// Package dispatch runs one dispatch cycle per inbound message: it loads the
// conversation session, matches a workflow, executes it, and persists the
// session exactly once.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/oncall-dispatch/internal/classify"
	"github.com/capitalize-ai/oncall-dispatch/internal/executor"
	"github.com/capitalize-ai/oncall-dispatch/internal/matcher"
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/registry"
	"github.com/capitalize-ai/oncall-dispatch/internal/session"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
	"github.com/capitalize-ai/oncall-dispatch/pkg/metrics"
)

// EventPublisher receives one audit event per dispatch cycle.
type EventPublisher interface {
	PublishDispatch(ctx context.Context, event *model.DispatchEvent) error
}

// Options configures an Orchestrator. Registry, Store, Executor and Logger are required.
type Options struct {
	Registry   *registry.Registry
	Store      session.Store
	Locker     *session.KeyedLocker
	Executor   *executor.Executor
	Classifier classify.Classifier
	Events     EventPublisher
	Logger     *logger.Logger

	// HistoryWindow bounds how many earlier messages the classifier sees.
	HistoryWindow int

	// Clock defaults to time.Now.
	Clock func() time.Time
}

// Orchestrator is the single entry point of the dispatch engine.
type Orchestrator struct {
	registry   *registry.Registry
	store      session.Store
	locker     *session.KeyedLocker
	executor   *executor.Executor
	classifier classify.Classifier
	events     EventPublisher
	logger     *logger.Logger
	history    int
	now        func() time.Time
}

// New creates an orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		registry:   opts.Registry,
		store:      opts.Store,
		locker:     opts.Locker,
		executor:   opts.Executor,
		classifier: opts.Classifier,
		events:     opts.Events,
		logger:     opts.Logger,
		history:    opts.HistoryWindow,
		now:        opts.Clock,
	}
	if o.locker == nil {
		o.locker = session.NewKeyedLocker()
	}
	if o.classifier == nil {
		o.classifier = classify.NewKeywordClassifier()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.history <= 0 {
		o.history = 10
	}
	return o
}

var tracer = otel.Tracer("github.com/capitalize-ai/oncall-dispatch/internal/dispatch")

// Process classifies msg and dispatches it. Classification failures fall back
// to general/low with zero confidence and never fail the cycle.
//
// The session lock is taken before classifying, so messages on one thread
// are handled in arrival order and the classifier sees every earlier message.
func (o *Orchestrator) Process(ctx context.Context, msg model.MessageContext) (model.WorkflowResult, error) {
	return o.run(ctx, msg, func(ctx context.Context, sess *model.ConversationSession) model.Classification {
		return o.classify(ctx, msg, sess.RecentHistory(o.history))
	})
}

// Dispatch runs one cycle for an already classified message.
//
// Cycles for the same (user, channel, thread) run one at a time in arrival
// order; other keys proceed in parallel. The session is saved exactly once.
// Only session store failures and internal consistency errors are returned;
// collaborator failures are reflected in the result.
func (o *Orchestrator) Dispatch(ctx context.Context, msg model.MessageContext, cls model.Classification) (model.WorkflowResult, error) {
	return o.run(ctx, msg, func(context.Context, *model.ConversationSession) model.Classification {
		return cls
	})
}

// classifyFunc produces the classification for a message once its session is held.
type classifyFunc func(ctx context.Context, sess *model.ConversationSession) model.Classification

func (o *Orchestrator) classify(ctx context.Context, msg model.MessageContext, history []model.MessageContext) model.Classification {
	cls, err := o.classifier.Classify(ctx, msg.Text, history)
	fallback := err != nil
	if fallback {
		o.logger.Warn("classification unavailable, using fallback",
			zap.String("user_id", msg.UserID),
			zap.String("channel_id", msg.ChannelID),
			zap.Error(err),
		)
		cls = model.FallbackClassification()
	}
	metrics.RecordClassification(string(cls.Type), fallback)
	return cls
}

func (o *Orchestrator) run(ctx context.Context, msg model.MessageContext, classifyMsg classifyFunc) (model.WorkflowResult, error) {
	start := o.now()
	key := msg.SessionKey()

	ctx, span := tracer.Start(ctx, "dispatch", trace.WithAttributes(
		attribute.String("session.id", key.ID()),
		attribute.String("channel.type", string(msg.ChannelType)),
	))
	defer span.End()

	result, sess, err := o.dispatchLocked(ctx, key, msg, classifyMsg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Error("dispatch failed",
			zap.String("session_id", key.ID()),
			zap.Error(err),
		)
		return model.WorkflowResult{}, err
	}

	cls := result.Classification
	elapsed := o.now().Sub(start)
	span.SetAttributes(
		attribute.String("classification.type", string(cls.Type)),
		attribute.String("classification.severity", string(cls.Severity)),
		attribute.String("workflow", result.WorkflowName()),
		attribute.String("status", string(result.Status)),
	)
	metrics.RecordDispatch(result.WorkflowName(), string(result.Status), elapsed.Seconds())

	o.logger.WithSession(sess.ID, sess.UserID, sess.ChannelID).Info("dispatch completed",
		zap.Int("generation", sess.Generation),
		zap.String("workflow", result.WorkflowName()),
		zap.String("status", string(result.Status)),
		zap.String("classification", string(cls.Type)),
		zap.Bool("escalation_required", result.EscalationRequired),
		zap.Duration("duration", elapsed),
	)

	o.publish(ctx, sess, msg, result, elapsed)
	return result, nil
}

func (o *Orchestrator) dispatchLocked(ctx context.Context, key model.SessionKey, msg model.MessageContext, classifyMsg classifyFunc) (model.WorkflowResult, *model.ConversationSession, error) {
	unlock, err := o.locker.Lock(ctx, key.ID())
	if err != nil {
		return model.WorkflowResult{}, nil, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer unlock()

	sess, err := o.store.GetOrCreate(ctx, key, o.now())
	if err != nil {
		return model.WorkflowResult{}, nil, fmt.Errorf("failed to load session: %w", err)
	}

	cls := classifyMsg(ctx, sess)

	now := o.now()
	sess.History = append(sess.History, msg)
	sess.UpdatedAt = now
	recorded := cls
	sess.LastClassification = &recorded

	snapshot := o.registry.Snapshot()
	wf, matched := matcher.Match(cls, msg, snapshot.Active())

	var (
		result  model.WorkflowResult
		updated *model.ConversationSession
		execErr error
	)
	if matched {
		ex := o.executor
		if templates := snapshot.Templates(); templates != nil {
			ex = ex.WithRenderer(templates)
		}
		result, updated, execErr = ex.Execute(ctx, wf, cls, msg, sess)
		if execErr != nil {
			// Keep the history consistent even though the cycle is aborted.
			updated = sess
		}
	} else {
		result = model.WorkflowResult{
			SessionID:      sess.ID,
			Status:         model.StatusNoMatch,
			ResponseText:   executor.GenericResponse,
			Outcomes:       []model.ActionOutcome{},
			Classification: cls,
		}
		updated = sess
		if updated.Status == model.SessionResolved {
			updated.Status = model.SessionActive
		}
	}

	updated.ActiveWorkflow = nil
	updated.UpdatedAt = now
	updated.LastResult = result.Status

	if err := o.store.Save(ctx, updated); err != nil {
		return model.WorkflowResult{}, nil, fmt.Errorf("failed to save session: %w", err)
	}
	if execErr != nil {
		return model.WorkflowResult{}, nil, fmt.Errorf("failed to execute workflow %q: %w", wf.Name, execErr)
	}

	result.SessionID = updated.ID
	return result, updated, nil
}

// ExpireStale archives every session idle at now. Each session is expired
// under its key lock, so a sweep never archives a session mid-dispatch.
func (o *Orchestrator) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	keys, err := o.store.Stale(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale sessions: %w", err)
	}

	expired := 0
	for _, key := range keys {
		ok, err := o.expire(ctx, key, now)
		if err != nil {
			return expired, err
		}
		if ok {
			expired++
		}
	}
	return expired, nil
}

func (o *Orchestrator) expire(ctx context.Context, key model.SessionKey, now time.Time) (bool, error) {
	unlock, err := o.locker.Lock(ctx, key.ID())
	if err != nil {
		return false, fmt.Errorf("failed to acquire session lock: %w", err)
	}
	defer unlock()

	ok, err := o.store.Expire(ctx, key, now)
	if err != nil {
		return false, fmt.Errorf("failed to expire session %s: %w", key.ID(), err)
	}
	return ok, nil
}

func (o *Orchestrator) publish(ctx context.Context, sess *model.ConversationSession, msg model.MessageContext, result model.WorkflowResult, elapsed time.Duration) {
	if o.events == nil {
		return
	}

	event := &model.DispatchEvent{
		ID:             uuid.Must(uuid.NewV7()).String(),
		SessionID:      sess.ID,
		Generation:     sess.Generation,
		Type:           model.EventTypeFor(result),
		Workflow:       result.WorkflowName(),
		Status:         result.Status,
		Classification: result.Classification,
		ChannelType:    msg.ChannelType,
		Outcomes:       result.Outcomes,
		DurationMs:     elapsed.Milliseconds(),
		CreatedAt:      o.now(),
	}
	if err := o.events.PublishDispatch(ctx, event); err != nil {
		o.logger.Warn("failed to publish dispatch event",
			zap.String("session_id", sess.ID),
			zap.Error(err),
		)
	}
}

// Registry returns the registry the orchestrator matches against.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.registry
}

// Store returns the session store.
func (o *Orchestrator) Store() session.Store {
	return o.store
}
