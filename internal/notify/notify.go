// Package notify delivers escalation notifications to on-call channels.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/capitalize-ai/oncall-dispatch/internal/executor"
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/pkg/logger"
	"github.com/capitalize-ai/oncall-dispatch/pkg/metrics"
)

// LogNotifier writes notifications to the service log. It always reports
// delivery and serves as the last-resort sink.
type LogNotifier struct {
	logger *logger.Logger
}

// NewLogNotifier creates a notifier that logs through log.
func NewLogNotifier(log *logger.Logger) *LogNotifier {
	return &LogNotifier{logger: log}
}

// Notify logs n at warn level.
func (l *LogNotifier) Notify(_ context.Context, channels []string, n model.Notification) (bool, error) {
	l.logger.Warn("escalation",
		zap.Strings("channels", channels),
		zap.String("level", n.Level),
		zap.String("summary", n.Summary),
		zap.String("session_id", n.SessionID),
		zap.String("workflow", n.Workflow),
		zap.String("severity", string(n.Severity)),
	)
	metrics.RecordNotification("log", true)
	return true, nil
}

// MultiNotifier fans a notification out to several sinks. Delivery succeeds
// when any sink delivers.
type MultiNotifier struct {
	sinks []executor.Notifier
}

// NewMultiNotifier creates a fan-out over sinks, called in order.
func NewMultiNotifier(sinks ...executor.Notifier) *MultiNotifier {
	return &MultiNotifier{sinks: sinks}
}

// Notify calls every sink.
func (m *MultiNotifier) Notify(ctx context.Context, channels []string, n model.Notification) (bool, error) {
	var (
		delivered bool
		errs      []error
	)
	for _, s := range m.sinks {
		ok, err := s.Notify(ctx, channels, n)
		if err != nil {
			errs = append(errs, err)
		}
		delivered = delivered || ok
	}
	if delivered {
		return true, nil
	}
	if len(errs) == 0 {
		return false, errors.New("no notification sink delivered")
	}
	return false, errors.Join(errs...)
}

// message renders a notification as chat text.
func message(n model.Notification) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":rotating_light: *%s escalation*", strings.ToUpper(n.Level))
	if n.Workflow != "" {
		fmt.Fprintf(&b, " (%s)", n.Workflow)
	}
	fmt.Fprintf(&b, "\n%s", n.Summary)
	fmt.Fprintf(&b, "\nseverity: %s | user: %s | channel: %s | session: %s", n.Severity, n.UserID, n.ChannelID, n.SessionID)
	return b.String()
}
