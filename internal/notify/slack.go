package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/pkg/metrics"
)

// Poster posts a chat message. *slack.Client implements it.
type Poster interface {
	PostMessage(ctx context.Context, channel, threadTS, text string) (string, error)
}

// SlackNotifier posts escalations to Slack channels.
type SlackNotifier struct {
	poster Poster
}

// NewSlackNotifier creates a notifier that posts through p.
func NewSlackNotifier(p Poster) *SlackNotifier {
	return &SlackNotifier{poster: p}
}

// Notify posts n to every channel. Delivery succeeds when at least one post does.
func (s *SlackNotifier) Notify(ctx context.Context, channels []string, n model.Notification) (bool, error) {
	if len(channels) == 0 {
		return false, errors.New("no escalation channels")
	}

	text := message(n)
	var errs []error
	delivered := false
	for _, ch := range channels {
		if _, err := s.poster.PostMessage(ctx, ch, "", text); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch, err))
			continue
		}
		delivered = true
	}
	metrics.RecordNotification("slack", delivered)
	if delivered {
		return true, nil
	}
	return false, errors.Join(errs...)
}
