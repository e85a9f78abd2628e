// Package classify assigns an intent classification to inbound messages.
package classify

import (
	"context"
	"errors"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

// ErrUnavailable is returned when no classification could be produced.
// Callers fall back to model.FallbackClassification.
var ErrUnavailable = errors.New("classification unavailable")

// Classifier classifies a message given the recent conversation history.
type Classifier interface {
	Classify(ctx context.Context, text string, history []model.MessageContext) (model.Classification, error)
}
