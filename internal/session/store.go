// Package session persists conversation sessions and serializes work on
// a single conversation thread.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

var (
	// ErrStoreFailure wraps every persistence error.
	ErrStoreFailure = errors.New("session store failure")

	// ErrNotFound is returned when a session ID is unknown.
	ErrNotFound = errors.New("session not found")

	// ErrArchived is returned, wrapped in ErrStoreFailure, when saving a
	// generation that has already been expired and archived.
	ErrArchived = errors.New("session generation archived")
)

// Store persists conversation sessions keyed by (user, channel, thread).
//
// Expiry is lazy: GetOrCreate archives a session that has been idle past the
// store's inactivity window and returns a fresh generation for the same key.
// Expire performs the same transition for one key, and ExpireStale for every
// idle session. Callers that hold a session between GetOrCreate and Save must
// serialize Expire on the same key; Save rejects a generation that was
// archived in between with ErrArchived.
type Store interface {
	GetOrCreate(ctx context.Context, key model.SessionKey, now time.Time) (*model.ConversationSession, error)
	Get(ctx context.Context, id string) (*model.ConversationSession, error)
	Save(ctx context.Context, sess *model.ConversationSession) error
	Stale(ctx context.Context, now time.Time) ([]model.SessionKey, error)
	Expire(ctx context.Context, key model.SessionKey, now time.Time) (bool, error)
	ExpireStale(ctx context.Context, now time.Time) (int, error)
	Archive(ctx context.Context, id string) ([]*model.ConversationSession, error)
}
