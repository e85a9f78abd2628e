package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

// MemoryStore keeps sessions in process memory.
type MemoryStore struct {
	ttl time.Duration

	mu       sync.RWMutex
	sessions map[string]*model.ConversationSession
	archive  map[string][]*model.ConversationSession
	lastGen  map[string]int
}

// NewMemoryStore creates an in-memory store. A non-positive ttl disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		ttl:      ttl,
		sessions: make(map[string]*model.ConversationSession),
		archive:  make(map[string][]*model.ConversationSession),
		lastGen:  make(map[string]int),
	}
}

// GetOrCreate returns the live session for key, creating or renewing it as needed.
func (s *MemoryStore) GetOrCreate(ctx context.Context, key model.SessionKey, now time.Time) (*model.ConversationSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	id := key.ID()

	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[id]; ok {
		if !sess.ExpiredAt(now, s.ttl) {
			return sess.Clone(), nil
		}
		s.expireLocked(sess)
	}

	sess := model.NewSession(key, s.lastGen[id]+1, now)
	s.lastGen[id] = sess.Generation
	s.sessions[id] = sess
	return sess.Clone(), nil
}

// Get returns the live session with the given ID.
func (s *MemoryStore) Get(ctx context.Context, id string) (*model.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess.Clone(), nil
}

// Save replaces the stored session.
func (s *MemoryStore) Save(ctx context.Context, sess *model.ConversationSession) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, archived := range s.archive[sess.ID] {
		if archived.Generation == sess.Generation {
			return fmt.Errorf("%w: %w: %s generation %d", ErrStoreFailure, ErrArchived, sess.ID, sess.Generation)
		}
	}
	s.sessions[sess.ID] = sess.Clone()
	if sess.Generation > s.lastGen[sess.ID] {
		s.lastGen[sess.ID] = sess.Generation
	}
	return nil
}

// Stale returns the keys of live sessions idle past the inactivity window.
func (s *MemoryStore) Stale(ctx context.Context, now time.Time) ([]model.SessionKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []model.SessionKey
	for _, sess := range s.sessions {
		if sess.ExpiredAt(now, s.ttl) {
			keys = append(keys, sess.Key())
		}
	}
	return keys, nil
}

// Expire archives the live session for key if it is idle at now.
func (s *MemoryStore) Expire(ctx context.Context, key model.SessionKey, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[key.ID()]
	if !ok || !sess.ExpiredAt(now, s.ttl) {
		return false, nil
	}
	s.expireLocked(sess)
	return true, nil
}

// ExpireStale archives every session idle past the inactivity window.
func (s *MemoryStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := 0
	for _, sess := range s.sessions {
		if sess.ExpiredAt(now, s.ttl) {
			s.expireLocked(sess)
			expired++
		}
	}
	return expired, nil
}

// Archive returns the expired generations retained for a session ID, oldest first.
func (s *MemoryStore) Archive(ctx context.Context, id string) ([]*model.ConversationSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.ConversationSession, 0, len(s.archive[id]))
	for _, sess := range s.archive[id] {
		out = append(out, sess.Clone())
	}
	return out, nil
}

func (s *MemoryStore) expireLocked(sess *model.ConversationSession) {
	archived := sess.Clone()
	archived.Status = model.SessionExpired
	archived.ActiveWorkflow = nil
	s.archive[sess.ID] = append(s.archive[sess.ID], archived)
	delete(s.sessions, sess.ID)
}
