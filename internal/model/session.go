package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle state of a conversation session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionResolved  SessionStatus = "resolved"
	SessionEscalated SessionStatus = "escalated"
	SessionExpired   SessionStatus = "expired"
)

// sessionNamespace scopes the deterministic session identifiers.
var sessionNamespace = uuid.MustParse("6f1c3b8e-2f4a-5d7e-9b0c-1a2b3c4d5e6f")

// SessionKey identifies a conversation thread.
type SessionKey struct {
	UserID    string
	ChannelID string
	ThreadID  string
}

// ID returns the deterministic session identifier for the key.
func (k SessionKey) ID() string {
	return uuid.NewSHA1(sessionNamespace, []byte(k.UserID+"\x00"+k.ChannelID+"\x00"+k.ThreadID)).String()
}

// ConversationSession is the stateful record of one ongoing conversation thread.
type ConversationSession struct {
	ID         string           `json:"id"`
	Generation int              `json:"generation"`
	UserID     string           `json:"user_id"`
	ChannelID  string           `json:"channel_id"`
	ThreadID   string           `json:"thread_id,omitempty"`
	History    []MessageContext `json:"history"`

	// ActiveWorkflow is set only while a workflow is executing.
	ActiveWorkflow *string       `json:"active_workflow,omitempty"`
	Status         SessionStatus `json:"status"`

	LastClassification *Classification `json:"last_classification,omitempty"`
	LastResult         ResultStatus    `json:"last_result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSession returns a fresh active session for key.
func NewSession(key SessionKey, generation int, now time.Time) *ConversationSession {
	return &ConversationSession{
		ID:         key.ID(),
		Generation: generation,
		UserID:     key.UserID,
		ChannelID:  key.ChannelID,
		ThreadID:   key.ThreadID,
		History:    []MessageContext{},
		Status:     SessionActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// Key returns the session's (user, channel, thread) key.
func (s *ConversationSession) Key() SessionKey {
	return SessionKey{UserID: s.UserID, ChannelID: s.ChannelID, ThreadID: s.ThreadID}
}

// ExpiredAt reports whether the session has been idle longer than ttl at now.
// A non-positive ttl disables expiry.
func (s *ConversationSession) ExpiredAt(now time.Time, ttl time.Duration) bool {
	if s.Status == SessionExpired {
		return true
	}
	if ttl <= 0 {
		return false
	}
	return now.Sub(s.UpdatedAt) > ttl
}

// Clone returns a deep copy so callers can mutate without sharing history.
func (s *ConversationSession) Clone() *ConversationSession {
	if s == nil {
		return nil
	}
	c := *s
	c.History = make([]MessageContext, len(s.History))
	copy(c.History, s.History)
	if s.ActiveWorkflow != nil {
		name := *s.ActiveWorkflow
		c.ActiveWorkflow = &name
	}
	if s.LastClassification != nil {
		cls := *s.LastClassification
		cls.Entities = append([]string(nil), s.LastClassification.Entities...)
		c.LastClassification = &cls
	}
	return &c
}

// RecentHistory returns up to n of the most recent messages.
func (s *ConversationSession) RecentHistory(n int) []MessageContext {
	if n <= 0 || len(s.History) <= n {
		return s.History
	}
	return s.History[len(s.History)-n:]
}
