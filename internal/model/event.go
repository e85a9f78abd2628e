package model

import (
	"time"
)

// EventType represents the kind of dispatch audit event.
type EventType string

const (
	EventTypeDispatched EventType = "dispatched"
	EventTypeNoMatch    EventType = "no_match"
	EventTypeEscalated  EventType = "escalated"
	EventTypeFailed     EventType = "failed"
)

// EventTypeFor maps a cycle result onto its audit event type.
func EventTypeFor(r WorkflowResult) EventType {
	switch {
	case r.Status == StatusNoMatch:
		return EventTypeNoMatch
	case r.Status == StatusFailed:
		return EventTypeFailed
	case r.EscalationRequired:
		return EventTypeEscalated
	}
	return EventTypeDispatched
}

// DispatchEvent is the audit record of one dispatch cycle.
type DispatchEvent struct {
	ID             string          `json:"id"`
	SessionID      string          `json:"session_id"`
	Generation     int             `json:"generation"`
	Type           EventType       `json:"type"`
	Workflow       string          `json:"workflow,omitempty"`
	Status         ResultStatus    `json:"status"`
	Classification Classification  `json:"classification"`
	ChannelType    ChannelType     `json:"channel_type"`
	Outcomes       []ActionOutcome `json:"outcomes,omitempty"`
	DurationMs     int64           `json:"duration_ms"`
	CreatedAt      time.Time       `json:"created_at"`
	Sequence       uint64          `json:"sequence,omitempty"`
}
