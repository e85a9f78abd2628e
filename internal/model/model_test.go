package model

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeClassification(t *testing.T) {
	tests := []struct {
		name     string
		typ      string
		severity string
		conf     float64
		want     Classification
	}{
		{
			name: "valid", typ: "incident", severity: "high", conf: 0.9,
			want: Classification{Type: TypeIncident, Severity: SeverityHigh, Confidence: 0.9},
		},
		{
			name: "case and space", typ: " Knowledge_Query ", severity: "LOW", conf: 0.5,
			want: Classification{Type: TypeKnowledgeQuery, Severity: SeverityLow, Confidence: 0.5},
		},
		{
			name: "legacy alias", typ: "general_inquiry", severity: "medium", conf: 0.4,
			want: Classification{Type: TypeGeneral, Severity: SeverityMedium, Confidence: 0.4},
		},
		{
			name: "unknown type", typ: "billing", severity: "high", conf: 0.7,
			want: Classification{Type: TypeGeneral, Severity: SeverityHigh, Confidence: 0.7, Degraded: true},
		},
		{
			name: "unknown severity", typ: "incident", severity: "sev1", conf: 0.7,
			want: Classification{Type: TypeIncident, Severity: SeverityLow, Confidence: 0.7, Degraded: true},
		},
		{
			name: "confidence above range", typ: "incident", severity: "low", conf: 1.7,
			want: Classification{Type: TypeIncident, Severity: SeverityLow, Confidence: 1, Degraded: true},
		},
		{
			name: "confidence below range", typ: "incident", severity: "low", conf: -0.2,
			want: Classification{Type: TypeIncident, Severity: SeverityLow, Confidence: 0, Degraded: true},
		},
		{
			name: "nan confidence", typ: "incident", severity: "low", conf: math.NaN(),
			want: Classification{Type: TypeIncident, Severity: SeverityLow, Confidence: 0, Degraded: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeClassification(tt.typ, tt.severity, tt.conf, nil))
		})
	}
}

func TestNormalizeClassificationEntities(t *testing.T) {
	c := NormalizeClassification("incident", "high", 1, []string{"payments", " ", " db "})
	assert.Equal(t, []string{"payments", "db"}, c.Entities)
}

func TestNewMessageContext(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	md := map[string]string{"ts": "1.2"}

	msg, err := NewMessageContext("U1", "C1", ChannelSlack, "T1", "db is down", now, md)
	require.NoError(t, err)
	assert.Equal(t, SessionKey{UserID: "U1", ChannelID: "C1", ThreadID: "T1"}, msg.SessionKey())

	md["ts"] = "changed"
	assert.Equal(t, "1.2", msg.Metadata["ts"])

	bad := []struct {
		name           string
		user, ch, text string
		channelType    ChannelType
	}{
		{"no user", "", "C1", "hi", ChannelSlack},
		{"no channel", "U1", " ", "hi", ChannelSlack},
		{"no text", "U1", "C1", "  ", ChannelSlack},
		{"bad channel type", "U1", "C1", "hi", ChannelType("fax")},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMessageContext(tt.user, tt.ch, tt.channelType, "", tt.text, now, nil)
			assert.True(t, errors.Is(err, ErrInvalidMessage))
		})
	}
}

func TestSessionKeyID(t *testing.T) {
	a := SessionKey{UserID: "U1", ChannelID: "C1"}
	assert.Equal(t, a.ID(), a.ID())
	assert.NotEqual(t, a.ID(), SessionKey{UserID: "U1", ChannelID: "C1", ThreadID: "T"}.ID())
	// Field boundaries are part of the key.
	assert.NotEqual(t,
		SessionKey{UserID: "U1C", ChannelID: "1"}.ID(),
		SessionKey{UserID: "U1", ChannelID: "C1"}.ID())
}

func TestSessionExpiryAndClone(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession(SessionKey{UserID: "U1", ChannelID: "C1"}, 0, now)

	assert.False(t, s.ExpiredAt(now.Add(time.Hour), 2*time.Hour))
	assert.True(t, s.ExpiredAt(now.Add(3*time.Hour), 2*time.Hour))
	assert.False(t, s.ExpiredAt(now.Add(1000*time.Hour), 0))

	s.History = append(s.History, MessageContext{Text: "one"})
	wf := "incident_triage"
	s.ActiveWorkflow = &wf

	c := s.Clone()
	c.History[0].Text = "changed"
	*c.ActiveWorkflow = "other"
	assert.Equal(t, "one", s.History[0].Text)
	assert.Equal(t, "incident_triage", *s.ActiveWorkflow)
}

func TestRecentHistory(t *testing.T) {
	s := &ConversationSession{History: []MessageContext{{Text: "a"}, {Text: "b"}, {Text: "c"}}}
	assert.Len(t, s.RecentHistory(2), 2)
	assert.Equal(t, "c", s.RecentHistory(2)[1].Text)
	assert.Len(t, s.RecentHistory(10), 3)
	assert.Len(t, s.RecentHistory(0), 3)
}

func TestActionParams(t *testing.T) {
	a := ActionSpec{Type: ActionSearchKB, Params: map[string]any{
		"max_results":      float64(5),
		"escalation_level": "high",
		"notify_channels":  []any{"#oncall", 3, "#sre"},
		"single":           "#ops",
	}}

	assert.Equal(t, 5, a.IntParam("max_results", 3))
	assert.Equal(t, 3, a.IntParam("missing", 3))
	assert.Equal(t, "high", a.StringParam("escalation_level", "medium"))
	assert.Equal(t, "medium", a.StringParam("missing", "medium"))
	assert.Equal(t, []string{"#oncall", "#sre"}, a.StringsParam("notify_channels"))
	assert.Equal(t, []string{"#ops"}, a.StringsParam("single"))

	assert.False(t, a.IsCritical())
	assert.True(t, ActionSpec{Type: ActionSearchKB, Critical: true}.IsCritical())
	assert.True(t, ActionSpec{Type: ActionEscalate}.IsCritical())
	assert.True(t, ActionSpec{Type: ActionCreateTicket}.IsCritical())
}

func TestTriggerDocument(t *testing.T) {
	wf := WorkflowDefinition{Conditions: []Condition{
		{Field: FieldClassificationType, Kind: ConditionEquals, Values: []string{"incident"}},
		{Field: FieldSeverity, Kind: ConditionIn, Values: []string{"high"}},
	}}
	assert.Equal(t, map[string]any{
		"classification_type": "incident",
		"severity":            []string{"high"},
	}, wf.TriggerDocument())
}

func TestEventTypeFor(t *testing.T) {
	assert.Equal(t, EventTypeNoMatch, EventTypeFor(WorkflowResult{Status: StatusNoMatch}))
	assert.Equal(t, EventTypeFailed, EventTypeFor(WorkflowResult{Status: StatusFailed, EscalationRequired: true}))
	assert.Equal(t, EventTypeEscalated, EventTypeFor(WorkflowResult{Status: StatusCompleted, EscalationRequired: true}))
	assert.Equal(t, EventTypeDispatched, EventTypeFor(WorkflowResult{Status: StatusCompleted}))
}
