package model

import "time"

// ResultStatus is the outcome of one dispatch cycle.
type ResultStatus string

const (
	StatusCompleted       ResultStatus = "completed"
	StatusPartiallyFailed ResultStatus = "partially_failed"
	StatusFailed          ResultStatus = "failed"
	StatusNoMatch         ResultStatus = "no_match"
)

// ActionOutcome records what happened to one action.
type ActionOutcome struct {
	Action   ActionType    `json:"action"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// WorkflowResult is the output of one dispatch cycle.
type WorkflowResult struct {
	SessionID          string          `json:"session_id"`
	Workflow           *string         `json:"workflow,omitempty"`
	Status             ResultStatus    `json:"status"`
	ResponseText       string          `json:"response_text"`
	Outcomes           []ActionOutcome `json:"outcomes"`
	EscalationRequired bool            `json:"escalation_required"`
	TicketID           string          `json:"ticket_id,omitempty"`
	Classification     Classification  `json:"classification"`
}

// WorkflowName returns the matched workflow name or "" when none matched.
func (r WorkflowResult) WorkflowName() string {
	if r.Workflow == nil {
		return ""
	}
	return *r.Workflow
}

// SearchHit is one knowledge search result.
type SearchHit struct {
	Title   string  `json:"title"`
	Excerpt string  `json:"excerpt"`
	Source  string  `json:"source"`
	Score   float64 `json:"score,omitempty"`
}

// Document is a knowledge corpus entry returned by fetch_docs.
type Document struct {
	Title   string `json:"title"`
	Source  string `json:"source"`
	Content string `json:"content"`
}

// Notification is the payload sent to escalation channels.
type Notification struct {
	Level     string    `json:"level"`
	Summary   string    `json:"summary"`
	SessionID string    `json:"session_id"`
	Workflow  string    `json:"workflow,omitempty"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Severity  Severity  `json:"severity"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
