// Package slack speaks the parts of the Slack Events and Web APIs the
// dispatcher needs: inbound event parsing, request signing and replies.
package slack

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/capitalize-ai/oncall-dispatch/internal/model"
)

// Envelope types.
const (
	TypeURLVerification = "url_verification"
	TypeEventCallback   = "event_callback"
)

// Inner event types.
const (
	EventMessage    = "message"
	EventAppMention = "app_mention"
)

// Metadata keys set on messages built from Slack events.
const (
	MetaTS        = "ts"
	MetaEventType = "event_type"
	MetaEventID   = "event_id"
	MetaMention   = "is_mention"
)

// Envelope is the outer body of an Events API request.
type Envelope struct {
	Type      string `json:"type"`
	Token     string `json:"token,omitempty"`
	Challenge string `json:"challenge,omitempty"`
	TeamID    string `json:"team_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Event     Event  `json:"event"`
}

// Event is the inner event of an event_callback.
type Event struct {
	Type     string `json:"type"`
	Subtype  string `json:"subtype,omitempty"`
	User     string `json:"user"`
	BotID    string `json:"bot_id,omitempty"`
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	TS       string `json:"ts"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

// ParseEnvelope decodes an Events API request body.
func ParseEnvelope(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid slack event body: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("invalid slack event body: missing type")
	}
	return &env, nil
}

// Actionable reports whether the event is a user message the dispatcher
// should answer. Bot messages and edits are ignored so replies do not loop.
func (e Event) Actionable() bool {
	if e.BotID != "" || e.Subtype != "" || e.User == "" {
		return false
	}
	return e.Type == EventMessage || e.Type == EventAppMention
}

// Message converts the event into a MessageContext.
func (e Event) Message(eventID string, now time.Time) (model.MessageContext, error) {
	md := map[string]string{
		MetaTS:        e.TS,
		MetaEventType: e.Type,
	}
	if eventID != "" {
		md[MetaEventID] = eventID
	}
	if e.Type == EventAppMention || strings.Contains(e.Text, "<@") {
		md[MetaMention] = "true"
	}
	return model.NewMessageContext(e.User, e.Channel, model.ChannelSlack, e.ThreadTS, CleanText(e.Text), now, md)
}

// ReplyThread returns the thread a reply to msg belongs in: the message's
// thread when it has one, otherwise a new thread under the message itself.
func ReplyThread(msg model.MessageContext) string {
	if msg.ThreadID != "" {
		return msg.ThreadID
	}
	return msg.Metadata[MetaTS]
}

var (
	userMention    = regexp.MustCompile(`<@U\w+>`)
	channelMention = regexp.MustCompile(`<#C\w+\|[\w-]*>`)
	link           = regexp.MustCompile(`<http[^>]+>`)
)

// CleanText strips user and channel mentions and links, and collapses whitespace.
func CleanText(text string) string {
	text = userMention.ReplaceAllString(text, "")
	text = channelMention.ReplaceAllString(text, "")
	text = link.ReplaceAllString(text, "")
	return strings.Join(strings.Fields(text), " ")
}
