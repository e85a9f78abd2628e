// Package model defines data structures for the dispatch service.
package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ChannelType identifies the chat surface a message arrived on.
type ChannelType string

const (
	ChannelSlack   ChannelType = "slack"
	ChannelTeams   ChannelType = "teams"
	ChannelDiscord ChannelType = "discord"
	ChannelEmail   ChannelType = "email"
	ChannelAPI     ChannelType = "api"
)

// Valid reports whether c is a known channel type.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelSlack, ChannelTeams, ChannelDiscord, ChannelEmail, ChannelAPI:
		return true
	}
	return false
}

// ChannelTypes lists every known channel type.
func ChannelTypes() []ChannelType {
	return []ChannelType{ChannelSlack, ChannelTeams, ChannelDiscord, ChannelEmail, ChannelAPI}
}

// MessageContext is one inbound message, independent of the channel it came from.
// Values are treated as immutable once built by NewMessageContext.
type MessageContext struct {
	UserID      string            `json:"user_id"`
	ChannelID   string            `json:"channel_id"`
	ChannelType ChannelType       `json:"channel_type"`
	ThreadID    string            `json:"thread_id,omitempty"`
	Text        string            `json:"text"`
	ReceivedAt  time.Time         `json:"received_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ErrInvalidMessage is returned when a MessageContext is missing required fields.
var ErrInvalidMessage = errors.New("invalid message")

// NewMessageContext validates the inputs and returns a message. The metadata map is copied.
func NewMessageContext(userID, channelID string, channelType ChannelType, threadID, text string, receivedAt time.Time, metadata map[string]string) (MessageContext, error) {
	switch {
	case strings.TrimSpace(userID) == "":
		return MessageContext{}, fmt.Errorf("%w: user id is required", ErrInvalidMessage)
	case strings.TrimSpace(channelID) == "":
		return MessageContext{}, fmt.Errorf("%w: channel id is required", ErrInvalidMessage)
	case strings.TrimSpace(text) == "":
		return MessageContext{}, fmt.Errorf("%w: message text is required", ErrInvalidMessage)
	case !channelType.Valid():
		return MessageContext{}, fmt.Errorf("%w: unknown channel type %q", ErrInvalidMessage, channelType)
	}

	var md map[string]string
	if len(metadata) > 0 {
		md = make(map[string]string, len(metadata))
		for k, v := range metadata {
			md[k] = v
		}
	}

	return MessageContext{
		UserID:      userID,
		ChannelID:   channelID,
		ChannelType: channelType,
		ThreadID:    threadID,
		Text:        text,
		ReceivedAt:  receivedAt,
		Metadata:    md,
	}, nil
}

// SessionKey returns the (user, channel, thread) key the message belongs to.
func (m MessageContext) SessionKey() SessionKey {
	return SessionKey{UserID: m.UserID, ChannelID: m.ChannelID, ThreadID: m.ThreadID}
}
