package middleware

import (
	"errors"
	"regexp"
	"unicode/utf8"

	"github.com/google/uuid"
)

const maxMessageLength = 40000

var (
	identifierPattern   = regexp.MustCompile(`^[A-Za-z0-9._:@#-]{1,128}$`)
	workflowNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidateMessageText validates inbound message text.
func ValidateMessageText(text string) error {
	if len(text) == 0 {
		return errors.New("text cannot be empty")
	}
	if len(text) > maxMessageLength {
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session ID.
func ValidateSessionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateIdentifier validates user, channel and thread identifiers.
func ValidateIdentifier(field, id string) error {
	if !identifierPattern.MatchString(id) {
		return errors.New("invalid " + field)
	}
	return nil
}

// ValidateWorkflowName validates a workflow name in a path.
func ValidateWorkflowName(name string) error {
	if !workflowNamePattern.MatchString(name) {
		return errors.New("invalid workflow name")
	}
	return nil
}
