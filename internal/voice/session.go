// Package voice talks to the realtime voice agent provider: it builds the
// per-lead session context, dials agent conversations and relays call audio.
package voice

import (
	"context"

	"github.com/google/uuid"
)

// SessionContext is everything an agent conversation is primed with.
type SessionContext struct {
	LeadID           uuid.UUID         `json:"leadId"`
	CallToken        string            `json:"callToken,omitempty"`
	DynamicVariables map[string]string `json:"dynamicVariables"`
	SystemPrompt     string            `json:"systemPrompt"`
	FirstMessage     string            `json:"firstMessage"`
	PendingFields    []string          `json:"pendingFields"`
}

// EventType distinguishes agent-side conversation events.
type EventType string

const (
	EventAudio        EventType = "audio"
	EventInterruption EventType = "interruption"
)

// Event is a single agent-side conversation event. Audio is base64 encoded
// 8kHz mu-law, the format used on the telephony media stream.
type Event struct {
	Type  EventType
	Audio string
}

// Conn is an established agent conversation.
type Conn interface {
	ConversationID() string
	SendUserAudio(ctx context.Context, audioB64 string) error
	// Events is closed when the conversation ends.
	Events() <-chan Event
	// Done is closed when the conversation ends, without consuming events.
	Done() <-chan struct{}
	Close() error
}

// Dialer opens agent conversations.
type Dialer interface {
	Dial(ctx context.Context, sc SessionContext) (Conn, error)
}
