// Package wire defines the event frames exchanged with clients over a
// live connection.
package wire

import (
	"time"

	"tutorhub/internal/store"
)

// Outbound event names.
const (
	EventSessions      = "sessions"
	EventSessionChange = "session-change"
	EventMessageSend   = "messageSend"
	EventIsTyping      = "is-typing"
	EventNotTyping     = "not-typing"
	EventBump          = "bump"
)

// Inbound event names.
const (
	InList      = "list"
	InJoin      = "join"
	InTyping    = "typing"
	InNotTyping = "notTyping"
	InMessage   = "message"
)

// Event is an outbound frame.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Inbound is a frame received from a client.
type Inbound struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId,omitempty"`
	Contents  string `json:"contents,omitempty"`
}

// Bump is the rejection payload for a failed join, carrying the
// session's current participant state so the losing client can
// reconcile its view immediately.
type Bump struct {
	EndedAt   *time.Time  `json:"endedAt,omitempty"`
	Volunteer *store.User `json:"volunteer"`
	Student   *store.User `json:"student"`
}
