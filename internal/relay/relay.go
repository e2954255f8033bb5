// Package relay delivers chat messages and typing indicators between the
// two live participants of a session.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tutorhub/internal/presence"
	"tutorhub/internal/session"
	"tutorhub/internal/store"
	"tutorhub/internal/wire"
)

// Relay fans session traffic out over the presence registry. The message
// log in the store is the durable source of truth; real-time delivery is
// at-most-once per connection and fire-and-forget. A client that
// reconnects must re-fetch the session to recover missed messages.
type Relay struct {
	store    *store.Store
	presence *presence.Registry
	log      *slog.Logger

	Now func() time.Time
}

func New(st *store.Store, reg *presence.Registry, log *slog.Logger) *Relay {
	return &Relay{store: st, presence: reg, log: log, Now: time.Now}
}

// SendMessage appends the message to the session's log, then fans it out
// to the partner's connections and the sender's other connections (so a
// second open tab mirrors the message). The originating connection is
// skipped.
func (r *Relay) SendMessage(ctx context.Context, origin presence.Conn, sessionID, contents string) (*store.Message, error) {
	if contents == "" {
		return nil, &session.ValidationError{Reason: "no message contents"}
	}

	sess, err := r.loadForParticipant(ctx, sessionID, origin.UserID())
	if err != nil {
		return nil, err
	}
	if sess.Ended() {
		return nil, &session.SessionEndedError{Session: sess}
	}

	msg := &store.Message{
		SessionID: sessionID,
		UserID:    origin.UserID(),
		Contents:  contents,
		CreatedAt: r.Now(),
	}
	if err := r.store.AppendMessage(ctx, msg); err != nil {
		return nil, &session.StoreError{Op: "append message", Err: err}
	}

	ev := wire.Event{Event: wire.EventMessageSend, Data: msg}
	for _, c := range r.presence.PartnerConnectionsOf(sess, origin.UserID()) {
		c.Send(ev)
	}
	for _, c := range r.presence.ConnectionsOf(origin.UserID()) {
		if c == origin {
			continue
		}
		c.Send(ev)
	}
	return msg, nil
}

// Typing relays a transient typing indicator to the partner's current
// connections. Not persisted.
func (r *Relay) Typing(ctx context.Context, origin presence.Conn, sessionID string) error {
	return r.indicate(ctx, origin, sessionID, wire.EventIsTyping)
}

// NotTyping relays the end of a typing indicator.
func (r *Relay) NotTyping(ctx context.Context, origin presence.Conn, sessionID string) error {
	return r.indicate(ctx, origin, sessionID, wire.EventNotTyping)
}

func (r *Relay) indicate(ctx context.Context, origin presence.Conn, sessionID, event string) error {
	sess, err := r.loadForParticipant(ctx, sessionID, origin.UserID())
	if err != nil {
		return err
	}
	ev := wire.Event{Event: event}
	for _, c := range r.presence.PartnerConnectionsOf(sess, origin.UserID()) {
		c.Send(ev)
	}
	return nil
}

func (r *Relay) loadForParticipant(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	if sessionID == "" {
		return nil, &session.ValidationError{Reason: "no session id specified"}
	}
	sess, err := r.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &session.ValidationError{Reason: "no session found"}
	}
	if err != nil {
		return nil, &session.StoreError{Op: "load session", Err: err}
	}
	if !sess.HasParticipant(userID) {
		return nil, &session.NotParticipantError{UserID: userID, SessionID: sessionID}
	}
	return sess, nil
}
