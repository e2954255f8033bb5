// Package gateway accepts inbound real-time connections, authenticates
// them, registers them in the presence registry, and dispatches inbound
// events to the lifecycle manager and message relay.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"tutorhub/internal/auth"
	"tutorhub/internal/presence"
	"tutorhub/internal/queue"
	"tutorhub/internal/relay"
	"tutorhub/internal/session"
	"tutorhub/internal/store"
	"tutorhub/internal/wire"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin policy is enforced by the CORS layer in front of the mux.
		return true
	},
}

type Gateway struct {
	ctx      context.Context
	verifier *auth.Verifier
	users    session.UserDirectory
	presence *presence.Registry
	sessions *session.Service
	relay    *relay.Relay
	queue    *queue.View
	log      *slog.Logger
}

func New(ctx context.Context, verifier *auth.Verifier, users session.UserDirectory, reg *presence.Registry, sessions *session.Service, rel *relay.Relay, view *queue.View, log *slog.Logger) *Gateway {
	return &Gateway{
		ctx:      ctx,
		verifier: verifier,
		users:    users,
		presence: reg,
		sessions: sessions,
		relay:    rel,
		queue:    view,
		log:      log,
	}
}

// HandleWS authenticates and upgrades a connection, registers it, and
// replays the caller's current session so a reconnecting client lands in
// a consistent state.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	userID, err := g.verifier.Verify(bearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user, err := g.users.GetUser(r.Context(), userID)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if err != nil {
		g.log.Error("user lookup failed on connect", "user", userID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Error("upgrade failed", "error", err)
		return
	}

	client := NewClient(conn, userID, g.dispatch, g.disconnect, g.log)
	g.presence.Register(userID, client, user.IsVolunteer)
	g.log.Info("client connected", "user", userID, "volunteer", user.IsVolunteer, "total_connections", g.presence.ConnectionCount())

	go client.WritePump()
	go client.ReadPump()

	// On initial connection, emit the user's current session.
	sess, err := g.sessions.GetCurrentSession(g.ctx, userID)
	if err != nil {
		g.log.Error("failed to load current session on connect", "user", userID, "error", err)
		return
	}
	if sess != nil {
		client.Send(wire.Event{Event: wire.EventSessionChange, Data: sess})
	} else {
		client.Send(wire.Event{Event: wire.EventSessionChange, Data: struct{}{}})
	}
}

// disconnect deregisters one connection. The user's other connections,
// and every other session, are unaffected.
func (g *Gateway) disconnect(c *Client) {
	g.presence.Deregister(c.userID, c)
	g.log.Info("client disconnected", "user", c.userID, "total_connections", g.presence.ConnectionCount())
}

func (g *Gateway) dispatch(c *Client, in wire.Inbound) {
	switch in.Event {
	case wire.InList:
		g.handleList(c)
	case wire.InJoin:
		g.handleJoin(c, in)
	case wire.InTyping:
		if err := g.relay.Typing(g.ctx, c, in.SessionID); err != nil {
			g.log.Warn("typing relay failed", "user", c.userID, "session", in.SessionID, "error", err)
		}
	case wire.InNotTyping:
		if err := g.relay.NotTyping(g.ctx, c, in.SessionID); err != nil {
			g.log.Warn("typing relay failed", "user", c.userID, "session", in.SessionID, "error", err)
		}
	case wire.InMessage:
		g.handleMessage(c, in)
	default:
		g.log.Warn("unknown inbound event", "user", c.userID, "event", in.Event)
	}
}

func (g *Gateway) handleList(c *Client) {
	snap, err := g.queue.List(g.ctx)
	if err != nil {
		g.log.Error("failed to list session queue", "user", c.userID, "error", err)
		return
	}
	c.Send(wire.Event{Event: wire.EventSessions, Data: snap})
}

func (g *Gateway) handleJoin(c *Client, in wire.Inbound) {
	_, err := g.sessions.Join(g.ctx, in.SessionID, c.userID)
	if err != nil {
		g.bump(c, err)
		return
	}
	// Success is broadcast as session-change to both participants by the
	// lifecycle manager; nothing extra to emit here.
}

func (g *Gateway) handleMessage(c *Client, in wire.Inbound) {
	if _, err := g.relay.SendMessage(g.ctx, c, in.SessionID, in.Contents); err != nil {
		g.log.Error("message relay failed", "user", c.userID, "session", in.SessionID, "error", err)
		// Best-effort error back to the sender; they may resend.
		c.Send(wire.Event{Event: wire.EventBump, Error: err.Error()})
	}
}

// bump rejects a failed join, attaching the session's current
// participant state so the client can reconcile or request a new
// session. The rejection doubles as an implicit refresh signal.
func (g *Gateway) bump(c *Client, err error) {
	g.log.Info("could not join session", "user", c.userID, "error", err)

	var sess *store.Session
	var conflict *session.JoinConflictError
	var ended *session.SessionEndedError
	switch {
	case errors.As(err, &conflict):
		sess = conflict.Session
	case errors.As(err, &ended):
		sess = ended.Session
	}

	ev := wire.Event{Event: wire.EventBump, Error: err.Error()}
	if sess != nil {
		ev.Data = wire.Bump{
			EndedAt:   sess.EndedAt,
			Volunteer: sess.Volunteer,
			Student:   sess.Student,
		}
	}
	c.Send(ev)
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
