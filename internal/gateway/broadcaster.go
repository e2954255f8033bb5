package gateway

import (
	"context"
	"log/slog"

	"tutorhub/internal/presence"
	"tutorhub/internal/queue"
	"tutorhub/internal/store"
	"tutorhub/internal/wire"
)

// Broadcaster fans lifecycle changes out to live connections: full
// session state to both participants, and complete queue snapshots to
// the volunteer group. Snapshots are idempotent and carry a monotonic
// revision; delivery order between two in-flight broadcasts is not
// guaranteed.
type Broadcaster struct {
	presence *presence.Registry
	queue    *queue.View
	log      *slog.Logger
}

func NewBroadcaster(reg *presence.Registry, view *queue.View, log *slog.Logger) *Broadcaster {
	return &Broadcaster{presence: reg, queue: view, log: log}
}

// SessionChanged pushes the full session to every connection of both
// participants.
func (b *Broadcaster) SessionChanged(ctx context.Context, sess *store.Session) {
	ev := wire.Event{Event: wire.EventSessionChange, Data: sess}
	for _, c := range b.presence.ConnectionsOf(sess.StudentID) {
		c.Send(ev)
	}
	if sess.VolunteerID != nil {
		for _, c := range b.presence.ConnectionsOf(*sess.VolunteerID) {
			c.Send(ev)
		}
	}
}

// QueueChanged recomputes the unfulfilled queue and broadcasts the
// snapshot to every volunteer connection.
func (b *Broadcaster) QueueChanged(ctx context.Context) {
	snap, err := b.queue.List(ctx)
	if err != nil {
		b.log.Error("failed to recompute session queue", "error", err)
		return
	}
	ev := wire.Event{Event: wire.EventSessions, Data: snap}
	for _, c := range b.presence.Volunteers() {
		c.Send(ev)
	}
}
