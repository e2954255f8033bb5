// Package notify bridges session lifecycle events to the external
// notification escalator, which owns the SMS/voice/email reminder timers
// urging volunteers to pick up an open request. The engine never tracks
// escalation timers itself: it arms the escalator at creation and informs
// it of join/end so pending reminders can be cancelled.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"tutorhub/internal/store"
)

// Subjects the escalator listens on.
const (
	SubjectCreated = "tutorhub.session.created"
	SubjectJoined  = "tutorhub.session.joined"
	SubjectEnded   = "tutorhub.session.ended"
)

type event struct {
	SessionID   string    `json:"sessionId"`
	StudentID   string    `json:"student"`
	VolunteerID *string   `json:"volunteer,omitempty"`
	Type        string    `json:"type"`
	SubTopic    string    `json:"subTopic,omitempty"`
	At          time.Time `json:"at"`
}

// Escalator publishes lifecycle events over NATS, fire-and-forget. A
// publish failure is logged and dropped; reminder delivery is best
// effort by design.
type Escalator struct {
	nc  *nats.Conn
	log *slog.Logger
}

// Connect dials NATS. The connection reconnects indefinitely in the
// background; a process that outlives a broker restart keeps escalating.
func Connect(url string, log *slog.Logger) (*Escalator, error) {
	nc, err := nats.Connect(url,
		nats.Name("tutorhub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Escalator{nc: nc, log: log}, nil
}

func (e *Escalator) Close() {
	e.nc.Drain()
}

func (e *Escalator) SessionCreated(ctx context.Context, sess *store.Session) {
	e.publish(SubjectCreated, sess, sess.CreatedAt)
}

func (e *Escalator) SessionJoined(ctx context.Context, sess *store.Session) {
	at := time.Now()
	if sess.VolunteerJoinedAt != nil {
		at = *sess.VolunteerJoinedAt
	}
	e.publish(SubjectJoined, sess, at)
}

func (e *Escalator) SessionEnded(ctx context.Context, sess *store.Session) {
	at := time.Now()
	if sess.EndedAt != nil {
		at = *sess.EndedAt
	}
	e.publish(SubjectEnded, sess, at)
}

func (e *Escalator) publish(subject string, sess *store.Session, at time.Time) {
	data, err := json.Marshal(event{
		SessionID:   sess.ID,
		StudentID:   sess.StudentID,
		VolunteerID: sess.VolunteerID,
		Type:        sess.Type,
		SubTopic:    sess.SubTopic,
		At:          at,
	})
	if err != nil {
		e.log.Error("failed to marshal escalation event", "subject", subject, "error", err)
		return
	}
	if err := e.nc.Publish(subject, data); err != nil {
		e.log.Warn("failed to publish escalation event", "subject", subject, "session", sess.ID, "error", err)
	}
}

// Noop satisfies the escalator interface when no broker is configured.
type Noop struct{}

func (Noop) SessionCreated(context.Context, *store.Session) {}
func (Noop) SessionJoined(context.Context, *store.Session)  {}
func (Noop) SessionEnded(context.Context, *store.Session)   {}
