package relay

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tutorhub/internal/presence"
	"tutorhub/internal/session"
	"tutorhub/internal/store"
	"tutorhub/internal/wire"
)

type fakeConn struct {
	userID string
	sent   []wire.Event
}

func (f *fakeConn) UserID() string { return f.userID }

func (f *fakeConn) Send(v any) {
	f.sent = append(f.sent, v.(wire.Event))
}

type fixture struct {
	relay *Relay
	store *store.Store
	reg   *presence.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.OpenInMemory()
	require.NoError(t, err)
	reg := presence.NewRegistry()
	return &fixture{relay: New(st, reg, slog.Default()), store: st, reg: reg}
}

// seedPair creates a fulfilled session between student-1 and vol-1.
func (f *fixture) seedPair(t *testing.T) *store.Session {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveUser(ctx, &store.User{ID: "student-1", FirstName: "Ada"}))
	require.NoError(t, f.store.SaveUser(ctx, &store.User{ID: "vol-1", FirstName: "Grace", IsVolunteer: true}))
	volID := "vol-1"
	now := time.Now()
	sess := &store.Session{
		ID:                "sess-1",
		StudentID:         "student-1",
		VolunteerID:       &volID,
		Type:              "math",
		CreatedAt:         now,
		VolunteerJoinedAt: &now,
	}
	require.NoError(t, f.store.CreateSession(ctx, sess))
	return sess
}

func TestSendMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("PersistsAndFansOut", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seedPair(t)

		origin := &fakeConn{userID: "student-1"}
		secondTab := &fakeConn{userID: "student-1"}
		partner := &fakeConn{userID: "vol-1"}
		f.reg.Register("student-1", origin, false)
		f.reg.Register("student-1", secondTab, false)
		f.reg.Register("vol-1", partner, true)

		msg, err := f.relay.SendMessage(ctx, origin, sess.ID, "hello")
		require.NoError(t, err)
		assert.Equal(t, "student-1", msg.UserID)
		assert.Equal(t, "hello", msg.Contents)

		// Partner and the sender's other tab receive it; origin does not.
		require.Len(t, partner.sent, 1)
		assert.Equal(t, wire.EventMessageSend, partner.sent[0].Event)
		require.Len(t, secondTab.sent, 1)
		assert.Empty(t, origin.sent)

		// The log is durable regardless of delivery.
		stored, err := f.store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.Len(t, stored.Messages, 1)
		assert.Equal(t, "hello", stored.Messages[0].Contents)
	})

	t.Run("OfflinePartnerStillPersists", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seedPair(t)
		origin := &fakeConn{userID: "vol-1"}
		f.reg.Register("vol-1", origin, true)

		_, err := f.relay.SendMessage(ctx, origin, sess.ID, "anyone there?")
		require.NoError(t, err)

		stored, err := f.store.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Messages, 1)
	})

	t.Run("RejectsEmptyContents", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seedPair(t)
		origin := &fakeConn{userID: "student-1"}

		_, err := f.relay.SendMessage(ctx, origin, sess.ID, "")
		var validation *session.ValidationError
		require.ErrorAs(t, err, &validation)
	})

	t.Run("RejectsNonParticipant", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seedPair(t)
		origin := &fakeConn{userID: "stranger"}

		_, err := f.relay.SendMessage(ctx, origin, sess.ID, "let me in")
		var notParticipant *session.NotParticipantError
		require.ErrorAs(t, err, &notParticipant)
	})

	t.Run("RejectsEndedSession", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seedPair(t)
		_, err := f.store.EndSession(ctx, sess.ID, "student-1", time.Now())
		require.NoError(t, err)

		origin := &fakeConn{userID: "student-1"}
		_, err = f.relay.SendMessage(ctx, origin, sess.ID, "too late")
		var ended *session.SessionEndedError
		require.ErrorAs(t, err, &ended)
	})

	t.Run("RejectsUnknownSession", func(t *testing.T) {
		f := newFixture(t)
		origin := &fakeConn{userID: "student-1"}
		_, err := f.relay.SendMessage(ctx, origin, "no-such-session", "hi")
		var validation *session.ValidationError
		require.ErrorAs(t, err, &validation)
	})
}

func TestTypingIndicators(t *testing.T) {
	ctx := context.Background()

	t.Run("PartnerOnly", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seedPair(t)

		origin := &fakeConn{userID: "student-1"}
		secondTab := &fakeConn{userID: "student-1"}
		partner := &fakeConn{userID: "vol-1"}
		f.reg.Register("student-1", origin, false)
		f.reg.Register("student-1", secondTab, false)
		f.reg.Register("vol-1", partner, true)

		require.NoError(t, f.relay.Typing(ctx, origin, sess.ID))
		require.NoError(t, f.relay.NotTyping(ctx, origin, sess.ID))

		require.Len(t, partner.sent, 2)
		assert.Equal(t, wire.EventIsTyping, partner.sent[0].Event)
		assert.Equal(t, wire.EventNotTyping, partner.sent[1].Event)

		// Indicators never echo back to the sender's own connections.
		assert.Empty(t, origin.sent)
		assert.Empty(t, secondTab.sent)
	})

	t.Run("NonParticipantRejected", func(t *testing.T) {
		f := newFixture(t)
		sess := f.seedPair(t)
		origin := &fakeConn{userID: "stranger"}

		err := f.relay.Typing(ctx, origin, sess.ID)
		var notParticipant *session.NotParticipantError
		require.ErrorAs(t, err, &notParticipant)
	})
}
