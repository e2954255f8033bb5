package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenInMemory()
	require.NoError(t, err)
	return st
}

func seedUser(t *testing.T, st *Store, id string, volunteer, banned bool) {
	t.Helper()
	err := st.SaveUser(context.Background(), &User{
		ID:          id,
		FirstName:   id,
		IsVolunteer: volunteer,
		IsBanned:    banned,
	})
	require.NoError(t, err)
}

func seedSession(t *testing.T, st *Store, studentID string) *Session {
	t.Helper()
	sess := &Session{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Type:      "math",
		SubTopic:  "algebraone",
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateSession(context.Background(), sess))
	return sess
}

func TestClaimVolunteer(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstClaimWins", func(t *testing.T) {
		st := newTestStore(t)
		seedUser(t, st, "student-1", false, false)
		seedUser(t, st, "vol-1", true, false)
		seedUser(t, st, "vol-2", true, false)
		sess := seedSession(t, st, "student-1")

		claimed, err := st.ClaimVolunteer(ctx, sess.ID, "vol-1", time.Now())
		require.NoError(t, err)
		assert.True(t, claimed)

		claimed, err = st.ClaimVolunteer(ctx, sess.ID, "vol-2", time.Now())
		require.NoError(t, err)
		assert.False(t, claimed)

		got, err := st.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, got.VolunteerID)
		assert.Equal(t, "vol-1", *got.VolunteerID)
		require.NotNil(t, got.VolunteerJoinedAt)
	})

	t.Run("ConcurrentClaimsExactlyOneWins", func(t *testing.T) {
		st := newTestStore(t)
		seedUser(t, st, "student-1", false, false)
		sess := seedSession(t, st, "student-1")

		const racers = 16
		var wg sync.WaitGroup
		var mu sync.Mutex
		winners := []string{}

		for i := 0; i < racers; i++ {
			volunteerID := uuid.NewString()
			wg.Add(1)
			go func() {
				defer wg.Done()
				claimed, err := st.ClaimVolunteer(ctx, sess.ID, volunteerID, time.Now())
				assert.NoError(t, err)
				if claimed {
					mu.Lock()
					winners = append(winners, volunteerID)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		require.Len(t, winners, 1)

		got, err := st.GetSession(ctx, sess.ID)
		require.NoError(t, err)
		require.NotNil(t, got.VolunteerID)
		assert.Equal(t, winners[0], *got.VolunteerID)
	})

	t.Run("EndedSessionCannotBeClaimed", func(t *testing.T) {
		st := newTestStore(t)
		seedUser(t, st, "student-1", false, false)
		sess := seedSession(t, st, "student-1")

		ended, err := st.EndSession(ctx, sess.ID, "student-1", time.Now())
		require.NoError(t, err)
		require.True(t, ended)

		claimed, err := st.ClaimVolunteer(ctx, sess.ID, "vol-1", time.Now())
		require.NoError(t, err)
		assert.False(t, claimed)
	})
}

func TestEndSessionWriteOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "student-1", false, false)
	sess := seedSession(t, st, "student-1")

	first := time.Now().Truncate(time.Millisecond)
	ended, err := st.EndSession(ctx, sess.ID, "student-1", first)
	require.NoError(t, err)
	assert.True(t, ended)

	ended, err = st.EndSession(ctx, sess.ID, "someone-else", first.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ended)

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndedAt)
	assert.WithinDuration(t, first, *got.EndedAt, time.Second)
	require.NotNil(t, got.EndedBy)
	assert.Equal(t, "student-1", *got.EndedBy)
}

func TestMessageLogOrder(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "student-1", false, false)
	sess := seedSession(t, st, "student-1")

	contents := []string{"A", "B", "C", "D"}
	for _, c := range contents {
		err := st.AppendMessage(ctx, &Message{
			SessionID: sess.ID,
			UserID:    "student-1",
			Contents:  c,
			CreatedAt: time.Now(),
		})
		require.NoError(t, err)
	}

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, len(contents))
	for i, c := range contents {
		assert.Equal(t, c, got.Messages[i].Contents)
	}
}

func TestRecordFailedJoinIsASet(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "student-1", false, false)
	sess := seedSession(t, st, "student-1")

	require.NoError(t, st.RecordFailedJoin(ctx, sess.ID, "vol-1"))
	require.NoError(t, st.RecordFailedJoin(ctx, sess.ID, "vol-1"))
	require.NoError(t, st.RecordFailedJoin(ctx, sess.ID, "vol-2"))

	ids, err := st.FailedJoinsOf(ctx, sess.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"vol-1", "vol-2"}, ids)
}

func TestCurrentSessionOf(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "student-1", false, false)
	seedUser(t, st, "vol-1", true, false)

	got, err := st.CurrentSessionOf(ctx, "student-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	sess := seedSession(t, st, "student-1")

	got, err = st.CurrentSessionOf(ctx, "student-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)

	claimed, err := st.ClaimVolunteer(ctx, sess.ID, "vol-1", time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	got, err = st.CurrentSessionOf(ctx, "vol-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sess.ID, got.ID)

	_, err = st.EndSession(ctx, sess.ID, "student-1", time.Now())
	require.NoError(t, err)

	got, err = st.CurrentSessionOf(ctx, "student-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestUnfulfilled(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "student-1", false, false)
	seedUser(t, st, "student-2", false, false)
	seedUser(t, st, "vol-1", true, false)

	first := &Session{
		ID:        uuid.NewString(),
		StudentID: "student-1",
		Type:      "math",
		CreatedAt: time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, st.CreateSession(ctx, first))
	second := &Session{
		ID:        uuid.NewString(),
		StudentID: "student-2",
		Type:      "science",
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateSession(ctx, second))

	sessions, err := st.Unfulfilled(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	// Newest first.
	assert.Equal(t, second.ID, sessions[0].ID)
	assert.Equal(t, first.ID, sessions[1].ID)
	require.NotNil(t, sessions[0].Student)
	assert.Equal(t, "student-2", sessions[0].Student.ID)

	claimed, err := st.ClaimVolunteer(ctx, first.ID, "vol-1", time.Now())
	require.NoError(t, err)
	require.True(t, claimed)

	sessions, err = st.Unfulfilled(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, second.ID, sessions[0].ID)
}

func TestPastSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	n, err := st.PastSessionCount(ctx, "student-1")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, st.AddPastSession(ctx, "student-1", "sess-1"))
	require.NoError(t, st.AddPastSession(ctx, "student-1", "sess-1"))
	require.NoError(t, st.AddPastSession(ctx, "student-1", "sess-2"))

	n, err = st.PastSessionCount(ctx, "student-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestSetReported(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "student-1", false, false)
	sess := seedSession(t, st, "student-1")

	require.NoError(t, st.SetReported(ctx, sess.ID, "Student was rude"))

	got, err := st.GetSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, got.IsReported)
	assert.Equal(t, "Student was rude", got.ReportReason)

	assert.ErrorIs(t, st.SetReported(ctx, "missing", "x"), ErrNotFound)
}

func TestOpenSessionsBefore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	seedUser(t, st, "student-1", false, false)

	old := &Session{
		ID:        uuid.NewString(),
		StudentID: "student-1",
		Type:      "math",
		CreatedAt: time.Now().Add(-13 * time.Hour),
	}
	require.NoError(t, st.CreateSession(ctx, old))

	recent := &Session{
		ID:        uuid.NewString(),
		StudentID: "student-1",
		Type:      "math",
		CreatedAt: time.Now(),
	}
	require.NoError(t, st.CreateSession(ctx, recent))

	stale, err := st.OpenSessionsBefore(ctx, time.Now().Add(-12*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, old.ID, stale[0].ID)
}
