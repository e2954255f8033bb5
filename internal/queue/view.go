// Package queue derives the set of open, unmatched sessions eligible for
// volunteer pickup. The view is never stored: every List recomputes a
// point-in-time snapshot from the session store.
package queue

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"tutorhub/internal/store"
)

const (
	// DefaultWindow bounds how far back the queue looks for open requests.
	DefaultWindow = 24 * time.Hour
	// DefaultGrace hides brand-new students' sessions briefly; new
	// requesters frequently cancel immediately, and flashing that churn
	// to volunteers helps nobody.
	DefaultGrace = 60 * time.Second
)

// Source supplies the raw unfulfilled candidates.
type Source interface {
	Unfulfilled(ctx context.Context, since time.Time) ([]*store.Session, error)
}

// History is the completed-sessions accounting collaborator.
type History interface {
	PastSessionCount(ctx context.Context, userID string) (int64, error)
}

// Snapshot is one complete, idempotent queue broadcast. Revision is
// monotonic per process so clients can discard snapshots older than the
// last one they applied; two broadcasts in flight may still arrive out
// of order at a client.
type Snapshot struct {
	Revision uint64           `json:"revision"`
	Sessions []*store.Session `json:"sessions"`
}

// View recomputes the unfulfilled queue on demand. Trust filters are
// evaluated per session at read time, never cached.
type View struct {
	source  Source
	history History
	log     *slog.Logger
	rev     atomic.Uint64

	Window time.Duration
	Grace  time.Duration
	Now    func() time.Time
}

func NewView(source Source, history History, log *slog.Logger) *View {
	return &View{
		source:  source,
		history: history,
		log:     log,
		Window:  DefaultWindow,
		Grace:   DefaultGrace,
		Now:     time.Now,
	}
}

// List recomputes the queue: no volunteer, not ended, created within the
// recency window, newest first, minus banned students and new students
// still inside the grace window.
func (v *View) List(ctx context.Context) (*Snapshot, error) {
	now := v.Now()
	sessions, err := v.source.Unfulfilled(ctx, now.Add(-v.Window))
	if err != nil {
		return nil, err
	}

	eligible := make([]*store.Session, 0, len(sessions))
	for _, sess := range sessions {
		include, err := v.eligible(ctx, sess, now)
		if err != nil {
			// Trust-filter lookup failed; keep the session visible rather
			// than silently hiding a real request.
			v.log.Error("queue trust filter failed", "session", sess.ID, "error", err)
			include = true
		}
		if include {
			eligible = append(eligible, sess)
		}
	}

	return &Snapshot{
		Revision: v.rev.Add(1),
		Sessions: eligible,
	}, nil
}

func (v *View) eligible(ctx context.Context, sess *store.Session, now time.Time) (bool, error) {
	if sess.Student != nil && sess.Student.IsBanned {
		return false, nil
	}
	if now.Sub(sess.CreatedAt) < v.Grace {
		completed, err := v.history.PastSessionCount(ctx, sess.StudentID)
		if err != nil {
			return false, err
		}
		if completed == 0 {
			return false, nil
		}
	}
	return true, nil
}
