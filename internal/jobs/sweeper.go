// Package jobs runs the periodic maintenance the engine needs around the
// session lifecycle.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"tutorhub/internal/session"
	"tutorhub/internal/store"
)

// Sweeper ends open sessions that have gone unmatched for too long. It
// terminates each one through the lifecycle manager on behalf of the
// requesting student, so the usual end path runs: broadcasts, queue
// recompute, escalator cancellation.
type Sweeper struct {
	store      *store.Store
	sessions   *session.Service
	staleAfter time.Duration
	log        *slog.Logger
}

func NewSweeper(st *store.Store, svc *session.Service, staleAfter time.Duration, log *slog.Logger) *Sweeper {
	return &Sweeper{store: st, sessions: svc, staleAfter: staleAfter, log: log}
}

// Sweep ends every open session older than the stale cutoff.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.staleAfter)
	stale, err := s.store.OpenSessionsBefore(ctx, cutoff)
	if err != nil {
		s.log.Error("stale session sweep failed", "error", err)
		return
	}
	for _, sess := range stale {
		if _, err := s.sessions.End(ctx, sess.ID, sess.StudentID); err != nil {
			s.log.Error("failed to end stale session", "session", sess.ID, "error", err)
		}
	}
	if len(stale) > 0 {
		s.log.Info("swept stale sessions", "count", len(stale), "cutoff", cutoff)
	}
}

// Start schedules the sweep at the given interval and returns the
// running scheduler.
func (s *Sweeper) Start(interval time.Duration) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		s.Sweep(context.Background())
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sweeper: %w", err)
	}
	c.Start()
	return c, nil
}
