package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store is the durable source of truth for sessions and their embedded
// message log. All cross-connection coordination funnels through it; the
// only operation requiring transactional atomicity is ClaimVolunteer.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema. Writes are serialized on a single connection, which is how
// sqlite wants to be driven and makes every UPDATE here atomic.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&User{}, &Session{}, &Message{}, &FailedJoin{}, &PastSession{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a process-private in-memory database, used by tests
// and local development.
func OpenInMemory() (*Store, error) {
	return Open(":memory:")
}

// SaveUser inserts or updates a directory entry.
func (s *Store) SaveUser(ctx context.Context, u *User) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(u).Error
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// GetUser looks up a single directory entry.
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// CreateSession inserts a new open session.
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(sess).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

// GetSession loads a session with both participants and its message log
// in insertion order.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).
		Preload("Student").
		Preload("Volunteer").
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

// ClaimVolunteer attempts to pair volunteerID to the session with a single
// conditional update keyed on "volunteer is currently unset". At most one
// of any concurrently racing volunteers observes claimed=true; losers get
// claimed=false and must reconcile against the current record. Never a
// read-then-write sequence.
func (s *Store) ClaimVolunteer(ctx context.Context, sessionID, volunteerID string, now time.Time) (claimed bool, err error) {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND volunteer_id IS NULL AND ended_at IS NULL", sessionID).
		Updates(map[string]any{
			"volunteer_id":        volunteerID,
			"volunteer_joined_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("claim volunteer: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// EndSession marks the session terminal. Write-once-wins: if another
// caller already ended it, ended is false and the existing terminal state
// stands.
func (s *Store) EndSession(ctx context.Context, sessionID, endedBy string, now time.Time) (ended bool, err error) {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ? AND ended_at IS NULL", sessionID).
		Updates(map[string]any{
			"ended_at": now,
			"ended_by": endedBy,
		})
	if res.Error != nil {
		return false, fmt.Errorf("end session: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// AppendMessage appends to the session's message log. Safe under
// concurrent appends from the session's two participants; order is
// arrival order at the store.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

// RecordFailedJoin adds userID to the session's failed-join set.
// Idempotent: recording the same volunteer twice is a no-op.
func (s *Store) RecordFailedJoin(ctx context.Context, sessionID, userID string) error {
	fj := FailedJoin{SessionID: sessionID, UserID: userID, CreatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&fj).Error
	if err != nil {
		return fmt.Errorf("record failed join: %w", err)
	}
	return nil
}

// FailedJoinsOf returns the identities in the session's failed-join set.
func (s *Store) FailedJoinsOf(ctx context.Context, sessionID string) ([]string, error) {
	var rows []FailedJoin
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed joins: %w", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.UserID)
	}
	return ids, nil
}

// CurrentSessionOf returns the most recent non-ended session where the
// user is student or volunteer, or nil.
func (s *Store) CurrentSessionOf(ctx context.Context, userID string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).
		Preload("Student").
		Preload("Volunteer").
		Preload("Messages", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		Where("ended_at IS NULL AND (student_id = ? OR volunteer_id = ?)", userID, userID).
		Order("created_at DESC").
		First(&sess).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current session: %w", err)
	}
	return &sess, nil
}

// Unfulfilled returns sessions with no volunteer, not ended, created after
// since, newest first, with the requesting student preloaded. Trust
// filtering happens above the store, at read time.
func (s *Store) Unfulfilled(ctx context.Context, since time.Time) ([]*Session, error) {
	var sessions []*Session
	err := s.db.WithContext(ctx).
		Preload("Student").
		Where("volunteer_id IS NULL AND ended_at IS NULL AND created_at > ?", since).
		Order("created_at DESC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("unfulfilled sessions: %w", err)
	}
	return sessions, nil
}

// OpenSessionsBefore returns unfulfilled, non-ended sessions created
// before the cutoff, oldest first. Used by the timeout sweeper.
func (s *Store) OpenSessionsBefore(ctx context.Context, cutoff time.Time) ([]*Session, error) {
	var sessions []*Session
	err := s.db.WithContext(ctx).
		Where("volunteer_id IS NULL AND ended_at IS NULL AND created_at < ?", cutoff).
		Order("created_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("open sessions before: %w", err)
	}
	return sessions, nil
}

// AddPastSession appends the session to the user's historical-session
// set. Set semantics: adding the same pair twice is a no-op.
func (s *Store) AddPastSession(ctx context.Context, userID, sessionID string) error {
	ps := PastSession{UserID: userID, SessionID: sessionID, CreatedAt: time.Now()}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&ps).Error
	if err != nil {
		return fmt.Errorf("add past session: %w", err)
	}
	return nil
}

// PastSessionCount returns how many sessions the user has completed.
func (s *Store) PastSessionCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&PastSession{}).Where("user_id = ?", userID).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("past session count: %w", err)
	}
	return n, nil
}

// SetReported flags the session post hoc. Orthogonal to lifecycle state.
func (s *Store) SetReported(ctx context.Context, sessionID, reason string) error {
	res := s.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", sessionID).
		Updates(map[string]any{"is_reported": true, "report_reason": reason})
	if res.Error != nil {
		return fmt.Errorf("set reported: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
