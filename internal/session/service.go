package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tutorhub/internal/store"
)

// UserDirectory resolves an identity to the directory fields the engine
// needs. Implemented by *store.Store; external deployments swap in their
// own directory.
type UserDirectory interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
}

// History is the historical-session accounting collaborator.
type History interface {
	AddPastSession(ctx context.Context, userID, sessionID string) error
}

// Notifier fans session and queue changes out to live connections.
type Notifier interface {
	SessionChanged(ctx context.Context, sess *store.Session)
	QueueChanged(ctx context.Context)
}

// Escalator is the external notification escalator. Armed at session
// creation so reminders can go out while the request sits unfulfilled;
// informed of join/end so pending reminders can be cancelled. All calls
// are fire-and-forget.
type Escalator interface {
	SessionCreated(ctx context.Context, sess *store.Session)
	SessionJoined(ctx context.Context, sess *store.Session)
	SessionEnded(ctx context.Context, sess *store.Session)
}

// Service enforces the session state machine: OPEN → FULFILLED → ENDED,
// with OPEN → ENDED allowed when a student cancels before a volunteer
// arrives. No other transitions are legal.
type Service struct {
	store     *store.Store
	users     UserDirectory
	history   History
	notifier  Notifier
	escalator Escalator
	log       *slog.Logger

	// Now is the clock; swapped in tests.
	Now func() time.Time
}

func NewService(st *store.Store, users UserDirectory, history History, notifier Notifier, escalator Escalator, log *slog.Logger) *Service {
	return &Service{
		store:     st,
		users:     users,
		history:   history,
		notifier:  notifier,
		escalator: escalator,
		log:       log,
		Now:       time.Now,
	}
}

// Create opens a new session for a student. Volunteers cannot create
// sessions, the type must be whitelisted, and a student may hold at most
// one active session.
func (s *Service) Create(ctx context.Context, studentID, sessionType, subTopic string) (*store.Session, error) {
	if studentID == "" {
		return nil, &ValidationError{Reason: "cannot create a session without a user id"}
	}
	user, err := s.users.GetUser(ctx, studentID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: "unknown user"}
	}
	if err != nil {
		return nil, storeErr("lookup user", err)
	}
	if user.IsVolunteer {
		return nil, &ValidationError{Reason: "volunteers cannot create new sessions"}
	}
	if !ValidType(sessionType) {
		return nil, &ValidationError{Reason: sessionType + " is not a valid session type"}
	}

	active, err := s.store.CurrentSessionOf(ctx, studentID)
	if err != nil {
		return nil, storeErr("check active session", err)
	}
	if active != nil {
		return nil, &ValidationError{Reason: "user already has an active session"}
	}

	sess := &store.Session{
		ID:        uuid.NewString(),
		StudentID: studentID,
		Type:      sessionType,
		SubTopic:  subTopic,
		CreatedAt: s.Now(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, storeErr("create session", err)
	}
	sess.Student = user

	s.log.Info("session created", "session", sess.ID, "student", studentID, "type", sessionType, "subTopic", subTopic)

	s.notifier.QueueChanged(ctx)
	if !user.IsBanned {
		s.escalator.SessionCreated(ctx, sess)
	}
	return sess, nil
}

// Join attaches userID to the session. For volunteers this is the core
// concurrency hazard: the claim is a single conditional update at the
// store, and losing it is the normal outcome for all but one of any
// racing volunteers.
func (s *Service) Join(ctx context.Context, sessionID, userID string) (*store.Session, error) {
	if sessionID == "" {
		return nil, &ValidationError{Reason: "no session id specified"}
	}
	if userID == "" {
		return nil, &ValidationError{Reason: "no user id specified"}
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: "no session found"}
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}

	user, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: "unknown user"}
	}
	if err != nil {
		return nil, storeErr("lookup user", err)
	}

	if sess.Ended() {
		return nil, s.failJoin(ctx, sess, user)
	}

	if !user.IsVolunteer {
		return s.joinStudent(ctx, sess, user)
	}
	return s.joinVolunteer(ctx, sess, user)
}

func (s *Service) joinStudent(ctx context.Context, sess *store.Session, user *store.User) (*store.Session, error) {
	if sess.StudentID != user.ID {
		// Should not occur under correct client behavior, but must be
		// defensive: never re-pair a session to a different student.
		return nil, &JoinConflictError{
			Reason:  "a student has already joined this session",
			Session: sess,
		}
	}
	// Rejoin (reconnect, second tab): idempotent no-op.
	s.notifier.SessionChanged(ctx, sess)
	return sess, nil
}

func (s *Service) joinVolunteer(ctx context.Context, sess *store.Session, user *store.User) (*store.Session, error) {
	if sess.VolunteerID != nil && *sess.VolunteerID == user.ID {
		// Rejoin by the paired volunteer: idempotent no-op.
		s.notifier.SessionChanged(ctx, sess)
		return sess, nil
	}

	claimed, err := s.store.ClaimVolunteer(ctx, sess.ID, user.ID, s.Now())
	if err != nil {
		return nil, storeErr("claim volunteer", err)
	}

	fresh, err := s.store.GetSession(ctx, sess.ID)
	if err != nil {
		return nil, storeErr("reload session", err)
	}

	if !claimed {
		if fresh.VolunteerID != nil && *fresh.VolunteerID == user.ID {
			// Another connection of the same volunteer won; treat as rejoin.
			s.notifier.SessionChanged(ctx, fresh)
			return fresh, nil
		}
		// Lost the race, or the session ended between the read and the
		// conditional update.
		return nil, s.failJoin(ctx, fresh, user)
	}

	s.log.Info("volunteer joined", "session", fresh.ID, "volunteer", user.ID)

	s.escalator.SessionJoined(ctx, fresh)
	s.notifier.SessionChanged(ctx, fresh)
	s.notifier.QueueChanged(ctx)
	return fresh, nil
}

// failJoin records a volunteer's identity in the session's failed-join
// set and returns the rejection carrying current session state.
func (s *Service) failJoin(ctx context.Context, sess *store.Session, user *store.User) error {
	if user.IsVolunteer {
		if err := s.store.RecordFailedJoin(ctx, sess.ID, user.ID); err != nil {
			s.log.Error("failed to record failed join", "session", sess.ID, "user", user.ID, "error", err)
		}
	}
	if sess.Ended() {
		return &SessionEndedError{Session: sess}
	}
	return &JoinConflictError{
		Reason:  "a volunteer has already joined this session",
		Session: sess,
	}
}

// End terminates the session. Idempotent: a caller arriving after
// termination observes the existing end, not an error.
func (s *Service) End(ctx context.Context, sessionID, callerID string) (*store.Session, error) {
	if sessionID == "" {
		return nil, &ValidationError{Reason: "no session id specified"}
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: "no session found"}
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}

	if sess.Ended() {
		return sess, nil
	}

	if !sess.HasParticipant(callerID) {
		return nil, &NotParticipantError{UserID: callerID, SessionID: sessionID}
	}

	won, err := s.store.EndSession(ctx, sessionID, callerID, s.Now())
	if err != nil {
		return nil, storeErr("end session", err)
	}

	fresh, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("reload session", err)
	}

	if !won {
		// Another participant ended it concurrently; their end stands.
		return fresh, nil
	}

	s.log.Info("session ended", "session", fresh.ID, "endedBy", callerID)

	if err := s.history.AddPastSession(ctx, fresh.StudentID, fresh.ID); err != nil {
		s.log.Error("failed to record past session", "user", fresh.StudentID, "error", err)
	}
	if fresh.VolunteerID != nil {
		if err := s.history.AddPastSession(ctx, *fresh.VolunteerID, fresh.ID); err != nil {
			s.log.Error("failed to record past session", "user", *fresh.VolunteerID, "error", err)
		}
	}

	s.escalator.SessionEnded(ctx, fresh)
	s.notifier.SessionChanged(ctx, fresh)
	s.notifier.QueueChanged(ctx)
	return fresh, nil
}

// GetCurrentSession returns the user's most recent non-ended session, or
// nil if they have none.
func (s *Service) GetCurrentSession(ctx context.Context, userID string) (*store.Session, error) {
	sess, err := s.store.CurrentSessionOf(ctx, userID)
	if err != nil {
		return nil, storeErr("current session", err)
	}
	return sess, nil
}

// Report flags the session post hoc. Participants only; orthogonal to
// lifecycle state, so reporting an ended session is allowed.
func (s *Service) Report(ctx context.Context, sessionID, callerID, reason string) (*store.Session, error) {
	if reason == "" {
		return nil, &ValidationError{Reason: "no report reason specified"}
	}

	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Reason: "no session found"}
	}
	if err != nil {
		return nil, storeErr("load session", err)
	}

	if !sess.HasParticipant(callerID) {
		return nil, &NotParticipantError{UserID: callerID, SessionID: sessionID}
	}

	if err := s.store.SetReported(ctx, sessionID, reason); err != nil {
		return nil, storeErr("set reported", err)
	}

	s.log.Info("session reported", "session", sessionID, "reportedBy", callerID)

	fresh, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr("reload session", err)
	}
	return fresh, nil
}
