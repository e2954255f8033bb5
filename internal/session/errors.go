package session

import (
	"fmt"

	"tutorhub/internal/store"
)

// ValidationError rejects missing or invalid input. Surfaced directly to
// the caller, never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// JoinConflictError is a lost join race or duplicate-participant attempt.
// It carries the session's current state so the losing client can
// reconcile its view immediately.
type JoinConflictError struct {
	Reason  string
	Session *store.Session
}

func (e *JoinConflictError) Error() string { return e.Reason }

// SessionEndedError is an operation attempted against a terminal session.
type SessionEndedError struct {
	Session *store.Session
}

func (e *SessionEndedError) Error() string { return "session has ended" }

// NotParticipantError is an authorization failure: the caller is neither
// the session's student nor its volunteer.
type NotParticipantError struct {
	UserID    string
	SessionID string
}

func (e *NotParticipantError) Error() string {
	return "only session participants can perform this action"
}

// StoreError wraps an underlying persistence failure. The triggering
// event is dropped; the caller may re-issue the gesture.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
