package store

import (
	"time"
)

// User is the minimal slice of the user directory the engine needs.
type User struct {
	ID          string `gorm:"primaryKey"`
	FirstName   string
	IsVolunteer bool
	IsBanned    bool
	CreatedAt   time.Time
}

// Session is a tutoring help request and its outcome.
//
// StudentID is immutable after creation. VolunteerID is set at most once,
// by the conditional update in ClaimVolunteer, and never re-pointed to a
// different volunteer. EndedAt/EndedBy are write-once: the first successful
// end is authoritative.
type Session struct {
	ID                string  `gorm:"primaryKey" json:"id"`
	StudentID         string  `gorm:"index;not null" json:"-"`
	VolunteerID       *string `gorm:"index" json:"-"`
	Type              string  `json:"type"`
	SubTopic          string  `json:"subTopic"`
	CreatedAt         time.Time  `gorm:"index" json:"createdAt"`
	VolunteerJoinedAt *time.Time `json:"volunteerJoinedAt,omitempty"`
	EndedAt           *time.Time `gorm:"index" json:"endedAt,omitempty"`
	EndedBy           *string    `json:"endedBy,omitempty"`
	IsReported        bool       `json:"isReported"`
	ReportReason      string     `json:"reportReason,omitempty"`

	Student     *User        `gorm:"foreignKey:StudentID" json:"student,omitempty"`
	Volunteer   *User        `gorm:"foreignKey:VolunteerID" json:"volunteer,omitempty"`
	Messages    []Message    `gorm:"foreignKey:SessionID" json:"messages"`
	FailedJoins []FailedJoin `gorm:"foreignKey:SessionID" json:"-"`
}

// Ended reports whether the session is terminal.
func (s *Session) Ended() bool {
	return s.EndedAt != nil
}

// Fulfilled reports whether a volunteer has been paired.
func (s *Session) Fulfilled() bool {
	return s.VolunteerID != nil
}

// HasParticipant reports whether userID is the session's student or
// volunteer. An absent volunteer never matches.
func (s *Session) HasParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	if s.StudentID == userID {
		return true
	}
	return s.VolunteerID != nil && *s.VolunteerID == userID
}

// PartnerID returns the other participant of the session, or "" if the
// session has no second participant yet.
func (s *Session) PartnerID(userID string) string {
	if s.StudentID == userID {
		if s.VolunteerID != nil {
			return *s.VolunteerID
		}
		return ""
	}
	if s.VolunteerID != nil && *s.VolunteerID == userID {
		return s.StudentID
	}
	return ""
}

// Message is one entry of a session's append-only message log. Seq is
// assigned by the store on insert; log order is exactly insertion order.
type Message struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string    `gorm:"index;not null" json:"sessionId"`
	UserID    string    `gorm:"not null" json:"user"`
	Contents  string    `json:"contents"`
	CreatedAt time.Time `json:"createdAt"`
}

// FailedJoin records a volunteer who lost the join race or attempted to
// join after fulfillment or termination. Append-only set.
type FailedJoin struct {
	SessionID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	CreatedAt time.Time
}

// PastSession links a user to a session they participated in, used for
// historical-session accounting.
type PastSession struct {
	UserID    string `gorm:"primaryKey"`
	SessionID string `gorm:"primaryKey"`
	CreatedAt time.Time
}
