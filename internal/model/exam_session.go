package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState enumerates exam session states.
type SessionState string

const (
	SessionStatePending   SessionState = "pending"
	SessionStateStarted   SessionState = "started"
	SessionStateLocked    SessionState = "locked"
	SessionStateSubmitted SessionState = "submitted"
	SessionStateExpired   SessionState = "expired"
)

// LiveStates are the states counted by the one-live-session invariant.
var LiveStates = []SessionState{SessionStateStarted, SessionStateLocked}

// IsTerminal reports whether no further transitions are accepted.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateSubmitted || s == SessionStateExpired
}

// IsLive reports whether the state is started or locked.
func (s SessionState) IsLive() bool {
	return s == SessionStateStarted || s == SessionStateLocked
}

var transitions = map[SessionState][]SessionState{
	SessionStatePending: {SessionStateStarted},
	SessionStateStarted: {SessionStateLocked, SessionStateSubmitted, SessionStateExpired},
	SessionStateLocked:  {SessionStateStarted, SessionStateExpired},
}

// CanTransition reports whether from -> to is an edge of the session state machine.
func CanTransition(from, to SessionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition describes a compare-and-swap on a session's state. The store
// applies it only when the current state is one of From; otherwise it
// returns the store's conflict error.
type Transition struct {
	SessionID uuid.UUID
	From      []SessionState
	To        SessionState
	At        time.Time
	// OpenAt, when non-zero, additionally requires ends_at > OpenAt.
	OpenAt time.Time
	// DueAt, when non-zero, additionally requires ends_at <= DueAt, so an
	// expiry loses to a deadline extension written after the due check.
	DueAt time.Time
}

// ExamSession is one student's attempt at an exam instance.
type ExamSession struct {
	ID             uuid.UUID    `json:"id"`
	UserID         int          `json:"user_id"`
	ExamInstanceID uuid.UUID    `json:"exam_instance_id"`
	Token          string       `json:"-"`
	State          SessionState `json:"state"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	EndsAt         time.Time    `json:"ends_at"`
	IPBinding      string       `json:"ip_binding"`
	UAHash         string       `json:"ua_hash"`
	ClosedAt       *time.Time   `json:"closed_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Remaining returns the time left before the deadline, floored at zero.
func (s *ExamSession) Remaining(now time.Time) time.Duration {
	d := s.EndsAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// ClientMeta is the fingerprint observed on a request.
type ClientMeta struct {
	IP        string
	UserAgent string
}

// StartSessionResponse is returned when a session is opened or resumed.
type StartSessionResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Token     string    `json:"token"`
	EndsAt    time.Time `json:"ends_at"`
	Resumed   bool      `json:"resumed"`
}

// HeartbeatRequest is the payload of a client heartbeat.
type HeartbeatRequest struct {
	FocusLost bool `json:"focus_lost"`
}

// HeartbeatResponse tells the client whether it has been locked.
type HeartbeatResponse struct {
	Locked           bool    `json:"locked"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// SessionActionRequest carries the teacher's reason for a lock or unlock.
type SessionActionRequest struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

// SessionEventType enumerates lifecycle events pushed to monitors and
// timer subscribers.
type SessionEventType string

const (
	EventSessionStarted  SessionEventType = "session_started"
	EventSessionTick     SessionEventType = "tick"
	EventSessionLocked   SessionEventType = "session_locked"
	EventSessionUnlocked SessionEventType = "session_unlocked"
	EventSessionFlagged  SessionEventType = "session_flagged"
	EventSessionExtended SessionEventType = "session_extended"
	EventSessionTerminal SessionEventType = "terminal"
	EventAnswerSaved     SessionEventType = "answer_saved"
)

// SessionEvent is a lifecycle notification about one session.
type SessionEvent struct {
	Type             SessionEventType `json:"type"`
	SessionID        uuid.UUID        `json:"session_id"`
	ExamInstanceID   uuid.UUID        `json:"exam_instance_id"`
	UserID           int              `json:"user_id"`
	State            SessionState     `json:"state"`
	RemainingSeconds float64          `json:"remaining_seconds"`
	FlagType         FlagType         `json:"flag_type,omitempty"`
	Score            *float64         `json:"score,omitempty"`
	At               time.Time        `json:"at"`
}
