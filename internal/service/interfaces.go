package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SessionStore persists exam sessions.
type SessionStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	// FindSession returns the most recent session of the user for the instance.
	FindSession(ctx context.Context, userID int, instanceID uuid.UUID) (*model.ExamSession, error)
	// CreateSession inserts a started session. It returns
	// repository.ErrConflict when the user already holds a live session for
	// the instance.
	CreateSession(ctx context.Context, s *model.ExamSession) error
	// ActivateSession moves a pending session to started with its deadline
	// and bindings.
	ActivateSession(ctx context.Context, s *model.ExamSession) error
	TransitionState(ctx context.Context, t model.Transition) (*model.ExamSession, error)
	// ExtendDeadline sets ends_at only if the session is started, its current
	// deadline is still after now and the new one is strictly later. It
	// reports whether a row changed.
	ExtendDeadline(ctx context.Context, id uuid.UUID, endsAt, now time.Time) (bool, error)
	ListLiveSessions(ctx context.Context, instanceID uuid.UUID) ([]model.ExamSession, error)
	// ListDueSessions returns live sessions with ends_at <= now.
	ListDueSessions(ctx context.Context, now time.Time, limit int) ([]model.ExamSession, error)
}

// FlagStore appends and reads anomaly flags.
type FlagStore interface {
	AppendFlag(ctx context.Context, f *model.SessionFlag) error
	ListFlags(ctx context.Context, sessionID uuid.UUID) ([]model.SessionFlag, error)
	CountFlags(ctx context.Context, sessionID uuid.UUID) (map[model.FlagType]int, error)
}

// AuditRecorder ships audit entries. Implementations may be asynchronous.
type AuditRecorder interface {
	Record(ctx context.Context, entry *model.AuditLog) error
}

// AccommodationStore persists per-student extra time.
type AccommodationStore interface {
	GetAccommodation(ctx context.Context, userID int, instanceID uuid.UUID) (*model.Accommodation, error)
	// ApplyAccommodation reads the stored value (0 if absent), passes it to
	// resolve and writes the result atomically. Errors from resolve are
	// returned unchanged.
	ApplyAccommodation(ctx context.Context, a *model.Accommodation, resolve func(previous int) (int, error)) (*model.Accommodation, error)
}

// AnswerStore persists per-question answers.
type AnswerStore interface {
	// UpsertAnswer replaces the choice set only while the session is
	// started; otherwise it returns repository.ErrConflict.
	UpsertAnswer(ctx context.Context, a *model.Answer) error
	ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error)
}

// SubmissionStore persists grading results.
type SubmissionStore interface {
	// CreateSubmission inserts the row unless one exists for the session.
	CreateSubmission(ctx context.Context, s *model.Submission) (bool, error)
	GetSubmission(ctx context.Context, sessionID uuid.UUID) (*model.Submission, error)
	// FinalizeSubmission overwrites an ungraded submission with a graded one.
	FinalizeSubmission(ctx context.Context, s *model.Submission) (bool, error)
}

// Store is the full persistence surface the proctoring core needs.
type Store interface {
	SessionStore
	FlagStore
	AccommodationStore
	AnswerStore
	SubmissionStore
}

// ExamCatalog exposes question-bank content and exam scheduling.
type ExamCatalog interface {
	GetInstance(ctx context.Context, id uuid.UUID) (*model.ExamInstance, error)
	ListQuestions(ctx context.Context, templateID uuid.UUID) ([]model.Question, error)
	GetClass(ctx context.Context, classID int) (*model.Class, error)
}

// EnrollmentChecker reports whether a student is approved in a class.
type EnrollmentChecker interface {
	IsApprovedEnrolled(ctx context.Context, userID, classID int) (bool, error)
}

// EventSink receives lifecycle events. Delivery is fire-and-forget.
type EventSink interface {
	SessionEvent(ctx context.Context, ev model.SessionEvent)
}
