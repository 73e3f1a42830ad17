package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// AccommodationService grants per-student extra time.
type AccommodationService struct {
	sessions *SessionService
}

// NewAccommodationService creates a new AccommodationService.
func NewAccommodationService(sessions *SessionService) *AccommodationService {
	return &AccommodationService{sessions: sessions}
}

// GrantInput is a teacher's accommodation change for one student.
type GrantInput struct {
	TeacherID  int
	InstanceID uuid.UUID
	StudentID  int
	Change     model.AccommodationChange
	Notes      string
}

// Grant resolves the change against the stored value, persists it and, when
// the student's session is running, pushes its deadline out. The deadline
// update never shortens a session and never touches a locked or closed one.
func (a *AccommodationService) Grant(ctx context.Context, in GrantInput) (*model.Accommodation, error) {
	s := a.sessions
	if in.Change == nil {
		return nil, fmt.Errorf("%w: accommodation change is required", ErrInvalidInput)
	}

	inst, err := s.authorizeTeacher(ctx, in.TeacherID, in.InstanceID)
	if err != nil {
		return nil, err
	}
	enrolled, err := s.enrollment.IsApprovedEnrolled(ctx, in.StudentID, inst.Template.ClassID)
	if err != nil {
		return nil, fmt.Errorf("check enrollment: %w", err)
	}
	if !enrolled {
		return nil, fmt.Errorf("%w: student is not enrolled in class", ErrNotEligible)
	}

	now := s.now()
	var previous int
	acc, err := s.store.ApplyAccommodation(ctx, &model.Accommodation{
		UserID:         in.StudentID,
		ExamInstanceID: in.InstanceID,
		Notes:          in.Notes,
		UpdatedBy:      in.TeacherID,
		UpdatedAt:      now,
	}, func(prev int) (int, error) {
		previous = prev
		next := in.Change.Resolve(prev)
		if next < 0 {
			return 0, fmt.Errorf("%w: extra seconds cannot be negative", ErrInvalidInput)
		}
		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			return nil, err
		}
		return nil, fmt.Errorf("apply accommodation: %w", err)
	}

	payload := map[string]any{
		"student_id":     in.StudentID,
		"exam_instance":  in.InstanceID,
		"previous_extra": previous,
		"extra_seconds":  acc.ExtraSeconds,
		"teacher_id":     in.TeacherID,
	}

	sess, err := s.store.FindSession(ctx, in.StudentID, in.InstanceID)
	switch {
	case err == nil:
		payload["exam_session_id"] = sess.ID
		if extended := a.extend(ctx, sess, inst, acc.ExtraSeconds); extended != nil {
			payload["ends_at"] = extended.EndsAt
		}
	case !errors.Is(err, repository.ErrNotFound):
		s.log.Error().Err(err).Int("user_id", in.StudentID).Msg("Failed to look up session for accommodation")
	}

	if s.audit != nil {
		entry := &model.AuditLog{
			ID:        uuid.New(),
			EventType: model.AuditAccommodationGrant,
			UserID:    in.TeacherID,
			Payload:   payload,
			CreatedAt: now,
		}
		if sess != nil {
			id := sess.ID
			entry.ExamSessionID = &id
		}
		if err := s.audit.Record(ctx, entry); err != nil {
			s.log.Warn().Err(err).Msg("Failed to record accommodation audit entry")
		}
	}

	return acc, nil
}

// extend recomputes a started session's deadline. It returns the session
// with the new deadline, or nil when nothing changed. Locked sessions pick
// the extra time up when they are unlocked.
func (a *AccommodationService) extend(ctx context.Context, sess *model.ExamSession, inst *model.ExamInstance, extra int) *model.ExamSession {
	s := a.sessions
	now := s.now()
	if !s.applyExtraTime(ctx, sess, inst, extra, now) {
		return nil
	}
	s.emit(ctx, sess, model.EventSessionExtended, now)
	return sess
}

// Get returns the stored accommodation, or a zero value when none exists.
func (a *AccommodationService) Get(ctx context.Context, teacherID int, instanceID uuid.UUID, studentID int) (*model.Accommodation, error) {
	s := a.sessions
	if _, err := s.authorizeTeacher(ctx, teacherID, instanceID); err != nil {
		return nil, err
	}
	acc, err := s.store.GetAccommodation(ctx, studentID, instanceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return &model.Accommodation{UserID: studentID, ExamInstanceID: instanceID}, nil
		}
		return nil, fmt.Errorf("get accommodation: %w", err)
	}
	return acc, nil
}
