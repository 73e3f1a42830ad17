package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// LockService lets a teacher pause and resume a student's session.
type LockService struct {
	sessions *SessionService
}

// NewLockService creates a new LockService.
func NewLockService(sessions *SessionService) *LockService {
	return &LockService{sessions: sessions}
}

// Lock moves a started session to locked.
func (l *LockService) Lock(ctx context.Context, teacherID int, sessionID uuid.UUID, reason string) (*model.ExamSession, error) {
	s := l.sessions
	sess, err := s.teacherSession(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess, err = s.closeIfDue(ctx, sess, now); err != nil {
		return nil, err
	}
	if err := checkTransition(sess.State, model.SessionStateLocked); err != nil {
		return nil, err
	}

	by := teacherID
	locked, err := s.lockSession(ctx, sess, model.ManualLockDetails{Reason: reason}, &by, model.AuditSessionLock)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.explainConflict(ctx, sess.ID, now)
		}
		return nil, fmt.Errorf("lock session: %w", err)
	}
	return locked, nil
}

// Unlock moves a locked session back to started while time remains. A
// session whose deadline passed during the lock is expired and graded
// instead, and ErrDeadlinePassed is returned.
func (l *LockService) Unlock(ctx context.Context, teacherID int, sessionID uuid.UUID, reason string) (*model.ExamSession, error) {
	s := l.sessions
	sess, err := s.teacherSession(ctx, teacherID, sessionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if sess, err = s.closeIfDue(ctx, sess, now); err != nil {
		return nil, err
	}
	if err := checkTransition(sess.State, model.SessionStateStarted); err != nil {
		return nil, err
	}

	unlocked, err := s.store.TransitionState(ctx, model.Transition{
		SessionID: sess.ID,
		From:      []model.SessionState{model.SessionStateLocked},
		To:        model.SessionStateStarted,
		At:        now,
		OpenAt:    now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.explainUnlockConflict(ctx, sess.ID, now)
		}
		return nil, fmt.Errorf("unlock session: %w", err)
	}
	metrics.SessionTransitions.WithLabelValues(string(model.SessionStateLocked), string(model.SessionStateStarted)).Inc()
	s.reapplyExtraTime(ctx, unlocked, now)

	by := teacherID
	details := model.ManualUnlockDetails{Reason: reason}
	s.appendFlag(ctx, unlocked, details, &by)
	s.record(ctx, model.AuditSessionUnlock, unlocked, model.ClientMeta{}, flagPayload(details))
	s.emit(ctx, unlocked, model.EventSessionUnlocked, now)
	return unlocked, nil
}

// reapplyExtraTime applies accommodation granted while the session was
// locked. Failures are logged; the unlock itself stands.
func (s *SessionService) reapplyExtraTime(ctx context.Context, sess *model.ExamSession, now time.Time) {
	extra, err := s.extraSeconds(ctx, sess.UserID, sess.ExamInstanceID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to load accommodation on unlock")
		return
	}
	if extra == 0 {
		return
	}
	inst, err := s.catalog.GetInstance(ctx, sess.ExamInstanceID)
	if err != nil {
		s.log.Error().Err(err).Str("session_id", sess.ID.String()).Msg("Failed to load instance on unlock")
		return
	}
	s.applyExtraTime(ctx, sess, inst, extra, now)
}

func (s *SessionService) explainUnlockConflict(ctx context.Context, id uuid.UUID, now time.Time) error {
	err := s.explainConflict(ctx, id, now)
	if errors.Is(err, ErrSessionLocked) {
		return ErrInvalidTransition
	}
	return err
}

// checkTransition maps a forbidden edge to the caller-facing error.
func checkTransition(from, to model.SessionState) error {
	if model.CanTransition(from, to) {
		return nil
	}
	if from.IsTerminal() {
		return ErrAlreadyTerminal
	}
	return ErrInvalidTransition
}
