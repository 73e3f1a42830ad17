package service

import (
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// CheckAndCloseIfExpired decides whether a live session has run out of
// time. It returns the terminal state to move to and true when the session
// is started or locked and now is at or past its deadline. It never
// touches storage, so the request guard and the timer broadcaster share
// exactly the same expiry rule.
func CheckAndCloseIfExpired(s *model.ExamSession, now time.Time) (model.SessionState, bool) {
	if !s.State.IsLive() {
		return s.State, false
	}
	if now.Before(s.EndsAt) {
		return s.State, false
	}
	return model.SessionStateExpired, true
}

// computeDeadline caps start + duration + extra at the instance hard end.
func computeDeadline(inst *model.ExamInstance, startedAt time.Time, extraSeconds int) time.Time {
	end := startedAt.
		Add(inst.Template.Duration()).
		Add(time.Duration(extraSeconds) * time.Second)
	if end.After(inst.EndsAt) {
		return inst.EndsAt
	}
	return end
}
