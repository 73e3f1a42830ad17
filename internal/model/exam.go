package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamTemplate is the reusable definition an instance is scheduled from.
type ExamTemplate struct {
	ID              uuid.UUID `json:"id"`
	ClassID         int       `json:"class_id"`
	OwnerID         int       `json:"owner_id"`
	Title           string    `json:"title"`
	DurationSeconds int       `json:"duration_seconds"`
	PassingScore    float64   `json:"passing_score"`
}

// Duration returns the template duration as a time.Duration.
func (t *ExamTemplate) Duration() time.Duration {
	return time.Duration(t.DurationSeconds) * time.Second
}

// ExamInstance is a scheduled, publishable occurrence of a template.
// EndsAt is the hard ceiling for every session deadline.
type ExamInstance struct {
	ID          uuid.UUID     `json:"id"`
	TemplateID  uuid.UUID     `json:"template_id"`
	StartsAt    time.Time     `json:"starts_at"`
	EndsAt      time.Time     `json:"ends_at"`
	Published   bool          `json:"published"`
	ShowAnswers bool          `json:"show_answers"`
	Template    *ExamTemplate `json:"template,omitempty"`
}

// OpenAt reports whether the instance window contains t.
func (i *ExamInstance) OpenAt(t time.Time) bool {
	return !t.Before(i.StartsAt) && !t.After(i.EndsAt)
}
