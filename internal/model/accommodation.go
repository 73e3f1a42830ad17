package model

import (
	"time"

	"github.com/google/uuid"
)

// Accommodation stores the absolute extra time granted to a student for
// one exam instance.
type Accommodation struct {
	UserID         int       `json:"user_id"`
	ExamInstanceID uuid.UUID `json:"exam_instance_id"`
	ExtraSeconds   int       `json:"extra_seconds"`
	Notes          string    `json:"notes"`
	UpdatedBy      int       `json:"updated_by"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// AccommodationChange is resolved against the previously stored value
// before it is persisted.
type AccommodationChange interface {
	Resolve(previous int) int
}

// SetAbsolute replaces the stored extra seconds.
type SetAbsolute int

// AddDelta adds to the stored extra seconds.
type AddDelta int

func (s SetAbsolute) Resolve(int) int       { return int(s) }
func (d AddDelta) Resolve(previous int) int { return previous + int(d) }

// GrantAccommodationRequest is the HTTP payload; exactly one of the two
// second fields must be present.
type GrantAccommodationRequest struct {
	ExtraSeconds *int   `json:"extra_seconds" binding:"omitempty,min=0,max=86400"`
	AddSeconds   *int   `json:"add_seconds" binding:"omitempty,min=-86400,max=86400"`
	Notes        string `json:"notes" binding:"omitempty,max=1000"`
}
