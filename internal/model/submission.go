package model

import (
	"time"

	"github.com/google/uuid"
)

// Submission is written once when a session reaches a terminal state.
// Graded is false when grading failed and the row awaits a regrade.
type Submission struct {
	ID            uuid.UUID `json:"id"`
	ExamSessionID uuid.UUID `json:"exam_session_id"`
	Score         float64   `json:"score"`
	MaxScore      float64   `json:"max_score"`
	Passed        bool      `json:"passed"`
	Graded        bool      `json:"graded"`
	GradingError  string    `json:"grading_error,omitempty"`
	GradedAt      time.Time `json:"graded_at"`
}

// QuestionResult is the per-question breakdown shown when answers are revealed.
type QuestionResult struct {
	QuestionID       uuid.UUID   `json:"question_id"`
	Points           float64     `json:"points"`
	Awarded          float64     `json:"awarded"`
	Correct          bool        `json:"correct"`
	SelectedChoices  []uuid.UUID `json:"selected_choice_ids"`
	CorrectChoiceIDs []uuid.UUID `json:"correct_choice_ids"`
}

// SubmitResponse is returned to the student after submission.
type SubmitResponse struct {
	State    SessionState     `json:"state"`
	Score    float64          `json:"score"`
	MaxScore float64          `json:"max_score"`
	Graded   bool             `json:"graded"`
	Details  []QuestionResult `json:"details,omitempty"`
}
