package model

import (
	"time"

	"github.com/google/uuid"
)

// Answer is the current choice set for one question of a session.
type Answer struct {
	ExamSessionID uuid.UUID   `json:"exam_session_id"`
	QuestionID    uuid.UUID   `json:"question_id"`
	ChoiceIDs     []uuid.UUID `json:"choice_ids"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// UpsertAnswerRequest is the payload for saving an answer.
type UpsertAnswerRequest struct {
	QuestionID string   `json:"question_id" binding:"required,uuid"`
	ChoiceIDs  []string `json:"choice_ids" binding:"required,min=1,dive,uuid"`
}
