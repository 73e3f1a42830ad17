package model

import (
	"github.com/google/uuid"
)

// QuestionKind distinguishes single- from multiple-answer questions.
type QuestionKind string

const (
	QuestionKindSingle   QuestionKind = "single"
	QuestionKindMultiple QuestionKind = "multiple"
)

// Choice is one selectable option of a question.
type Choice struct {
	ID       uuid.UUID `json:"id"`
	Label    string    `json:"label"`
	Position int       `json:"position"`
}

// Question is a template question with its point weight and answer key.
type Question struct {
	ID               uuid.UUID    `json:"id"`
	TemplateID       uuid.UUID    `json:"template_id"`
	Position         int          `json:"position"`
	Prompt           string       `json:"prompt"`
	Kind             QuestionKind `json:"kind"`
	Points           float64      `json:"points"`
	Choices          []Choice     `json:"choices"`
	CorrectChoiceIDs []uuid.UUID  `json:"-"`
}

// HasChoice reports whether id is one of the question's choices.
func (q *Question) HasChoice(id uuid.UUID) bool {
	for _, c := range q.Choices {
		if c.ID == id {
			return true
		}
	}
	return false
}

// QuestionForStudent is a question without its answer key, plus the
// student's current selection so a reloaded client can resume.
type QuestionForStudent struct {
	ID              uuid.UUID    `json:"id"`
	Position        int          `json:"position"`
	Prompt          string       `json:"prompt"`
	Kind            QuestionKind `json:"kind"`
	Points          float64      `json:"points"`
	Choices         []Choice     `json:"choices"`
	SelectedChoices []uuid.UUID  `json:"selected_choice_ids"`
}
