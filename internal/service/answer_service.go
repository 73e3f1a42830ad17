package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// AnswerService stores the student's current answer per question.
type AnswerService struct {
	sessions *SessionService
}

// NewAnswerService creates a new AnswerService.
func NewAnswerService(sessions *SessionService) *AnswerService {
	return &AnswerService{sessions: sessions}
}

// UpsertAnswer replaces the choice set for one question. The write only
// lands while the session is started.
func (a *AnswerService) UpsertAnswer(ctx context.Context, req GuardRequest, questionID uuid.UUID, choiceIDs []uuid.UUID) (*model.Answer, error) {
	s := a.sessions
	if questionID == uuid.Nil {
		return nil, fmt.Errorf("%w: question_id is required", ErrInvalidInput)
	}
	if len(choiceIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one choice is required", ErrInvalidInput)
	}

	sess, err := s.Guard(ctx, req)
	if err != nil {
		return nil, err
	}

	inst, err := s.catalog.GetInstance(ctx, sess.ExamInstanceID)
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	questions, err := s.catalog.ListQuestions(ctx, inst.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	var question *model.Question
	for i := range questions {
		if questions[i].ID == questionID {
			question = &questions[i]
			break
		}
	}
	if question == nil {
		return nil, fmt.Errorf("%w: question does not belong to this exam", ErrInvalidInput)
	}

	choices := dedupe(choiceIDs)
	for _, id := range choices {
		if !question.HasChoice(id) {
			return nil, fmt.Errorf("%w: choice %s does not belong to question", ErrInvalidInput, id)
		}
	}
	if question.Kind == model.QuestionKindSingle && len(choices) != 1 {
		return nil, fmt.Errorf("%w: single-choice question takes exactly one choice", ErrInvalidInput)
	}

	answer := &model.Answer{
		ExamSessionID: sess.ID,
		QuestionID:    questionID,
		ChoiceIDs:     choices,
		UpdatedAt:     s.now(),
	}
	if err := s.store.UpsertAnswer(ctx, answer); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, s.explainConflict(ctx, sess.ID, s.now())
		}
		return nil, fmt.Errorf("upsert answer: %w", err)
	}

	s.record(ctx, model.AuditAnswerSaved, sess, model.ClientMeta{}, map[string]any{
		"question_id": questionID,
		"choices":     len(choices),
	})
	s.emit(ctx, sess, model.EventAnswerSaved, answer.UpdatedAt)
	return answer, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
