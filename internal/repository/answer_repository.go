package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AnswerRepository handles answer data access.
type AnswerRepository struct {
	pool *pgxpool.Pool
}

// NewAnswerRepository creates a new AnswerRepository.
func NewAnswerRepository(pool *pgxpool.Pool) *AnswerRepository {
	return &AnswerRepository{pool: pool}
}

// UpsertAnswer replaces the choice set for a question while the session is
// started. The session row is share-locked so a concurrent close waits for
// the write and grades it.
func (r *AnswerRepository) UpsertAnswer(ctx context.Context, a *model.Answer) error {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO answers (exam_session_id, question_id, choice_ids, updated_at)
		 SELECT $1, $2, $3, $4
		 WHERE EXISTS (
		   SELECT 1 FROM exam_sessions
		   WHERE id = $1 AND state = $5
		   FOR SHARE
		 )
		 ON CONFLICT (exam_session_id, question_id)
		 DO UPDATE SET choice_ids = EXCLUDED.choice_ids, updated_at = EXCLUDED.updated_at`,
		a.ExamSessionID, a.QuestionID, a.ChoiceIDs, a.UpdatedAt, model.SessionStateStarted,
	)
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// ListAnswers returns every answer of a session.
func (r *AnswerRepository) ListAnswers(ctx context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT exam_session_id, question_id, choice_ids, updated_at
		 FROM answers
		 WHERE exam_session_id = $1
		 ORDER BY question_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.Answer
	for rows.Next() {
		var a model.Answer
		if err := rows.Scan(&a.ExamSessionID, &a.QuestionID, &a.ChoiceIDs, &a.UpdatedAt); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
