package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmissionRepository handles submission data access.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// CreateSubmission inserts the session's submission unless one exists.
func (r *SubmissionRepository) CreateSubmission(ctx context.Context, s *model.Submission) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO submissions (id, exam_session_id, score, max_score, passed, graded, grading_error, graded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (exam_session_id) DO NOTHING`,
		s.ID, s.ExamSessionID, s.Score, s.MaxScore, s.Passed, s.Graded, s.GradingError, s.GradedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert submission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetSubmission retrieves a session's submission.
func (r *SubmissionRepository) GetSubmission(ctx context.Context, sessionID uuid.UUID) (*model.Submission, error) {
	s := &model.Submission{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, exam_session_id, score, max_score, passed, graded, grading_error, graded_at
		 FROM submissions
		 WHERE exam_session_id = $1`, sessionID,
	).Scan(&s.ID, &s.ExamSessionID, &s.Score, &s.MaxScore, &s.Passed, &s.Graded, &s.GradingError, &s.GradedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// FinalizeSubmission overwrites an ungraded submission. It reports false
// when the submission was already graded.
func (r *SubmissionRepository) FinalizeSubmission(ctx context.Context, s *model.Submission) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions
		 SET score = $2, max_score = $3, passed = $4, graded = TRUE, grading_error = '', graded_at = $5
		 WHERE exam_session_id = $1 AND graded = FALSE`,
		s.ExamSessionID, s.Score, s.MaxScore, s.Passed, s.GradedAt,
	)
	if err != nil {
		return false, fmt.Errorf("finalize submission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
