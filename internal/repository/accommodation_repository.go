package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AccommodationRepository handles accommodation data access.
type AccommodationRepository struct {
	pool *pgxpool.Pool
}

// NewAccommodationRepository creates a new AccommodationRepository.
func NewAccommodationRepository(pool *pgxpool.Pool) *AccommodationRepository {
	return &AccommodationRepository{pool: pool}
}

// GetAccommodation retrieves the accommodation of a student for an instance.
func (r *AccommodationRepository) GetAccommodation(ctx context.Context, userID int, instanceID uuid.UUID) (*model.Accommodation, error) {
	a := &model.Accommodation{}
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, exam_instance_id, extra_seconds, notes, updated_by, updated_at
		 FROM accommodations
		 WHERE user_id = $1 AND exam_instance_id = $2`, userID, instanceID,
	).Scan(&a.UserID, &a.ExamInstanceID, &a.ExtraSeconds, &a.Notes, &a.UpdatedBy, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

// ApplyAccommodation resolves the new extra seconds against the stored row
// under a row lock, so concurrent deltas never lose an update.
func (r *AccommodationRepository) ApplyAccommodation(ctx context.Context, a *model.Accommodation, resolve func(previous int) (int, error)) (*model.Accommodation, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Make sure a row exists to lock.
	if _, err := tx.Exec(ctx,
		`INSERT INTO accommodations (user_id, exam_instance_id, extra_seconds, notes, updated_by, updated_at)
		 VALUES ($1, $2, 0, '', $3, $4)
		 ON CONFLICT (user_id, exam_instance_id) DO NOTHING`,
		a.UserID, a.ExamInstanceID, a.UpdatedBy, a.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("ensure accommodation: %w", err)
	}

	var previous int
	if err := tx.QueryRow(ctx,
		`SELECT extra_seconds FROM accommodations
		 WHERE user_id = $1 AND exam_instance_id = $2
		 FOR UPDATE`, a.UserID, a.ExamInstanceID,
	).Scan(&previous); err != nil {
		return nil, fmt.Errorf("lock accommodation: %w", err)
	}

	next, err := resolve(previous)
	if err != nil {
		return nil, err
	}

	stored := *a
	stored.ExtraSeconds = next
	if _, err := tx.Exec(ctx,
		`UPDATE accommodations
		 SET extra_seconds = $3, notes = $4, updated_by = $5, updated_at = $6
		 WHERE user_id = $1 AND exam_instance_id = $2`,
		a.UserID, a.ExamInstanceID, next, a.Notes, a.UpdatedBy, a.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update accommodation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return &stored, nil
}
