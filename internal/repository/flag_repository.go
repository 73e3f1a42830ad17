package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// FlagRepository handles session flag data access. Flags are append-only.
type FlagRepository struct {
	pool *pgxpool.Pool
}

// NewFlagRepository creates a new FlagRepository.
func NewFlagRepository(pool *pgxpool.Pool) *FlagRepository {
	return &FlagRepository{pool: pool}
}

// AppendFlag inserts a flag with its typed details as JSONB.
func (r *FlagRepository) AppendFlag(ctx context.Context, f *model.SessionFlag) error {
	details, err := json.Marshal(f.Details)
	if err != nil {
		return fmt.Errorf("encode flag details: %w", err)
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO session_flags (id, exam_session_id, flag_type, details, flagged_by, created_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
		f.ID, f.ExamSessionID, f.Type, details, f.FlaggedBy, f.CreatedAt,
	)
	return err
}

// ListFlags returns a session's flags oldest first.
func (r *FlagRepository) ListFlags(ctx context.Context, sessionID uuid.UUID) ([]model.SessionFlag, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_session_id, flag_type, details, flagged_by, created_at
		 FROM session_flags
		 WHERE exam_session_id = $1
		 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []model.SessionFlag
	for rows.Next() {
		var f model.SessionFlag
		var raw []byte
		if err := rows.Scan(&f.ID, &f.ExamSessionID, &f.Type, &raw, &f.FlaggedBy, &f.CreatedAt); err != nil {
			return nil, err
		}
		if f.Details, err = model.DecodeFlagDetails(f.Type, raw); err != nil {
			return nil, err
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// CountFlags returns the number of flags per type for a session.
func (r *FlagRepository) CountFlags(ctx context.Context, sessionID uuid.UUID) (map[model.FlagType]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT flag_type, COUNT(*)
		 FROM session_flags
		 WHERE exam_session_id = $1
		 GROUP BY flag_type`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[model.FlagType]int)
	for rows.Next() {
		var t model.FlagType
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}
