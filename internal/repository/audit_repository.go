package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var auditColumns = []string{
	"id", "event_type", "exam_session_id", "user_id", "payload", "source_ip", "user_agent", "created_at",
}

// AuditRepository writes audit log rows.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

func auditRow(e *model.AuditLog) ([]any, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode audit payload: %w", err)
	}
	if e.Payload == nil {
		payload = []byte("{}")
	}
	return []any{
		e.ID, string(e.EventType), e.ExamSessionID, e.UserID, payload, e.SourceIP, e.UserAgent, e.CreatedAt,
	}, nil
}

// InsertAuditBatch writes a batch with COPY.
func (r *AuditRepository) InsertAuditBatch(ctx context.Context, batch []*model.AuditLog) error {
	rows := make([][]any, 0, len(batch))
	for _, e := range batch {
		row, err := auditRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	_, err := r.pool.CopyFrom(ctx,
		pgx.Identifier{"audit_logs"},
		auditColumns,
		pgx.CopyFromRows(rows),
	)
	return err
}

// InsertAudit writes a single row. It is the recovery path when a batch
// copy fails and the synchronous path when no queue is configured.
func (r *AuditRepository) InsertAudit(ctx context.Context, e *model.AuditLog) error {
	row, err := auditRow(e)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`INSERT INTO audit_logs (id, event_type, exam_session_id, user_id, payload, source_ip, user_agent, created_at)
		 VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8)
		 ON CONFLICT (id) DO NOTHING`,
		row...,
	)
	return err
}

// Record satisfies the audit recorder contract with a direct insert.
func (r *AuditRepository) Record(ctx context.Context, e *model.AuditLog) error {
	return r.InsertAudit(ctx, e)
}
