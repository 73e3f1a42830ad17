package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// AuditSink persists audit rows.
type AuditSink interface {
	InsertAuditBatch(ctx context.Context, batch []*model.AuditLog) error
	InsertAudit(ctx context.Context, entry *model.AuditLog) error
}

// AuditQueue ships audit entries to a Redis list drained by AuditWorker.
// If Redis rejects the push, the entry is written synchronously instead.
type AuditQueue struct {
	rdb      *redis.Client
	fallback AuditSink
	log      zerolog.Logger
}

// NewAuditQueue creates a new AuditQueue.
func NewAuditQueue(rdb *redis.Client, fallback AuditSink, log zerolog.Logger) *AuditQueue {
	return &AuditQueue{
		rdb:      rdb,
		fallback: fallback,
		log:      log.With().Str("component", "audit_queue").Logger(),
	}
}

// Record enqueues an audit entry.
func (q *AuditQueue) Record(ctx context.Context, entry *model.AuditLog) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}

	if err := q.rdb.RPush(ctx, config.WorkerKey.PersistAuditQueue, data).Err(); err != nil {
		q.log.Warn().Err(err).Str("event_type", string(entry.EventType)).Msg("Audit enqueue failed, writing directly")
		if q.fallback == nil {
			return fmt.Errorf("enqueue audit entry: %w", err)
		}
		return q.fallback.InsertAudit(ctx, entry)
	}
	return nil
}
