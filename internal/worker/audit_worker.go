package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AuditWorker drains the audit queue into the audit sink in batches.
type AuditWorker struct {
	rdb  *redis.Client
	sink AuditSink
	log  zerolog.Logger

	batchTimeout time.Duration
	retryBackoff time.Duration
}

// NewAuditWorker creates a new AuditWorker.
func NewAuditWorker(rdb *redis.Client, sink AuditSink, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		rdb:          rdb,
		sink:         sink,
		log:          log.With().Str("component", "audit_worker").Logger(),
		batchTimeout: BatchTimeout,
		retryBackoff: 2 * time.Second,
	}
}

// Start pops entries until ctx is cancelled, then flushes what it holds.
func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AuditWorker started")

	buffer := make([]*model.AuditLog, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Flush on size or age
		if len(buffer) > 0 {
			if len(buffer) >= BatchSize || time.Since(lastFlushTime) >= w.batchTimeout {
				w.flushSafe(ctx, buffer)
				buffer = buffer[:0]
				lastFlushTime = time.Now()
			}
		}

		// 2. Graceful shutdown
		select {
		case <-ctx.Done():
			w.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis; BLPop returns early when data exists.
		result, err := w.rdb.BLPop(ctx, PollTimeout, config.WorkerKey.PersistAuditQueue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			w.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			sleepCtx(ctx, 3*time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var entry model.AuditLog
		if err := json.Unmarshal([]byte(result[1]), &entry); err != nil {
			// Malformed entries can never succeed; drop them.
			w.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed audit entry")
			continue
		}
		buffer = append(buffer, &entry)
	}
}

// flushSafe tries a bulk copy, then row-by-row, then requeues.
func (w *AuditWorker) flushSafe(ctx context.Context, batch []*model.AuditLog) {
	if err := w.sink.InsertAuditBatch(ctx, batch); err != nil {
		w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
		w.fallbackInsert(ctx, batch)
	}
}

func (w *AuditWorker) fallbackInsert(ctx context.Context, batch []*model.AuditLog) {
	requeueList := make([]*model.AuditLog, 0)
	for _, e := range batch {
		if err := w.sink.InsertAudit(ctx, e); err != nil {
			w.log.Error().Err(err).Str("event_type", string(e.EventType)).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, e)
		}
	}
	if len(requeueList) > 0 {
		w.requeue(ctx, requeueList)
	}
}

func (w *AuditWorker) requeue(ctx context.Context, items []*model.AuditLog) {
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.PersistAuditQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue audit entries. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed audit entries")
	sleepCtx(ctx, w.retryBackoff)
}

func (w *AuditWorker) shutdown(buffer []*model.AuditLog) {
	w.log.Info().Msg("AuditWorker stopping, flushing remaining buffer...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if len(buffer) > 0 {
		if err := w.sink.InsertAuditBatch(shutdownCtx, buffer); err != nil {
			for _, e := range buffer {
				if err := w.sink.InsertAudit(shutdownCtx, e); err != nil {
					w.log.Error().Err(err).Str("event_type", string(e.EventType)).Msg("Dropping audit entry on shutdown")
				}
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
