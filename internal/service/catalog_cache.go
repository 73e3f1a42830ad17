package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// CachedCatalog keeps read-mostly catalog rows in Redis in front of
// another catalog. Redis failures fall back to the inner catalog.
type CachedCatalog struct {
	inner ExamCatalog
	rdb   *redis.Client
	ttl   time.Duration
	log   zerolog.Logger
}

// NewCachedCatalog creates a new CachedCatalog.
func NewCachedCatalog(inner ExamCatalog, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedCatalog {
	return &CachedCatalog{
		inner: inner,
		rdb:   rdb,
		ttl:   ttl,
		log:   log.With().Str("component", "catalog_cache").Logger(),
	}
}

// cachedQuestion keeps the answer key, which model.Question hides from JSON.
type cachedQuestion struct {
	model.Question
	Correct []uuid.UUID `json:"correct_choice_ids"`
}

func (c *CachedCatalog) GetInstance(ctx context.Context, id uuid.UUID) (*model.ExamInstance, error) {
	key := config.CacheKey.InstanceKey(id.String())

	var inst model.ExamInstance
	if c.load(ctx, key, &inst) && inst.Template != nil {
		return &inst, nil
	}

	fresh, err := c.inner.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

func (c *CachedCatalog) ListQuestions(ctx context.Context, templateID uuid.UUID) ([]model.Question, error) {
	key := config.CacheKey.TemplateQuestionsKey(templateID.String())

	var cached []cachedQuestion
	if c.load(ctx, key, &cached) {
		return unwrapQuestions(cached), nil
	}

	fresh, err := c.inner.ListQuestions(ctx, templateID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, wrapQuestions(fresh))
	return fresh, nil
}

func (c *CachedCatalog) GetClass(ctx context.Context, classID int) (*model.Class, error) {
	key := config.CacheKey.ClassKey(classID)

	var class model.Class
	if c.load(ctx, key, &class) {
		return &class, nil
	}

	fresh, err := c.inner.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, fresh)
	return fresh, nil
}

// Warm loads an instance and its questions into Redis in one pipeline.
func (c *CachedCatalog) Warm(ctx context.Context, instanceID uuid.UUID) error {
	inst, err := c.inner.GetInstance(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("get instance: %w", err)
	}
	questions, err := c.inner.ListQuestions(ctx, inst.TemplateID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}

	instJSON, err := json.Marshal(inst)
	if err != nil {
		return fmt.Errorf("marshal instance: %w", err)
	}
	questionsJSON, err := json.Marshal(wrapQuestions(questions))
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.InstanceKey(inst.ID.String()), instJSON, c.ttl)
	pipe.Set(ctx, config.CacheKey.TemplateQuestionsKey(inst.TemplateID.String()), questionsJSON, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	c.log.Debug().
		Str("exam_instance_id", inst.ID.String()).
		Int("questions", len(questions)).
		Msg("Cache warmed")
	return nil
}

func (c *CachedCatalog) load(ctx context.Context, key string, v any) bool {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Discarding corrupt cache entry")
		return false
	}
	return true
}

func (c *CachedCatalog) store(ctx context.Context, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

func wrapQuestions(qs []model.Question) []cachedQuestion {
	out := make([]cachedQuestion, len(qs))
	for i, q := range qs {
		out[i] = cachedQuestion{Question: q, Correct: q.CorrectChoiceIDs}
	}
	return out
}

func unwrapQuestions(cached []cachedQuestion) []model.Question {
	out := make([]model.Question, len(cached))
	for i, cq := range cached {
		q := cq.Question
		q.CorrectChoiceIDs = cq.Correct
		out[i] = q
	}
	return out
}
