package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
	"github.com/stemsi/exstem-proctor/internal/service"
)

func newCachedCatalog(t *testing.T) (*service.CachedCatalog, *memory.Catalog, *miniredis.Miniredis, model.ExamInstance) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	inner := memory.NewCatalog()
	tmpl := model.ExamTemplate{ID: uuid.New(), ClassID: 3, DurationSeconds: 600}
	inst := model.ExamInstance{ID: uuid.New(), TemplateID: tmpl.ID, Published: true}
	choice := uuid.New()
	inner.AddTemplate(tmpl)
	inner.AddInstance(inst)
	inner.SetQuestions(tmpl.ID, model.Question{
		ID:               uuid.New(),
		TemplateID:       tmpl.ID,
		Points:           1,
		Choices:          []model.Choice{{ID: choice, Label: "a"}},
		CorrectChoiceIDs: []uuid.UUID{choice},
	})
	inner.AddClass(model.Class{ID: 3, TeacherID: 9})

	return service.NewCachedCatalog(inner, rdb, time.Minute, zerolog.Nop()), inner, mr, inst
}

func TestCachedCatalog_ReadThrough(t *testing.T) {
	ctx := context.Background()
	cached, inner, mr, inst := newCachedCatalog(t)

	got, err := cached.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, 600, got.Template.DurationSeconds)
	assert.True(t, mr.Exists(config.CacheKey.InstanceKey(inst.ID.String())))

	// A change behind the cache is not seen until the entry expires.
	changed := inst
	changed.Published = false
	inner.AddInstance(changed)

	got, err = cached.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.True(t, got.Published)

	mr.FastForward(2 * time.Minute)
	got, err = cached.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.False(t, got.Published)
}

func TestCachedCatalog_KeepsAnswerKey(t *testing.T) {
	ctx := context.Background()
	cached, _, _, inst := newCachedCatalog(t)

	first, err := cached.ListQuestions(ctx, inst.TemplateID)
	require.NoError(t, err)
	second, err := cached.ListQuestions(ctx, inst.TemplateID)
	require.NoError(t, err)

	require.Len(t, second, 1)
	assert.Equal(t, first[0].CorrectChoiceIDs, second[0].CorrectChoiceIDs)
	assert.NotEmpty(t, second[0].CorrectChoiceIDs)
}

func TestCachedCatalog_Warm(t *testing.T) {
	ctx := context.Background()
	cached, _, mr, inst := newCachedCatalog(t)

	require.NoError(t, cached.Warm(ctx, inst.ID))
	assert.True(t, mr.Exists(config.CacheKey.InstanceKey(inst.ID.String())))
	assert.True(t, mr.Exists(config.CacheKey.TemplateQuestionsKey(inst.TemplateID.String())))
}

func TestCachedCatalog_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()
	cached, _, mr, inst := newCachedCatalog(t)
	mr.Close()

	got, err := cached.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)

	class, err := cached.GetClass(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 9, class.TeacherID)
}

func TestCachedCatalog_NotFoundPassesThrough(t *testing.T) {
	cached, _, _, _ := newCachedCatalog(t)
	_, err := cached.GetInstance(context.Background(), uuid.New())
	assert.Error(t, err)
}
