package repository_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/database"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// openTestPool connects to PROCTOR_TEST_DATABASE_URL and migrates it.
// The tests are skipped when the variable is unset.
func openTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	url := os.Getenv("PROCTOR_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PROCTOR_TEST_DATABASE_URL not set")
	}
	require.NoError(t, database.MigrateUp("../../migrations", url, zerolog.Nop()))

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func seedInstance(t *testing.T, pool *pgxpool.Pool) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	var classID int
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO classes (name, teacher_id) VALUES ('X-1', 70) RETURNING id`).Scan(&classID))

	templateID, instanceID := uuid.New(), uuid.New()
	_, err := pool.Exec(ctx,
		`INSERT INTO exam_templates (id, class_id, owner_id, title, duration_seconds, passing_score)
		 VALUES ($1, $2, 70, 'Fisika', 600, 60)`, templateID, classID)
	require.NoError(t, err)

	now := time.Now()
	_, err = pool.Exec(ctx,
		`INSERT INTO exam_instances (id, template_id, starts_at, ends_at, published)
		 VALUES ($1, $2, $3, $4, TRUE)`, instanceID, templateID, now.Add(-time.Hour), now.Add(time.Hour))
	require.NoError(t, err)
	return instanceID
}

func liveSession(userID int, instanceID uuid.UUID, now time.Time) *model.ExamSession {
	return &model.ExamSession{
		ID:             uuid.New(),
		UserID:         userID,
		ExamInstanceID: instanceID,
		Token:          uuid.NewString(),
		State:          model.SessionStateStarted,
		StartedAt:      &now,
		EndsAt:         now.Add(10 * time.Minute),
		IPBinding:      "10.0.0.1",
		CreatedAt:      now,
	}
}

func TestPostgres_OneLiveSessionPerStudent(t *testing.T) {
	pool := openTestPool(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	instanceID := seedInstance(t, pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	first := liveSession(7, instanceID, now)
	require.NoError(t, store.CreateSession(ctx, first))
	assert.ErrorIs(t, store.CreateSession(ctx, liveSession(7, instanceID, now)), repository.ErrConflict)

	got, err := store.FindSession(ctx, 7, instanceID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, model.SessionStateStarted, got.State)

	_, err = store.GetSession(ctx, uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestPostgres_TransitionIsCompareAndSwap(t *testing.T) {
	pool := openTestPool(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	instanceID := seedInstance(t, pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := liveSession(7, instanceID, now)
	require.NoError(t, store.CreateSession(ctx, s))

	locked, err := store.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      []model.SessionState{model.SessionStateStarted},
		To:        model.SessionStateLocked,
		At:        now,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateLocked, locked.State)
	assert.Nil(t, locked.ClosedAt)

	_, err = store.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      []model.SessionState{model.SessionStateStarted},
		To:        model.SessionStateLocked,
		At:        now,
	})
	assert.ErrorIs(t, err, repository.ErrConflict)

	// Unlock past the deadline must not reopen the session.
	_, err = store.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      []model.SessionState{model.SessionStateLocked},
		To:        model.SessionStateStarted,
		At:        now,
		OpenAt:    s.EndsAt,
	})
	assert.ErrorIs(t, err, repository.ErrConflict)

	expired, err := store.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      []model.SessionState{model.SessionStateStarted, model.SessionStateLocked},
		To:        model.SessionStateExpired,
		At:        now,
	})
	require.NoError(t, err)
	require.NotNil(t, expired.ClosedAt)

	ok, err := store.ExtendDeadline(ctx, s.ID, s.EndsAt.Add(time.Hour), now)
	require.NoError(t, err)
	assert.False(t, ok, "closed sessions keep their deadline")
}

func TestPostgres_ExtensionAndExpiryDoNotInterleave(t *testing.T) {
	pool := openTestPool(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	instanceID := seedInstance(t, pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := liveSession(7, instanceID, now)
	require.NoError(t, store.CreateSession(ctx, s))
	due := s.EndsAt

	ok, err := store.ExtendDeadline(ctx, s.ID, due.Add(5*time.Minute), due.Add(-time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = store.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      model.LiveStates,
		To:        model.SessionStateExpired,
		At:        due,
		DueAt:     due,
	})
	assert.ErrorIs(t, err, repository.ErrConflict, "expiry must lose to the newer deadline")

	ok, err = store.ExtendDeadline(ctx, s.ID, due.Add(time.Hour), due.Add(10*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "an overdue session is not revived")
}

func TestPostgres_SubmissionIsWrittenOnce(t *testing.T) {
	pool := openTestPool(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	instanceID := seedInstance(t, pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := liveSession(7, instanceID, now)
	require.NoError(t, store.CreateSession(ctx, s))

	sub := &model.Submission{ID: uuid.New(), ExamSessionID: s.ID, GradingError: "catalog unavailable", GradedAt: now}
	created, err := store.CreateSubmission(ctx, sub)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.CreateSubmission(ctx, &model.Submission{ID: uuid.New(), ExamSessionID: s.ID, GradedAt: now})
	require.NoError(t, err)
	assert.False(t, created)

	sub.Score, sub.MaxScore, sub.Passed = 4, 4, true
	finalized, err := store.FinalizeSubmission(ctx, sub)
	require.NoError(t, err)
	assert.True(t, finalized)

	finalized, err = store.FinalizeSubmission(ctx, sub)
	require.NoError(t, err)
	assert.False(t, finalized)

	got, err := store.GetSubmission(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Graded)
	assert.Empty(t, got.GradingError)
	assert.Equal(t, 4.0, got.Score)
}

func TestPostgres_FlagsAreCountedByType(t *testing.T) {
	pool := openTestPool(t)
	store := repository.NewStore(pool)
	ctx := context.Background()
	instanceID := seedInstance(t, pool)
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := liveSession(7, instanceID, now)
	require.NoError(t, store.CreateSession(ctx, s))

	for _, d := range []model.FlagDetails{
		model.FocusLostDetails{},
		model.FocusLostDetails{},
		model.MultiIPDetails{BoundIP: "10.0.0.1", ObservedIP: "10.0.0.2"},
	} {
		f := model.NewSessionFlag(s.ID, d, nil)
		f.ID = uuid.New()
		f.CreatedAt = now
		require.NoError(t, store.AppendFlag(ctx, f))
	}

	counts, err := store.CountFlags(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, map[model.FlagType]int{model.FlagFocusLost: 2, model.FlagMultiIP: 1}, counts)

	flags, err := store.ListFlags(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, flags, 3)
}
