package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

func newStarted(userID int, instanceID uuid.UUID, endsAt time.Time) *model.ExamSession {
	started := endsAt.Add(-time.Hour)
	return &model.ExamSession{
		ID:             uuid.New(),
		UserID:         userID,
		ExamInstanceID: instanceID,
		Token:          "tok",
		State:          model.SessionStateStarted,
		StartedAt:      &started,
		EndsAt:         endsAt,
		CreatedAt:      started,
	}
}

func TestCreateSession_OneLivePerPair(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	inst := uuid.New()
	end := time.Now().Add(time.Hour)

	require.NoError(t, st.CreateSession(ctx, newStarted(1, inst, end)))
	err := st.CreateSession(ctx, newStarted(1, inst, end))
	assert.ErrorIs(t, err, repository.ErrConflict)

	// Another student, or another instance, is unaffected.
	assert.NoError(t, st.CreateSession(ctx, newStarted(2, inst, end)))
	assert.NoError(t, st.CreateSession(ctx, newStarted(1, uuid.New(), end)))
}

func TestCreateSession_ConcurrentStartsSingleWinner(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	inst := uuid.New()
	end := time.Now().Add(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := st.CreateSession(ctx, newStarted(7, inst, end)); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestTransitionState_CAS(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	now := time.Now()
	s := newStarted(1, uuid.New(), now.Add(time.Minute))
	require.NoError(t, st.CreateSession(ctx, s))

	got, err := st.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      []model.SessionState{model.SessionStateStarted},
		To:        model.SessionStateSubmitted,
		At:        now,
	})
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateSubmitted, got.State)
	require.NotNil(t, got.ClosedAt)

	_, err = st.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      model.LiveStates,
		To:        model.SessionStateExpired,
		At:        now,
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestTransitionState_OpenAtRejectsPastDeadline(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	now := time.Now()
	s := newStarted(1, uuid.New(), now)
	require.NoError(t, st.CreateSession(ctx, s))

	_, err := st.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      []model.SessionState{model.SessionStateStarted},
		To:        model.SessionStateSubmitted,
		At:        now,
		OpenAt:    now,
	})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestExtendDeadline(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	end := time.Now().Add(time.Hour)
	s := newStarted(1, uuid.New(), end)
	require.NoError(t, st.CreateSession(ctx, s))

	now := end.Add(-30 * time.Minute)

	ok, err := st.ExtendDeadline(ctx, s.ID, end.Add(-time.Minute), now)
	require.NoError(t, err)
	assert.False(t, ok, "deadline must never shrink")

	ok, err = st.ExtendDeadline(ctx, s.ID, end.Add(time.Minute), now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.ExtendDeadline(ctx, s.ID, end.Add(time.Hour), end.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "an overdue session is not revived")

	_, err = st.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      []model.SessionState{model.SessionStateStarted},
		To:        model.SessionStateLocked,
	})
	require.NoError(t, err)

	ok, err = st.ExtendDeadline(ctx, s.ID, end.Add(time.Hour), now)
	require.NoError(t, err)
	assert.False(t, ok, "locked sessions are not extended")
}

func TestTransitionState_ExpiryRespectsDueAt(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	end := time.Now().Add(time.Hour)
	s := newStarted(1, uuid.New(), end)
	require.NoError(t, st.CreateSession(ctx, s))

	// The due check saw the old deadline; an extension landed before the CAS.
	ok, err := st.ExtendDeadline(ctx, s.ID, end.Add(5*time.Minute), end.Add(-time.Second))
	require.NoError(t, err)
	require.True(t, ok)

	expire := model.Transition{
		SessionID: s.ID,
		From:      model.LiveStates,
		To:        model.SessionStateExpired,
		At:        end,
		DueAt:     end,
	}
	_, err = st.TransitionState(ctx, expire)
	assert.ErrorIs(t, err, repository.ErrConflict)

	expire.At = end.Add(5 * time.Minute)
	expire.DueAt = expire.At
	closed, err := st.TransitionState(ctx, expire)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateExpired, closed.State)
}

func TestListDueSessions(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	now := time.Now()
	inst := uuid.New()

	due := newStarted(1, inst, now)
	notDue := newStarted(2, inst, now.Add(time.Second))
	require.NoError(t, st.CreateSession(ctx, due))
	require.NoError(t, st.CreateSession(ctx, notDue))

	got, err := st.ListDueSessions(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)
}

func TestUpsertAnswer_OnlyWhileStarted(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	s := newStarted(1, uuid.New(), time.Now().Add(time.Hour))
	require.NoError(t, st.CreateSession(ctx, s))

	q := uuid.New()
	c1, c2 := uuid.New(), uuid.New()
	require.NoError(t, st.UpsertAnswer(ctx, &model.Answer{ExamSessionID: s.ID, QuestionID: q, ChoiceIDs: []uuid.UUID{c1}}))
	require.NoError(t, st.UpsertAnswer(ctx, &model.Answer{ExamSessionID: s.ID, QuestionID: q, ChoiceIDs: []uuid.UUID{c2}}))

	answers, err := st.ListAnswers(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, []uuid.UUID{c2}, answers[0].ChoiceIDs)

	_, err = st.TransitionState(ctx, model.Transition{
		SessionID: s.ID,
		From:      []model.SessionState{model.SessionStateStarted},
		To:        model.SessionStateLocked,
	})
	require.NoError(t, err)
	err = st.UpsertAnswer(ctx, &model.Answer{ExamSessionID: s.ID, QuestionID: q, ChoiceIDs: []uuid.UUID{c1}})
	assert.ErrorIs(t, err, repository.ErrConflict)
}

func TestSubmission_WrittenOnceAndFinalizedOnce(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	sid := uuid.New()

	created, err := st.CreateSubmission(ctx, &model.Submission{ID: uuid.New(), ExamSessionID: sid, GradingError: "boom"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.CreateSubmission(ctx, &model.Submission{ID: uuid.New(), ExamSessionID: sid, Graded: true})
	require.NoError(t, err)
	assert.False(t, created)

	ok, err := st.FinalizeSubmission(ctx, &model.Submission{ExamSessionID: sid, Graded: true, Score: 3, MaxScore: 4})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.FinalizeSubmission(ctx, &model.Submission{ExamSessionID: sid, Graded: true, Score: 0, MaxScore: 4})
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := st.GetSubmission(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 3.0, got.Score)
}

func TestApplyAccommodation_ResolvesAgainstPrevious(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	inst := uuid.New()
	base := &model.Accommodation{UserID: 1, ExamInstanceID: inst}

	acc, err := st.ApplyAccommodation(ctx, base, func(prev int) (int, error) {
		return model.SetAbsolute(600).Resolve(prev), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 600, acc.ExtraSeconds)

	acc, err = st.ApplyAccommodation(ctx, base, func(prev int) (int, error) {
		return model.AddDelta(300).Resolve(prev), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 900, acc.ExtraSeconds)
}
