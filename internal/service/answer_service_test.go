package service_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/service"
)

func TestUpsertAnswer(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.start(t)
	single, multi := e.questions[0], e.questions[1]

	a, err := e.answers.UpsertAnswer(e.ctx, e.guard(resp), multi.ID, []uuid.UUID{
		multi.Choices[0].ID, multi.Choices[1].ID, multi.Choices[0].ID,
	})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{multi.Choices[0].ID, multi.Choices[1].ID}, a.ChoiceIDs, "duplicates collapse")

	_, err = e.answers.UpsertAnswer(e.ctx, e.guard(resp), single.ID, []uuid.UUID{single.Choices[0].ID, single.Choices[1].ID})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = e.answers.UpsertAnswer(e.ctx, e.guard(resp), single.ID, nil)
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = e.answers.UpsertAnswer(e.ctx, e.guard(resp), uuid.Nil, []uuid.UUID{single.Choices[0].ID})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = e.answers.UpsertAnswer(e.ctx, e.guard(resp), uuid.New(), []uuid.UUID{single.Choices[0].ID})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = e.answers.UpsertAnswer(e.ctx, e.guard(resp), single.ID, []uuid.UUID{uuid.New()})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestUpsertAnswer_ClosedSession(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.start(t)
	_, err := e.sessions.Submit(e.ctx, e.guard(resp), meta)
	require.NoError(t, err)

	q := e.questions[0]
	_, err = e.answers.UpsertAnswer(e.ctx, e.guard(resp), q.ID, []uuid.UUID{q.Choices[0].ID})
	assert.ErrorIs(t, err, service.ErrSessionClosed)
}

func TestUpsertAnswer_LockedSession(t *testing.T) {
	e := newEnv(t, nil)
	resp := e.start(t)
	_, err := e.locks.Lock(e.ctx, teacherID, resp.SessionID, "")
	require.NoError(t, err)

	q := e.questions[0]
	_, err = e.answers.UpsertAnswer(e.ctx, e.guard(resp), q.ID, []uuid.UUID{q.Choices[0].ID})
	assert.ErrorIs(t, err, service.ErrSessionLocked)
}
