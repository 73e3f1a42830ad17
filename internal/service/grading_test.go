package service

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
)

func question(points float64, correct ...uuid.UUID) model.Question {
	return model.Question{ID: uuid.New(), Points: points, CorrectChoiceIDs: correct}
}

func TestGrade_ExactSetEquality(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	q1 := question(2, a)
	q2 := question(3, a, b)
	q3 := question(5, c)

	res, err := Grade([]model.Question{q1, q2, q3}, []model.Answer{
		{QuestionID: q1.ID, ChoiceIDs: []uuid.UUID{a}},
		{QuestionID: q2.ID, ChoiceIDs: []uuid.UUID{b, a}},
		{QuestionID: q3.ID, ChoiceIDs: []uuid.UUID{c, a}},
	})
	require.NoError(t, err)
	assert.Equal(t, 5.0, res.Score)
	assert.Equal(t, 10.0, res.MaxScore)
	require.Len(t, res.Details, 3)
	assert.False(t, res.Details[2].Correct, "superset earns nothing")
}

func TestGrade_SubsetEarnsNothing(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	q := question(4, a, b)

	res, err := Grade([]model.Question{q}, []model.Answer{{QuestionID: q.ID, ChoiceIDs: []uuid.UUID{a}}})
	require.NoError(t, err)
	assert.Zero(t, res.Score)
}

func TestGrade_UnansweredCountsTowardMax(t *testing.T) {
	q := question(3, uuid.New())
	res, err := Grade([]model.Question{q}, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Score)
	assert.Equal(t, 3.0, res.MaxScore)
}

func TestGrade_Deterministic(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	qs := []model.Question{question(1, a), question(2, b)}
	answers := []model.Answer{{QuestionID: qs[0].ID, ChoiceIDs: []uuid.UUID{a}}}

	first, err := Grade(qs, answers)
	require.NoError(t, err)
	second, err := Grade(qs, answers)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestGrade_MissingPointData(t *testing.T) {
	_, err := Grade([]model.Question{question(0, uuid.New())}, nil)
	assert.ErrorIs(t, err, ErrMissingPointData)

	_, err = Grade([]model.Question{question(1)}, nil)
	assert.ErrorIs(t, err, ErrMissingPointData)
}

func TestPassed(t *testing.T) {
	assert.True(t, passed(6, 10, 60))
	assert.False(t, passed(5.9, 10, 60))
	assert.False(t, passed(0, 0, 0))
}

func TestThresholdPolicy(t *testing.T) {
	p := ThresholdPolicy{Threshold: 3, Weights: map[model.FlagType]int{model.FlagMultiIP: 2}}

	d := p.Evaluate(map[model.FlagType]int{model.FlagFocusLost: 2})
	assert.False(t, d.Lock)
	assert.Equal(t, 2, d.Score)

	d = p.Evaluate(map[model.FlagType]int{model.FlagFocusLost: 1, model.FlagMultiIP: 1})
	assert.True(t, d.Lock)

	// Administrative flags carry no weight, and an unlock raises the bar.
	d = p.Evaluate(map[model.FlagType]int{
		model.FlagFocusLost:    3,
		model.FlagManualLock:   5,
		model.FlagManualUnlock: 1,
	})
	assert.False(t, d.Lock)
	assert.Equal(t, 6, d.Threshold)

	assert.False(t, ThresholdPolicy{}.Evaluate(map[model.FlagType]int{model.FlagFocusLost: 99}).Lock)
}

func TestCheckAndCloseIfExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name  string
		state model.SessionState
		ends  time.Time
		due   bool
	}{
		{"started before deadline", model.SessionStateStarted, now.Add(time.Second), false},
		{"started at deadline", model.SessionStateStarted, now, true},
		{"locked past deadline", model.SessionStateLocked, now.Add(-time.Minute), true},
		{"submitted past deadline", model.SessionStateSubmitted, now.Add(-time.Minute), false},
		{"pending past deadline", model.SessionStatePending, now.Add(-time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &model.ExamSession{State: tc.state, EndsAt: tc.ends}
			target, due := CheckAndCloseIfExpired(s, now)
			assert.Equal(t, tc.due, due)
			if tc.due {
				assert.Equal(t, model.SessionStateExpired, target)
			}
		})
	}
}

func TestComputeDeadline_CappedByInstanceEnd(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	inst := &model.ExamInstance{
		EndsAt:   start.Add(50 * time.Minute),
		Template: &model.ExamTemplate{DurationSeconds: 1800},
	}

	assert.Equal(t, start.Add(40*time.Minute), computeDeadline(inst, start, 600))
	assert.Equal(t, inst.EndsAt, computeDeadline(inst, start, 3600))
}

func TestFingerprintUserAgent(t *testing.T) {
	assert.Empty(t, FingerprintUserAgent(""))
	a := FingerprintUserAgent("Mozilla/5.0")
	assert.Len(t, a, 64)
	assert.Equal(t, a, FingerprintUserAgent("Mozilla/5.0"))
	assert.NotEqual(t, a, FingerprintUserAgent("curl/8.0"))
}
