package worker

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

type fixture struct {
	ctx      context.Context
	clock    *clock
	store    *memory.Store
	sessions *service.SessionService
	b        *TimerBroadcaster
	instance uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	catalog := memory.NewCatalog()

	tmpl := model.ExamTemplate{ID: uuid.New(), ClassID: 1, DurationSeconds: 600}
	inst := model.ExamInstance{
		ID:         uuid.New(),
		TemplateID: tmpl.ID,
		StartsAt:   c.now.Add(-time.Hour),
		EndsAt:     c.now.Add(time.Hour),
		Published:  true,
	}
	choice := uuid.New()
	catalog.AddTemplate(tmpl)
	catalog.AddInstance(inst)
	catalog.SetQuestions(tmpl.ID, model.Question{
		ID: uuid.New(), TemplateID: tmpl.ID, Kind: model.QuestionKindSingle, Points: 1,
		Choices: []model.Choice{{ID: choice}}, CorrectChoiceIDs: []uuid.UUID{choice},
	})
	catalog.AddClass(model.Class{ID: 1, TeacherID: 50})
	for _, id := range []int{1, 2} {
		catalog.Enroll(id, 1, model.EnrollmentApproved)
	}

	sessions := service.NewSessionService(store, catalog, catalog, store, nil, zerolog.Nop())
	sessions.SetClock(c.Now)

	b := NewTimerBroadcaster(sessions, store, time.Hour, zerolog.Nop())
	b.SetClock(c.Now)
	sessions.SetEventSink(b)

	return &fixture{ctx: context.Background(), clock: c, store: store, sessions: sessions, b: b, instance: inst.ID}
}

func (f *fixture) start(t *testing.T, userID int) *model.StartSessionResponse {
	t.Helper()
	resp, err := f.sessions.StartSession(f.ctx, userID, f.instance, model.ClientMeta{IP: "1.1.1.1"})
	require.NoError(t, err)
	return resp
}

func (f *fixture) subscribe(sessionID uuid.UUID) *Subscription {
	sub := &Subscription{InstanceID: f.instance, SessionID: sessionID, ch: make(chan TimerEvent, subscriberBuffer)}
	f.b.add(sub)
	return sub
}

func drain(sub *Subscription) []TimerEvent {
	var out []TimerEvent
	for {
		select {
		case ev, ok := <-sub.ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestTick_PushesRemainingTime(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, 1)
	f.start(t, 2)

	teacher := f.subscribe(uuid.Nil)
	student := f.subscribe(a.SessionID)

	f.clock.now = f.clock.now.Add(90 * time.Second)
	f.b.tickOnce(f.ctx)

	all := drain(teacher)
	assert.Len(t, all, 2)
	for _, ev := range all {
		assert.Equal(t, model.EventSessionTick, ev.Type)
		assert.Equal(t, 510.0, ev.RemainingSeconds)
		assert.Equal(t, model.SessionStateStarted, ev.State)
	}

	mine := drain(student)
	require.Len(t, mine, 1)
	assert.Equal(t, a.SessionID, mine[0].SessionID)
}

func TestTick_ExpiresIdleSessionsAndNotifies(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, 1)
	sub := f.subscribe(a.SessionID)

	f.clock.now = f.clock.now.Add(10 * time.Minute)
	f.b.tickOnce(f.ctx)

	events := drain(sub)
	require.Len(t, events, 1, "expired sessions are no longer ticked")
	assert.Equal(t, model.EventSessionTerminal, events[0].Type)
	assert.Equal(t, model.SessionStateExpired, events[0].State)
	require.NotNil(t, events[0].Score)

	s, err := f.store.GetSession(f.ctx, a.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateExpired, s.State)
}

func TestTick_SweepRunsWithoutSubscribers(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, 1)

	f.clock.now = f.clock.now.Add(11 * time.Minute)
	f.b.tickOnce(f.ctx)

	s, err := f.store.GetSession(f.ctx, a.SessionID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStateExpired, s.State)
}

func TestRequestPathCloseNotifies(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, 1)
	sub := f.subscribe(uuid.Nil)

	_, err := f.sessions.Submit(f.ctx, service.GuardRequest{SessionID: a.SessionID, Token: a.Token, CallerID: 1}, model.ClientMeta{})
	require.NoError(t, err)

	f.b.drainNotify()
	events := drain(sub)
	require.Len(t, events, 1)
	assert.Equal(t, model.SessionStateSubmitted, events[0].State)
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	f := newFixture(t)
	f.start(t, 1)
	slow := f.subscribe(uuid.Nil)

	for i := 0; i < subscriberBuffer+5; i++ {
		f.b.tickOnce(f.ctx)
	}
	assert.Len(t, drain(slow), subscriberBuffer)
}

func TestRemoveOnlyAffectsOneSubscriber(t *testing.T) {
	f := newFixture(t)
	f.start(t, 1)
	a := f.subscribe(uuid.Nil)
	b := f.subscribe(uuid.Nil)

	f.b.remove(a)
	f.b.remove(a)
	f.b.tickOnce(f.ctx)

	_, open := <-a.ch
	assert.False(t, open)
	assert.Len(t, drain(b), 1)
}

func TestStartLoop(t *testing.T) {
	f := newFixture(t)
	a := f.start(t, 1)
	f.b.tick = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(f.ctx)
	done := make(chan struct{})
	go func() {
		f.b.Start(ctx)
		close(done)
	}()

	sub := f.b.Subscribe(ctx, f.instance, a.SessionID)
	require.NotNil(t, sub)

	select {
	case ev := <-sub.Events():
		assert.Equal(t, a.SessionID, ev.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}

	cancel()
	<-done

	for range sub.Events() {
	}
	assert.Nil(t, f.b.Subscribe(context.Background(), f.instance, uuid.Nil))
	f.b.Unsubscribe(sub)
}
