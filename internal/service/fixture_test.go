package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository/memory"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	teacherID = 100
	otherID   = 200
	studentID = 1
	classID   = 10
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingSink struct {
	mu     sync.Mutex
	events []model.SessionEvent
}

func (r *recordingSink) SessionEvent(_ context.Context, ev model.SessionEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) ofType(t model.SessionEventType) []model.SessionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.SessionEvent
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type env struct {
	ctx      context.Context
	clock    *fakeClock
	store    *memory.Store
	catalog  *memory.Catalog
	sink     *recordingSink
	sessions *service.SessionService
	hb       *service.HeartbeatService
	locks    *service.LockService
	acc      *service.AccommodationService
	answers  *service.AnswerService

	instance  model.ExamInstance
	template  model.ExamTemplate
	questions []model.Question
}

var meta = model.ClientMeta{IP: "10.0.0.1", UserAgent: "Mozilla/5.0 (X11)"}

// newEnv builds a 30 minute exam inside a two hour window, with two
// questions worth 2 and 3 points.
func newEnv(t *testing.T, policy service.AnomalyPolicy) *env {
	t.Helper()
	return newEnvWithStore(t, policy, nil)
}

// newEnvWithStore is newEnv with the services running on wrap(store), so a
// test can interpose on individual store calls.
func newEnvWithStore(t *testing.T, policy service.AnomalyPolicy, wrap func(*memory.Store) service.Store) *env {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	store := memory.NewStore()
	catalog := memory.NewCatalog()
	sink := &recordingSink{}

	tmpl := model.ExamTemplate{
		ID:              uuid.New(),
		ClassID:         classID,
		OwnerID:         teacherID,
		Title:           "Algebra",
		DurationSeconds: 1800,
		PassingScore:    60,
	}
	c1, c2, c3 := uuid.New(), uuid.New(), uuid.New()
	qs := []model.Question{
		{
			ID: uuid.New(), TemplateID: tmpl.ID, Position: 1, Prompt: "2+2", Kind: model.QuestionKindSingle, Points: 2,
			Choices:          []model.Choice{{ID: c1, Label: "4"}, {ID: c2, Label: "5"}},
			CorrectChoiceIDs: []uuid.UUID{c1},
		},
		{
			ID: uuid.New(), TemplateID: tmpl.ID, Position: 2, Prompt: "primes", Kind: model.QuestionKindMultiple, Points: 3,
			Choices:          []model.Choice{{ID: c1, Label: "2"}, {ID: c2, Label: "3"}, {ID: c3, Label: "4"}},
			CorrectChoiceIDs: []uuid.UUID{c1, c2},
		},
	}
	inst := model.ExamInstance{
		ID:          uuid.New(),
		TemplateID:  tmpl.ID,
		StartsAt:    clock.now.Add(-time.Hour),
		EndsAt:      clock.now.Add(time.Hour),
		Published:   true,
		ShowAnswers: true,
	}

	catalog.AddTemplate(tmpl)
	catalog.AddInstance(inst)
	catalog.SetQuestions(tmpl.ID, qs...)
	catalog.AddClass(model.Class{ID: classID, Name: "9A", TeacherID: teacherID})
	catalog.Enroll(studentID, classID, model.EnrollmentApproved)

	var backing service.Store = store
	if wrap != nil {
		backing = wrap(store)
	}
	sessions := service.NewSessionService(backing, catalog, catalog, store, sink, zerolog.Nop())
	sessions.SetClock(clock.Now)

	return &env{
		ctx:       context.Background(),
		clock:     clock,
		store:     store,
		catalog:   catalog,
		sink:      sink,
		sessions:  sessions,
		hb:        service.NewHeartbeatService(sessions, policy, zerolog.Nop()),
		locks:     service.NewLockService(sessions),
		acc:       service.NewAccommodationService(sessions),
		answers:   service.NewAnswerService(sessions),
		instance:  inst,
		template:  tmpl,
		questions: qs,
	}
}

func (e *env) start(t *testing.T) *model.StartSessionResponse {
	t.Helper()
	resp, err := e.sessions.StartSession(e.ctx, studentID, e.instance.ID, meta)
	require.NoError(t, err)
	return resp
}

func (e *env) guard(resp *model.StartSessionResponse) service.GuardRequest {
	return service.GuardRequest{SessionID: resp.SessionID, Token: resp.Token, CallerID: studentID}
}

func (e *env) session(t *testing.T, id uuid.UUID) *model.ExamSession {
	t.Helper()
	s, err := e.store.GetSession(e.ctx, id)
	require.NoError(t, err)
	return s
}

func (e *env) auditCount(t model.AuditEventType) int {
	n := 0
	for _, a := range e.store.AuditLogs() {
		if a.EventType == t {
			n++
		}
	}
	return n
}

// interposingStore runs hooks before selected store calls.
type interposingStore struct {
	*memory.Store

	mu               sync.Mutex
	beforeTransition func(model.Transition)
	failSubmissions  bool
}

func (s *interposingStore) TransitionState(ctx context.Context, t model.Transition) (*model.ExamSession, error) {
	s.mu.Lock()
	hook := s.beforeTransition
	s.beforeTransition = nil
	s.mu.Unlock()
	if hook != nil {
		hook(t)
	}
	return s.Store.TransitionState(ctx, t)
}

func (s *interposingStore) CreateSubmission(ctx context.Context, sub *model.Submission) (bool, error) {
	s.mu.Lock()
	fail := s.failSubmissions
	s.mu.Unlock()
	if fail {
		return false, errors.New("connection reset by peer")
	}
	return s.Store.CreateSubmission(ctx, sub)
}

func (s *interposingStore) setFailSubmissions(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSubmissions = fail
}

// onceBeforeTransition runs hook before the next transition only.
func (s *interposingStore) onceBeforeTransition(hook func(model.Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeTransition = hook
}

func newInterposedEnv(t *testing.T) (*env, *interposingStore) {
	t.Helper()
	var wrapped *interposingStore
	e := newEnvWithStore(t, nil, func(st *memory.Store) service.Store {
		wrapped = &interposingStore{Store: st}
		return wrapped
	})
	return e, wrapped
}
