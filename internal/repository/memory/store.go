// Package memory is an in-process implementation of the proctoring stores.
// It backs tests and the single-node STORE_DRIVER=memory mode.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
)

type pairKey struct {
	userID     int
	instanceID uuid.UUID
}

// Store holds sessions and everything hanging off them. One mutex guards
// all maps, so every conditional write is a compare-and-swap.
type Store struct {
	mu             sync.Mutex
	sessions       map[uuid.UUID]*model.ExamSession
	flags          map[uuid.UUID][]model.SessionFlag
	accommodations map[pairKey]model.Accommodation
	answers        map[uuid.UUID]map[uuid.UUID]model.Answer
	submissions    map[uuid.UUID]model.Submission
	audit          []model.AuditLog
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions:       make(map[uuid.UUID]*model.ExamSession),
		flags:          make(map[uuid.UUID][]model.SessionFlag),
		accommodations: make(map[pairKey]model.Accommodation),
		answers:        make(map[uuid.UUID]map[uuid.UUID]model.Answer),
		submissions:    make(map[uuid.UUID]model.Submission),
	}
}

var _ service.Store = (*Store)(nil)

func copySession(s *model.ExamSession) *model.ExamSession {
	out := *s
	if s.StartedAt != nil {
		t := *s.StartedAt
		out.StartedAt = &t
	}
	if s.ClosedAt != nil {
		t := *s.ClosedAt
		out.ClosedAt = &t
	}
	return &out
}

// GetSession retrieves a session by ID.
func (m *Store) GetSession(_ context.Context, id uuid.UUID) (*model.ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return copySession(s), nil
}

// FindSession returns the newest session for the (user, instance) pair.
func (m *Store) FindSession(_ context.Context, userID int, instanceID uuid.UUID) (*model.ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *model.ExamSession
	for _, s := range m.sessions {
		if s.UserID != userID || s.ExamInstanceID != instanceID {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return copySession(latest), nil
}

// hasLive reports whether the pair holds a live session other than except.
func (m *Store) hasLive(userID int, instanceID, except uuid.UUID) bool {
	for id, s := range m.sessions {
		if id == except {
			continue
		}
		if s.UserID == userID && s.ExamInstanceID == instanceID && s.State.IsLive() {
			return true
		}
	}
	return false
}

// CreateSession inserts a new session, refusing a second live one for the pair.
func (m *Store) CreateSession(_ context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[s.ID]; ok {
		return repository.ErrConflict
	}
	if s.State.IsLive() && m.hasLive(s.UserID, s.ExamInstanceID, s.ID) {
		return repository.ErrConflict
	}
	m.sessions[s.ID] = copySession(s)
	return nil
}

// ActivateSession starts a pending session unless the pair already has a live one.
func (m *Store) ActivateSession(_ context.Context, s *model.ExamSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[s.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if cur.State != model.SessionStatePending || m.hasLive(cur.UserID, cur.ExamInstanceID, cur.ID) {
		return repository.ErrConflict
	}
	next := copySession(s)
	next.State = model.SessionStateStarted
	m.sessions[s.ID] = next
	return nil
}

// TransitionState moves a session between states if it still matches t.
func (m *Store) TransitionState(_ context.Context, t model.Transition) (*model.ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[t.SessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	if !slices.Contains(t.From, cur.State) || !model.CanTransition(cur.State, t.To) {
		return nil, repository.ErrConflict
	}
	if !t.OpenAt.IsZero() && !cur.EndsAt.After(t.OpenAt) {
		return nil, repository.ErrConflict
	}
	if !t.DueAt.IsZero() && cur.EndsAt.After(t.DueAt) {
		return nil, repository.ErrConflict
	}

	cur.State = t.To
	if t.To.IsTerminal() {
		at := t.At
		cur.ClosedAt = &at
	}
	return copySession(cur), nil
}

// ExtendDeadline pushes ends_at later on a started session that is not yet overdue.
func (m *Store) ExtendDeadline(_ context.Context, id uuid.UUID, endsAt, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.sessions[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if cur.State != model.SessionStateStarted || !endsAt.After(cur.EndsAt) || !cur.EndsAt.After(now) {
		return false, nil
	}
	cur.EndsAt = endsAt
	return true, nil
}

// ListLiveSessions returns the live sessions of an instance, oldest first.
func (m *Store) ListLiveSessions(_ context.Context, instanceID uuid.UUID) ([]model.ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.ExamSession
	for _, s := range m.sessions {
		if s.ExamInstanceID == instanceID && s.State.IsLive() {
			out = append(out, *copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListDueSessions returns up to limit started sessions whose deadline has passed.
func (m *Store) ListDueSessions(_ context.Context, now time.Time, limit int) ([]model.ExamSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.ExamSession
	for _, s := range m.sessions {
		if s.State.IsLive() && !s.EndsAt.After(now) {
			out = append(out, *copySession(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndsAt.Before(out[j].EndsAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendFlag records an anomaly flag.
func (m *Store) AppendFlag(_ context.Context, f *model.SessionFlag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[f.ExamSessionID]; !ok {
		return repository.ErrNotFound
	}
	m.flags[f.ExamSessionID] = append(m.flags[f.ExamSessionID], *f)
	return nil
}

// ListFlags returns a session's flags in insertion order.
func (m *Store) ListFlags(_ context.Context, sessionID uuid.UUID) ([]model.SessionFlag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.flags[sessionID]), nil
}

// CountFlags tallies a session's flags by type.
func (m *Store) CountFlags(_ context.Context, sessionID uuid.UUID) (map[model.FlagType]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[model.FlagType]int)
	for _, f := range m.flags[sessionID] {
		counts[f.Type]++
	}
	return counts, nil
}

// GetAccommodation retrieves the extra time granted for the pair.
func (m *Store) GetAccommodation(_ context.Context, userID int, instanceID uuid.UUID) (*model.Accommodation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accommodations[pairKey{userID, instanceID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &a, nil
}

// ApplyAccommodation stores the value resolve derives from the previous grant.
func (m *Store) ApplyAccommodation(_ context.Context, a *model.Accommodation, resolve func(previous int) (int, error)) (*model.Accommodation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := pairKey{a.UserID, a.ExamInstanceID}
	previous := m.accommodations[key].ExtraSeconds
	next, err := resolve(previous)
	if err != nil {
		return nil, err
	}

	stored := *a
	stored.ExtraSeconds = next
	m.accommodations[key] = stored
	return &stored, nil
}

// UpsertAnswer saves or overwrites the answer to one question.
func (m *Store) UpsertAnswer(_ context.Context, a *model.Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[a.ExamSessionID]
	if !ok {
		return repository.ErrNotFound
	}
	if s.State != model.SessionStateStarted {
		return repository.ErrConflict
	}

	byQuestion, ok := m.answers[a.ExamSessionID]
	if !ok {
		byQuestion = make(map[uuid.UUID]model.Answer)
		m.answers[a.ExamSessionID] = byQuestion
	}
	stored := *a
	stored.ChoiceIDs = slices.Clone(a.ChoiceIDs)
	byQuestion[a.QuestionID] = stored
	return nil
}

// ListAnswers returns a session's answers.
func (m *Store) ListAnswers(_ context.Context, sessionID uuid.UUID) ([]model.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Answer, 0, len(m.answers[sessionID]))
	for _, a := range m.answers[sessionID] {
		a.ChoiceIDs = slices.Clone(a.ChoiceIDs)
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID.String() < out[j].QuestionID.String() })
	return out, nil
}

// CreateSubmission stores the submission unless the session already has one.
func (m *Store) CreateSubmission(_ context.Context, s *model.Submission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.submissions[s.ExamSessionID]; ok {
		return false, nil
	}
	m.submissions[s.ExamSessionID] = *s
	return true, nil
}

// GetSubmission retrieves the submission of a session.
func (m *Store) GetSubmission(_ context.Context, sessionID uuid.UUID) (*model.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.submissions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

// FinalizeSubmission overwrites an ungraded submission with a graded one.
func (m *Store) FinalizeSubmission(_ context.Context, s *model.Submission) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, ok := m.submissions[s.ExamSessionID]
	if !ok || cur.Graded {
		return false, nil
	}
	next := *s
	next.ID = cur.ID
	m.submissions[s.ExamSessionID] = next
	return true, nil
}

// Record appends an audit entry. Store doubles as the audit recorder in
// memory mode.
func (m *Store) Record(_ context.Context, entry *model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.audit = append(m.audit, *entry)
	return nil
}

// InsertAudit is Record under the name the audit worker expects.
func (m *Store) InsertAudit(ctx context.Context, entry *model.AuditLog) error {
	return m.Record(ctx, entry)
}

// InsertAuditBatch appends a drained batch in order.
func (m *Store) InsertAuditBatch(_ context.Context, batch []*model.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range batch {
		m.audit = append(m.audit, *e)
	}
	return nil
}

// AuditLogs returns a snapshot of recorded audit entries.
func (m *Store) AuditLogs() []model.AuditLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.audit)
}
