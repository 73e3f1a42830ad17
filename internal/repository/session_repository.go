package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

const pgUniqueViolation = "23505"

const sessionColumns = `id, user_id, exam_instance_id, token, state, started_at, ends_at,
	ip_binding, ua_hash, closed_at, created_at`

// SessionRepository handles exam session data access.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	err := row.Scan(
		&s.ID, &s.UserID, &s.ExamInstanceID, &s.Token, &s.State, &s.StartedAt, &s.EndsAt,
		&s.IPBinding, &s.UAHash, &s.ClosedAt, &s.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

func collectSessions(rows pgx.Rows) ([]model.ExamSession, error) {
	defer rows.Close()

	var out []model.ExamSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// FindSession returns the latest session of a user for an instance.
func (r *SessionRepository) FindSession(ctx context.Context, userID int, instanceID uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE user_id = $1 AND exam_instance_id = $2
		 ORDER BY created_at DESC
		 LIMIT 1`, userID, instanceID))
}

// CreateSession inserts a session. The partial unique index on live
// sessions turns a concurrent second start into ErrConflict.
func (r *SessionRepository) CreateSession(ctx context.Context, s *model.ExamSession) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_sessions
		   (id, user_id, exam_instance_id, token, state, started_at, ends_at, ip_binding, ua_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.UserID, s.ExamInstanceID, s.Token, s.State, s.StartedAt, s.EndsAt,
		s.IPBinding, s.UAHash, s.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ActivateSession promotes a pending session to started.
func (r *SessionRepository) ActivateSession(ctx context.Context, s *model.ExamSession) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET state = $2, token = $3, started_at = $4, ends_at = $5, ip_binding = $6, ua_hash = $7
		 WHERE id = $1 AND state = $8`,
		s.ID, model.SessionStateStarted, s.Token, s.StartedAt, s.EndsAt, s.IPBinding, s.UAHash,
		model.SessionStatePending,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("activate session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

// TransitionState applies a compare-and-swap on the session state.
func (r *SessionRepository) TransitionState(ctx context.Context, t model.Transition) (*model.ExamSession, error) {
	from := make([]string, len(t.From))
	for i, st := range t.From {
		from[i] = string(st)
	}

	var closedAt *time.Time
	if t.To.IsTerminal() {
		at := t.At
		closedAt = &at
	}
	var openAt *time.Time
	if !t.OpenAt.IsZero() {
		openAt = &t.OpenAt
	}
	var dueAt *time.Time
	if !t.DueAt.IsZero() {
		dueAt = &t.DueAt
	}

	s, err := scanSession(r.pool.QueryRow(ctx,
		`UPDATE exam_sessions
		 SET state = $2, closed_at = COALESCE($3, closed_at)
		 WHERE id = $1
		   AND state = ANY($4)
		   AND ($5::timestamptz IS NULL OR ends_at > $5)
		   AND ($6::timestamptz IS NULL OR ends_at <= $6)
		 RETURNING `+sessionColumns,
		t.SessionID, t.To, closedAt, from, openAt, dueAt,
	))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrConflict
	}
	if isUniqueViolation(err) {
		return nil, ErrConflict
	}
	return s, err
}

// ExtendDeadline moves ends_at later for a started session whose deadline
// has not yet passed at now.
func (r *SessionRepository) ExtendDeadline(ctx context.Context, id uuid.UUID, endsAt, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET ends_at = $2
		 WHERE id = $1 AND state = $3 AND ends_at < $2 AND ends_at > $4`,
		id, endsAt, model.SessionStateStarted, now,
	)
	if err != nil {
		return false, fmt.Errorf("extend deadline: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListLiveSessions returns started and locked sessions of an instance.
func (r *SessionRepository) ListLiveSessions(ctx context.Context, instanceID uuid.UUID) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_instance_id = $1 AND state IN ('started', 'locked')
		 ORDER BY created_at`, instanceID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

// ListDueSessions returns live sessions whose deadline is at or before now.
func (r *SessionRepository) ListDueSessions(ctx context.Context, now time.Time, limit int) ([]model.ExamSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE state IN ('started', 'locked') AND ends_at <= $1
		 ORDER BY ends_at
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}
