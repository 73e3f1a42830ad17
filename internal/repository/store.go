package repository

import "github.com/jackc/pgx/v5/pgxpool"

// Store bundles the Postgres repositories behind the proctoring store
// interfaces.
type Store struct {
	*SessionRepository
	*FlagRepository
	*AccommodationRepository
	*AnswerRepository
	*SubmissionRepository
}

// NewStore creates a Store over one pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		SessionRepository:       NewSessionRepository(pool),
		FlagRepository:          NewFlagRepository(pool),
		AccommodationRepository: NewAccommodationRepository(pool),
		AnswerRepository:        NewAnswerRepository(pool),
		SubmissionRepository:    NewSubmissionRepository(pool),
	}
}
