package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
)

// Store-level errors shared by every backend.
var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("conditional write lost to a concurrent change")
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
