package repositories

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrInvalid indicates the database rejected a value through a check constraint.
	ErrInvalid = errors.New("record violates constraint")
)

// translate maps PostgreSQL integrity violations onto the package sentinels and
// leaves every other error untouched.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505":
		return ErrConflict
	case "23503":
		return ErrNotFound
	case "23514":
		return ErrInvalid
	}
	return err
}
