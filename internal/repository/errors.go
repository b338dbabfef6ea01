// Package repository holds the SQL data access for reservations, rooms,
// users and refresh tokens, plus an in-memory store with the same
// behaviour.  The sentinel errors below let higher layers tell failure
// scenarios apart.  ErrNotFound means the row does not exist and
// ErrConflict signals a uniqueness clash (e.g. creating a room whose ID is
// taken).
package repository

import (
	"database/sql"
	"errors"
	"strings"
)

// ErrNotFound is returned when the requested row does not exist.  Handlers
// translate it into an HTTP 404 response.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert or update clashes with an
// existing row. Handlers should translate this into an HTTP 409 response.
var ErrConflict = errors.New("conflict")

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// isDuplicate recognises unique-key violations of the supported drivers
// (MySQL 1062, Postgres 23505, SQLite "UNIQUE constraint failed").
func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "1062") ||
		strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint")
}
