package database

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Instants on reservation tables are stored as BIGINT unix milliseconds so
// that range predicates and equality guards behave the same on every driver.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS users (
	id {{id}},
	email VARCHAR(255) NOT NULL UNIQUE,
	password_hash VARCHAR(255) NOT NULL,
	role VARCHAR(16) NOT NULL DEFAULT 'REQUESTER',
	is_active {{bool}} NOT NULL DEFAULT {{true}},
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS refresh_tokens (
	id {{id}},
	user_id BIGINT NOT NULL,
	token_hash CHAR(64) NOT NULL UNIQUE,
	expires_at {{ts}} NOT NULL,
	revoked_at {{ts}} NULL,
	created_at {{ts}} NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS rooms (
	id VARCHAR(64) NOT NULL PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	capacity INT NOT NULL DEFAULT 0,
	location VARCHAR(255) NOT NULL DEFAULT '',
	mailbox VARCHAR(255) NOT NULL DEFAULT '',
	is_active {{bool}} NOT NULL DEFAULT {{true}},
	created_at {{ts}} NOT NULL,
	updated_at {{ts}} NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS reservations (
	id VARCHAR(36) NOT NULL PRIMARY KEY,
	title VARCHAR(255) NOT NULL,
	description TEXT NOT NULL,
	attendee_count INT NOT NULL,
	requested_by VARCHAR(255) NOT NULL,
	department VARCHAR(255) NOT NULL,
	contact_email VARCHAR(255) NOT NULL,
	start_ms BIGINT NOT NULL,
	end_ms BIGINT NOT NULL,
	setup_minutes INT NOT NULL,
	teardown_minutes INT NOT NULL,
	effective_start_ms BIGINT NOT NULL,
	effective_end_ms BIGINT NOT NULL,
	status VARCHAR(16) NOT NULL,
	previous_status VARCHAR(16) NOT NULL,
	rejection_reason TEXT NOT NULL,
	calendar_event_id VARCHAR(255) NOT NULL,
	change_key CHAR(64) NOT NULL,
	last_modified_ms BIGINT NOT NULL,
	last_modified_by VARCHAR(255) NOT NULL,
	review_status VARCHAR(16) NOT NULL,
	reviewing_by VARCHAR(255) NULL,
	review_started_ms BIGINT NULL,
	review_expires_ms BIGINT NULL,
	created_ms BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS reservation_rooms (
	reservation_id VARCHAR(36) NOT NULL,
	room_id VARCHAR(64) NOT NULL,
	PRIMARY KEY (reservation_id, room_id)
)`,
	`CREATE TABLE IF NOT EXISTS reservation_revisions (
	reservation_id VARCHAR(36) NOT NULL,
	revision_number INT NOT NULL,
	change_key CHAR(64) NOT NULL,
	modified_ms BIGINT NOT NULL,
	modified_by VARCHAR(255) NOT NULL,
	action VARCHAR(32) NOT NULL,
	changes TEXT NOT NULL,
	PRIMARY KEY (reservation_id, revision_number)
)`,
	`CREATE TABLE IF NOT EXISTS reservation_review_history (
	reservation_id VARCHAR(36) NOT NULL,
	seq INT NOT NULL,
	reviewing_by VARCHAR(255) NOT NULL,
	started_ms BIGINT NOT NULL,
	completed_ms BIGINT NULL,
	released_by VARCHAR(255) NOT NULL,
	outcome VARCHAR(32) NOT NULL,
	PRIMARY KEY (reservation_id, seq)
)`,
	`CREATE TABLE IF NOT EXISTS reservation_conflicts (
	reservation_id VARCHAR(36) NOT NULL,
	conflicting_id VARCHAR(36) NOT NULL,
	title VARCHAR(255) NOT NULL,
	start_ms BIGINT NOT NULL,
	end_ms BIGINT NOT NULL,
	setup_minutes INT NOT NULL,
	teardown_minutes INT NOT NULL,
	effective_start_ms BIGINT NOT NULL,
	effective_end_ms BIGINT NOT NULL,
	status VARCHAR(16) NOT NULL,
	overlapping_rooms TEXT NOT NULL,
	PRIMARY KEY (reservation_id, conflicting_id)
)`,
}

var indexes = []string{
	`CREATE INDEX {{ifne}} idx_reservations_window ON reservations (status, effective_start_ms, effective_end_ms)`,
	`CREATE INDEX {{ifne}} idx_reservations_review ON reservations (review_status, review_expires_ms)`,
	`CREATE INDEX {{ifne}} idx_reservation_rooms_room ON reservation_rooms (room_id)`,
	`CREATE INDEX {{ifne}} idx_refresh_tokens_user ON refresh_tokens (user_id)`,
}

func dialect(driver string) *strings.Replacer {
	switch driver {
	case DriverPostgres:
		return strings.NewReplacer("{{id}}", "BIGSERIAL PRIMARY KEY", "{{bool}}", "BOOLEAN",
			"{{true}}", "TRUE", "{{ts}}", "TIMESTAMPTZ", "{{ifne}}", "IF NOT EXISTS")
	case DriverSQLite:
		return strings.NewReplacer("{{id}}", "INTEGER PRIMARY KEY AUTOINCREMENT", "{{bool}}", "INTEGER",
			"{{true}}", "1", "{{ts}}", "DATETIME", "{{ifne}}", "IF NOT EXISTS")
	default:
		return strings.NewReplacer("{{id}}", "BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY", "{{bool}}", "TINYINT(1)",
			"{{true}}", "1", "{{ts}}", "DATETIME(3)", "{{ifne}}", "")
	}
}

// Migrate creates the schema for the connection's driver.  It is safe to
// run on every start.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	r := dialect(db.DriverName())
	for _, stmt := range tables {
		if _, err := db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	for _, stmt := range indexes {
		if _, err := db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			// MySQL has no CREATE INDEX IF NOT EXISTS; 1061 is "duplicate key name"
			if db.DriverName() == DriverMySQL && strings.Contains(err.Error(), "1061") {
				continue
			}
			return fmt.Errorf("migrate index: %w", err)
		}
	}
	return nil
}
