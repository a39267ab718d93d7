// Package store owns the agent's sqlite-backed persistence layer: schema
// bootstrap, the shared *sqlx.DB handle, and the one-way legacy-alias
// migration for old task-type names. The notification_tasks table is
// accessed through package notifyqueue and the run/step tables through
// package runtracker, each embedding this DB handle rather than reaching
// for a global; the opportunity cache, group config and system config
// accessors live in this package.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion tracks the schema revision for the one migration
// step this agent needs: rewriting the legacy Violation/Standard type
// aliases into the canonical Reminder/Escalation enum.
const CurrentSchemaVersion = 1

// Open creates (or attaches to) the sqlite database at path, applies the
// schema, and returns a ready-to-use handle. Pass ":memory:" for tests.
func Open(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// sqlite only supports one writer; a single connection avoids
	// "database is locked" errors under the agent's single-tick-at-a-time
	// concurrency model.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database %s: %w", path, err)
	}

	return db, nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS opportunity_cache (
	order_num TEXT PRIMARY KEY,
	customer_name TEXT NOT NULL,
	address TEXT NOT NULL,
	supervisor_name TEXT NOT NULL,
	create_time DATETIME NOT NULL,
	org_name TEXT NOT NULL,
	status TEXT NOT NULL,
	elapsed_hours REAL NOT NULL DEFAULT 0,
	is_overdue INTEGER NOT NULL DEFAULT 0,
	escalation_level INTEGER NOT NULL DEFAULT 0,
	sla_threshold_hours REAL NOT NULL DEFAULT 0,
	sla_progress_ratio REAL NOT NULL DEFAULT 0,
	is_violation INTEGER NOT NULL DEFAULT 0,
	last_updated DATETIME NOT NULL,
	source_hash TEXT NOT NULL,
	cache_version INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS notification_tasks (
	id TEXT PRIMARY KEY,
	logical_order_id TEXT NOT NULL,
	org_name TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	due_time DATETIME NOT NULL,
	message TEXT,
	sent_at DATETIME,
	created_run_id TEXT,
	sent_run_id TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retry_count INTEGER NOT NULL DEFAULT 5,
	cooldown_hours REAL NOT NULL DEFAULT 2.0,
	last_sent_at DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notification_tasks_logical_type
	ON notification_tasks (logical_order_id, type);
CREATE INDEX IF NOT EXISTS idx_notification_tasks_status
	ON notification_tasks (status);

CREATE TABLE IF NOT EXISTS agent_runs (
	id TEXT PRIMARY KEY,
	trigger_time DATETIME NOT NULL,
	end_time DATETIME,
	status TEXT NOT NULL,
	context TEXT NOT NULL DEFAULT '{}',
	opportunities_processed INTEGER NOT NULL DEFAULT 0,
	notifications_sent INTEGER NOT NULL DEFAULT 0,
	errors TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS agent_history (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	step_name TEXT NOT NULL,
	input_data TEXT NOT NULL DEFAULT '{}',
	output_data TEXT NOT NULL DEFAULT '{}',
	timestamp DATETIME NOT NULL,
	duration_seconds REAL NOT NULL DEFAULT 0,
	error_message TEXT
);
CREATE INDEX IF NOT EXISTS idx_agent_history_run_id ON agent_history (run_id);

CREATE TABLE IF NOT EXISTS group_configs (
	id TEXT PRIMARY KEY,
	org_name TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	webhook_url TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	cooldown_minutes INTEGER NOT NULL DEFAULT 120,
	max_per_hour INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS system_config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL
);
`

// Migrate creates the schema if absent and rewrites any legacy type
// aliases left over from an older deployment. The migration is one-way;
// the aliases themselves are never reintroduced in code.
func Migrate(db *sqlx.DB) error {
	if _, err := db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	if err := rewriteLegacyTaskTypes(db); err != nil {
		return fmt.Errorf("failed to rewrite legacy task types: %w", err)
	}

	return nil
}

func rewriteLegacyTaskTypes(db *sqlx.DB) error {
	renames := map[string]string{
		"Violation": "Escalation",
		"Standard":  "Reminder",
	}
	for legacy, canonical := range renames {
		if _, err := db.Exec(
			`UPDATE notification_tasks SET type = ? WHERE type = ?`,
			canonical, legacy,
		); err != nil {
			return err
		}
	}
	return nil
}

// IsNoRows reports whether err is sql.ErrNoRows, wrapped or not.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
