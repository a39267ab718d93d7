package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// configRow mirrors one row of system_config.
type configRow struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// SystemConfigSnapshot is a point-in-time read of every system_config row,
// taken once per tick by the orchestrator so a mid-tick config edit is
// never observed by the tick already running. It is a plain map, not a
// live handle, so nothing later in the tick can cause it to change.
type SystemConfigSnapshot map[string]string

// Get returns the value for key and whether it was present.
func (s SystemConfigSnapshot) Get(key string) (string, bool) {
	v, ok := s[key]
	return v, ok
}

// LoadSystemConfigSnapshot reads every row of system_config into a single
// map. Called once at the start of a tick; callers must not call it again
// mid-tick expecting to observe operator edits made during that tick.
func LoadSystemConfigSnapshot(ctx context.Context, db *sqlx.DB) (SystemConfigSnapshot, error) {
	var rows []configRow
	if err := db.SelectContext(ctx, &rows, `SELECT key, value FROM system_config`); err != nil {
		return nil, fmt.Errorf("failed to load system_config: %w", err)
	}
	snap := make(SystemConfigSnapshot, len(rows))
	for _, r := range rows {
		snap[r.Key] = r.Value
	}
	return snap, nil
}

// UpsertSystemConfig writes or overwrites a single system_config row, for
// seeding or editing config; neither the tick loop nor the CLI calls it.
func UpsertSystemConfig(ctx context.Context, db *sqlx.DB, key, value, description string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO system_config (key, value, description, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			description = excluded.description,
			updated_at = CURRENT_TIMESTAMP
	`, key, value, description)
	if err != nil {
		return fmt.Errorf("failed to upsert system_config[%s]: %w", key, err)
	}
	return nil
}
