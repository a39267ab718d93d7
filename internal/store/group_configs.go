package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// GroupConfigRow mirrors group_configs, the routing registry's backing
// table: one row per organization, naming the webhook its notifications
// go to.
type GroupConfigRow struct {
	ID              string `db:"id"`
	OrgName         string `db:"org_name"`
	Name            string `db:"name"`
	WebhookURL      string `db:"webhook_url"`
	Enabled         bool   `db:"enabled"`
	CooldownMinutes int    `db:"cooldown_minutes"`
	MaxPerHour      int    `db:"max_per_hour"`
}

// ListGroupConfigs returns every configured routing row, enabled or not;
// the caller (routing.Registry) decides what to do with a disabled group.
func ListGroupConfigs(ctx context.Context, db *sqlx.DB) ([]GroupConfigRow, error) {
	var rows []GroupConfigRow
	if err := db.SelectContext(ctx, &rows, `SELECT * FROM group_configs`); err != nil {
		return nil, fmt.Errorf("failed to list group configs: %w", err)
	}
	return rows, nil
}

// UpsertGroupConfig creates or replaces the routing row for an org name.
func UpsertGroupConfig(ctx context.Context, db *sqlx.DB, row GroupConfigRow) error {
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	_, err := db.NamedExecContext(ctx, `
		INSERT INTO group_configs (id, org_name, name, webhook_url, enabled, cooldown_minutes, max_per_hour)
		VALUES (:id, :org_name, :name, :webhook_url, :enabled, :cooldown_minutes, :max_per_hour)
		ON CONFLICT(org_name) DO UPDATE SET
			name = excluded.name,
			webhook_url = excluded.webhook_url,
			enabled = excluded.enabled,
			cooldown_minutes = excluded.cooldown_minutes,
			max_per_hour = excluded.max_per_hour
	`, row)
	if err != nil {
		return fmt.Errorf("failed to upsert group config for %s: %w", row.OrgName, err)
	}
	return nil
}
