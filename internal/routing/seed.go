package routing

import (
	"context"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/franksunye/FSOpsAssistant/internal/store"
)

// SeedEntry is one organization's bootstrap routing row, as read from the
// optional YAML seed file named by agentconfig.Config.GroupConfigSeed.
type SeedEntry struct {
	OrgName         string `yaml:"orgName" validate:"required"`
	Name            string `yaml:"name" validate:"required"`
	WebhookURL      string `yaml:"webhookUrl" validate:"required,url"`
	Enabled         bool   `yaml:"enabled"`
	CooldownMinutes int    `yaml:"cooldownMinutes" validate:"gte=0"`
	MaxPerHour      int    `yaml:"maxPerHour" validate:"gte=0"`
}

type seedFile struct {
	Groups []SeedEntry `yaml:"groups"`
}

var seedValidator = validator.New()

// LoadSeedFile reads a YAML file of GroupConfig rows, validates every entry,
// and upserts them into group_configs. It is meant to run once at process
// startup — an invalid entry aborts the whole load rather than seeding a
// half-valid routing table.
func LoadSeedFile(ctx context.Context, db *sqlx.DB, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read group config seed %s: %w", path, err)
	}

	var parsed seedFile
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("failed to parse group config seed %s: %w", path, err)
	}

	for i, entry := range parsed.Groups {
		if err := seedValidator.Struct(entry); err != nil {
			return 0, fmt.Errorf("group config seed %s entry %d (%s) is invalid: %w", path, i, entry.OrgName, err)
		}
	}

	for _, entry := range parsed.Groups {
		row := store.GroupConfigRow{
			OrgName:         entry.OrgName,
			Name:            entry.Name,
			WebhookURL:      entry.WebhookURL,
			Enabled:         entry.Enabled,
			CooldownMinutes: entry.CooldownMinutes,
			MaxPerHour:      entry.MaxPerHour,
		}
		if err := store.UpsertGroupConfig(ctx, db, row); err != nil {
			return 0, fmt.Errorf("failed to seed group config for %s: %w", entry.OrgName, err)
		}
	}

	return len(parsed.Groups), nil
}
