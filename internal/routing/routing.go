// Package routing implements the group-routing registry: it maps an
// opportunity's org name to the Slack (or compatible) webhook its reminder
// notifications go to. Escalations always go to the single escalation
// webhook regardless of org, and a reminder whose org has no enabled route
// is redirected there too rather than silently dropped.
package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/store"
)

// Route is one organization's resolved destination.
type Route struct {
	OrgName    string
	WebhookURL string
	Enabled    bool
	Cooldown   time.Duration
	MaxPerHour int
}

// Registry holds every configured route in memory, refreshed from the
// group_configs table. Lookups never hit the database directly so the
// notification manager can call Resolve on a hot path without added
// latency per opportunity.
type Registry struct {
	routes            map[string]Route
	escalationWebhook string
}

// Load reads every group_configs row and builds a Registry.
// escalationWebhook is the single escalation channel: every
// escalation message goes there, and reminders for orgs with no enabled
// route are redirected there as well so they are not silently dropped.
func Load(ctx context.Context, db *sqlx.DB, escalationWebhook string) (*Registry, error) {
	rows, err := store.ListGroupConfigs(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to load routing registry: %w", err)
	}

	routes := make(map[string]Route, len(rows))
	for _, r := range rows {
		routes[r.OrgName] = Route{
			OrgName:    r.OrgName,
			WebhookURL: r.WebhookURL,
			Enabled:    r.Enabled,
			Cooldown:   time.Duration(r.CooldownMinutes) * time.Minute,
			MaxPerHour: r.MaxPerHour,
		}
	}

	return &Registry{routes: routes, escalationWebhook: escalationWebhook}, nil
}

// NewStatic builds a Registry directly from routes, bypassing the
// database, for callers that know the routes up front rather than loading
// them from group_configs; the tests use it. The YAML seed path upserts
// into group_configs and then uses Load.
func NewStatic(routes map[string]Route, escalationWebhook string) *Registry {
	return &Registry{routes: routes, escalationWebhook: escalationWebhook}
}

// Resolve returns the destination for orgName. Escalations always resolve
// to the single escalation webhook regardless of orgName; a reminder
// resolves to the org's enabled route, or redirects to the escalation
// webhook when the org has none.
func (r *Registry) Resolve(orgName string, isEscalation bool) (Route, error) {
	if isEscalation {
		if r.escalationWebhook == "" {
			return Route{}, fmt.Errorf("%w: no escalation webhook configured", agenterrors.ErrNoWebhookRoute)
		}
		return Route{OrgName: orgName, WebhookURL: r.escalationWebhook, Enabled: true}, nil
	}

	route, ok := r.routes[orgName]
	if ok && route.Enabled {
		return route, nil
	}

	if r.escalationWebhook != "" {
		return Route{OrgName: orgName, WebhookURL: r.escalationWebhook, Enabled: true}, nil
	}

	return Route{}, fmt.Errorf("%w: org %q", agenterrors.ErrNoWebhookRoute, orgName)
}

// Orgs returns every org name with an enabled route, for diagnostics.
func (r *Registry) Orgs() []string {
	out := make([]string, 0, len(r.routes))
	for name, route := range r.routes {
		if route.Enabled {
			out = append(out, name)
		}
	}
	return out
}
