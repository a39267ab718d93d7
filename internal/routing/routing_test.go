package routing_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksunye/FSOpsAssistant/internal/agenterrors"
	"github.com/franksunye/FSOpsAssistant/internal/routing"
	"github.com/franksunye/FSOpsAssistant/internal/store"
)

func TestResolve_RoutedOrg(t *testing.T) {
	r := routing.NewStatic(map[string]routing.Route{
		"org-a": {OrgName: "org-a", WebhookURL: "https://hooks.example/a", Enabled: true},
	}, "")

	route, err := r.Resolve("org-a", false)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/a", route.WebhookURL)
}

func TestResolve_UnroutedReminder_RedirectsToEscalationWebhook(t *testing.T) {
	r := routing.NewStatic(nil, "https://hooks.example/escalation")

	route, err := r.Resolve("org-unknown", false)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/escalation", route.WebhookURL)
}

func TestResolve_Escalation_IgnoresOrgRoute(t *testing.T) {
	r := routing.NewStatic(map[string]routing.Route{
		"org-a": {OrgName: "org-a", WebhookURL: "https://hooks.example/a", Enabled: true},
	}, "https://hooks.example/escalation")

	route, err := r.Resolve("org-a", true)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/escalation", route.WebhookURL)
}

func TestResolve_DisabledRoute_TreatedAsUnrouted(t *testing.T) {
	r := routing.NewStatic(map[string]routing.Route{
		"org-a": {OrgName: "org-a", WebhookURL: "https://hooks.example/a", Enabled: false},
	}, "")

	_, err := r.Resolve("org-a", false)
	assert.ErrorIs(t, err, agenterrors.ErrNoWebhookRoute)
}

func TestResolve_NoRouteNoEscalationWebhook_Errors(t *testing.T) {
	r := routing.NewStatic(nil, "")

	_, err := r.Resolve("org-unknown", true)
	assert.ErrorIs(t, err, agenterrors.ErrNoWebhookRoute)
}

func TestLoadSeedFile_UpsertsRows(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "groups.yaml")
	content := `
groups:
  - orgName: org-a
    name: Org A
    webhookUrl: https://hooks.example/a
    enabled: true
    cooldownMinutes: 120
    maxPerHour: 10
`
	require.NoError(t, os.WriteFile(seedPath, []byte(content), 0o600))

	n, err := routing.LoadSeedFile(context.Background(), db, seedPath)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reg, err := routing.Load(context.Background(), db, "")
	require.NoError(t, err)
	route, err := reg.Resolve("org-a", false)
	require.NoError(t, err)
	assert.Equal(t, "https://hooks.example/a", route.WebhookURL)
}

func TestLoadSeedFile_RejectsInvalidWebhookURL(t *testing.T) {
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	seedPath := filepath.Join(dir, "groups.yaml")
	content := `
groups:
  - orgName: org-a
    name: Org A
    webhookUrl: "not-a-url"
`
	require.NoError(t, os.WriteFile(seedPath, []byte(content), 0o600))

	_, err = routing.LoadSeedFile(context.Background(), db, seedPath)
	assert.Error(t, err)
}
