package config

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"loadline/internal/domain"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default("acme")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "acme", cfg.Organization.ID)
	assert.Equal(t, 8.0, cfg.Capacity.DefaultHours)
	require.Len(t, cfg.Severity.Bands, 3)
	assert.Equal(t, domain.SeverityLow, cfg.Severity.Bands[0].Severity)
	assert.True(t, cfg.Weight(domain.AllocationGhost).IsZero())
	assert.Equal(t, "1", cfg.Weight(domain.AllocationHard).String())
	assert.True(t, cfg.RequiresJustification(domain.AllocationSoft))
	assert.False(t, cfg.RequiresJustification(domain.AllocationHard))
}

func TestValidateRejectsBadBands(t *testing.T) {
	cases := map[string]string{
		"non increasing": `
    - severity: LOW
      max_ratio: 1.5
    - severity: MEDIUM
      max_ratio: 1.2`,
		"critical band": `
    - severity: CRITICAL
      max_ratio: 3`,
		"ratio below one": `
    - severity: LOW
      max_ratio: 0.9`,
		"unknown": `
    - severity: SEVERE
      max_ratio: 1.5`,
	}
	for name, bands := range cases {
		t.Run(name, func(t *testing.T) {
			doc := strings.Replace(GenerateDefault("acme"), `    - severity: LOW
      max_ratio: 1.2
    - severity: MEDIUM
      max_ratio: 1.5
    - severity: HIGH
      max_ratio: 2.0`, strings.TrimPrefix(bands, "\n"), 1)
			_, err := FromYAML([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestValidateWebhooks(t *testing.T) {
	cfg := Default("acme")
	cfg.Notify.Webhooks = []WebhookConfig{{ID: "ops", URL: "http://example.invalid"}, {ID: "ops", URL: "http://x"}}
	require.ErrorContains(t, cfg.Validate(), "duplicate")

	cfg.Notify.Webhooks = []WebhookConfig{{ID: "ops"}}
	require.ErrorContains(t, cfg.Validate(), "requires url")
}

func TestValidatePubSubPair(t *testing.T) {
	cfg := Default("acme")
	cfg.Notify.PubSub.ProjectID = "gcp-proj"
	require.Error(t, cfg.Validate())
	cfg.Notify.PubSub.Topic = "conflicts"
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Notify.PubSub.Enabled())
}

func TestConfigSurvivesJSONRoundTrip(t *testing.T) {
	cfg := Default("acme")
	cfg.Conflicts.Recurrence = RecurrenceReopenAuto
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	var back Config
	require.NoError(t, json.Unmarshal(data, &back))
	require.NoError(t, back.Validate())
	assert.Equal(t, cfg.Severity.Bands, back.Severity.Bands)
	assert.Equal(t, RecurrenceReopenAuto, back.Conflicts.Recurrence)
}

func TestRuntimeValidate(t *testing.T) {
	rt := DefaultRuntime()
	require.NoError(t, rt.Validate())
	rt.Lock.Backend = LockBackendRedis
	require.Error(t, rt.Validate())
	rt.Lock.Redis.Addr = "localhost:6379"
	require.NoError(t, rt.Validate())
	rt.Lock.Backend = "etcd"
	require.Error(t, rt.Validate())
}
