package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleJSONC = `{
  // bot session
  "discord": { "token": "secret-token", "request_timeout": "5s" },
  "logging": { "level": "debug", "console": true },
  "storage": { "driver": "sqlite", "path": "./logChannels.db" },
  "attribution": { "window": "5s" },
  "reaction_roles": {
    "rules": [
      { "emoji": "1350175816314650654", "role": "1349830365761769532" }, // trailing comma below
    ],
  },
}`

const sampleYAML = `
discord:
  token: secret-token
logging:
  level: info
stats:
  enabled: true
  schedule: "@every 1h"
`

func write(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestParse_JSONCWithComments(t *testing.T) {
	m := NewConfigManager(write(t, "config.jsonc", sampleJSONC))
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "secret-token", cfg.Discord.Token)
	require.Len(t, cfg.ReactionRoles.Rules, 1)
	assert.Equal(t, "1349830365761769532", cfg.ReactionRoles.Rules[0].Role)
	assert.Same(t, cfg, m.Get())
}

func TestParse_YAML(t *testing.T) {
	cfg, err := NewConfigManager(write(t, "config.yaml", sampleYAML)).Parse()
	require.NoError(t, err)
	require.NotNil(t, cfg.Stats)
	assert.Equal(t, "@every 1h", cfg.Stats.Schedule)
}

func TestParse_Strict(t *testing.T) {
	_, err := NewConfigManager(write(t, "config.json", `{"discord":{"token":"x"},"scheduler":{}}`)).Parse()
	require.Error(t, err)

	_, err = NewConfigManager(write(t, "config.json", `{"discord":{"token":"x"}} {}`)).Parse()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Discord:     DiscordConfig{Token: " ", EventQueue: -1},
		Storage:     &StorageConfig{Driver: "postgres"},
		Attribution: AttributionConfig{Window: "-1s"},
		ReactionRoles: ReactionRolesConfig{Rules: []ReactionRoleRule{
			{Emoji: "e1", Role: "r1"},
			{Emoji: "e1", Role: "r2"},
		}},
		Stats: &StatsConfig{Enabled: true},
	}
	err := Validate(cfg)
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"discord.token", "discord.event_queue", "storage.dsn", "attribution.window", "duplicate emoji", "stats.schedule"} {
		assert.Contains(t, msg, want)
	}

	require.NoError(t, Validate(&Config{Discord: DiscordConfig{Token: "t"}}))
}

func TestLoad_RejectsInvalid(t *testing.T) {
	m := NewConfigManager(write(t, "config.json", `{"discord":{"token":""}}`))
	_, err := m.Load(context.Background())
	require.Error(t, err)
	assert.Nil(t, m.Get())
}

func TestParseDurationOrDefault(t *testing.T) {
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "250ms", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)

	_, err = ParseDurationOrDefault("x", "soon", 0)
	require.Error(t, err)
}

func TestSummarizeConfigChange_NoSecrets(t *testing.T) {
	old := &Config{
		Discord: DiscordConfig{Token: "old-token"},
		Storage: &StorageConfig{Driver: "postgres", DSN: "postgres://user:pw@db/x"},
	}
	nw := &Config{
		Discord:     DiscordConfig{Token: "new-token"},
		Storage:     &StorageConfig{Driver: "postgres", DSN: "postgres://user:pw2@db/x"},
		Attribution: AttributionConfig{Window: "10s"},
	}
	changed, attrs, restart := SummarizeConfigChange(old, nw)
	assert.Equal(t, []string{"attribution", "discord", "storage"}, changed)
	assert.Equal(t, []string{"discord", "storage"}, restart)
	assert.NotEmpty(t, attrs)

	changed, _, _ = SummarizeConfigChange(old, old)
	assert.Empty(t, changed)
}

func TestWatch_PublishesValidChanges(t *testing.T) {
	path := write(t, "config.json", `{"discord":{"token":"t"},"logging":{"level":"info"}}`)
	m := NewConfigManager(path)
	_, err := m.Load(context.Background())
	require.NoError(t, err)

	sub := m.Subscribe(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	// Give the watcher time to register before writing.
	var got *Config
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`{"discord":{"token":"t"},"logging":{"level":"debug"}}`), 0o600)
		select {
		case got = <-sub:
			return true
		default:
			return false
		}
	}, 5*time.Second, 300*time.Millisecond)
	assert.Equal(t, "debug", got.Logging.Level)

	// An invalid edit is rejected and the committed config stays.
	require.NoError(t, os.WriteFile(path, []byte(`{"discord":{"token":""}}`), 0o600))
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, "debug", m.Get().Logging.Level)
	assert.True(t, strings.HasSuffix(m.Path(), "config.json"))
}

func TestExampleConfigLoads(t *testing.T) {
	m := NewConfigManager(filepath.Join("..", "..", "config.example.jsonc"))
	cfg, err := m.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, cfg.ReactionRoles.Rules, 9)
	require.NotNil(t, cfg.ReactionRoles.Agreement)
	assert.Equal(t, "REGULAMIN SERWERA DISCORD", cfg.ReactionRoles.Agreement.MessageTitle)
	assert.Equal(t, "© tajgerek", cfg.Notifier.Footer)
}
