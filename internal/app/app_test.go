package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straznik/internal/audit"
	"straznik/internal/config"
	"straznik/internal/storage"
)

func TestMapStorageConfig(t *testing.T) {
	tests := []struct {
		name    string
		storage *config.StorageConfig
		want    storage.Config
		enabled bool
		wantErr bool
	}{
		{name: "default sqlite", want: storage.Config{Driver: "sqlite", Path: defaultStorePath, BusyTimeout: time.Second}, enabled: true},
		{name: "none", storage: &config.StorageConfig{Driver: "none"}},
		{name: "sqlite busy", storage: &config.StorageConfig{Driver: "SQLite", Path: "x.db", BusyTimeout: "3s"},
			want: storage.Config{Driver: "sqlite", Path: "x.db", BusyTimeout: 3 * time.Second}, enabled: true},
		{name: "postgres", storage: &config.StorageConfig{Driver: "postgres", DSN: " postgres://db/x "},
			want: storage.Config{Driver: "postgres", DSN: "postgres://db/x"}, enabled: true},
		{name: "mysql without dsn", storage: &config.StorageConfig{Driver: "mysql"}, wantErr: true},
		{name: "unknown", storage: &config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, enabled, err := mapStorageConfig(&config.Config{Storage: tt.storage})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.enabled, enabled)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapRegistry(t *testing.T) {
	cfg := &config.Config{ReactionRoles: config.ReactionRolesConfig{
		Rules: []config.ReactionRoleRule{{Emoji: "1350175816314650654", Role: "1349830365761769532"}},
		Agreement: &config.AgreementConfig{
			Emoji: "✅", MessageTitle: "REGULAMIN SERWERA DISCORD", Role: "1348705958213456004",
		},
	}}
	reg, err := mapRegistry(cfg)
	require.NoError(t, err)
	role, ok := reg.RoleFor("1350175816314650654")
	require.True(t, ok)
	assert.Equal(t, "1349830365761769532", role)
	role, ok = reg.AgreementRole("✅", "REGULAMIN SERWERA DISCORD")
	require.True(t, ok)
	assert.Equal(t, "1348705958213456004", role)
}

func TestMapDiscordConfig(t *testing.T) {
	got, err := mapDiscordConfig(&config.Config{Discord: config.DiscordConfig{
		Token: " tok ", RequestTimeout: "3s", HandlerConcurrency: 4,
	}})
	require.NoError(t, err)
	assert.Equal(t, "tok", got.Token)
	assert.Equal(t, 3*time.Second, got.RequestTimeout)
	assert.Equal(t, 4, got.HandlerConcurrency)

	_, err = mapDiscordConfig(&config.Config{Discord: config.DiscordConfig{HandlerTimeout: "later"}})
	require.Error(t, err)
}

func newTestApp(t *testing.T) *App {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")
	body := `{
	  "discord": { "token": "test-token" },
	  "logging": { "level": "error" },
	  "storage": { "driver": "sqlite", "path": "` + filepath.ToSlash(filepath.Join(dir, "logChannels.db")) + `" },
	  "reaction_roles": { "rules": [ { "emoji": "e1", "role": "r1" } ] },
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	a, err := NewApp(context.Background(), path)
	require.NoError(t, err)
	return a
}

func TestNewAppWiresComponents(t *testing.T) {
	a := newTestApp(t)
	assert.NotNil(t, a.store)
	assert.NotNil(t, a.pipe)
	assert.Nil(t, a.mirror)
	assert.Equal(t, audit.DefaultWindow, a.resolver.Window())

	_, ok, err := a.store.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Stop(context.Background(), StopAppStop))
}

func TestApplyConfigUpdatesLiveSections(t *testing.T) {
	a := newTestApp(t)
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	old := a.cfgm.Get()
	next := *old
	next.Attribution.Window = "12s"
	a.applyConfig(old, &next)
	assert.Equal(t, 12*time.Second, a.resolver.Window())

	// Clearing the window falls back to the default.
	prev := next
	next.Attribution.Window = ""
	a.applyConfig(&prev, &next)
	assert.Equal(t, audit.DefaultWindow, a.resolver.Window())
}

func TestNewAppRejectsDisabledStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"discord":{"token":"t"},"storage":{"driver":"none"}}`), 0o600))
	_, err := NewApp(context.Background(), path)
	require.Error(t, err)
}
