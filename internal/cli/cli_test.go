package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"straznik/internal/storage"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	db := filepath.ToSlash(filepath.Join(dir, "logChannels.db"))
	path := filepath.Join(dir, "config.jsonc")
	body := `{
	  // offline commands only read storage
	  "discord": { "token": "" },
	  "storage": { "driver": "sqlite", "path": "` + db + `" },
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range [][]string{{"run"}, {"migrate"}, {"route", "get"}, {"route", "set"}} {
		sub, _, err := cmd.Find(name)
		require.NoError(t, err)
		assert.Equal(t, name[len(name)-1], sub.Name())
	}
	flag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	assert.Equal(t, "c", flag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "migrate")
	require.Error(t, err)
}

func TestMigrateCreatesTable(t *testing.T) {
	cfg := writeConfig(t)
	out, err := execute(t, "--config", cfg, "--format", "json", "migrate")
	require.NoError(t, err)

	var res MigrateResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.CreatedTable)
	assert.Empty(t, res.Failed)

	// A second run finds the table in place.
	out, err = execute(t, "--config", cfg, "--format", "json", "migrate")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.False(t, res.CreatedTable)
}

func TestRouteSetThenGet(t *testing.T) {
	cfg := writeConfig(t)

	_, err := execute(t, "--config", cfg, "route", "set", "g1", "voice", "c1")
	require.NoError(t, err)
	_, err = execute(t, "--config", cfg, "route", "set", "g1", "EDIT", "c2")
	require.NoError(t, err)

	out, err := execute(t, "--config", cfg, "--format", "json", "route", "get", "g1")
	require.NoError(t, err)
	var rc storage.RoutingConfig
	require.NoError(t, json.Unmarshal([]byte(out), &rc))
	assert.Equal(t, storage.RoutingConfig{ServerID: "g1", Voice: "c1", Edit: "c2"}, rc)

	out, err = execute(t, "--config", cfg, "route", "get", "g1")
	require.NoError(t, err)
	assert.Contains(t, out, "voice  c1")
	assert.Contains(t, out, "text   -")
}

func TestRouteSetRejectsUnknownCategory(t *testing.T) {
	cfg := writeConfig(t)
	_, err := execute(t, "--config", cfg, "route", "set", "g1", "audio", "c1")
	require.ErrorIs(t, err, storage.ErrUnknownCategory)
}
