package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulirotta/ahma-mcp-go/internal/envfilter"
)

func TestDefault_HasSensibleDefinitionsDir(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "tools.d", cfg.Server.DefinitionsDir)
	assert.Equal(t, envfilter.InheritAll, cfg.Exec.Env.Inherit)
}

func TestLoad_OverridesDefaultsFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[server]
definitions_dir = "/etc/toolforge/tools.d"

[sandbox]
scope = "/workspace"

[monitor]
retention_seconds = 600
max_history = 5000

[dispatch]
force_sync = true
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/etc/toolforge/tools.d", cfg.Server.DefinitionsDir)
	assert.Equal(t, "/workspace", cfg.Sandbox.Scope)
	assert.True(t, cfg.Dispatch.ForceSync)
	assert.Equal(t, 5000, cfg.Monitor.MaxHistory)
	assert.Equal(t, 600, int(cfg.RetentionWindow().Seconds()))
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
}
