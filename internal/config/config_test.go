package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, Version, cfg.Version)
	assert.NotEmpty(t, cfg.Storage.Path)
	assert.NotEmpty(t, cfg.Storage.KeyPath)
	assert.True(t, cfg.Library.WatchPacks)
	assert.False(t, cfg.Placeholders.EnableScript)
	assert.Equal(t, 2*time.Second, cfg.Engine.SuppressionLifetime())
	assert.Equal(t, 50*time.Millisecond, cfg.Placeholders.ScriptTimeout())
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Version, cfg.Version)
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
version = 1

[matcher]
word_boundary = true

[engine]
suppression_lifetime_ms = 1500

[placeholders]
enable_script = true
script_timeout_ms = 100

[logging]
level = "debug"
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Matcher.WordBoundary)
	assert.Equal(t, 1500, cfg.Engine.SuppressionLifetimeMs)
	assert.True(t, cfg.Placeholders.EnableScript)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 300, cfg.Engine.SettleDelayMs)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
engine:
  settle_delay_ms: 450
notifications:
  enabled: false
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 450, cfg.Engine.SettleDelayMs)
	assert.False(t, cfg.Notifications.Enabled)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"version": 1,
		"ipc": {"enabled": true, "socket_path": "/tmp/test.sock", "max_connections": 2, "timeout_sec": 5}
	}`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.sock", cfg.IPC.SocketPath)
	assert.Equal(t, 2, cfg.IPC.MaxConnections)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad version", func(c *Config) { c.Version = 99 }},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad output", func(c *Config) { c.Logging.Output = "syslog" }},
		{"file output without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }},
		{"zero suppression", func(c *Config) { c.Engine.SuppressionLifetimeMs = 0 }},
		{"negative settle", func(c *Config) { c.Engine.SettleDelayMs = -1 }},
		{"zero script timeout", func(c *Config) { c.Placeholders.ScriptTimeoutMs = 0 }},
		{"empty storage path", func(c *Config) { c.Storage.Path = "" }},
		{"empty key path", func(c *Config) { c.Storage.KeyPath = "" }},
		{"ipc without socket", func(c *Config) { c.IPC.SocketPath = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SNIPD_STORAGE_PATH", "/custom/snippets.db")
	t.Setenv("SNIPD_LOG_LEVEL", "debug")
	t.Setenv("SNIPD_ENABLE_SCRIPT", "true")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "/custom/snippets.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Placeholders.EnableScript)
}

func TestSnipdDirEnvOverride(t *testing.T) {
	t.Setenv("SNIPD_DATA_DIR", "/custom/data")
	assert.Equal(t, "/custom/data", SnipdDir())
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := DefaultConfig()
	cfg.Matcher.WordBoundary = true
	cfg.Engine.SettleDelayMs = 123
	require.NoError(t, SaveConfig(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, loaded.Matcher.WordBoundary)
	assert.Equal(t, 123, loaded.Engine.SettleDelayMs)
}

func TestLoadOrCreateWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, Version, cfg.Version)

	_, created, err = LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestLoaderReloadOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)
	defer loader.Close()

	changed := make(chan *Config, 1)
	loader.OnChange(func(cfg *Config) {
		select {
		case changed <- cfg:
		default:
		}
	})
	require.NoError(t, loader.Watch())

	require.NoError(t, os.WriteFile(path, []byte("version = 1\n\n[matcher]\nword_boundary = true\n"), 0600))

	select {
	case cfg := <-changed:
		assert.True(t, cfg.Matcher.WordBoundary)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after config change")
	}
}

func TestLoaderKeepsOldConfigOnInvalidReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("version = 1\n"), 0600))

	loader := NewLoader(path)
	_, err := loader.Load()
	require.NoError(t, err)
	defer loader.Close()
	require.NoError(t, loader.Watch())

	require.NoError(t, os.WriteFile(path, []byte("version = 1\n\n[logging]\nlevel = \"shout\"\n"), 0600))

	select {
	case err := <-loader.Errors():
		assert.ErrorContains(t, err, "log level")
	case <-time.After(5 * time.Second):
		t.Fatal("no validation error after bad reload")
	}
	assert.Equal(t, "info", loader.Config().Logging.Level)
}
