package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.yaml")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.yaml", loader.GetConfigPath())
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Equal(t, "claude", cfg.Agent.Bin)
		assert.Equal(t, 2.0, cfg.Debounce.Window)
		assert.Equal(t, "\n", cfg.Debounce.MessageSeparator)
		assert.Equal(t, "@every 10m", cfg.Session.CleanupSchedule)
	})

	t.Run("load yaml config", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		testConfig := `
server:
  port: 9000
  api_key: secret
  allowed_users: [alice, bob]
debounce:
  debounce_window: 1.5
  message_separator: " | "
tasks:
  max_concurrent_tasks: 3
`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "secret", cfg.Server.APIKey)
		assert.Equal(t, []string{"alice", "bob"}, cfg.Server.AllowedUsers)
		assert.Equal(t, 1.5, cfg.Debounce.Window)
		assert.Equal(t, " | ", cfg.Debounce.MessageSeparator)
		assert.Equal(t, 3, cfg.Tasks.MaxConcurrent)

		// Untouched keys keep their defaults.
		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.True(t, cfg.Debounce.Enabled)
		assert.Equal(t, 10.0, cfg.Debounce.MaxWindow)
	})

	t.Run("load json config", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		testConfig := `{
			"debounce": {"enable_message_debouncing": false},
			"logging": {"level": "debug"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.False(t, cfg.Debounce.Enabled)
		assert.Equal(t, "debug", cfg.Logging.Level)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("server:\n  port: 9000\n"), 0644))

		t.Setenv("CCSERVER_SERVER_PORT", "9100")
		t.Setenv("CCSERVER_DEBOUNCE_MAX_DEBOUNCE_WINDOW", "30")

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, 9100, cfg.Server.Port)
		assert.Equal(t, 30.0, cfg.Debounce.MaxWindow)
	})

	t.Run("dotenv next to config", func(t *testing.T) {
		dir := t.TempDir()
		configPath := filepath.Join(dir, "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("agent:\n  bin: echo\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CCSERVER_SERVER_API_KEY=from-dotenv\n"), 0644))
		t.Cleanup(func() { os.Unsetenv("CCSERVER_SERVER_API_KEY") })

		cfg, err := NewLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "from-dotenv", cfg.Server.APIKey)
		assert.Equal(t, "echo", cfg.Agent.Bin)
	})

	t.Run("invalid file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte("{not json"), 0644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	loader := NewLoader(configPath)

	cfg := DefaultConfig()
	cfg.Server.Port = 8123
	cfg.Debounce.Window = 4
	require.NoError(t, loader.Save(cfg))

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, 8123, loaded.Server.Port)
	assert.Equal(t, 4.0, loaded.Debounce.Window)
}

func TestLoaderWatch(t *testing.T) {
	t.Run("requires a loaded file", func(t *testing.T) {
		loader := NewLoader(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.ErrorIs(t, loader.Watch(func(*Config) {}), ErrNoConfigFile)

		_, err := loader.Load()
		require.NoError(t, err)
		assert.ErrorIs(t, loader.Watch(func(*Config) {}), ErrNoConfigFile)
	})

	t.Run("reloads on change", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("debounce:\n  debounce_window: 2\n"), 0644))

		loader := NewLoader(configPath)
		_, err := loader.Load()
		require.NoError(t, err)

		changes := make(chan *Config, 10)
		require.NoError(t, loader.Watch(func(cfg *Config) { changes <- cfg }))

		require.NoError(t, os.WriteFile(configPath, []byte("debounce:\n  debounce_window: 3\n  enable_message_debouncing: false\n"), 0644))

		timeout := time.After(5 * time.Second)
		for {
			select {
			case cfg := <-changes:
				if cfg.Debounce.Window != 3 {
					continue
				}
				assert.False(t, cfg.Debounce.Enabled)
				return
			case <-timeout:
				t.Fatal("timed out waiting for config reload")
			}
		}
	})
}
