package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(Config{Level: "info", Console: true, Output: buf})
		require.NoError(t, err)
		defer logger.Close()

		z := logger.Zerolog()
		z.Info().Str("session_id", "user_1").Msg("hello")
		z.Debug().Msg("hidden")

		assert.Contains(t, buf.String(), `"session_id":"user_1"`)
		assert.Contains(t, buf.String(), `"message":"hello"`)
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("plain file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "test.log")

		logger, err := New(Config{Level: "debug", File: logFile})
		require.NoError(t, err)
		assert.Nil(t, logger.rotating)

		z := logger.Zerolog()
		z.Debug().Msg("test message")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "test message")
	})

	t.Run("rotating file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "test.log")

		logger, err := New(Config{Level: "info", File: logFile, MaxSize: 1})
		require.NoError(t, err)
		require.NotNil(t, logger.rotating)

		z := logger.Zerolog()
		z.Info().Msg("before")
		require.NoError(t, logger.Rotate())
		z.Info().Msg("after")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(content), "after")
		assert.NotContains(t, string(content), "before")
	})

	t.Run("console and file with redaction", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logFile := filepath.Join(t.TempDir(), "test.log")

		logger, err := New(Config{Level: "info", Console: true, Output: buf, File: logFile, Redaction: true})
		require.NoError(t, err)
		assert.NotNil(t, logger.redactor)

		z := logger.Zerolog()
		z.Info().Str("header", "X-API-Key: hunter2").Msg("request")
		require.NoError(t, logger.Close())

		content, err := os.ReadFile(logFile)
		require.NoError(t, err)
		for _, out := range []string{buf.String(), string(content)} {
			assert.Contains(t, out, "[REDACTED]")
			assert.NotContains(t, out, "hunter2")
		}
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		logger, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer logger.Close()

		assert.Equal(t, zerolog.InfoLevel, logger.Zerolog().GetLevel())
		assert.NoError(t, logger.Rotate())
	})

	t.Run("sets global logger", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(Config{Level: "warn", Console: true, Output: buf})
		require.NoError(t, err)
		defer logger.Close()

		log.Warn().Msg("through global")
		assert.Contains(t, buf.String(), "through global")
	})
}

func TestComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Console: true, Output: buf})
	require.NoError(t, err)
	defer logger.Close()

	c := logger.Component("msgbuffer")
	c.Info().Msg("flushed")
	assert.Contains(t, buf.String(), `"component":"msgbuffer"`)
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
	assert.Equal(t, 100, cfg.MaxSize)
	assert.Equal(t, 7, cfg.MaxAge)
	assert.True(t, cfg.Compress)
}
