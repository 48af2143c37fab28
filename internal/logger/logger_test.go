package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("file output with redaction", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "korli.log")

		l, err := New(Config{
			Level:     "debug",
			File:      logFile,
			Redaction: true,
		})
		require.NoError(t, err)

		component := l.Component("capability")
		component.Info().Str("api_key", "sk-abcdefghijklmnopqrstuvwxyz").Msg("Calling provider")
		require.NoError(t, l.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), `"component":"capability"`)
		assert.Contains(t, string(data), "[REDACTED]")
		assert.NotContains(t, string(data), "abcdefghijklmnop")
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		l, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, zerolog.InfoLevel, l.Zerolog().GetLevel())
	})

	t.Run("installs global logger", func(t *testing.T) {
		l, err := New(Config{Level: "warn"})
		require.NoError(t, err)
		defer l.Close()

		assert.Equal(t, zerolog.WarnLevel, log.Logger.GetLevel())
	})
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "info", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
}

func TestLevelMethods(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "korli.log")
	l, err := New(Config{Level: "info", File: logFile})
	require.NoError(t, err)

	l.Debug().Msg("hidden")
	l.Info().Msg("started")
	l.Warn().Msg("slow")
	l.Error().Msg("failed")
	require.NoError(t, l.Close())

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(data)
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"message":"started"`)
	assert.Contains(t, out, `"message":"slow"`)
	assert.Contains(t, out, `"message":"failed"`)
}
