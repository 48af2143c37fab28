package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runWizard(t *testing.T, base *Config, answers ...string) (*Config, string, error) {
	t.Helper()
	var out bytes.Buffer
	w := NewWizard(strings.NewReader(strings.Join(answers, "\n")+"\n"), &out)
	cfg, err := w.Run(base)
	return cfg, out.String(), err
}

func TestWizardRun(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		cfg, out, err := runWizard(t, nil,
			"",          // provider
			"sk-openai", // key
			"", "", "",  // models
			"",          // audio
			"",          // driver
			"",          // port
			"",          // log level
		)

		require.NoError(t, err)
		assert.Equal(t, "openai", cfg.AI.Provider)
		assert.Equal(t, "sk-openai", cfg.AI.APIKey)
		assert.Equal(t, "gpt-4o", cfg.AI.ResponseModel)
		assert.True(t, cfg.Audio.Enabled)
		assert.Equal(t, "file", cfg.Storage.Driver)
		assert.Equal(t, 8000, cfg.Server.Port)
		assert.Contains(t, out, "Configuration complete!")
	})

	t.Run("reprompts on invalid answers", func(t *testing.T) {
		cfg, out, err := runWizard(t, nil,
			"gemini", "anthropic",
			"not-a-key", "sk-ant-ok",
			"", "", "",
			"y", "sk-audio",
			"redis", "postgres", "postgres://db/korli",
			"abc", "9000",
			"loud",
		)

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.AI.Provider)
		assert.Equal(t, "sk-ant-ok", cfg.AI.APIKey)
		assert.Equal(t, "claude-sonnet-4-5", cfg.AI.ResponseModel)
		assert.Equal(t, "sk-audio", cfg.Audio.APIKey)
		assert.Equal(t, "postgres", cfg.Storage.Driver)
		assert.Equal(t, "postgres://db/korli", cfg.Storage.DSN)
		assert.Equal(t, 9000, cfg.Server.Port)
		assert.Equal(t, "info", cfg.Logging.Level)
		assert.Contains(t, out, `unknown provider "gemini"`)
		assert.Contains(t, out, "invalid Anthropic API key format")
		assert.Contains(t, out, "invalid storage driver")
	})

	t.Run("keeps existing key", func(t *testing.T) {
		base := DefaultConfig()
		base.AI.APIKey = "sk-existing"

		cfg, _, err := runWizard(t, base, "", "", "", "", "", "n", "memory", "", "debug")

		require.NoError(t, err)
		assert.Equal(t, "sk-existing", cfg.AI.APIKey)
		assert.False(t, cfg.Audio.Enabled)
		assert.Equal(t, "memory", cfg.Storage.Driver)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "file", base.Storage.Driver, "base is not modified")
	})

	t.Run("input ends early", func(t *testing.T) {
		_, _, err := runWizard(t, nil, "openai")
		assert.Error(t, err)
	})
}
