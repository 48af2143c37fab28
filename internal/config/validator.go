package config

import (
	"fmt"
	"slices"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if slices.Contains(validLevels, level) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateStorageDriver validates the session store driver
func (v *Validator) ValidateStorageDriver(driver string) error {
	validDrivers := []string{"memory", "file", "sqlite", "postgres", "mysql"}
	if slices.Contains(validDrivers, driver) {
		return nil
	}
	return fmt.Errorf("invalid storage driver: %s (must be one of: %s)", driver, strings.Join(validDrivers, ", "))
}

// ValidateVoice validates a speech voice name
func (v *Validator) ValidateVoice(voice string) error {
	if voice == "" {
		return nil // Use default
	}
	validVoices := []string{"alloy", "ash", "ballad", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer", "verse"}
	if slices.Contains(validVoices, voice) {
		return nil
	}
	return fmt.Errorf("invalid voice: %s (must be one of: %s)", voice, strings.Join(validVoices, ", "))
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateSampleRatio validates a trace sampling ratio
func (v *Validator) ValidateSampleRatio(ratio float64) error {
	if ratio < 0 || ratio > 1 {
		return fmt.Errorf("sample ratio must be between 0 and 1, got %f", ratio)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	// Key formats are only enforced against the vendors' own endpoints.
	if cfg.AI.BaseURL == "" && cfg.AI.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.AI.APIKey, cfg.AI.Provider); err != nil {
			errors = append(errors, fmt.Errorf("ai: %w", err))
		}
	}
	if cfg.Audio.Enabled && cfg.Audio.BaseURL == "" && cfg.Audio.APIKey != "" {
		if err := v.ValidateAPIKey(cfg.Audio.APIKey, "openai"); err != nil {
			errors = append(errors, fmt.Errorf("audio: %w", err))
		}
	}
	if err := v.ValidateVoice(cfg.Audio.Voice); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateStorageDriver(cfg.Storage.Driver); err != nil {
		errors = append(errors, err)
	}
	switch cfg.Storage.Driver {
	case "postgres", "mysql", "sqlite":
		if cfg.Storage.DSN == "" {
			errors = append(errors, fmt.Errorf("storage.dsn is required for driver %s", cfg.Storage.Driver))
		}
	}

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, err)
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errors = append(errors, fmt.Errorf("server.rate_limit_per_minute must be >= 0"))
	}
	if cfg.Server.MaxAudioBytes <= 0 {
		errors = append(errors, fmt.Errorf("server.max_audio_bytes must be positive"))
	}
	if cfg.Server.DedupTTL < 0 {
		errors = append(errors, fmt.Errorf("server.dedup_ttl must be >= 0"))
	}

	limits := []struct {
		name  string
		value int
	}{
		{"global", cfg.Limits.Global},
		{"generation", cfg.Limits.Generation},
		{"summarization", cfg.Limits.Summarization},
		{"correction", cfg.Limits.Correction},
		{"speech", cfg.Limits.Speech},
		{"transcription", cfg.Limits.Transcription},
		{"upload", cfg.Limits.Upload},
		{"per_session", cfg.Limits.PerSession},
	}
	for _, l := range limits {
		if l.value < 1 {
			errors = append(errors, fmt.Errorf("limits.%s must be >= 1, got %d", l.name, l.value))
		}
	}

	if cfg.Retry.BaseDelay < 0 || cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		errors = append(errors, fmt.Errorf("retry: need 0 <= base_delay <= max_delay"))
	}

	if err := v.ValidateSampleRatio(cfg.Tracing.SampleRatio); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
