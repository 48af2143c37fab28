package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "KORLI"

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file if it exists and layers environment variables
// on top. KORLI_SERVER_PORT overrides server.port; the conventional
// OPENAI_API_KEY, DATABASE_URL, SUPABASE_URL, SUPABASE_KEY, STRONG_MODEL and
// FAST_MODEL variables are honored as well.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to get home directory")
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal only sees env overrides for keys viper already knows.
	setDefaults(v, "", settings(DefaultConfig()))
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = providerKey(cfg.AI.Provider)
	}
	if cfg.Audio.APIKey == "" {
		if cfg.AI.Provider == "openai" && cfg.AI.APIKey != "" {
			cfg.Audio.APIKey = cfg.AI.APIKey
		} else {
			cfg.Audio.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".korli")
	}
	if cfg.Storage.Driver == "file" && cfg.Storage.Dir == "" {
		cfg.Storage.Dir = filepath.Join(cfg.DataDir, "sessions")
	}
	if cfg.Storage.Driver == "sqlite" && cfg.Storage.DSN == "" {
		cfg.Storage.DSN = filepath.Join(cfg.DataDir, "korli.db")
	}

	return cfg, nil
}

func bindEnv(v *viper.Viper) error {
	aliases := map[string][]string{
		"storage.dsn":         {"DATABASE_URL"},
		"supabase.url":        {"SUPABASE_URL"},
		"supabase.key":        {"SUPABASE_KEY"},
		"ai.response_model":   {"STRONG_MODEL"},
		"ai.summary_model":    {"FAST_MODEL"},
		"ai.correction_model": {"FAST_MODEL"},
	}
	for key, names := range aliases {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(append([]string{key, prefixed}, names...)...); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}

func providerKey(provider string) string {
	switch provider {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	}
	return ""
}

func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for k, val := range values {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}

// settings flattens cfg into the nested map written to disk. Durations are
// stored in their string form so the file stays hand-editable.
func settings(cfg *Config) map[string]any {
	dur := func(d time.Duration) string { return d.String() }
	return map[string]any{
		"logging": map[string]any{
			"level":     cfg.Logging.Level,
			"file":      cfg.Logging.File,
			"console":   cfg.Logging.Console,
			"pretty":    cfg.Logging.Pretty,
			"redaction": cfg.Logging.Redaction,
		},
		"server": map[string]any{
			"host":                  cfg.Server.Host,
			"port":                  cfg.Server.Port,
			"shutdown_timeout":      dur(cfg.Server.ShutdownTimeout),
			"rate_limit_per_minute": cfg.Server.RateLimitPerMinute,
			"max_audio_bytes":       cfg.Server.MaxAudioBytes,
			"dedup_ttl":             dur(cfg.Server.DedupTTL),
		},
		"storage": map[string]any{
			"driver": cfg.Storage.Driver,
			"dsn":    cfg.Storage.DSN,
			"dir":    cfg.Storage.Dir,
		},
		"ai": map[string]any{
			"provider":         cfg.AI.Provider,
			"api_key":          cfg.AI.APIKey,
			"base_url":         cfg.AI.BaseURL,
			"response_model":   cfg.AI.ResponseModel,
			"summary_model":    cfg.AI.SummaryModel,
			"correction_model": cfg.AI.CorrectionModel,
			"request_timeout":  dur(cfg.AI.RequestTimeout),
		},
		"audio": map[string]any{
			"enabled":             cfg.Audio.Enabled,
			"api_key":             cfg.Audio.APIKey,
			"base_url":            cfg.Audio.BaseURL,
			"speech_model":        cfg.Audio.SpeechModel,
			"transcription_model": cfg.Audio.TranscriptionModel,
			"voice":               cfg.Audio.Voice,
		},
		"supabase": map[string]any{
			"url":    cfg.Supabase.URL,
			"key":    cfg.Supabase.Key,
			"bucket": cfg.Supabase.Bucket,
		},
		"limits": map[string]any{
			"global":        cfg.Limits.Global,
			"generation":    cfg.Limits.Generation,
			"summarization": cfg.Limits.Summarization,
			"correction":    cfg.Limits.Correction,
			"speech":        cfg.Limits.Speech,
			"transcription": cfg.Limits.Transcription,
			"upload":        cfg.Limits.Upload,
			"per_session":   cfg.Limits.PerSession,
		},
		"retry": map[string]any{
			"max_attempts": cfg.Retry.MaxAttempts,
			"base_delay":   dur(cfg.Retry.BaseDelay),
			"max_delay":    dur(cfg.Retry.MaxDelay),
		},
		"chat": map[string]any{
			"summary_threshold": cfg.Chat.SummaryThreshold,
			"keep_messages":     cfg.Chat.KeepMessages,
		},
		"tracing": map[string]any{
			"enabled":      cfg.Tracing.Enabled,
			"sample_ratio": cfg.Tracing.SampleRatio,
		},
		"data_dir": cfg.DataDir,
	}
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to get home directory")
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")
	for key, value := range settings(cfg) {
		v.Set(key, value)
	}

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	// The file holds API keys.
	if err := os.Chmod(configPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file permissions: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".korli", "korli.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
