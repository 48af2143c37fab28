package config

import (
	"fmt"
	"time"
)

// Config represents the main korli configuration
type Config struct {
	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Session persistence
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Language model provider
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Speech synthesis and transcription
	Audio AudioConfig `json:"audio" mapstructure:"audio"`

	// Remote clip storage
	Supabase SupabaseConfig `json:"supabase" mapstructure:"supabase"`

	// Concurrency gates
	Limits LimitsConfig `json:"limits" mapstructure:"limits"`

	// Retry policy for external calls
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Conversation window
	Chat ChatConfig `json:"chat" mapstructure:"chat"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string        `json:"host" mapstructure:"host"`
	Port               int           `json:"port" mapstructure:"port"`
	ShutdownTimeout    time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RateLimitPerMinute int           `json:"rate_limit_per_minute" mapstructure:"rate_limit_per_minute"` // 0 disables
	MaxAudioBytes      int64         `json:"max_audio_bytes" mapstructure:"max_audio_bytes"`
	DedupTTL           time.Duration `json:"dedup_ttl" mapstructure:"dedup_ttl"` // Idempotency-Key replay window
}

// StorageConfig selects the session store
type StorageConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // memory, file, sqlite, postgres, mysql
	DSN    string `json:"dsn" mapstructure:"dsn"`
	Dir    string `json:"dir" mapstructure:"dir"`
}

// AIConfig holds language model configuration
type AIConfig struct {
	Provider        string        `json:"provider" mapstructure:"provider"` // openai, anthropic
	APIKey          string        `json:"api_key" mapstructure:"api_key"`
	BaseURL         string        `json:"base_url" mapstructure:"base_url"`
	ResponseModel   string        `json:"response_model" mapstructure:"response_model"`
	SummaryModel    string        `json:"summary_model" mapstructure:"summary_model"`
	CorrectionModel string        `json:"correction_model" mapstructure:"correction_model"`
	RequestTimeout  time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
}

// AudioConfig holds speech configuration. Audio always uses OpenAI; an
// empty APIKey falls back to AI.APIKey when the AI provider is openai.
type AudioConfig struct {
	Enabled            bool   `json:"enabled" mapstructure:"enabled"`
	APIKey             string `json:"api_key" mapstructure:"api_key"`
	BaseURL            string `json:"base_url" mapstructure:"base_url"`
	SpeechModel        string `json:"speech_model" mapstructure:"speech_model"`
	TranscriptionModel string `json:"transcription_model" mapstructure:"transcription_model"`
	Voice              string `json:"voice" mapstructure:"voice"`
}

// SupabaseConfig holds storage bucket configuration
type SupabaseConfig struct {
	URL    string `json:"url" mapstructure:"url"`
	Key    string `json:"key" mapstructure:"key"`
	Bucket string `json:"bucket" mapstructure:"bucket"`
}

// LimitsConfig holds gate capacities
type LimitsConfig struct {
	Global        int `json:"global" mapstructure:"global"`
	Generation    int `json:"generation" mapstructure:"generation"`
	Summarization int `json:"summarization" mapstructure:"summarization"`
	Correction    int `json:"correction" mapstructure:"correction"`
	Speech        int `json:"speech" mapstructure:"speech"`
	Transcription int `json:"transcription" mapstructure:"transcription"`
	Upload        int `json:"upload" mapstructure:"upload"`
	PerSession    int `json:"per_session" mapstructure:"per_session"`
}

// RetryConfig holds the retry policy
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay" mapstructure:"max_delay"`
}

// ChatConfig holds compaction settings
type ChatConfig struct {
	SummaryThreshold int `json:"summary_threshold" mapstructure:"summary_threshold"`
	KeepMessages     int `json:"keep_messages" mapstructure:"keep_messages"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    false,
			Redaction: true,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ShutdownTimeout: 30 * time.Second,
			MaxAudioBytes:   25 << 20,
			DedupTTL:        5 * time.Minute,
		},
		Storage: StorageConfig{
			Driver: "file",
		},
		AI: AIConfig{
			Provider:        "openai",
			ResponseModel:   "gpt-4o",
			SummaryModel:    "gpt-4o-mini",
			CorrectionModel: "gpt-4o-mini",
			RequestTimeout:  30 * time.Second,
		},
		Audio: AudioConfig{
			Enabled:            true,
			SpeechModel:        "gpt-4o-mini-tts",
			TranscriptionModel: "whisper-1",
			Voice:              "alloy",
		},
		Supabase: SupabaseConfig{
			Bucket: "audio-bucket",
		},
		Limits: LimitsConfig{
			Global:        100,
			Generation:    20,
			Summarization: 20,
			Correction:    20,
			Speech:        20,
			Transcription: 20,
			Upload:        10,
			PerSession:    2,
		},
		Retry: RetryConfig{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    6 * time.Second,
		},
		Chat: ChatConfig{
			SummaryThreshold: 30,
			KeepMessages:     20,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			SampleRatio: 1.0,
		},
	}
}

// Validate checks the settings serve needs before it starts.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("invalid AI provider %q (must be: openai, anthropic)", c.AI.Provider)
	}
	if c.AI.APIKey == "" {
		return fmt.Errorf("no AI credentials configured: ai.api_key is required")
	}
	if c.AI.ResponseModel == "" || c.AI.SummaryModel == "" || c.AI.CorrectionModel == "" {
		return fmt.Errorf("ai: response_model, summary_model and correction_model are required")
	}

	if c.Chat.KeepMessages <= 0 {
		return fmt.Errorf("chat.keep_messages must be positive")
	}
	if c.Chat.SummaryThreshold < c.Chat.KeepMessages {
		return fmt.Errorf("chat.summary_threshold (%d) must be >= chat.keep_messages (%d)",
			c.Chat.SummaryThreshold, c.Chat.KeepMessages)
	}

	if c.Audio.Enabled && c.Audio.APIKey == "" {
		return fmt.Errorf("audio is enabled but no OpenAI key is configured")
	}
	if (c.Supabase.URL == "") != (c.Supabase.Key == "") {
		return fmt.Errorf("supabase: url and key must be set together")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}

	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
