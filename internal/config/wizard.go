package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard that prompts on out and reads answers from in.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard starting from base, which
// supplies the defaults shown in brackets.
func (w *Wizard) Run(base *Config) (*Config, error) {
	fmt.Fprintln(w.out, "=== Korli Configuration Wizard ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	if base != nil {
		c := *base
		cfg = &c
	}
	validator := NewValidator()

	// Provider
	fmt.Fprintln(w.out, "Language model:")
	for {
		provider, err := w.ask("Provider (openai/anthropic)", cfg.AI.Provider)
		if err != nil {
			return nil, err
		}
		if provider != "openai" && provider != "anthropic" {
			fmt.Fprintf(w.out, "Error: unknown provider %q\n", provider)
			continue
		}
		if provider != cfg.AI.Provider && provider == "anthropic" {
			cfg.AI.ResponseModel = "claude-sonnet-4-5"
			cfg.AI.SummaryModel = "claude-haiku-4-5"
			cfg.AI.CorrectionModel = "claude-haiku-4-5"
		}
		cfg.AI.Provider = provider
		break
	}

	for {
		fmt.Fprintf(w.out, "%s API Key%s: ", cfg.AI.Provider, keepHint(cfg.AI.APIKey))
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" && cfg.AI.APIKey != "" {
			break
		}
		if err := validator.ValidateAPIKey(key, cfg.AI.Provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.AI.APIKey = key
		break
	}

	var err error
	if cfg.AI.ResponseModel, err = w.ask("Response model", cfg.AI.ResponseModel); err != nil {
		return nil, err
	}
	if cfg.AI.SummaryModel, err = w.ask("Summary model", cfg.AI.SummaryModel); err != nil {
		return nil, err
	}
	if cfg.AI.CorrectionModel, err = w.ask("Correction model", cfg.AI.CorrectionModel); err != nil {
		return nil, err
	}

	fmt.Fprintln(w.out)

	// Audio
	fmt.Fprintln(w.out, "Audio:")
	enable, err := w.ask("Enable speech endpoints? (y/n)", yesNo(cfg.Audio.Enabled))
	if err != nil {
		return nil, err
	}
	cfg.Audio.Enabled = strings.ToLower(enable) == "y"
	if cfg.Audio.Enabled && cfg.AI.Provider != "openai" {
		for {
			fmt.Fprintf(w.out, "OpenAI API Key for audio%s: ", keepHint(cfg.Audio.APIKey))
			key, err := w.readLine()
			if err != nil {
				return nil, err
			}
			if key == "" && cfg.Audio.APIKey != "" {
				break
			}
			if err := validator.ValidateAPIKey(key, "openai"); err != nil {
				fmt.Fprintf(w.out, "Error: %v\n", err)
				continue
			}
			cfg.Audio.APIKey = key
			break
		}
	}

	fmt.Fprintln(w.out)

	// Storage
	fmt.Fprintln(w.out, "Session storage:")
	for {
		driver, err := w.ask("Driver (memory/file/sqlite/postgres/mysql)", cfg.Storage.Driver)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateStorageDriver(driver); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Storage.Driver = driver
		break
	}
	if cfg.Storage.Driver == "postgres" || cfg.Storage.Driver == "mysql" {
		if cfg.Storage.DSN, err = w.ask("DSN", cfg.Storage.DSN); err != nil {
			return nil, err
		}
	}

	fmt.Fprintln(w.out)

	// Server
	fmt.Fprintln(w.out, "Server:")
	for {
		answer, err := w.ask("Port", strconv.Itoa(cfg.Server.Port))
		if err != nil {
			return nil, err
		}
		port, convErr := strconv.Atoi(answer)
		if convErr == nil {
			convErr = validator.ValidatePort(port)
		}
		if convErr != nil {
			fmt.Fprintf(w.out, "Error: %v\n", convErr)
			continue
		}
		cfg.Server.Port = port
		break
	}

	// Log Level
	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		level = "info"
	}
	cfg.Logging.Level = level

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// ask prompts with def in brackets and returns def for an empty answer.
func (w *Wizard) ask(prompt, def string) (string, error) {
	fmt.Fprintf(w.out, "%s [%s]: ", prompt, def)
	answer, err := w.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func keepHint(current string) string {
	if current == "" {
		return ""
	}
	return " (press Enter to keep current)"
}

func yesNo(b bool) string {
	if b {
		return "y"
	}
	return "n"
}
