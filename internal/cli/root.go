package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/harun/korli/internal/config"
	"github.com/harun/korli/internal/logger"
)

const version = "0.1.0"

var (
	cfgFile  string
	logLevel string
	envFile  string
)

// newRootCmd builds the command tree. Flags bind to package variables and
// are reset to their defaults on every build.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "korli",
		Short: "Korli - conversational language tutor backend",
		Long: `Korli runs multi-turn language tutoring sessions. Each turn generates the
tutor reply, evaluates the student's message and folds old history into a
rolling summary, behind an HTTP API with optional speech endpoints.`,
		Version:           version,
		PersistentPreRunE: loadEnvFile,
		SilenceUsage:      true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.korli/korli.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config; missing files are ignored")

	// Version template
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	rootCmd.AddCommand(
		newServeCmd(),
		newStopCmd(),
		newStatusCmd(),
		newConfigureCmd(),
		newChatCmd(),
		newLanguagesCmd(),
	)
	return rootCmd
}

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() error {
	return newRootCmd().Execute()
}

// loadEnvFile exports the dotenv file into the process environment. Variables
// already set win over the file.
func loadEnvFile(cmd *cobra.Command, args []string) error {
	if envFile == "" {
		return nil
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load %s: %w", envFile, err)
	}
	return nil
}

// loadConfig reads the config file and applies the --log-level flag.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   cfg.Logging.Console,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
	})
}

// GetRootCmd returns a freshly built root command for testing
func GetRootCmd() *cobra.Command {
	return newRootCmd()
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
