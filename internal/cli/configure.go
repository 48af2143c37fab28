package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/korli/internal/config"
)

func newConfigureCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Run interactive configuration wizard",
		Long: `Run an interactive configuration wizard to set up korli.
The wizard will guide you through configuring the model provider, audio,
session storage and the server port.`,
		RunE: runConfigure,
	}
}

func runConfigure(cmd *cobra.Command, args []string) error {
	// Start from the current settings so re-running only changes answers.
	base, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	wizard := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout())
	cfg, err := wizard.Run(base)
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
	fmt.Fprintln(out, "\nYou can now start korli with: korli serve")

	return nil
}
