package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harun/korli/internal/daemon"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the korli HTTP server",
		Long: `Start the korli HTTP server in the foreground.
The server runs until it receives SIGINT or SIGTERM, then drains in-flight
requests before exiting.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		d.Close()
		return err
	}

	status := d.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "korli listening on %s (PID %d)\n", status.Addr, status.PID)
	return d.Wait()
}
