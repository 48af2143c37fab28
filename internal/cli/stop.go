package cli

import (
	"fmt"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/korli/internal/daemon"
)

var (
	stopTimeout int
)

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running korli server",
		Long: `Stop the running korli server gracefully.
Sends SIGTERM to the server and waits for it to shut down.`,
		RunE: runStop,
	}
	cmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for the server to stop")
	return cmd
}

func runStop(cmd *cobra.Command, args []string) error {
	pidFile, err := pidFilePath()
	if err != nil {
		return err
	}
	if !daemon.IsRunning(pidFile) {
		return fmt.Errorf("korli is not running (PID file: %s)", pidFile)
	}

	if err := daemon.Signal(pidFile, syscall.SIGTERM); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !daemon.IsRunning(pidFile) {
			fmt.Fprintln(out, "Server stopped successfully")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
	if err := daemon.Signal(pidFile, syscall.SIGKILL); err != nil {
		return err
	}
	fmt.Fprintln(out, "Server killed")
	return nil
}

func pidFilePath() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return daemon.PIDFilePath(cfg.DataDir), nil
}
