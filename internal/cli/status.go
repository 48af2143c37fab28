package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/korli/internal/daemon"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show server status",
		Long:  `Show the current status of the korli server and check its health endpoint.`,
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	out := cmd.OutOrStdout()
	pidFile := daemon.PIDFilePath(cfg.DataDir)

	if !daemon.IsRunning(pidFile) {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// Get PID file modification time for uptime calculation
	if fileInfo, err := os.Stat(pidFile); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(fileInfo.ModTime())))
	}

	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	healthURL := "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.Port)) + "/health"
	health, err := checkHealth(&http.Client{Timeout: 2 * time.Second}, healthURL)
	if err != nil {
		fmt.Fprintf(out, "Health: unreachable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Health: %s\n", health.Status)
	fmt.Fprintf(out, "Active lanes: %d\n", health.Lanes)
	return nil
}

type healthReport struct {
	Status string  `json:"status"`
	Uptime float64 `json:"uptime"`
	Lanes  int     `json:"lanes"`
}

func checkHealth(client *http.Client, url string) (*healthReport, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	var report healthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("invalid health response: %w", err)
	}
	return &report, nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
