// Command daemonctl is an operator CLI for a running daemonkit daemon: it
// reads the daemon's pid file to locate the owning process (supervisor if
// enabled, else server) and sends it the OS signal matching the requested
// lifecycle transition, or queries
// the admin HTTP surface's /health endpoint for a status snapshot.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var errPIDFileNotConfigured = errors.New("pid file path is required (--pid-file or DAEMONKIT_PID_PATH)")

var (
	pidFilePath string
	adminAddr   string
	httpTimeout time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{ //nolint:exhaustruct
		Use:   "daemonctl",
		Short: "Operate a running daemonkit daemon",
		Long: "daemonctl sends lifecycle signals to a daemonkit daemon (via its pid file) " +
			"and queries its admin HTTP status endpoint.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&pidFilePath, "pid-file", os.Getenv("DAEMONKIT_PID_PATH"),
		"path to the daemon's pid file")
	root.PersistentFlags().StringVar(&adminAddr, "addr", envOr("DAEMONKIT_ADMIN_ADDR", "http://127.0.0.1:8080"),
		"base URL of the admin HTTP surface, for status")
	root.PersistentFlags().DurationVar(&httpTimeout, "timeout", 5*time.Second, "HTTP request timeout for status")

	root.AddCommand(
		newStatusCmd(),
		newReloadCmd(),
		newGracefulStopCmd(),
		newImmediateStopCmd(),
		newGracefulRestartCmd(),
		newImmediateRestartCmd(),
		newDetachCmd(),
		newDumpCmd(),
	)

	return root
}

func envOr(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}

	return fallback
}

// --- signal-sending subcommands, one per lifecycle event ---

func newReloadCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "reload",
		Short: "Re-run the configuration loader (SIGUSR2)",
		RunE:  signalCommand(syscall.SIGUSR2, "reload"),
	}
}

func newGracefulStopCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "graceful-stop",
		Short: "Stop every worker gracefully, then exit (SIGTERM)",
		RunE:  signalCommand(syscall.SIGTERM, "graceful stop"),
	}
}

func newImmediateStopCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "immediate-stop",
		Short: "Stop every worker immediately, then exit (SIGQUIT, process backend only)",
		RunE:  signalCommand(syscall.SIGQUIT, "immediate stop"),
	}
}

func newGracefulRestartCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "graceful-restart",
		Short: "Restart every worker gracefully (SIGUSR1)",
		RunE:  signalCommand(syscall.SIGUSR1, "graceful restart"),
	}
}

func newImmediateRestartCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "immediate-restart",
		Short: "Restart workers immediately (SIGHUP, process backend only)",
		RunE:  signalCommand(syscall.SIGHUP, "immediate restart"),
	}
}

func newDetachCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "detach",
		Short: "Live-restart: spawn a replacement server without downtime (SIGINT)",
		RunE:  signalCommand(syscall.SIGINT, "detach"),
	}
}

func newDumpCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "dump",
		Short: "Write a diagnostic stacktrace/resource dump to /tmp/sigdump-<pid>.log (SIGCONT)",
		RunE:  signalCommand(syscall.SIGCONT, "dump"),
	}
}

func signalCommand(sig syscall.Signal, label string) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, _ []string) error {
		pid, err := readPID()
		if err != nil {
			return err
		}

		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("failed to find process %d: %w", pid, err)
		}

		if err := proc.Signal(sig); err != nil {
			return fmt.Errorf("failed to send %s signal to pid %d: %w", label, pid, err)
		}

		fmt.Println(color.GreenString("sent %s (%s) to pid %d", label, sig, pid))

		return nil
	}
}

func readPID() (int, error) {
	if pidFilePath == "" {
		return 0, errPIDFileNotConfigured
	}

	data, err := os.ReadFile(pidFilePath) //nolint:gosec
	if err != nil {
		return 0, fmt.Errorf("failed to read pid file %q: %w", pidFilePath, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse pid file %q: %w", pidFilePath, err)
	}

	return pid, nil
}

// --- status, via the admin HTTP surface ---

// healthResponse mirrors httpfx/modules/healthcheck.HealthResponse; redefined
// here rather than imported so daemonctl stays a standalone client with no
// dependency on the daemon's internal packages, matching an operator tool
// that may run against a daemonkit binary it was not built alongside.
type healthResponse struct {
	Status     string            `json:"status"`
	Supervisor *supervisorHealth `json:"supervisor,omitempty"`
	Workers    []workerHealth    `json:"workers,omitempty"`
}

type supervisorHealth struct {
	ServerPID    int  `json:"server_pid"`
	Detaching    bool `json:"detaching"`
	ShuttingDown bool `json:"shutting_down"`
}

type workerHealth struct {
	State           string `json:"state"`
	LastHeartbeatAt string `json:"last_heartbeat_at,omitempty"`
	RestartCount    int    `json:"restart_count"`
	TotalRestarts   int    `json:"total_restarts"`
	Uptime          string `json:"uptime,omitempty"`
	PID             int    `json:"pid,omitempty"`
	Error           string `json:"error,omitempty"`
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{ //nolint:exhaustruct
		Use:   "status",
		Short: "Query the daemon's /health endpoint",
		RunE: func(_ *cobra.Command, _ []string) error {
			health, err := fetchHealth()
			if err != nil {
				return err
			}

			printHealth(health)

			return nil
		},
	}
}

func fetchHealth() (*healthResponse, error) {
	client := &http.Client{Timeout: httpTimeout} //nolint:exhaustruct

	resp, err := client.Get(strings.TrimRight(adminAddr, "/") + "/health") //nolint:noctx
	if err != nil {
		return nil, fmt.Errorf("failed to reach admin http surface at %s: %w", adminAddr, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read health response: %w", err)
	}

	var health healthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		return nil, fmt.Errorf("failed to parse health response: %w", err)
	}

	return &health, nil
}

func printHealth(health *healthResponse) {
	statusColor := color.GreenString
	if health.Status != "healthy" {
		statusColor = color.YellowString
	}

	fmt.Printf("status: %s\n", statusColor(health.Status))

	if health.Supervisor != nil {
		fmt.Printf("supervisor: server_pid=%d detaching=%t shutting_down=%t\n",
			health.Supervisor.ServerPID, health.Supervisor.Detaching, health.Supervisor.ShuttingDown)
	}

	for _, worker := range health.Workers {
		line := fmt.Sprintf("  state=%-20s pid=%-8d restarts=%d/%d uptime=%s",
			worker.State, worker.PID, worker.RestartCount, worker.TotalRestarts, worker.Uptime)

		if worker.Error != "" {
			line += color.RedString(" error=%s", worker.Error)
		}

		if worker.State == "running" {
			fmt.Println(color.GreenString(line))
		} else {
			fmt.Println(color.YellowString(line))
		}
	}
}
