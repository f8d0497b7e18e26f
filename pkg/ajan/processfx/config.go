package processfx

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// WorkerBackendType selects the worker-type strategy.
type WorkerBackendType string

const (
	WorkerBackendEmbedded WorkerBackendType = "embedded"
	WorkerBackendThread   WorkerBackendType = "thread"
	WorkerBackendProcess  WorkerBackendType = "process"
)

// Config is the full daemonkit configuration surface. Fields
// that are dynamically reloadable are re-applied in
// place by Server.Reload; the rest only take effect at (re)spawn.
type Config struct {
	// Daemon
	Daemonize              bool   `conf:"daemonize"                  default:"false"`
	PIDPath                string `conf:"pid_path"`
	Supervisor             bool   `conf:"supervisor"                 default:"false"`
	DaemonProcessName      string `conf:"daemon_process_name"        default:"daemonkit"`
	ChUser                 string `conf:"chuser"`
	ChGroup                string `conf:"chgroup"`
	ChUmask                string `conf:"chumask"`
	DaemonizeErrorExitCode int    `conf:"daemonize_error_exit_code"  default:"1"`

	// Supervisor
	ServerProcessName     string        `conf:"server_process_name"     default:"daemonkit-server"`
	RestartServerProcess  bool          `conf:"restart_server_process"  default:"false"`
	EnableDetach          bool          `conf:"enable_detach"           default:"true"`
	ExitOnDetach          bool          `conf:"exit_on_detach"          default:"false"`
	DisableReload         bool          `conf:"disable_reload"          default:"false"`
	ServerRestartWait     time.Duration `conf:"server_restart_wait"     default:"1s"`
	ServerDetachWait      time.Duration `conf:"server_detach_wait"      default:"10s"`

	// Pool
	WorkerType           WorkerBackendType `conf:"worker_type"              default:"embedded"`
	Workers              int               `conf:"workers"                  default:"1"`
	StartWorkerDelay     time.Duration     `conf:"start_worker_delay"       default:"0s"`
	StartWorkerDelayRand float64           `conf:"start_worker_delay_rand"  default:"0.2"`

	// Process backend
	WorkerProcessName                   string        `conf:"worker_process_name"`
	WorkerHeartbeatInterval             time.Duration `conf:"worker_heartbeat_interval"               default:"1s"`
	WorkerHeartbeatTimeout               time.Duration `conf:"worker_heartbeat_timeout"                default:"180s"`
	WorkerGracefulKillInterval           time.Duration `conf:"worker_graceful_kill_interval"           default:"15s"`
	WorkerGracefulKillIntervalIncrement  time.Duration `conf:"worker_graceful_kill_interval_increment" default:"10s"`
	WorkerGracefulKillTimeout            time.Duration `conf:"worker_graceful_kill_timeout"            default:"600s"`
	WorkerImmediateKillInterval          time.Duration `conf:"worker_immediate_kill_interval"          default:"10s"`
	WorkerImmediateKillIntervalIncrement time.Duration `conf:"worker_immediate_kill_interval_increment" default:"10s"`
	WorkerImmediateKillTimeout           time.Duration `conf:"worker_immediate_kill_timeout"           default:"600s"`

	Logger LoggerOptions `conf:"log"`
}

// LoggerOptions holds the daemon's log_* keys; the conf tag nesting
// flattens to LOG__LEVEL, LOG__STDOUT, etc. The richer logfx.Config (pretty
// printing, rotation path) is constructed from this at startup by
// internal/appcontext's toLogfxConfig.
type LoggerOptions struct {
	// Path is the log destination file; empty logs to the console only.
	Path          string `conf:"path"`
	Level         string `conf:"level"       default:"debug"`
	RotateAge     int    `conf:"rotate_age"  default:"5"`
	RotateSize    int    `conf:"rotate_size" default:"1048576"`
	Stdout        bool   `conf:"stdout"      default:"true"`
	Stderr        bool   `conf:"stderr"      default:"true"`
}

// KillTimeoutNever is the "-1" sentinel for the two escalation timeouts: it
// disables automatic time-based escalation out of that stage only; an
// explicit immediate stop still escalates. The config loader parses a bare
// "-1" as -1s, which is this value.
const KillTimeoutNever = -1 * time.Second

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate rejects option values the state machines cannot run with. Called
// once at startup (where a failure is fatal) and again on every reload
// (where a failure rejects the new snapshot and keeps the previous one).
func (c *Config) Validate() error {
	switch c.WorkerType {
	case WorkerBackendEmbedded, WorkerBackendThread:
	case WorkerBackendProcess:
		if runtime.GOOS == "windows" {
			return fmt.Errorf("%w: worker_type %q requires POSIX process control", ErrInvalidConfig, c.WorkerType)
		}
	default:
		return fmt.Errorf("%w: %w: %q", ErrInvalidConfig, ErrUnknownWorkerBackend, c.WorkerType)
	}

	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Workers)
	}

	if c.StartWorkerDelay < 0 {
		return fmt.Errorf("%w: start_worker_delay must not be negative, got %s", ErrInvalidConfig, c.StartWorkerDelay)
	}

	if c.WorkerHeartbeatInterval <= 0 {
		return fmt.Errorf("%w: worker_heartbeat_interval must be positive, got %s",
			ErrInvalidConfig, c.WorkerHeartbeatInterval)
	}

	if c.WorkerHeartbeatTimeout <= 0 {
		return fmt.Errorf("%w: worker_heartbeat_timeout must be positive, got %s",
			ErrInvalidConfig, c.WorkerHeartbeatTimeout)
	}

	for name, timeout := range map[string]time.Duration{
		"worker_graceful_kill_timeout":  c.WorkerGracefulKillTimeout,
		"worker_immediate_kill_timeout": c.WorkerImmediateKillTimeout,
	} {
		if timeout < 0 && timeout != KillTimeoutNever {
			return fmt.Errorf("%w: %s must be positive or -1, got %s", ErrInvalidConfig, name, timeout)
		}
	}

	return nil
}
