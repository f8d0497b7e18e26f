// Command daemon is the reference embedding application for the daemonkit
// core: it wires configuration, logging, the admin HTTP surface, and an
// example worker module into processfx's Supervisor/Server, and re-execs
// itself to play the supervisor, server, or (for worker_type=process) worker
// role, all from a single binary.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/eser/daemonkit/internal/appcontext"
	"github.com/eser/daemonkit/internal/exampleworker"
	"github.com/eser/daemonkit/pkg/ajan/clockfx"
	"github.com/eser/daemonkit/pkg/ajan/configfx"
	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/eser/daemonkit/pkg/ajan/workerfx"
)

// roleEnvVar selects which of the three roles a re-exec of this same binary
// plays; unset (or "supervisor") means "run as configured", i.e. spawn a
// server child when cfg.Supervisor is set, else run the server loop inline.
const (
	roleEnvVar     = "DAEMONKIT_ROLE"
	roleServer     = "server"
	roleWorker     = "worker"
	workerIDEnvVar = "DAEMONKIT_WORKER_ID"
)

func main() {
	ctx := context.Background()

	switch os.Getenv(roleEnvVar) {
	case roleWorker:
		runWorkerProcess(ctx)

		return
	case roleServer:
		runServerRole(ctx)

		return
	default:
		runTopLevel(ctx)
	}
}

func runTopLevel(ctx context.Context) {
	app := appcontext.New()

	if err := app.Init(ctx); err != nil {
		slog.Error("failed to initialize daemon", "error", err)
		os.Exit(1)
	}

	defer app.Shutdown(ctx)

	if app.Config.Daemonize {
		parent, err := processfx.Daemonize()
		if err != nil {
			app.Logger.ErrorContext(ctx, "failed to daemonize", "error", err)
			os.Exit(app.Config.DaemonizeErrorExitCode)
		}

		if parent {
			// The reborn child carries on as the daemon.
			return
		}
	}

	if err := processfx.ApplyProcessEnvironment(&app.Config.Config); err != nil {
		app.Logger.ErrorContext(ctx, "failed to apply process environment", "error", err)
		os.Exit(app.Config.DaemonizeErrorExitCode)
	}

	if app.Config.Supervisor {
		runSupervisorRole(ctx, app)

		return
	}

	runServerLoop(ctx, app, nil)
}

// runSupervisorRole runs the supervisor, spawning re-exec'd copies of
// this same binary with DAEMONKIT_ROLE=server as the Server child.
func runSupervisorRole(ctx context.Context, app *appcontext.AppContext) {
	executable, err := os.Executable()
	if err != nil {
		app.Logger.ErrorContext(ctx, "failed to resolve executable path", "error", err)
		os.Exit(1)
	}

	var pidFile *processfx.PIDFile
	if app.Config.PIDPath != "" {
		pidFile = processfx.NewPIDFile(app.Config.PIDPath)
	}

	factory := func(ctx context.Context) *exec.Cmd {
		cmd := exec.CommandContext(ctx, executable, os.Args[1:]...) //nolint:gosec
		cmd.Env = append(os.Environ(), roleEnvVar+"="+roleServer)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		return cmd
	}

	supervisor := processfx.NewSupervisor(&app.Config.Config, factory, app.Logger, pidFile)

	cleanupHTTP, err := app.StartAdminHTTP(ctx, nil, supervisor)
	if err != nil {
		app.Logger.ErrorContext(ctx, "failed to start admin http surface", "error", err)
	} else if cleanupHTTP != nil {
		defer cleanupHTTP()
	}

	if err := supervisor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.ErrorContext(ctx, "supervisor exited with error", "error", err)

		if errors.Is(err, processfx.ErrPIDFileOwnedByLiveProcess) {
			os.Exit(app.Config.DaemonizeErrorExitCode)
		}

		os.Exit(1)
	}

	// Clean shutdown: the daemon's exit code is the server's last one.
	if code := supervisor.LastServerExitCode(); code != 0 {
		os.Exit(code)
	}
}

// runServerRole is entered when this process is the Server child spawned by
// a Supervisor (DAEMONKIT_ROLE=server): it reads config the same way, then
// forwards the inherited command pipe into the server's own signal queue
// instead of watching OS signals directly.
func runServerRole(ctx context.Context) {
	app := appcontext.New()

	if err := app.Init(ctx); err != nil {
		slog.Error("failed to initialize daemon server", "error", err)
		os.Exit(1)
	}

	defer app.Shutdown(ctx)

	fd, ok := processfx.OpenInheritedCommandPipe()
	if !ok {
		app.Logger.ErrorContext(ctx, "server role requires an inherited command pipe")
		os.Exit(1)
	}

	runServerLoop(ctx, app, fd)
}

// runServerLoop constructs and runs the Server. cmdPipe is non-nil only
// when a Supervisor spawned this process; otherwise the Server watches OS
// signals directly (standalone mode: this process itself is the daemon).
func runServerLoop(ctx context.Context, app *appcontext.AppContext, cmdPipe *os.File) {
	clock := clockfx.NewRealClock()

	var pidFile *processfx.PIDFile
	if app.Config.PIDPath != "" && cmdPipe == nil {
		pidFile = processfx.NewPIDFile(app.Config.PIDPath)
	}

	module := workerfx.NewModule(exampleworker.Factory, &app.Config.Config, app.Logger)

	backendFactory := buildBackendFactory(app, module)

	server := processfx.NewServer(
		&app.Config.Config,
		backendFactory,
		clock,
		app.Logger,
		workerfx.NewServerModule(app),
		module.Hooks(),
	)
	module.SetServer(server)

	if pidFile != nil {
		if err := pidFile.Check(); err != nil {
			app.Logger.ErrorContext(ctx, "pid file check failed", "error", err)
			os.Exit(app.Config.DaemonizeErrorExitCode)
		}

		if err := pidFile.Write(); err != nil {
			app.Logger.ErrorContext(ctx, "failed to write pid file", "error", err)
			os.Exit(app.Config.DaemonizeErrorExitCode)
		}

		defer pidFile.Remove() //nolint:errcheck
	}

	var stopEvents func()
	if cmdPipe != nil {
		stopEvents = processfx.WatchCommandFD(cmdPipe, server.Queue())
	} else {
		stopEvents = server.Queue().WatchOSSignals(app.Config.EnableDetach)

		cleanupHTTP, err := app.StartAdminHTTP(ctx, server, nil)
		if err != nil {
			app.Logger.ErrorContext(ctx, "failed to start admin http surface", "error", err)
		} else if cleanupHTTP != nil {
			defer cleanupHTTP()
		}
	}

	defer stopEvents()

	if !app.Config.DisableReload {
		if cfgWatcher, err := configfx.NewConfigWatcher(app.ConfigFilePaths(), func() {
			server.Queue().Enqueue(processfx.EventReload)
		}); err != nil {
			app.Logger.WarnContext(ctx, "failed to start config file watcher", "error", err)
		} else {
			cfgWatcher.Start()
			defer cfgWatcher.Stop()
		}
	}

	if err := server.Run(ctx); err != nil {
		app.Logger.ErrorContext(ctx, "server exited with error", "error", err)
		os.Exit(1)
	}
}

func buildBackendFactory(app *appcontext.AppContext, module *workerfx.Module) processfx.BackendFactory {
	if app.Config.WorkerType != processfx.WorkerBackendProcess {
		return module.BackendFactory()
	}

	executable, err := os.Executable()
	if err != nil {
		app.Logger.ErrorContext(context.Background(), "failed to resolve executable path", "error", err)
		os.Exit(1)
	}

	return workerfx.NewProcessBackendFactory(func(workerID int) func(ctx context.Context) *exec.Cmd {
		return func(ctx context.Context) *exec.Cmd {
			cmd := exec.CommandContext(ctx, executable, os.Args[1:]...) //nolint:gosec
			cmd.Env = append(os.Environ(),
				roleEnvVar+"="+roleWorker,
				fmt.Sprintf("%s=%d", workerIDEnvVar, workerID))
			cmd.Stdout = os.Stdout
			cmd.Stderr = os.Stderr

			return cmd
		}
	})
}

// runWorkerProcess is the entry point for a process-backend worker child: it
// runs the example worker's body directly in this process, beating the
// inherited heartbeat pipe, and stops cooperatively on TERM (stage 0) or
// exits immediately on QUIT (stage 1).
func runWorkerProcess(ctx context.Context) {
	logger, err := logfx.NewLogger(&logfx.Config{Level: "info", Stdout: true}) //nolint:exhaustruct
	if err != nil {
		slog.Error("failed to build worker logger", "error", err)
		os.Exit(1)
	}

	heartbeat, ok := processfx.OpenInheritedHeartbeatPipe()
	if !ok {
		logger.ErrorContext(ctx, "worker role requires an inherited heartbeat pipe")
		os.Exit(1)
	}

	defer heartbeat.Close() //nolint:errcheck

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	workerID, _ := strconv.Atoi(os.Getenv(workerIDEnvVar))

	worker := exampleworker.Factory(&workerfx.Context{ //nolint:exhaustruct
		Logger:   logger,
		WorkerID: workerID,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigCh
		if sig == syscall.SIGQUIT {
			os.Exit(0)
		}

		// TERM: the cooperative stop, then the context as backstop.
		worker.Stop()
		cancel()
	}()

	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = heartbeat.Beat()
			}
		}
	}()

	if err := worker.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "worker exited with error", "error", err)
	}

	<-done
}
