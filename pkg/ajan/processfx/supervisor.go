package processfx

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync/atomic"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/google/uuid"
)

// ServerFactory builds the *exec.Cmd for a fresh Server child. The Cmd must
// not yet be Start-ed; Supervisor wires ExtraFiles for the command pipe and
// CommandPipeEnvVar before starting it. Mirrors WorkerBackend's
// ProcessFactory shape.
type ServerFactory func(ctx context.Context) *exec.Cmd

// serverHandle is one spawned Server child: its OS process, the write end of
// the command pipe used to forward events to it, and the channel its exit is
// reported on.
type serverHandle struct {
	cmd       *exec.Cmd
	pipe      *CommandPipe
	startedAt time.Time
	exited    chan error
}

// Supervisor is the outer process: it owns exactly one Server child at a
// time (two, transiently, during a live restart), restarts it on crash, and
// forwards OS signals to it over a CommandPipe.
type Supervisor struct {
	cfg          *Config
	factory      ServerFactory
	logger       *logfx.Logger
	metrics      *serverMetrics
	queue        *SignalQueue
	pidFile      *PIDFile
	clockNow     func() time.Time

	currentPID   atomic.Int32
	detaching    atomic.Bool
	shuttingDown atomic.Bool
	lastExitCode atomic.Int32
}

// Queue exposes the supervisor's own SignalQueue so OS signal delivery
// (WatchOSSignals) and external callers (tests, an admin HTTP handler) can
// enqueue events the Run loop forwards to the current server child.
func (sup *Supervisor) Queue() *SignalQueue {
	return sup.queue
}

// Status returns a point-in-time snapshot safe to call from another
// goroutine (e.g. an admin HTTP handler) while Run is in progress.
func (sup *Supervisor) Status() SupervisorStatus {
	return SupervisorStatus{
		ServerPID:    int(sup.currentPID.Load()),
		Detaching:    sup.detaching.Load(),
		ShuttingDown: sup.shuttingDown.Load(),
	}
}

// SupervisorStatus is a point-in-time snapshot for introspection (the
// /health admin endpoint, daemonctl status).
type SupervisorStatus struct {
	ServerPID    int
	Detaching    bool
	ShuttingDown bool
}

func NewSupervisor(cfg *Config, factory ServerFactory, logger *logfx.Logger, pidFile *PIDFile) *Supervisor {
	return &Supervisor{ //nolint:exhaustruct
		cfg:      cfg,
		factory:  factory,
		logger:   logger,
		metrics:  newServerMetrics(logger),
		queue:    NewSignalQueue(),
		pidFile:  pidFile,
		clockNow: time.Now,
	}
}

// Run spawns the first Server child and loops until ctx is cancelled or the
// supervisor itself is told to exit. The pid file, if configured, holds the
// supervisor's own pid for the supervisor's entire lifetime.
func (sup *Supervisor) Run(ctx context.Context) error {
	if sup.pidFile != nil {
		if err := sup.pidFile.Check(); err != nil {
			return fmt.Errorf("pid file check failed: %w", err)
		}

		if err := sup.pidFile.Write(); err != nil {
			return fmt.Errorf("failed to write pid file: %w", err)
		}

		defer sup.pidFile.Remove() //nolint:errcheck
	}

	stopSignals := sup.queue.WatchOSSignals(sup.cfg.EnableDetach)
	defer stopSignals()

	current, err := sup.spawnServer(ctx)
	if err != nil {
		return fmt.Errorf("failed to spawn initial server: %w", err)
	}

	// old is non-nil only during the post-deadline window of a live restart:
	// the replacement has already been spawned and is
	// now `current`, and old is being drained to completion independently.
	var (
		old            *serverHandle
		detachPending  bool // EventDetach seen, deadline not yet fired, no replacement spawned yet
		detachTimer    *time.Timer
		detachDeadline <-chan time.Time
	)

	for {
		var oldExited <-chan error
		if old != nil {
			oldExited = old.exited
		}

		select {
		case <-ctx.Done():
			sup.killAll(current, old)

			return fmt.Errorf("supervisor cancelled: %w", ctx.Err())

		case <-sup.queue.Notify():
			for _, event := range sup.queue.DrainAll() {
				switch event {
				case EventGracefulStop, EventImmediateStop:
					sup.shuttingDown.Store(true)
					_ = current.pipe.Send(event)

					if old != nil {
						_ = old.pipe.Send(event)
					}

				case EventDetach:
					if !sup.cfg.EnableDetach || detachPending || old != nil {
						continue // single in-flight detach only
					}

					sup.logger.InfoContext(ctx, "live restart requested, detaching current server")
					sup.metrics.detaches.Add(ctx, 1)
					_ = current.pipe.Send(EventDetach)

					detachPending = true
					sup.detaching.Store(true)
					detachTimer = time.NewTimer(sup.cfg.ServerDetachWait)
					detachDeadline = detachTimer.C

				case EventDump:
					if dumpErr := WriteDump(nil); dumpErr != nil {
						sup.logger.ErrorContext(ctx, "failed to write supervisor dump", "error", dumpErr)
					}

				case EventReload:
					if sup.cfg.DisableReload {
						sup.logger.WarnContext(ctx, "reload requested but disable_reload is set, dropping")

						continue
					}

					_ = current.pipe.Send(event)

				default:
					_ = current.pipe.Send(event)
				}
			}

		case exitErr := <-current.exited:
			sup.lastExitCode.Store(int32(exitCodeOf(exitErr)))
			sup.logger.InfoContext(ctx, "server child exited", "error", exitErr)

			if sup.shuttingDown.Load() {
				sup.killAll(old)

				return nil
			}

			if detachPending {
				// Old server exited before the deadline: spawn the
				// replacement immediately, unless configured to exit
				// instead.
				detachPending = false
				sup.detaching.Store(false)

				if detachTimer != nil {
					detachTimer.Stop()
					detachTimer = nil
					detachDeadline = nil
				}

				if sup.cfg.ExitOnDetach {
					return nil
				}

				current, err = sup.spawnServer(ctx)
				if err != nil {
					return fmt.Errorf("failed to spawn replacement server: %w", err)
				}

				continue
			}

			// Ordinary crash/exit: respawn no earlier than
			// last_start + server_restart_wait, so a server that ran
			// longer than the wait respawns immediately while rapid
			// crash loops are throttled.
			sup.metrics.serverRestarts.Add(ctx, 1)

			if wait := time.Until(current.startedAt.Add(sup.cfg.ServerRestartWait)); wait > 0 {
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return fmt.Errorf("supervisor cancelled: %w", ctx.Err())
				}
			}

			current, err = sup.spawnServer(ctx)
			if err != nil {
				return fmt.Errorf("failed to respawn server: %w", err)
			}

		case <-detachDeadline:
			// Deadline fired before the old server exited: spawn the
			// replacement now; the two coexist until the old one finishes.
			detachPending = false
			detachTimer = nil
			detachDeadline = nil

			sup.detaching.Store(true) // stays true while old drains

			newHandle, spawnErr := sup.spawnServer(ctx)
			if spawnErr != nil {
				sup.logger.ErrorContext(ctx, "failed to spawn replacement server at detach deadline", "error", spawnErr)

				continue
			}

			old = current
			current = newHandle

		case exitErr := <-oldExited:
			sup.lastExitCode.Store(int32(exitCodeOf(exitErr)))
			sup.logger.InfoContext(ctx, "detached server finished", "error", exitErr)
			old = nil
			sup.detaching.Store(false)
		}
	}
}

// LastServerExitCode reports the exit status of the most recently reaped
// server child: 0 for a clean exit, the child's own code otherwise. The
// daemon's main propagates this as its own exit code after a shutdown.
func (sup *Supervisor) LastServerExitCode() int {
	return int(sup.lastExitCode.Load())
}

// exitCodeOf maps cmd.Wait's error to an exit status: nil is 0, a process
// that exited with a code reports that code, anything else (signal death,
// wait failure) is 1.
func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		return exitErr.ExitCode()
	}

	return 1
}

func (sup *Supervisor) spawnServer(ctx context.Context) (*serverHandle, error) {
	pipe, err := NewCommandPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create command pipe for server child: %w", err)
	}

	cmd := sup.factory(ctx)
	cmd.ExtraFiles = append(cmd.ExtraFiles, pipe.ReadEnd())
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", CommandPipeEnvVar, 2+len(cmd.ExtraFiles)))

	if err := cmd.Start(); err != nil {
		_ = pipe.Close()

		return nil, fmt.Errorf("failed to start server process: %w", err)
	}

	if err := pipe.CloseReadEnd(); err != nil {
		sup.logger.WarnContext(ctx, "failed to close supervisor's copy of command pipe read end", "error", err)
	}

	handle := &serverHandle{
		cmd:       cmd,
		pipe:      pipe,
		startedAt: sup.clockNow(),
		exited:    make(chan error, 1),
	}

	go func() {
		handle.exited <- cmd.Wait()
	}()

	sup.currentPID.Store(int32(cmd.Process.Pid)) //nolint:gosec

	sup.logger.InfoContext(ctx, "server spawned",
		"pid", cmd.Process.Pid, "incarnation_id", uuid.NewString())

	return handle, nil
}

func (sup *Supervisor) killAll(handles ...*serverHandle) {
	for _, h := range handles {
		if h == nil || h.cmd.Process == nil {
			continue
		}

		_ = h.cmd.Process.Signal(os.Interrupt)
	}
}
