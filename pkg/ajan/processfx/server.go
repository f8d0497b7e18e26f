package processfx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/clockfx"
	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/google/uuid"
)

var ErrConfigRejected = errors.New("reloaded configuration rejected")

// BackendFactory builds the per-worker spawn factory handed to a
// WorkerMonitor for worker_id. Supplied by the embedding application
// (cmd/daemon), since only it knows how to construct a Worker or *exec.Cmd
// for a given slot.
type BackendFactory func(workerID int) func() (WorkerBackend, error)

// Server is the server loop: it owns the worker pool, drains the signal
// queue, advances every worker-monitor's state machine once per tick, and
// sleeps until the earliest of the next scheduled wakeup across the pool or
// a new signal.
type Server struct {
	cfg            *Config
	clock          clockfx.Clock
	logger         *logfx.Logger
	hooks          ServerHooks
	workerHooks    WorkerHooks
	backendFactory BackendFactory
	metrics        *serverMetrics
	queue          *SignalQueue

	incarnationID string

	// monitorsMu guards the monitors slice header: Reload can grow it on the
	// loop goroutine while Status reads it from an admin HTTP handler. The
	// monitors themselves carry their own locks.
	monitorsMu   sync.RWMutex
	monitors     []*WorkerMonitor
	shuttingDown bool
	immediate    bool
}

// NewServer constructs a Server. hooks/workerHooks may be NoopServerHooks{}/
// NoopWorkerHooks{} if the embedding application supplies none.
func NewServer(
	cfg *Config,
	backendFactory BackendFactory,
	clock clockfx.Clock,
	logger *logfx.Logger,
	hooks ServerHooks,
	workerHooks WorkerHooks,
) *Server {
	return &Server{ //nolint:exhaustruct
		cfg:            cfg,
		clock:          clock,
		logger:         logger,
		hooks:          hooks,
		workerHooks:    workerHooks,
		backendFactory: backendFactory,
		metrics:        newServerMetrics(logger),
		queue:          NewSignalQueue(),
		incarnationID:  uuid.NewString(),
	}
}

// IncarnationID is a fresh UUID stamped at construction, logged alongside
// every server-level log line so restarts are distinguishable in aggregated
// logs even though the process name and pid file stay the same.
func (s *Server) IncarnationID() string {
	return s.incarnationID
}

// Queue exposes the server's own SignalQueue so a caller that owns OS signal
// delivery directly (no supervisor in front) can call WatchOSSignals on it,
// or a CommandPipe reader can merge forwarded supervisor events into it.
func (s *Server) Queue() *SignalQueue {
	return s.queue
}

// Status returns a point-in-time snapshot of every worker in the pool. Safe
// to call from another goroutine (e.g. an admin HTTP handler) while Run is
// in progress.
func (s *Server) Status() []WorkerStatus {
	s.monitorsMu.RLock()
	monitors := append([]*WorkerMonitor(nil), s.monitors...)
	s.monitorsMu.RUnlock()

	statuses := make([]WorkerStatus, len(monitors))
	for i, m := range monitors {
		statuses[i] = m.Status()
	}

	return statuses
}

// Run executes the full INIT → BEFORE_RUN → RUNNING → AFTER_RUN → EXIT
// lifecycle and blocks until the server is told to stop or ctx
// is cancelled. The returned error is nil on a clean exit.
func (s *Server) Run(ctx context.Context) error {
	s.logger = s.logger.With("incarnation_id", s.incarnationID)

	// INIT. worker.initialize cannot fire here: no WorkerMonitor
	// or backend exists yet for any worker_id, so there is nothing for a
	// thread/embedded adapter to dispatch the hook onto. Instead each
	// WorkerMonitor calls it itself, once, just before that worker's first
	// spawn (see WorkerMonitor.tickIdle).
	s.ensureMonitors(s.cfg.Workers)

	// BEFORE_RUN
	if err := s.hooks.BeforeRun(ctx); err != nil {
		return fmt.Errorf("server before_run hook failed: %w", err)
	}

	// RUNNING
	for _, m := range s.monitors {
		m.SetWanted(true)
	}

	// Boundary case: a zero-worker pool has nothing to run and
	// nothing to wait on, so RUNNING has no work to do and the server goes
	// straight to AFTER_RUN rather than blocking in the event loop forever.
	if len(s.monitors) > 0 {
		if err := s.loop(ctx); err != nil {
			return err
		}
	}

	// AFTER_RUN
	s.hooks.AfterRun(ctx)

	// EXIT
	return nil
}

// ensureMonitors grows the dense worker-monitor slice to at least n entries.
// Each new WorkerMonitor runs worker.initialize itself on its first spawn;
// `workers` is dynamically reloadable, so growth can happen
// after Run started, so this is called again from Reload, not just Run.
func (s *Server) ensureMonitors(n int) {
	for len(s.monitors) < n {
		id := len(s.monitors)

		monitor := NewWorkerMonitor(
			id,
			fmt.Sprintf("worker-%d", id),
			s.backendFactory(id),
			s.clock,
			s.logger,
			s.workerHooks,
			s.cfg,
		)

		s.monitorsMu.Lock()
		s.monitors = append(s.monitors, monitor)
		s.monitorsMu.Unlock()
	}
}

// loop is the single-threaded event loop: drain signals, tick
// every monitor, sleep until the earliest next wakeup or a new signal.
func (s *Server) loop(ctx context.Context) error {
	for {
		for _, event := range s.queue.DrainAll() {
			s.handleEvent(ctx, event)
		}

		for _, m := range s.monitors {
			m.Tick(ctx)
		}

		s.applyWantedCounts()

		if s.shuttingDown && s.allFinished() {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("server loop cancelled: %w", ctx.Err())
		case <-s.queue.Notify():
		case <-time.After(s.sleepDuration()):
		}
	}
}

func (s *Server) allFinished() bool {
	for _, m := range s.monitors {
		status := m.Status()
		if status.State != WorkerStateIdle && status.State != WorkerStateFinished {
			return false
		}

		if status.State == WorkerStateIdle && status.PID != 0 {
			return false
		}
	}

	return true
}

// sleepDuration computes how long the loop may block before it must wake up
// on its own: the earliest of every monitor's next
// scheduled wakeup, bounded above by worker_heartbeat_interval so heartbeat
// polling for process-backend workers stays timely.
func (s *Server) sleepDuration() time.Duration {
	ceiling := s.cfg.WorkerHeartbeatInterval
	if ceiling <= 0 {
		ceiling = time.Second
	}

	now := s.clock.Now()
	earliest := now.Add(ceiling)

	for _, m := range s.monitors {
		if wake, ok := m.NextWakeup(); ok && wake.Before(earliest) {
			earliest = wake
		}
	}

	if earliest.Before(now) {
		return 0
	}

	return earliest.Sub(now)
}

// applyWantedCounts implements the wanted-count policy: exactly the
// first cfg.Workers monitors (by dense id) are wanted, unless the server is
// shutting down, in which case nothing is wanted.
func (s *Server) applyWantedCounts() {
	desired := s.cfg.Workers
	if s.shuttingDown {
		desired = 0
	}

	for i, m := range s.monitors {
		m.SetWanted(i < desired)
	}
}

func (s *Server) handleEvent(ctx context.Context, event Event) {
	switch event {
	case EventGracefulStop:
		s.beginShutdown(false)
	case EventImmediateStop:
		s.beginShutdown(true)
	case EventGracefulRestart:
		s.handleRestart(ctx, stageGraceful)
	case EventImmediateRestart:
		s.handleRestart(ctx, stageImmediate)
	case EventReload:
		if err := s.Reload(ctx); err != nil {
			s.logger.WarnContext(ctx, "config reload rejected", "error", err)
		}
	case EventDump:
		if err := WriteDump(s.Status()); err != nil {
			s.logger.ErrorContext(ctx, "failed to write dump", "error", err)
		}
	case EventDetach:
		// Detach is a Supervisor-level protocol; a standalone
		// server (no supervisor in front) has no replacement to hand off to,
		// so it is treated as a graceful stop.
		s.beginShutdown(false)
	}
}

func (s *Server) beginShutdown(immediate bool) {
	s.shuttingDown = true
	s.immediate = s.immediate || immediate

	stage := stageGraceful
	if s.immediate {
		stage = stageImmediate
	}

	for _, m := range s.monitors {
		m.RequestStop(stage)
	}
}

// handleRestart implements the USR1/HUP branching: a full server
// self-exit (letting the supervisor respawn) when restart_server_process is
// set, else a per-worker restart: every worker is asked to stop at the
// given stage at once, and each monitor respawns its worker while the
// server keeps running.
func (s *Server) handleRestart(ctx context.Context, stage int) {
	if s.cfg.RestartServerProcess {
		s.metrics.serverRestarts.Add(ctx, 1)
		s.beginShutdown(stage == stageImmediate)

		return
	}

	for _, m := range s.monitors {
		m.RequestStop(stage)
	}
}

// Reload re-runs the user-supplied configuration loader (ServerHooks.
// ReloadConfig), and on success replaces the Config snapshot, updates every
// monitor in place, and forwards worker.reload to every running worker. A
// nil returned Config alongside a nil error means "no
// change" and is treated as success with no-op application.
func (s *Server) Reload(ctx context.Context) error {
	newCfg, err := s.hooks.ReloadConfig(ctx)
	if err != nil {
		s.metrics.reloadRejected.Add(ctx, 1)

		return fmt.Errorf("%w: %w", ErrConfigRejected, err)
	}

	if newCfg != nil {
		if err := newCfg.Validate(); err != nil {
			s.metrics.reloadRejected.Add(ctx, 1)

			return fmt.Errorf("%w: %w", ErrConfigRejected, err)
		}

		s.cfg = newCfg
		s.ensureMonitors(newCfg.Workers)

		for _, m := range s.monitors {
			m.SetConfig(newCfg)
		}
	}

	for _, m := range s.monitors {
		m.NotifyReload(ctx)
	}

	s.metrics.reloads.Add(ctx, 1)

	return nil
}
