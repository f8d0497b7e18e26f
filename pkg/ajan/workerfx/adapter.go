package workerfx

import (
	"context"
	"fmt"
	"os/exec"
	"sync"

	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
)

// adapter bridges a Worker into processfx.Worker, forwarding the optional
// Reloader capability so threadBackend/embeddedBackend's Reload method has
// something real to dispatch to.
type adapter struct {
	worker Worker
}

func (a *adapter) Run(ctx context.Context) error { return a.worker.Run(ctx) } //nolint:wrapcheck
func (a *adapter) Stop()                         { a.worker.Stop() }

func (a *adapter) Reload(ctx context.Context) error {
	if r, ok := a.worker.(Reloader); ok {
		return r.Reload(ctx) //nolint:wrapcheck
	}

	return nil
}

// Module couples a thread/embedded worker Factory with the per-id hook
// dispatch processfx.Server drives (WorkerHooks). The two must agree on
// which concrete Worker instance is "current" for a given id: the backend
// factory constructs it before returning the backend, so Initialize,
// BeforeFork, and AfterStart all fire against the instance about to run.
type Module struct {
	factory Factory
	cfg     *processfx.Config
	logger  *logfx.Logger

	mu      sync.Mutex
	current map[int]Worker
	server  *processfx.Server
}

// NewModule wires a user Factory for thread/embedded worker_type into the
// processfx core. cfg.WorkerType must be WorkerBackendThread or
// WorkerBackendEmbedded; process-backend workers are wired via
// NewProcessBackendFactory since they have no in-process Worker to adapt.
func NewModule(factory Factory, cfg *processfx.Config, logger *logfx.Logger) *Module {
	return &Module{ //nolint:exhaustruct
		factory: factory,
		cfg:     cfg,
		logger:  logger,
		current: make(map[int]Worker),
	}
}

// SetServer binds the owning Server so each worker Context can reach
// pool-wide state. Must be called once, right after processfx.NewServer
// returns (BackendFactory's closures are only invoked later, when the
// server loop actually spawns a worker).
func (m *Module) SetServer(server *processfx.Server) {
	m.mu.Lock()
	m.server = server
	m.mu.Unlock()
}

// BackendFactory returns the processfx.BackendFactory for this module. The
// Worker instance is constructed here, synchronously, not deferred into the
// backend's Spawn: the monitor dispatches WorkerBeforeFork between building
// the backend and spawning it, and that hook must land on the instance
// about to run, not on nil (first spawn) or the previous, already-finished
// one (respawns).
func (m *Module) BackendFactory() processfx.BackendFactory {
	return func(workerID int) func() (processfx.WorkerBackend, error) {
		return func() (processfx.WorkerBackend, error) {
			m.mu.Lock()
			server := m.server
			m.mu.Unlock()

			wctx := &Context{
				Config:   m.cfg,
				Logger:   m.logger,
				Server:   server,
				WorkerID: workerID,
			}

			worker := m.factory(wctx)

			m.mu.Lock()
			m.current[workerID] = worker
			m.mu.Unlock()

			workerFactory := func() processfx.Worker {
				return &adapter{worker: worker}
			}

			backend, err := processfx.NewWorkerBackend(m.cfg.WorkerType, workerFactory, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to build worker backend: %w", err)
			}

			return backend, nil
		}
	}
}

// Hooks adapts the optional Initializer/BeforeForker/AfterStarter
// capabilities into processfx.WorkerHooks, dispatched by worker_id against
// whichever instance BackendFactory most recently constructed for that id.
func (m *Module) Hooks() processfx.WorkerHooks {
	return &moduleHooks{module: m}
}

type moduleHooks struct {
	module *Module
}

func (h *moduleHooks) WorkerInitialize(ctx context.Context, workerID int) {
	if w, ok := h.module.get(workerID).(Initializer); ok {
		w.Initialize(ctx)
	}
}

func (h *moduleHooks) WorkerBeforeFork(ctx context.Context, workerID int) {
	if w, ok := h.module.get(workerID).(BeforeForker); ok {
		w.BeforeFork(ctx)
	}
}

func (h *moduleHooks) WorkerAfterStart(ctx context.Context, workerID int) {
	if w, ok := h.module.get(workerID).(AfterStarter); ok {
		w.AfterStart(ctx)
	}
}

func (m *Module) get(workerID int) Worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.current[workerID]
}

// NewProcessBackendFactory wires a process-type worker directly: cmdFactory
// builds the *exec.Cmd for each (re)spawn, matching processfx.ProcessFactory.
// There is no in-process Worker instance for this worker_id, so Initialize/
// BeforeFork/AfterStart hooks passed alongside should be stateless (they
// still run, just without an adapted Worker to dispatch onto).
func NewProcessBackendFactory(cmdFactory func(workerID int) func(ctx context.Context) *exec.Cmd) processfx.BackendFactory {
	return func(workerID int) func() (processfx.WorkerBackend, error) {
		processFactory := cmdFactory(workerID)

		return func() (processfx.WorkerBackend, error) {
			backend, err := processfx.NewWorkerBackend(processfx.WorkerBackendProcess, nil, processFactory)
			if err != nil {
				return nil, fmt.Errorf("failed to build process worker backend: %w", err)
			}

			return backend, nil
		}
	}
}
