package processfx

import "context"

// WorkerHooks is the server-side half of the hook dispatch table: the
// hooks that run in the server process around a worker's
// lifecycle, as opposed to worker.run/worker.stop/worker.reload which run
// inside the worker itself. workerfx adapts a user Worker's optional
// capability interfaces into this shape.
type WorkerHooks interface {
	// WorkerInitialize runs once per worker_id, just before that worker's
	// first spawn, after its backend (and, for a thread/embedded adapter, the
	// Worker instance the hook dispatches onto) has been built.
	WorkerInitialize(ctx context.Context, workerID int)
	// WorkerBeforeFork runs immediately before every (re)spawn, for all
	// backends, not just process.
	WorkerBeforeFork(ctx context.Context, workerID int)
	// WorkerAfterStart runs once the runtime handle is live and the first
	// heartbeat (or heartbeat-equivalent) has been observed.
	WorkerAfterStart(ctx context.Context, workerID int)
}

// ServerHooks is the hook set that runs in the server process at the
// top-level INIT/BEFORE_RUN/RUNNING/AFTER_RUN/EXIT boundaries.
// ReloadConfig re-runs the user's config loader; its returned
// snapshot (if err is nil) replaces the Server's current Config.
type ServerHooks interface {
	BeforeRun(ctx context.Context) error
	AfterRun(ctx context.Context)
	ReloadConfig(ctx context.Context) (*Config, error)
}

// NoopWorkerHooks and NoopServerHooks are used when the embedding
// application supplies no hooks of a given kind; every call from the core
// is nil-safety-checked against them rather than against a nil interface so
// WorkerMonitor/Server never need a nil check at the call site.
type NoopWorkerHooks struct{}

func (NoopWorkerHooks) WorkerInitialize(_ context.Context, _ int) {}
func (NoopWorkerHooks) WorkerBeforeFork(_ context.Context, _ int) {}
func (NoopWorkerHooks) WorkerAfterStart(_ context.Context, _ int) {}

type NoopServerHooks struct{}

func (NoopServerHooks) BeforeRun(_ context.Context) error { return nil }
func (NoopServerHooks) AfterRun(_ context.Context)        {}
func (NoopServerHooks) ReloadConfig(_ context.Context) (*Config, error) {
	return nil, nil //nolint:nilnil
}
