// Package workerfx supplies the capability-interface contract a user-defined
// worker module implements, and the adapters that bridge it into processfx's
// WorkerMonitor/Server. The minimum surface is Run and Stop; the optional
// capabilities are separate interfaces. The module is handed a Context
// exposing config, logger, server, and worker id.
package workerfx

import (
	"context"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
)

// Worker is the required surface of a user-supplied worker module: Run is
// the main body (blocks until ctx is cancelled or Stop is called); Stop asks
// it to return, cooperatively, and must be safe to call more than once.
type Worker interface {
	Run(ctx context.Context) error
	Stop()
}

// Initializer is the optional `worker.initialize` hook, run once per
// worker_id in the server process before the first spawn.
type Initializer interface {
	Initialize(ctx context.Context)
}

// BeforeForker is the optional `worker.before_fork` hook, run in the server
// process immediately before every (re)spawn.
type BeforeForker interface {
	BeforeFork(ctx context.Context)
}

// AfterStarter is the optional `worker.after_start` hook, run in the server
// process once the runtime handle is live and the first heartbeat observed.
type AfterStarter interface {
	AfterStart(ctx context.Context)
}

// Reloader is the optional `worker.reload` hook: called in the worker itself
// on a reload event. Only reachable for thread/embedded backends, which
// share the server's address space; process-backend workers have no channel
// to deliver it over.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Context is the object handed to a Factory at construction time: the
// immutable configuration snapshot, the logger, the owning Server (for
// workers that need to inspect pool-wide state), and this worker's dense id.
type Context struct {
	Config   *processfx.Config
	Logger   *logfx.Logger
	Server   *processfx.Server
	WorkerID int
}

// Factory builds a fresh Worker for a given Context. Called once per
// (re)spawn; worker instances are never reused across restarts.
type Factory func(wctx *Context) Worker

// WorkerStatus is the bookkeeping workerfx keeps for an IntervalWorker,
// independent of processfx.WorkerStatus (which tracks the monitor's view of
// the backend, not the task's own run history).
type WorkerStatus struct {
	Name         string
	LastRun      time.Time
	LastDuration time.Duration
	LastError    error
	RunCount     int64
	ErrorCount   int64
	IsRunning    bool
}
