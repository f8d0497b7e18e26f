// Package exampleworker is the reference worker module handed to
// workerfx.NewModule / workerfx.NewProcessBackendFactory by cmd/daemon: a
// worker that ticks on an interval until asked to stop, demonstrating the
// optional capability hooks (Initialize, AfterStart, Reload) alongside the
// required Run/Stop surface.
package exampleworker

import (
	"context"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/eser/daemonkit/pkg/ajan/workerfx"
)

// tickInterval is how often Run logs a heartbeat-adjacent debug line; it has
// no bearing on the liveness heartbeat, which processfx drives independently.
const tickInterval = time.Second

// Worker loops until stopped, using a BlockingFlag in place of a
// sleep-and-poll loop so Stop is observed immediately rather than on the
// next tick boundary.
type Worker struct {
	id     int
	logger *logfx.Logger
	stop   *processfx.BlockingFlag
	ticks  int
}

// Factory builds a fresh Worker for each (re)spawn, matching workerfx.Factory.
func Factory(wctx *workerfx.Context) workerfx.Worker {
	return &Worker{ //nolint:exhaustruct
		id:     wctx.WorkerID,
		logger: wctx.Logger,
		stop:   processfx.NewBlockingFlag(),
	}
}

// Initialize implements workerfx.Initializer, run once per worker_id before
// the first spawn.
func (w *Worker) Initialize(ctx context.Context) {
	w.logger.InfoContext(ctx, "exampleworker initialized", "worker_id", w.id)
}

// AfterStart implements workerfx.AfterStarter, run once the runtime handle
// is live and the first heartbeat has been observed.
func (w *Worker) AfterStart(ctx context.Context) {
	w.logger.InfoContext(ctx, "exampleworker started", "worker_id", w.id)
}

// Run blocks, ticking every tickInterval, until Stop is called or ctx is
// cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if w.stop.WaitForSet(tickInterval) {
			w.logger.DebugContext(ctx, "exampleworker stopping",
				"worker_id", w.id, "ticks", w.ticks)

			return nil
		}

		if ctx.Err() != nil {
			return nil //nolint:nilerr
		}

		w.ticks++
		w.logger.DebugContext(ctx, "exampleworker tick", "worker_id", w.id, "ticks", w.ticks)
	}
}

// Stop implements the cooperative stop contract: safe to call more than
// once, and WaitForSet-based callers in Run observe it immediately.
func (w *Worker) Stop() {
	w.stop.Set()
}

// Reload implements workerfx.Reloader. Only reachable for thread/embedded
// backends; a process-backend worker never sees this call.
func (w *Worker) Reload(ctx context.Context) error {
	w.logger.InfoContext(ctx, "exampleworker reloaded", "worker_id", w.id)

	return nil
}
