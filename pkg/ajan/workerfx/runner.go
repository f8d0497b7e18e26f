package workerfx

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/logfx"
)

var ErrWorkerPanicked = errors.New("worker panicked during execution")

// IntervalWorker adapts a periodic task into the Worker contract (Run/Stop):
// an immediate first execution, then either continuous looping
// (interval == 0) or ticker-paced calls, with panic recovery and run
// bookkeeping exposed via Status.
type IntervalWorker struct {
	name     string
	interval time.Duration
	execute  func(ctx context.Context) error
	logger   *logfx.Logger

	mu     sync.RWMutex
	status WorkerStatus

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewIntervalWorker builds an IntervalWorker. A zero interval means execute
// runs back-to-back with no pause between calls.
func NewIntervalWorker(
	name string,
	interval time.Duration,
	execute func(ctx context.Context) error,
	logger *logfx.Logger,
) *IntervalWorker {
	return &IntervalWorker{ //nolint:exhaustruct
		name:     name,
		interval: interval,
		execute:  execute,
		logger:   logger,
		status:   WorkerStatus{Name: name}, //nolint:exhaustruct
		stopCh:   make(chan struct{}),
	}
}

func (w *IntervalWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "starting interval worker",
		"worker", w.name, "interval", w.interval)

	w.runOnce(ctx)

	if w.interval == 0 {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-w.stopCh:
				return nil
			default:
				w.runOnce(ctx)
			}
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *IntervalWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *IntervalWorker) Status() WorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.status
}

func (w *IntervalWorker) runOnce(ctx context.Context) {
	w.mu.Lock()
	w.status.IsRunning = true
	w.mu.Unlock()

	start := time.Now()

	defer func() {
		duration := time.Since(start)

		w.mu.Lock()
		w.status.IsRunning = false
		w.status.LastRun = start
		w.status.LastDuration = duration
		w.status.RunCount++
		w.mu.Unlock()

		if rec := recover(); rec != nil {
			err := fmt.Errorf("%w: %v", ErrWorkerPanicked, rec)

			w.mu.Lock()
			w.status.LastError = err
			w.status.ErrorCount++
			w.mu.Unlock()

			w.logger.ErrorContext(ctx, "interval worker panicked",
				"worker", w.name, "duration", duration, "panic", rec)
		}
	}()

	err := w.execute(ctx)

	w.mu.Lock()
	w.status.LastError = err
	if err != nil {
		w.status.ErrorCount++
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.ErrorContext(ctx, "interval worker execution failed",
			"worker", w.name, "duration", time.Since(start), "error", err)
	} else {
		w.logger.DebugContext(ctx, "interval worker execution completed",
			"worker", w.name, "duration", time.Since(start))
	}
}
