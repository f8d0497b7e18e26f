package processfx_test

import (
	"context"
	"testing"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/clockfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/stretchr/testify/require"
)

// cooperativeWorker blocks in Run until Stop is called, using a
// BlockingFlag in place of a sleep loop, so Stop takes effect immediately.
type cooperativeWorker struct {
	stop *processfx.BlockingFlag
}

func newCooperativeWorker() processfx.Worker {
	return &cooperativeWorker{stop: processfx.NewBlockingFlag()}
}

func (w *cooperativeWorker) Run(ctx context.Context) error {
	w.stop.WaitForSet(0)

	return nil
}

func (w *cooperativeWorker) Stop() {
	w.stop.Set()
}

func threadBackendFactory(workerID int) func() (processfx.WorkerBackend, error) {
	return func() (processfx.WorkerBackend, error) {
		return processfx.NewWorkerBackend(processfx.WorkerBackendThread, newCooperativeWorker, nil)
	}
}

func serverTestConfig(workers int) *processfx.Config {
	return &processfx.Config{ //nolint:exhaustruct
		WorkerType:           processfx.WorkerBackendThread,
		Workers:              workers,
		StartWorkerDelay:     0,
		StartWorkerDelayRand: 0,
	}
}

func TestServer_ZeroWorkersExitsCleanlyViaBeforeAfterRun(t *testing.T) {
	t.Parallel()

	var beforeCalled, afterCalled bool

	hooks := &recordingServerHooks{
		onBeforeRun: func() { beforeCalled = true },
		onAfterRun:  func() { afterCalled = true },
	}

	server := processfx.NewServer(
		serverTestConfig(0), threadBackendFactory, clockfx.NewRealClock(),
		testLogger(t), hooks, processfx.NoopWorkerHooks{},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- server.Run(ctx) }()

	// A zero-worker pool skips the event loop entirely and exits without
	// anyone requesting a stop.
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("server with 0 workers did not exit")
	}

	require.True(t, beforeCalled)
	require.True(t, afterCalled)
}

func TestServer_GracefulStopDrainsAllWorkers(t *testing.T) {
	t.Parallel()

	server := processfx.NewServer(
		serverTestConfig(3), threadBackendFactory, clockfx.NewRealClock(),
		testLogger(t), processfx.NoopServerHooks{}, processfx.NoopWorkerHooks{},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- server.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, status := range server.Status() {
			if status.State != processfx.WorkerStateRunning {
				return false
			}
		}

		return true
	}, 2*time.Second, 10*time.Millisecond, "expected all 3 workers running")

	server.Queue().Enqueue(processfx.EventGracefulStop)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after graceful stop")
	}
}

func TestServer_TwoConsecutiveGracefulStopsAreIdempotent(t *testing.T) {
	t.Parallel()

	server := processfx.NewServer(
		serverTestConfig(2), threadBackendFactory, clockfx.NewRealClock(),
		testLogger(t), processfx.NoopServerHooks{}, processfx.NoopWorkerHooks{},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- server.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, status := range server.Status() {
			if status.State != processfx.WorkerStateRunning {
				return false
			}
		}

		return true
	}, 2*time.Second, 10*time.Millisecond)

	server.Queue().Enqueue(processfx.EventGracefulStop)
	server.Queue().Enqueue(processfx.EventGracefulStop)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_ReloadShrinkStopsSurplusWorkersOnly(t *testing.T) {
	t.Parallel()

	cfg := serverTestConfig(4)
	hooks := &recordingServerHooks{
		onReload: func() (*processfx.Config, error) {
			shrunk := *cfg
			shrunk.Workers = 2

			return &shrunk, nil
		},
	}

	server := processfx.NewServer(
		cfg, threadBackendFactory, clockfx.NewRealClock(),
		testLogger(t), hooks, processfx.NoopWorkerHooks{},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- server.Run(ctx) }()

	require.Eventually(t, func() bool {
		statuses := server.Status()
		if len(statuses) != 4 {
			return false
		}

		for _, status := range statuses {
			if status.State != processfx.WorkerStateRunning {
				return false
			}
		}

		return true
	}, 2*time.Second, 10*time.Millisecond, "expected all 4 workers running")

	server.Queue().Enqueue(processfx.EventReload)

	require.Eventually(t, func() bool {
		statuses := server.Status()

		return statuses[0].State == processfx.WorkerStateRunning &&
			statuses[1].State == processfx.WorkerStateRunning &&
			statuses[2].State != processfx.WorkerStateRunning &&
			statuses[3].State != processfx.WorkerStateRunning
	}, 2*time.Second, 10*time.Millisecond, "expected worker ids 2 and 3 driven to stopping, 0 and 1 untouched")

	require.Equal(t, 0, server.Status()[0].WorkerID)
	require.Equal(t, 1, server.Status()[1].WorkerID)

	server.Queue().Enqueue(processfx.EventImmediateStop)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down after test cleanup stop")
	}
}

type recordingServerHooks struct {
	onBeforeRun func()
	onAfterRun  func()
	onReload    func() (*processfx.Config, error)
}

func (h *recordingServerHooks) BeforeRun(_ context.Context) error {
	if h.onBeforeRun != nil {
		h.onBeforeRun()
	}

	return nil
}

func (h *recordingServerHooks) AfterRun(_ context.Context) {
	if h.onAfterRun != nil {
		h.onAfterRun()
	}
}

func (h *recordingServerHooks) ReloadConfig(_ context.Context) (*processfx.Config, error) {
	if h.onReload != nil {
		return h.onReload()
	}

	return nil, nil //nolint:nilnil
}
