package workerfx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/eser/daemonkit/pkg/ajan/workerfx"
	"github.com/stretchr/testify/require"
)

func testLogger(t *testing.T) *logfx.Logger {
	t.Helper()

	logger, err := logfx.NewLogger(&logfx.Config{Level: "error"}) //nolint:exhaustruct
	require.NoError(t, err)

	return logger
}

func TestIntervalWorker_RunsImmediatelyThenStopsCooperatively(t *testing.T) {
	t.Parallel()

	var runs int

	worker := workerfx.NewIntervalWorker("test", time.Hour, func(_ context.Context) error {
		runs++

		return nil
	}, testLogger(t))

	done := make(chan error, 1)

	go func() { done <- worker.Run(context.Background()) }()

	require.Eventually(t, func() bool { return worker.Status().RunCount == 1 }, time.Second, time.Millisecond)

	worker.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	require.Equal(t, 1, runs)
}

func TestIntervalWorker_RecordsErrorsWithoutStopping(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("boom")

	worker := workerfx.NewIntervalWorker("test", time.Millisecond, func(_ context.Context) error {
		return sentinel
	}, testLogger(t))

	go func() { _ = worker.Run(context.Background()) }()
	defer worker.Stop()

	require.Eventually(t, func() bool {
		return worker.Status().ErrorCount > 0
	}, time.Second, time.Millisecond)

	require.ErrorIs(t, worker.Status().LastError, sentinel)
}

func TestIntervalWorker_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	worker := workerfx.NewIntervalWorker("test", time.Millisecond, func(_ context.Context) error {
		panic("kaboom")
	}, testLogger(t))

	go func() { _ = worker.Run(context.Background()) }()
	defer worker.Stop()

	require.Eventually(t, func() bool {
		return worker.Status().ErrorCount > 0
	}, time.Second, time.Millisecond)

	require.ErrorIs(t, worker.Status().LastError, workerfx.ErrWorkerPanicked)
}

func TestIntervalWorker_StopIsIdempotent(t *testing.T) {
	t.Parallel()

	worker := workerfx.NewIntervalWorker("test", time.Hour, func(_ context.Context) error {
		return nil
	}, testLogger(t))

	go func() { _ = worker.Run(context.Background()) }()

	require.NotPanics(t, func() {
		worker.Stop()
		worker.Stop()
	})
}

func TestRegistry_RegisterListGet(t *testing.T) {
	t.Parallel()

	registry := workerfx.NewRegistry()

	worker := workerfx.NewIntervalWorker("alpha", time.Hour, func(_ context.Context) error {
		return nil
	}, testLogger(t))

	registry.Register(worker)

	got, ok := registry.Get("alpha")
	require.True(t, ok)
	require.Same(t, worker, got)

	_, ok = registry.Get("missing")
	require.False(t, ok)

	statuses := registry.List()
	require.Len(t, statuses, 1)
	require.Equal(t, "alpha", statuses[0].Name)
}
