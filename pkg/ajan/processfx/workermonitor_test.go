package processfx_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/clockfx"
	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/stretchr/testify/require"
)

var errCrash = errors.New("worker process exited with a non-zero status")

// fakeBackend is a fully in-memory processfx.WorkerBackend stand-in, letting
// tests drive WorkerMonitor's state machine deterministically without real
// OS processes or goroutines racing the FakeClock.
type fakeBackend struct {
	alive      bool
	heartbeat  bool
	signals    []int
	forceKills int
	pid        int
	lastErr    error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{alive: true, heartbeat: true, pid: 4242} //nolint:exhaustruct
}

func (b *fakeBackend) Spawn(_ context.Context) error { return nil }
func (b *fakeBackend) Alive() bool                   { return b.alive }

func (b *fakeBackend) Signal(stage int) error {
	b.signals = append(b.signals, stage)

	return nil
}

func (b *fakeBackend) ForceKill() error {
	b.forceKills++
	b.alive = false

	return nil
}

func (b *fakeBackend) Join(_ time.Duration) bool { return true }

func (b *fakeBackend) HasHeartbeat() bool {
	val := b.heartbeat
	b.heartbeat = false

	return val
}

func (b *fakeBackend) PID() int         { return b.pid }
func (b *fakeBackend) Close() error     { return nil }
func (b *fakeBackend) LastError() error { return b.lastErr }

func testLogger(t *testing.T) *logfx.Logger {
	t.Helper()

	logger, err := logfx.NewLogger(&logfx.Config{Level: "error"}) //nolint:exhaustruct
	require.NoError(t, err)

	return logger
}

func testConfig() *processfx.Config {
	return &processfx.Config{ //nolint:exhaustruct
		WorkerType:                           processfx.WorkerBackendProcess,
		Workers:                              1,
		StartWorkerDelay:                     0,
		StartWorkerDelayRand:                 0,
		WorkerHeartbeatTimeout:               3 * time.Second,
		WorkerGracefulKillInterval:           time.Second,
		WorkerGracefulKillIntervalIncrement:  0,
		WorkerGracefulKillTimeout:            5 * time.Second,
		WorkerImmediateKillInterval:          time.Second,
		WorkerImmediateKillIntervalIncrement: 0,
		WorkerImmediateKillTimeout:           5 * time.Second,
	}
}

func newMonitor(t *testing.T, clock clockfx.Clock, cfg *processfx.Config, backend *fakeBackend) *processfx.WorkerMonitor {
	t.Helper()

	return newMonitorWithHooks(t, clock, cfg, backend, processfx.NoopWorkerHooks{})
}

func newMonitorWithHooks(
	t *testing.T,
	clock clockfx.Clock,
	cfg *processfx.Config,
	backend *fakeBackend,
	hooks processfx.WorkerHooks,
) *processfx.WorkerMonitor {
	t.Helper()

	return processfx.NewWorkerMonitor(
		0, "worker-0",
		func() (processfx.WorkerBackend, error) { return backend, nil },
		clock, testLogger(t), hooks, cfg,
	)
}

// recordingWorkerHooks records every call it receives, letting tests assert
// on dispatch order and count without a real workerfx adapter in the loop.
type recordingWorkerHooks struct {
	mu         sync.Mutex
	initialize []int
	beforeFork []int
	afterStart []int
}

func (h *recordingWorkerHooks) WorkerInitialize(_ context.Context, workerID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.initialize = append(h.initialize, workerID)
}

func (h *recordingWorkerHooks) WorkerBeforeFork(_ context.Context, workerID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.beforeFork = append(h.beforeFork, workerID)
}

func (h *recordingWorkerHooks) WorkerAfterStart(_ context.Context, workerID int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.afterStart = append(h.afterStart, workerID)
}

func (h *recordingWorkerHooks) initializeCalls() []int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]int(nil), h.initialize...)
}

func TestWorkerMonitor_IdleToRunning(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	backend := newFakeBackend()
	monitor := newMonitor(t, clock, cfg, backend)

	require.Equal(t, processfx.WorkerStateIdle, monitor.Status().State)

	monitor.SetWanted(true)
	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateStarting, monitor.Status().State)

	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateRunning, monitor.Status().State)
	require.Equal(t, 4242, monitor.Status().PID)
}

// TestWorkerMonitor_WorkerInitializeFiresOnceAcrossRespawns exercises the
// worker.initialize dispatch that server.go's INIT phase can no longer
// reach: it must fire exactly once, on this worker's first spawn, and never
// again on a crash-triggered respawn.
func TestWorkerMonitor_WorkerInitializeFiresOnceAcrossRespawns(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	backend := newFakeBackend()
	hooks := &recordingWorkerHooks{} //nolint:exhaustruct
	monitor := newMonitorWithHooks(t, clock, cfg, backend, hooks)

	monitor.SetWanted(true)

	monitor.Tick(context.Background()) // IDLE -> STARTING, fires WorkerInitialize, spawns
	require.Equal(t, processfx.WorkerStateStarting, monitor.Status().State)
	require.Equal(t, []int{0}, hooks.initializeCalls())

	monitor.Tick(context.Background()) // STARTING -> RUNNING
	require.Equal(t, processfx.WorkerStateRunning, monitor.Status().State)

	backend.alive = false
	backend.lastErr = errCrash

	monitor.Tick(context.Background()) // RUNNING -> FINISHED
	require.Equal(t, processfx.WorkerStateFinished, monitor.Status().State)

	monitor.Tick(context.Background()) // FINISHED -> IDLE
	require.Equal(t, processfx.WorkerStateIdle, monitor.Status().State)

	backend.alive = true

	monitor.Tick(context.Background()) // IDLE -> STARTING again, respawn
	require.Equal(t, processfx.WorkerStateStarting, monitor.Status().State)
	require.Equal(t, []int{0}, hooks.initializeCalls(), "worker.initialize must not fire again on respawn")
}

func TestWorkerMonitor_GracefulEscalatesToImmediateThenForced(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	backend := newFakeBackend()
	monitor := newMonitor(t, clock, cfg, backend)

	monitor.SetWanted(true)
	monitor.Tick(context.Background())
	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateRunning, monitor.Status().State)

	monitor.RequestStop(0) // graceful
	require.Equal(t, processfx.WorkerStateStoppingGraceful, monitor.Status().State)
	require.Equal(t, 0, monitor.Status().StageIndex)

	// Worker ignores TERM; advance past worker_graceful_kill_timeout (5s).
	for i := 0; i < 6; i++ {
		clock.Advance(time.Second)
		monitor.Tick(context.Background())
	}

	require.Equal(t, processfx.WorkerStateStoppingImmediate, monitor.Status().State)
	require.Equal(t, 1, monitor.Status().StageIndex)
	require.NotEmpty(t, backend.signals)

	// Advance past worker_immediate_kill_timeout (5s) too.
	for i := 0; i < 6; i++ {
		clock.Advance(time.Second)
		monitor.Tick(context.Background())
	}

	require.Equal(t, processfx.WorkerStateStoppingForced, monitor.Status().State)
	require.Equal(t, 2, monitor.Status().StageIndex)

	monitor.Tick(context.Background()) // sends the unblockable kill
	require.Positive(t, backend.forceKills)

	monitor.Tick(context.Background()) // backend observed dead under ForceKill
	require.Equal(t, processfx.WorkerStateFinished, monitor.Status().State)

	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateIdle, monitor.Status().State)
}

func TestWorkerMonitor_StageIndexNeverDecreasesWithinStopSequence(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	backend := newFakeBackend()
	monitor := newMonitor(t, clock, cfg, backend)

	monitor.SetWanted(true)
	monitor.Tick(context.Background())
	monitor.Tick(context.Background())

	monitor.RequestStop(0)
	require.Equal(t, 0, monitor.Status().StageIndex)

	// A later graceful request must not un-escalate anything.
	monitor.RequestStop(0)
	require.Equal(t, 0, monitor.Status().StageIndex)

	monitor.RequestStop(1) // explicit immediate_stop
	require.Equal(t, 1, monitor.Status().StageIndex)

	// A graceful request arriving after immediate must not step backwards.
	monitor.RequestStop(0)
	require.Equal(t, 1, monitor.Status().StageIndex)
}

func TestWorkerMonitor_HeartbeatStallEscalatesWithinOneTick(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	cfg.WorkerHeartbeatTimeout = 3 * time.Second
	backend := newFakeBackend()
	monitor := newMonitor(t, clock, cfg, backend)

	monitor.SetWanted(true)
	monitor.Tick(context.Background())
	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateRunning, monitor.Status().State)

	// Worker stops beating; no more heartbeats observed.
	backend.heartbeat = false

	clock.Advance(4 * time.Second)
	monitor.Tick(context.Background())

	require.Equal(t, processfx.WorkerStateStoppingImmediate, monitor.Status().State)
}

func TestWorkerMonitor_CrashSurfacesLastError(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	backend := newFakeBackend()
	monitor := newMonitor(t, clock, cfg, backend)

	monitor.SetWanted(true)
	monitor.Tick(context.Background())
	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateRunning, monitor.Status().State)
	require.Nil(t, monitor.Status().LastError)

	// Worker process crashes: the backend observes a non-zero exit and the
	// monitor's next tick must reap it into FINISHED, surfacing the error.
	backend.alive = false
	backend.lastErr = errCrash

	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateFinished, monitor.Status().State)
	require.ErrorIs(t, monitor.Status().LastError, errCrash)
}

func TestWorkerMonitor_GracefulTimeoutNeverEscalatesWhenMinusOne(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	cfg.WorkerGracefulKillTimeout = processfx.KillTimeoutNever
	backend := newFakeBackend()
	monitor := newMonitor(t, clock, cfg, backend)

	monitor.SetWanted(true)
	monitor.Tick(context.Background())
	monitor.Tick(context.Background())

	monitor.RequestStop(0)

	clock.Advance(24 * time.Hour)
	monitor.Tick(context.Background())

	require.Equal(t, processfx.WorkerStateStoppingGraceful, monitor.Status().State)

	// An explicit immediate stop still escalates despite -1; the sentinel
	// only disables time-based escalation.
	monitor.RequestStop(1)
	require.Equal(t, processfx.WorkerStateStoppingImmediate, monitor.Status().State)
}

func TestWorkerMonitor_RespawnNeverBeforeNextStartAt(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	cfg.StartWorkerDelay = 10 * time.Second
	cfg.StartWorkerDelayRand = 0
	backend := newFakeBackend()
	monitor := newMonitor(t, clock, cfg, backend)

	monitor.SetWanted(true)
	monitor.Tick(context.Background())
	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateRunning, monitor.Status().State)

	backend.alive = false
	monitor.Tick(context.Background()) // -> FINISHED
	monitor.Tick(context.Background()) // -> IDLE, schedules next_start_at

	require.Equal(t, processfx.WorkerStateIdle, monitor.Status().State)
	nextStartAt := monitor.Status().NextStartAt
	require.Equal(t, clock.Now().Add(10*time.Second), nextStartAt)

	// Before next_start_at: no respawn even though wanted.
	clock.Advance(9 * time.Second)
	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateIdle, monitor.Status().State)

	clock.Advance(2 * time.Second)
	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateStarting, monitor.Status().State)
}

func TestWorkerMonitor_ConfigShrinkDrivesRunningToGraceful(t *testing.T) {
	t.Parallel()

	clock := clockfx.NewFakeClock(time.Unix(0, 0))
	cfg := testConfig()
	backend := newFakeBackend()
	monitor := newMonitor(t, clock, cfg, backend)

	monitor.SetWanted(true)
	monitor.Tick(context.Background())
	monitor.Tick(context.Background())
	require.Equal(t, processfx.WorkerStateRunning, monitor.Status().State)

	monitor.SetWanted(false)
	monitor.Tick(context.Background())

	require.Equal(t, processfx.WorkerStateStoppingGraceful, monitor.Status().State)
}
