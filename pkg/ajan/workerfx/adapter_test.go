package workerfx_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/clockfx"
	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/eser/daemonkit/pkg/ajan/workerfx"
	"github.com/stretchr/testify/require"
)

// forkLog records, per dispatch, which concrete worker instance a
// BeforeFork call landed on, so the test can tell a fresh instance from a
// stale (or nil) one across respawns.
type forkLog struct {
	mu         sync.Mutex
	created    []*forkAwareWorker
	beforeFork []*forkAwareWorker
}

func (l *forkLog) recordCreated(w *forkAwareWorker) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.created = append(l.created, w)
}

func (l *forkLog) recordBeforeFork(w *forkAwareWorker) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.beforeFork = append(l.beforeFork, w)
}

func (l *forkLog) createdList() []*forkAwareWorker {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]*forkAwareWorker(nil), l.created...)
}

func (l *forkLog) beforeForkList() []*forkAwareWorker {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]*forkAwareWorker(nil), l.beforeFork...)
}

type forkAwareWorker struct {
	log  *forkLog
	stop *processfx.BlockingFlag
}

func (w *forkAwareWorker) Run(_ context.Context) error {
	w.stop.WaitForSet(0)

	return nil
}

func (w *forkAwareWorker) Stop() {
	w.stop.Set()
}

// BeforeFork implements workerfx.BeforeForker.
func (w *forkAwareWorker) BeforeFork(_ context.Context) {
	w.log.recordBeforeFork(w)
}

// TestModule_BeforeForkSeesTheInstanceAboutToRun drives a Module-backed
// WorkerMonitor through a spawn, a graceful stop, and a respawn, asserting
// that each BeforeFork dispatch lands on the instance about to run: on the
// first spawn there must be a dispatch at all (not a silent nil miss), and
// on the respawn it must land on the new instance rather than the
// already-finished previous one.
func TestModule_BeforeForkSeesTheInstanceAboutToRun(t *testing.T) {
	t.Parallel()

	log := &forkLog{} //nolint:exhaustruct

	factory := func(_ *workerfx.Context) workerfx.Worker {
		worker := &forkAwareWorker{log: log, stop: processfx.NewBlockingFlag()}
		log.recordCreated(worker)

		return worker
	}

	cfg := &processfx.Config{ //nolint:exhaustruct
		WorkerType:                 processfx.WorkerBackendThread,
		Workers:                    1,
		StartWorkerDelay:           0,
		StartWorkerDelayRand:       0,
		WorkerGracefulKillInterval: time.Millisecond,
		WorkerGracefulKillTimeout:  time.Minute,
		WorkerImmediateKillTimeout: time.Minute,
	}

	logger, err := logfx.NewLogger(&logfx.Config{Level: "error"}) //nolint:exhaustruct
	require.NoError(t, err)

	module := workerfx.NewModule(factory, cfg, logger)

	monitor := processfx.NewWorkerMonitor(
		0, "worker-0",
		module.BackendFactory()(0),
		clockfx.NewRealClock(), logger, module.Hooks(), cfg,
	)

	ctx := context.Background()

	monitor.SetWanted(true)
	monitor.Tick(ctx) // IDLE -> STARTING: construct, BeforeFork, spawn

	created := log.createdList()
	forks := log.beforeForkList()
	require.Len(t, created, 1)
	require.Len(t, forks, 1, "BeforeFork must fire on the first spawn")
	require.Same(t, created[0], forks[0], "BeforeFork must land on the instance about to run")

	monitor.Tick(ctx) // STARTING -> RUNNING (in-process heartbeat self-certifies)
	require.Equal(t, processfx.WorkerStateRunning, monitor.Status().State)

	monitor.RequestStop(0)

	// The graceful signal invokes Stop, Run returns, and the monitor reaps
	// and respawns; keep ticking until the second spawn has happened.
	require.Eventually(t, func() bool {
		monitor.Tick(ctx)

		return len(log.createdList()) == 2
	}, 2*time.Second, 5*time.Millisecond, "expected a respawn after the graceful stop")

	created = log.createdList()
	forks = log.beforeForkList()
	require.Len(t, forks, 2, "BeforeFork must fire on the respawn too")
	require.Same(t, created[1], forks[1], "respawn BeforeFork must land on the new instance, not the stale one")
	require.NotSame(t, created[0], created[1])
}
