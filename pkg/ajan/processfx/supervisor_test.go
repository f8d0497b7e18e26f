package processfx_test

import (
	"context"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/stretchr/testify/require"
)

func supervisorTestConfig() *processfx.Config {
	return &processfx.Config{ //nolint:exhaustruct
		EnableDetach:      true,
		ServerRestartWait: 10 * time.Millisecond,
		ServerDetachWait:  time.Second,
	}
}

// TestSupervisor_GracefulStopEndsRunOnceChildExits spawns a child that blocks
// reading a single byte from its inherited command pipe fd (fd 3, per
// CommandPipeEnvVar's contract) and exits once it receives one. A graceful
// stop event is forwarded to it over that pipe exactly as a real TERM would
// be, and Run must return cleanly once the child exits.
func TestSupervisor_GracefulStopEndsRunOnceChildExits(t *testing.T) {
	t.Parallel()

	factory := func(_ context.Context) *exec.Cmd {
		return exec.Command("/bin/sh", "-c", "dd bs=1 count=1 <&3 >/dev/null 2>&1; exit 0") //nolint:gosec
	}

	sup := processfx.NewSupervisor(supervisorTestConfig(), factory, testLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return sup.Status().ServerPID != 0
	}, 2*time.Second, 5*time.Millisecond, "expected a server child to be spawned")

	sup.Queue().Enqueue(processfx.EventGracefulStop)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not exit after graceful stop")
	}
}

// TestSupervisor_RespawnsOnCrash verifies the ordinary crash/respawn path:
// a child that exits on its own, with no shutdown requested, is
// treated as a crash and respawned after server_restart_wait.
func TestSupervisor_RespawnsOnCrash(t *testing.T) {
	t.Parallel()

	var spawnCount atomic.Int32

	factory := func(_ context.Context) *exec.Cmd {
		spawnCount.Add(1)

		return exec.Command("/bin/sh", "-c", "exit 1") //nolint:gosec
	}

	sup := processfx.NewSupervisor(supervisorTestConfig(), factory, testLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	done := make(chan error, 1)

	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return spawnCount.Load() >= 3
	}, 3*time.Second, 5*time.Millisecond, "expected at least 3 respawns after repeated crashes")

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not exit after context cancellation")
	}
}

// TestSupervisor_DetachSpawnsReplacementBeforeOldExits drives the live
// restart protocol: the old server keeps running past the
// detach deadline, a replacement is spawned, and the old one's later exit is
// absorbed without ending Run.
func TestSupervisor_DetachSpawnsReplacementBeforeOldExits(t *testing.T) {
	t.Parallel()

	var spawnCount atomic.Int32

	factory := func(_ context.Context) *exec.Cmd {
		n := spawnCount.Add(1)
		if n == 1 {
			// First server: reads the forwarded detach byte but keeps
			// running past the detach deadline, then exits on its own.
			return exec.Command("/bin/sh", "-c", "dd bs=1 count=1 <&3 >/dev/null 2>&1; sleep 0.2; exit 0") //nolint:gosec
		}

		return exec.Command("/bin/sh", "-c", "sleep 2") //nolint:gosec
	}

	cfg := supervisorTestConfig()
	cfg.ServerDetachWait = 20 * time.Millisecond

	sup := processfx.NewSupervisor(cfg, factory, testLogger(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool {
		return spawnCount.Load() >= 1
	}, time.Second, 5*time.Millisecond)

	sup.Queue().Enqueue(processfx.EventDetach)

	require.Eventually(t, func() bool {
		return spawnCount.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond, "expected a replacement server spawned at the detach deadline")

	require.Eventually(t, func() bool {
		return !sup.Status().Detaching
	}, 2*time.Second, 5*time.Millisecond, "expected detaching to clear once the old server exits")

	sup.Queue().Enqueue(processfx.EventGracefulStop)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("supervisor did not exit after test cleanup stop")
	}
}
