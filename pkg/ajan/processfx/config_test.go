package processfx_test

import (
	"testing"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/stretchr/testify/require"
)

func validConfig() *processfx.Config {
	return &processfx.Config{ //nolint:exhaustruct
		WorkerType:                 processfx.WorkerBackendEmbedded,
		Workers:                    1,
		WorkerHeartbeatInterval:    time.Second,
		WorkerHeartbeatTimeout:     180 * time.Second,
		WorkerGracefulKillTimeout:  600 * time.Second,
		WorkerImmediateKillTimeout: 600 * time.Second,
	}
}

func TestConfigValidate_AcceptsDefaults(t *testing.T) {
	t.Parallel()

	require.NoError(t, validConfig().Validate())
}

func TestConfigValidate_RejectsUnknownBackend(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.WorkerType = "fiber"

	require.ErrorIs(t, cfg.Validate(), processfx.ErrUnknownWorkerBackend)
}

func TestConfigValidate_RejectsNegativeWorkers(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.Workers = -1

	require.ErrorIs(t, cfg.Validate(), processfx.ErrInvalidConfig)
}

func TestConfigValidate_AllowsNeverSentinelForKillTimeouts(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.WorkerGracefulKillTimeout = processfx.KillTimeoutNever
	cfg.WorkerImmediateKillTimeout = processfx.KillTimeoutNever

	require.NoError(t, cfg.Validate())
}

func TestConfigValidate_RejectsOtherNegativeKillTimeouts(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.WorkerGracefulKillTimeout = -5 * time.Second

	require.ErrorIs(t, cfg.Validate(), processfx.ErrInvalidConfig)
}

func TestConfigValidate_RejectsNonPositiveHeartbeatInterval(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.WorkerHeartbeatInterval = 0

	require.ErrorIs(t, cfg.Validate(), processfx.ErrInvalidConfig)
}
