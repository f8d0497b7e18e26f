package processfx

import (
	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"go.opentelemetry.io/otel/metric"
)

// workerMetrics are the otel counters recorded by a WorkerMonitor.
type workerMetrics struct {
	starts    metric.Int64Counter
	finishes  metric.Int64Counter
	stalls    metric.Int64Counter
	forceKill metric.Int64Counter
}

func newWorkerMetrics(logger *logfx.Logger) *workerMetrics {
	builder := logger.NewMetricsBuilder("processfx.worker")

	return &workerMetrics{
		starts:    builder.Counter("worker_starts_total", "worker spawn attempts"),
		finishes:  builder.Counter("worker_finishes_total", "worker runtime handle exits observed"),
		stalls:    builder.Counter("worker_stalls_total", "heartbeat-timeout escalations"),
		forceKill: builder.Counter("worker_force_kills_total", "unblockable kills sent"),
	}
}

// serverMetrics are the otel counters recorded by a Server across its whole
// worker pool (restarts, reloads) and by a Supervisor (server respawns,
// detaches).
type serverMetrics struct {
	reloads        metric.Int64Counter
	reloadRejected metric.Int64Counter
	serverRestarts metric.Int64Counter
	detaches       metric.Int64Counter
}

func newServerMetrics(logger *logfx.Logger) *serverMetrics {
	builder := logger.NewMetricsBuilder("processfx.server")

	return &serverMetrics{
		reloads:        builder.Counter("config_reloads_total", "accepted configuration reloads"),
		reloadRejected: builder.Counter("config_reloads_rejected_total", "rejected configuration reloads"),
		serverRestarts: builder.Counter("server_restarts_total", "supervisor-driven server respawns"),
		detaches:       builder.Counter("server_detaches_total", "live-restart detach sequences started"),
	}
}
