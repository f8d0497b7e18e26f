package processfx

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/clockfx"
	"github.com/eser/daemonkit/pkg/ajan/logfx"
)

// stopStage names the two levels a stop request can target; forced (stage
// 2) is never requested directly, only reached by escalation timeout.
const (
	stageGraceful  = 0
	stageImmediate = 1
	stageForced    = 2
)

// WorkerMonitor is the per-worker-slot state machine. One
// instance exists per dense worker_id for the lifetime of the Server; the
// WorkerBackend (and its runtime handle) underneath it is recreated on
// every (re)spawn.
type WorkerMonitor struct {
	id   int
	name string

	newBackend func() (WorkerBackend, error)
	clock      clockfx.Clock
	logger     *logfx.Logger
	hooks      WorkerHooks
	metrics    *workerMetrics

	cfg *Config // swapped wholesale on Reload

	mu sync.Mutex

	state       WorkerState
	backend     WorkerBackend
	wanted      bool
	pending     int // -1 = none, else the stronger of a deferred stop request
	initialized bool // worker.initialize has fired once for this worker_id

	lastHeartbeatAt time.Time
	stageEnteredAt  time.Time
	nextSignalAt    time.Time
	timesSentStage  int
	nextStartAt     time.Time
	startedAt       time.Time

	restartCount  int
	totalRestarts int
	lastErr       error
}

func NewWorkerMonitor(
	id int,
	name string,
	newBackend func() (WorkerBackend, error),
	clock clockfx.Clock,
	logger *logfx.Logger,
	hooks WorkerHooks,
	cfg *Config,
) *WorkerMonitor {
	return &WorkerMonitor{ //nolint:exhaustruct
		id:         id,
		name:       name,
		newBackend: newBackend,
		clock:      clock,
		logger:     logger,
		hooks:      hooks,
		cfg:        cfg,
		state:      WorkerStateIdle,
		pending:    -1,
		metrics:    newWorkerMetrics(logger),
	}
}

// SetWanted controls whether the slot should be occupied. The server sets
// this to false to shrink the pool,
// which drives a RUNNING worker to STOPPING_GRACEFUL on the next tick
// instead of auto-restarting once FINISHED.
func (m *WorkerMonitor) SetWanted(wanted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.wanted = wanted
}

// SetConfig installs a new configuration snapshot, used by Server.Reload.
func (m *WorkerMonitor) SetConfig(cfg *Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.cfg = cfg
}

// RequestStop asks the worker to stop at the given stage (stageGraceful or
// stageImmediate). A request arriving while STARTING is deferred until
// RUNNING is reached (or the start fails). A request arriving in
// STOPPING_GRACEFUL for stageImmediate escalates immediately regardless of
// worker_graceful_kill_timeout, which only gates time-based escalation.
func (m *WorkerMonitor) RequestStop(stage int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case WorkerStateIdle, WorkerStateFinished:
		// Nothing running to stop.
	case WorkerStateStarting:
		if stage > m.pending {
			m.pending = stage
		}
	case WorkerStateRunning:
		m.enterStage(stage)
	case WorkerStateStoppingGraceful:
		if stage == stageImmediate {
			m.enterStage(stageImmediate)
		}
	case WorkerStateStoppingImmediate, WorkerStateStoppingForced:
		// Already escalating; nothing stronger to request.
	}
}

// NotifyReload forwards the reload notification to the running backend, if
// any and if it supports the WorkerReloader capability. Called by Server on
// a reload event; errors are logged, not propagated (a worker's reload
// failure does not reject the server-wide config reload).
func (m *WorkerMonitor) NotifyReload(ctx context.Context) {
	m.mu.Lock()
	backend := m.backend
	m.mu.Unlock()

	if backend == nil {
		return
	}

	if err := tryReload(ctx, backend); err != nil {
		m.logger.WarnContext(ctx, "worker reload failed",
			"worker_id", m.id, "name", m.name, "error", err)
	}
}

// Status returns a point-in-time snapshot for introspection.
func (m *WorkerMonitor) Status() WorkerStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := WorkerStatus{
		WorkerID:        m.id,
		Name:            m.name,
		State:           m.state,
		LastHeartbeatAt: m.lastHeartbeatAt,
		StageEnteredAt:  m.stageEnteredAt,
		NextSignalAt:    m.nextSignalAt,
		StageIndex:      m.state.stageIndex(),
		NextStartAt:     m.nextStartAt,
		StartedAt:       m.startedAt,
		RestartCount:    m.restartCount,
		TotalRestarts:   m.totalRestarts,
		LastError:       m.lastErr,
	}

	if m.backend != nil {
		status.PID = m.backend.PID()
	}

	return status
}

// NextWakeup reports the earliest time the server loop must wake this
// monitor even absent other events, feeding the loop's sleep-until-earliest
// rule.
func (m *WorkerMonitor) NextWakeup() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case WorkerStateIdle:
		if m.wanted {
			return m.nextStartAt, true
		}

		return time.Time{}, false
	case WorkerStateStoppingGraceful, WorkerStateStoppingImmediate:
		return m.nextSignalAt, true
	default:
		return time.Time{}, false
	}
}

// Tick advances the state machine by one step. The server loop calls this
// for every monitor on every iteration; it is cheap and idempotent when
// there is nothing to do.
func (m *WorkerMonitor) Tick(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	switch m.state { //nolint:exhaustive
	case WorkerStateIdle:
		m.tickIdle(ctx, now)
	case WorkerStateStarting:
		m.tickStarting(ctx, now)
	case WorkerStateRunning:
		m.tickRunning(ctx, now)
	case WorkerStateStoppingGraceful:
		m.tickStopping(ctx, now, stageGraceful)
	case WorkerStateStoppingImmediate:
		m.tickStopping(ctx, now, stageImmediate)
	case WorkerStateStoppingForced:
		m.tickForced(ctx)
	case WorkerStateFinished:
		m.tickFinished(ctx, now)
	}
}

func (m *WorkerMonitor) tickIdle(ctx context.Context, now time.Time) {
	if !m.wanted || now.Before(m.nextStartAt) {
		return
	}

	backend, err := m.newBackend()
	if err != nil {
		m.logger.ErrorContext(ctx, "worker spawn factory failed",
			"worker_id", m.id, "name", m.name, "error", err)
		m.lastErr = err
		m.nextStartAt = now.Add(max(m.cfg.StartWorkerDelay, time.Second))

		return
	}

	// worker.initialize fires once per worker_id, before this worker's
	// first spawn: newBackend has already built the backend (and, for a
	// thread/embedded Module, the Worker instance the hook dispatches onto),
	// and the worker descriptor itself lives for the monitor's lifetime, so
	// respawns do not re-initialize it.
	if !m.initialized {
		m.initialized = true

		if m.hooks != nil {
			m.hooks.WorkerInitialize(ctx, m.id)
		}
	}

	if m.hooks != nil {
		m.hooks.WorkerBeforeFork(ctx, m.id)
	}

	if err := backend.Spawn(ctx); err != nil {
		m.logger.ErrorContext(ctx, "worker spawn failed",
			"worker_id", m.id, "name", m.name, "error", err)
		m.lastErr = err
		m.nextStartAt = now.Add(max(m.cfg.StartWorkerDelay, time.Second))

		return
	}

	m.backend = backend
	m.state = WorkerStateStarting
	m.startedAt = now
	m.stageEnteredAt = now
	m.pending = -1
	m.metrics.starts.Add(ctx, 1)
}

func (m *WorkerMonitor) tickStarting(ctx context.Context, now time.Time) {
	if !m.backend.Alive() {
		m.enterFinished(ctx)

		return
	}

	if m.cfg.WorkerType != WorkerBackendProcess || m.backend.HasHeartbeat() {
		m.lastHeartbeatAt = now
		m.state = WorkerStateRunning

		if m.pending >= 0 {
			stage := m.pending
			m.pending = -1
			m.enterStage(stage)
		}

		if m.hooks != nil {
			m.hooks.WorkerAfterStart(ctx, m.id)
		}
	}
}

func (m *WorkerMonitor) tickRunning(ctx context.Context, now time.Time) {
	if m.backend.HasHeartbeat() {
		m.lastHeartbeatAt = now
	}

	if !m.backend.Alive() {
		m.enterFinished(ctx)

		return
	}

	if m.cfg.WorkerType == WorkerBackendProcess && !m.lastHeartbeatAt.IsZero() &&
		now.Sub(m.lastHeartbeatAt) > m.cfg.WorkerHeartbeatTimeout {
		// Stalled: skip graceful entirely. A stalled worker must reach
		// STOPPING_IMMEDIATE or beyond within one tick of the timeout.
		m.logger.WarnContext(ctx, "worker heartbeat timed out",
			"worker_id", m.id, "name", m.name,
			"last_heartbeat_at", m.lastHeartbeatAt)
		m.metrics.stalls.Add(ctx, 1)
		m.enterStage(stageImmediate)

		return
	}

	if !m.wanted {
		m.enterStage(stageGraceful)
	}
}

func (m *WorkerMonitor) tickStopping(ctx context.Context, now time.Time, stage int) {
	if !m.backend.Alive() {
		m.enterFinished(ctx)

		return
	}

	if !now.Before(m.nextSignalAt) {
		if stage == stageImmediate && m.cfg.WorkerType != WorkerBackendProcess && m.timesSentStage == 0 {
			m.logger.WarnContext(ctx, "immediate stop signal unsupported by in-process worker backend, dropped",
				"worker_id", m.id, "name", m.name)
		}

		_ = m.backend.Signal(stage)

		interval, increment := m.escalationIntervals(stage)
		m.timesSentStage++
		m.nextSignalAt = now.Add(interval + increment*time.Duration(m.timesSentStage))
	}

	timeout := m.escalationTimeout(stage)
	if timeout >= 0 && now.Sub(m.stageEnteredAt) > timeout {
		if stage == stageGraceful {
			m.enterStage(stageImmediate)
		} else {
			m.enterStage(stageForced)
		}
	}
}

func (m *WorkerMonitor) tickForced(ctx context.Context) {
	if m.backend != nil && !m.backend.Alive() {
		m.enterFinished(ctx)

		return
	}

	if m.timesSentStage == 0 {
		m.timesSentStage++

		_ = m.backend.ForceKill()
		m.metrics.forceKill.Add(ctx, 1)
	}
}

func (m *WorkerMonitor) tickFinished(ctx context.Context, now time.Time) {
	if m.backend != nil {
		_ = m.backend.Close()
		m.backend = nil
	}

	m.totalRestarts++
	m.restartCount++

	delay := m.cfg.StartWorkerDelay
	jitterFrac := m.cfg.StartWorkerDelayRand

	if jitterFrac > 0 && delay > 0 {
		sign := 1.0
		if rand.Float64() < 0.5 { //nolint:gosec
			sign = -1.0
		}

		delay += time.Duration(float64(delay) * jitterFrac * sign * rand.Float64()) //nolint:gosec
	}

	m.nextStartAt = now.Add(delay)
	m.state = WorkerStateIdle
	m.timesSentStage = 0
	m.metrics.finishes.Add(ctx, 1)
}

// enterStage transitions into a stopping stage (or re-enters a later one),
// resetting the per-stage escalation counters. Caller holds m.mu.
func (m *WorkerMonitor) enterStage(stage int) {
	now := m.clock.Now()

	switch stage {
	case stageGraceful:
		m.state = WorkerStateStoppingGraceful
	case stageImmediate:
		m.state = WorkerStateStoppingImmediate
	default:
		m.state = WorkerStateStoppingForced
	}

	m.stageEnteredAt = now
	m.nextSignalAt = now
	m.timesSentStage = 0
}

// enterFinished transitions RUNNING/STARTING/STOPPING_* into FINISHED. If the
// backend captured a terminal error (a non-zero process exit, or a panic/
// error recovered from a thread/embedded Worker's Run), it is recorded on
// lastErr and logged at warn/error here, while the backend (and its
// exit status) is still reachable.
func (m *WorkerMonitor) enterFinished(ctx context.Context) {
	if m.backend != nil {
		if err := m.backend.LastError(); err != nil {
			m.lastErr = err
			m.logger.ErrorContext(ctx, "worker crashed",
				"worker_id", m.id, "name", m.name, "state", m.state.String(), "error", err)
		}
	}

	m.state = WorkerStateFinished
}

func (m *WorkerMonitor) escalationIntervals(stage int) (time.Duration, time.Duration) {
	if stage == stageGraceful {
		return m.cfg.WorkerGracefulKillInterval, m.cfg.WorkerGracefulKillIntervalIncrement
	}

	return m.cfg.WorkerImmediateKillInterval, m.cfg.WorkerImmediateKillIntervalIncrement
}

func (m *WorkerMonitor) escalationTimeout(stage int) time.Duration {
	if stage == stageGraceful {
		return m.cfg.WorkerGracefulKillTimeout
	}

	return m.cfg.WorkerImmediateKillTimeout
}
