package processfx

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Worker is the minimal contract a worker-monitor drives for the thread and
// embedded backends. The richer,
// capability-interface surface (BeforeFork/AfterStart/Reload/...) lives in
// workerfx and is adapted down to this shape before being handed to a
// WorkerMonitor.
type Worker interface {
	Run(ctx context.Context) error
	Stop()
}

// WorkerReloader is an optional capability a Worker may implement to receive
// a reload notification in place, without being
// restarted. Only meaningful for the thread/embedded backends, which share
// the server's address space; the process backend has no channel to deliver
// it over (the heartbeat pipe is one-directional and no reload signal is
// defined for workers), so it is a documented limitation there.
type WorkerReloader interface {
	Reload(ctx context.Context) error
}

// WorkerFactory builds a fresh Worker instance for each (re)spawn. Workers
// are not reused across restarts; the runtime handle is created and
// destroyed anew each time.
type WorkerFactory func() Worker

// ProcessFactory builds the *exec.Cmd for each (re)spawn of a process-backend
// worker. The returned Cmd must not yet be Start-ed; WorkerBackend.Spawn
// wires ExtraFiles for the heartbeat pipe and starts it.
type ProcessFactory func(ctx context.Context) *exec.Cmd

// WorkerBackend abstracts spawn/alive/signal/join/kill over the three
// worker-type strategies (process, thread, embedded).
type WorkerBackend interface {
	Spawn(ctx context.Context) error
	Alive() bool
	// Signal delivers the stage-appropriate termination request: stage 0
	// is graceful (TERM / user Stop), stage 1 is immediate (QUIT / no-op).
	Signal(stage int) error
	// ForceKill is the unblockable kill (stage 2); process-only, a no-op
	// elsewhere, where forced termination is not available.
	ForceKill() error
	// Join waits up to timeout for the runtime handle to exit, returning
	// true if it did.
	Join(timeout time.Duration) bool
	// HasHeartbeat drains the heartbeat source (pipe or self-certification)
	// and reports whether at least one beat was observed since the last call.
	HasHeartbeat() bool
	PID() int
	Close() error
	// LastError returns the terminal error of the most recent run, if any:
	// a non-zero process exit, or a panic/error recovered from a thread or
	// embedded Worker's Run. Nil means the runtime handle has not exited or
	// exited cleanly. WorkerMonitor reads this once on the RUNNING→FINISHED
	// transition and logs it.
	LastError() error
}

// tryReload invokes WorkerReloader on backend if it implements the optional
// capability, otherwise it is a no-op.
func tryReload(ctx context.Context, backend WorkerBackend) error {
	reloader, ok := backend.(WorkerReloader)
	if !ok {
		return nil
	}

	return reloader.Reload(ctx)
}

// NewWorkerBackend constructs the backend named by backendType.
func NewWorkerBackend(
	backendType WorkerBackendType,
	workerFactory WorkerFactory,
	processFactory ProcessFactory,
) (WorkerBackend, error) {
	switch backendType {
	case WorkerBackendProcess:
		return newProcessBackend(processFactory)
	case WorkerBackendThread:
		return newThreadBackend(workerFactory), nil
	case WorkerBackendEmbedded:
		return newEmbeddedBackend(workerFactory), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkerBackend, backendType)
	}
}

// ------------------------
// process backend
// ------------------------

type processBackend struct {
	factory ProcessFactory
	pipe    *HeartbeatPipe

	mu      sync.Mutex
	cmd     *exec.Cmd
	exited  chan struct{}
	started bool
	lastErr error
}

func newProcessBackend(factory ProcessFactory) (*processBackend, error) {
	pipe, err := NewHeartbeatPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create heartbeat pipe: %w", err)
	}

	return &processBackend{ //nolint:exhaustruct
		factory: factory,
		pipe:    pipe,
	}, nil
}

func (b *processBackend) Spawn(ctx context.Context) error {
	cmd := b.factory(ctx)
	cmd.ExtraFiles = append(cmd.ExtraFiles, b.pipe.WriteEnd())
	cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%d", HeartbeatPipeEnvVar, 2+len(cmd.ExtraFiles)))

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to spawn worker process: %w", err)
	}

	_ = b.pipe.CloseWriteEnd()

	b.mu.Lock()
	b.cmd = cmd
	b.started = true
	b.exited = make(chan struct{})
	exited := b.exited
	b.mu.Unlock()

	go func() {
		waitErr := cmd.Wait()

		b.mu.Lock()
		b.lastErr = waitErr
		b.mu.Unlock()

		close(exited)
	}()

	return nil
}

func (b *processBackend) Alive() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		return false
	}

	select {
	case <-b.exited:
		return false
	default:
		return true
	}
}

func (b *processBackend) Signal(stage int) error {
	b.mu.Lock()
	cmd := b.cmd
	b.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	var sig syscall.Signal

	switch stage {
	case 0:
		sig = syscall.SIGTERM
	case 1:
		sig = syscall.SIGQUIT
	default:
		return nil
	}

	if err := cmd.Process.Signal(sig); err != nil {
		return fmt.Errorf("failed to signal worker process: %w", err)
	}

	return nil
}

func (b *processBackend) ForceKill() error {
	b.mu.Lock()
	cmd := b.cmd
	b.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to force-kill worker process: %w", err)
	}

	return nil
}

func (b *processBackend) Join(timeout time.Duration) bool {
	b.mu.Lock()
	exited := b.exited
	b.mu.Unlock()

	if exited == nil {
		return true
	}

	if timeout <= 0 {
		<-exited

		return true
	}

	select {
	case <-exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (b *processBackend) HasHeartbeat() bool {
	return b.pipe.DrainNonBlocking()
}

func (b *processBackend) PID() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cmd == nil || b.cmd.Process == nil {
		return 0
	}

	return b.cmd.Process.Pid
}

func (b *processBackend) Close() error {
	return b.pipe.Close()
}

// LastError reports cmd.Wait's error, if the process has exited and Wait
// returned non-nil (a non-zero exit status or a start/exec failure after the
// fact). A zero-status exit leaves this nil.
func (b *processBackend) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastErr
}

// ------------------------
// thread backend
// ------------------------

// threadBackend runs the Worker in a goroutine within the server process.
// signal(0) invokes the user's Stop() once; stage >= 1 and ForceKill are
// unsupported no-ops.
type threadBackend struct {
	factory WorkerFactory

	mu        sync.Mutex
	worker    Worker
	cancel    context.CancelFunc
	done      chan struct{}
	stopped bool
	lastErr error
}

func newThreadBackend(factory WorkerFactory) *threadBackend {
	return &threadBackend{factory: factory} //nolint:exhaustruct
}

func (b *threadBackend) Spawn(ctx context.Context) error {
	workerCtx, cancel := context.WithCancel(ctx)
	worker := b.factory()

	b.mu.Lock()
	b.worker = worker
	b.cancel = cancel
	b.done = make(chan struct{})
	b.stopped = false
	done := b.done
	b.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				b.mu.Lock()
				b.lastErr = fmt.Errorf("%w: %v", ErrWorkerPanicked, r)
				b.mu.Unlock()
			}
		}()

		if runErr := worker.Run(workerCtx); runErr != nil {
			b.mu.Lock()
			b.lastErr = runErr
			b.mu.Unlock()
		}
	}()

	return nil
}

func (b *threadBackend) Alive() bool {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()

	if done == nil {
		return false
	}

	select {
	case <-done:
		return false
	default:
		return true
	}
}

func (b *threadBackend) Signal(stage int) error {
	if stage != 0 {
		// QUIT/KILL are unsupported for in-process backends; the caller
		// (WorkerMonitor) logs and drops the request.
		return nil
	}

	b.mu.Lock()
	worker := b.worker
	already := b.stopped
	b.stopped = true
	b.mu.Unlock()

	if worker != nil && !already {
		worker.Stop()
	}

	return nil
}

func (b *threadBackend) ForceKill() error {
	// Not available for in-process workers; cancel the context as the
	// closest available approximation so Run() at least observes ctx.Done().
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	return nil
}

func (b *threadBackend) Join(timeout time.Duration) bool {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()

	if done == nil {
		return true
	}

	if timeout <= 0 {
		<-done

		return true
	}

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// HasHeartbeat self-certifies: as long as the goroutine hasn't exited, the
// thread backend cannot usefully detect its own stall, so it
// always reports a beat while alive.
func (b *threadBackend) HasHeartbeat() bool {
	return b.Alive()
}

// Reload forwards to the running Worker if it implements WorkerReloader.
func (b *threadBackend) Reload(ctx context.Context) error {
	b.mu.Lock()
	worker := b.worker
	b.mu.Unlock()

	if reloader, ok := worker.(WorkerReloader); ok {
		return reloader.Reload(ctx) //nolint:wrapcheck
	}

	return nil
}

func (b *threadBackend) PID() int { return 0 }

func (b *threadBackend) Close() error { return nil }

// LastError reports the panic recovered from, or error returned by, the most
// recent Run call, if any.
func (b *threadBackend) LastError() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.lastErr
}

// ------------------------
// embedded backend
// ------------------------

// embeddedBackend is identical to threadBackend in mechanism: a single
// worker in the server's own execution context, with the same limitations
// as thread. It is kept as a distinct type
// rather than a type alias so Config.WorkerType selection and logging
// report the backend the operator actually asked for.
type embeddedBackend struct {
	threadBackend
}

func newEmbeddedBackend(factory WorkerFactory) *embeddedBackend {
	return &embeddedBackend{threadBackend: threadBackend{factory: factory}} //nolint:exhaustruct
}
