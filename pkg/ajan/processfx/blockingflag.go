package processfx

import (
	"sync"
	"time"
)

// BlockingFlag is a thread-safe boolean-with-wait, used by worker
// bodies to implement a cooperative `stop` without a sleep-and-poll loop:
// replace `for !stopped { sleep(1) }` with `flag.WaitForSet(0)`.
//
// wait_for_set/wait_for_reset are implemented with a condition variable
// rather than a channel close, because the flag must be settable and
// resettable many times over a worker's life (reload may reset it), and a
// closed channel cannot be reopened.
type BlockingFlag struct {
	mu    sync.Mutex
	cond  *sync.Cond
	value bool
}

func NewBlockingFlag() *BlockingFlag {
	flag := &BlockingFlag{} //nolint:exhaustruct
	flag.cond = sync.NewCond(&flag.mu)

	return flag
}

func (f *BlockingFlag) Set() {
	f.mu.Lock()
	f.value = true
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *BlockingFlag) Reset() {
	f.mu.Lock()
	f.value = false
	f.mu.Unlock()
	f.cond.Broadcast()
}

func (f *BlockingFlag) IsSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.value
}

// WaitForSet returns true immediately if already set; otherwise blocks until
// set or timeout elapses, whichever comes first. timeout <= 0 means wait
// forever. Spurious wakeups are absorbed by re-checking the predicate in a
// loop, per the condition-variable contract.
func (f *BlockingFlag) WaitForSet(timeout time.Duration) bool {
	return f.waitFor(true, timeout)
}

// WaitForReset is the mirror of WaitForSet, for code that waits on a flag
// becoming unset again (e.g. a reload gate).
func (f *BlockingFlag) WaitForReset(timeout time.Duration) bool {
	return f.waitFor(false, timeout)
}

func (f *BlockingFlag) waitFor(want bool, timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.value == want {
		return true
	}

	if timeout <= 0 {
		for f.value != want {
			f.cond.Wait()
		}

		return true
	}

	done := make(chan struct{})

	// done is closed under mu so the expiry cannot slip between the
	// waiter's check and its cond.Wait, which would strand it past the
	// deadline.
	deadline := time.AfterFunc(timeout, func() {
		f.mu.Lock()
		close(done)
		f.mu.Unlock()
		f.cond.Broadcast()
	})
	defer deadline.Stop()

	for f.value != want {
		select {
		case <-done:
			return f.value == want
		default:
		}

		f.cond.Wait()
	}

	return true
}
