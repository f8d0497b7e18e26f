package processfx_test

import (
	"testing"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/stretchr/testify/require"
)

func TestSignalQueue_DrainsInEnqueueOrder(t *testing.T) {
	t.Parallel()

	queue := processfx.NewSignalQueue()

	queue.Enqueue(processfx.EventReload)
	queue.Enqueue(processfx.EventGracefulStop)

	require.Equal(t, []processfx.Event{processfx.EventReload, processfx.EventGracefulStop}, queue.DrainAll())
}

func TestSignalQueue_CoalescesIdenticalPendingEvents(t *testing.T) {
	t.Parallel()

	queue := processfx.NewSignalQueue()

	queue.Enqueue(processfx.EventReload)
	queue.Enqueue(processfx.EventReload)
	queue.Enqueue(processfx.EventReload)

	require.Equal(t, []processfx.Event{processfx.EventReload}, queue.DrainAll())
}

func TestSignalQueue_DrainIsIdempotentWhenEmpty(t *testing.T) {
	t.Parallel()

	queue := processfx.NewSignalQueue()

	require.Nil(t, queue.DrainAll())
}

func TestSignalQueue_NotifiesOnEnqueue(t *testing.T) {
	t.Parallel()

	queue := processfx.NewSignalQueue()

	select {
	case <-queue.Notify():
		t.Fatal("unexpected notification before any enqueue")
	default:
	}

	queue.Enqueue(processfx.EventDump)

	select {
	case <-queue.Notify():
	case <-time.After(time.Second):
		t.Fatal("expected notification after enqueue")
	}
}

func TestSignalQueue_ReenqueueAfterDrainIsAllowed(t *testing.T) {
	t.Parallel()

	queue := processfx.NewSignalQueue()

	queue.Enqueue(processfx.EventGracefulStop)
	queue.DrainAll()
	queue.Enqueue(processfx.EventGracefulStop)

	require.Equal(t, []processfx.Event{processfx.EventGracefulStop}, queue.DrainAll())
}

func TestEvent_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "graceful_stop", processfx.EventGracefulStop.String())
	require.Equal(t, "reload", processfx.EventReload.String())
	require.Equal(t, "unknown", processfx.Event(99).String())
}
