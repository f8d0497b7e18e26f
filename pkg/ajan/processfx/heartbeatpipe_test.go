package processfx_test

import (
	"testing"

	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/stretchr/testify/require"
)

func TestHeartbeatPipe_DrainNonBlockingReportsBeats(t *testing.T) {
	t.Parallel()

	pipe, err := processfx.NewHeartbeatPipe()
	require.NoError(t, err)

	defer pipe.Close() //nolint:errcheck

	require.False(t, pipe.DrainNonBlocking(), "no beats written yet")

	_, err = pipe.WriteEnd().Write([]byte{1})
	require.NoError(t, err)

	require.True(t, pipe.DrainNonBlocking())
	require.False(t, pipe.DrainNonBlocking(), "second drain with nothing new")
}

func TestHeartbeatPipe_DrainCoalescesMultipleBeats(t *testing.T) {
	t.Parallel()

	pipe, err := processfx.NewHeartbeatPipe()
	require.NoError(t, err)

	defer pipe.Close() //nolint:errcheck

	_, err = pipe.WriteEnd().Write([]byte{1, 1, 1})
	require.NoError(t, err)

	require.True(t, pipe.DrainNonBlocking())
	require.False(t, pipe.DrainNonBlocking())
}
