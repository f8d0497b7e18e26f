package processfx_test

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteReadRemove(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.pid")
	file := processfx.NewPIDFile(path)

	require.NoError(t, file.Write())

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(contents))

	pid, err := file.Read()
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), pid)

	require.NoError(t, file.Remove())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestPIDFile_RemoveOfMissingFileIsNotAnError(t *testing.T) {
	t.Parallel()

	file := processfx.NewPIDFile(filepath.Join(t.TempDir(), "missing.pid"))
	require.NoError(t, file.Remove())
}

func TestPIDFile_CheckPassesForMissingOrStaleFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.pid")
	file := processfx.NewPIDFile(path)

	// Missing file: no collision.
	require.NoError(t, file.Check())

	// A PID that cannot possibly be alive.
	require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))
	require.NoError(t, file.Check())
}

func TestPIDFile_CheckFailsForLiveProcess(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "daemon.pid")
	require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644))

	file := processfx.NewPIDFile(path)

	err := file.Check()
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "live process"))
}

func TestPIDFile_WriteWithEmptyPathIsNoop(t *testing.T) {
	t.Parallel()

	file := processfx.NewPIDFile("")
	require.NoError(t, file.Write())
	require.NoError(t, file.Remove())
}
