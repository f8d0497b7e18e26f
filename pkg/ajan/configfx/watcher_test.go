package configfx_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eser/daemonkit/pkg/ajan/configfx"
	"github.com/stretchr/testify/require"
)

func TestConfigWatcher_FiresOnFileWrite(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "daemonkit.toml")
	require.NoError(t, os.WriteFile(path, []byte("workers = 1\n"), 0o600))

	reloaded := make(chan struct{}, 1)

	watcher, err := configfx.NewConfigWatcher([]string{path}, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	watcher.Start()
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(path, []byte("workers = 2\n"), 0o600))

	select {
	case <-reloaded:
	case <-time.After(2 * time.Second):
		t.Fatal("expected reload callback to fire after config file write")
	}
}

func TestConfigWatcher_IgnoresUnrelatedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	watched := filepath.Join(dir, "daemonkit.toml")
	other := filepath.Join(dir, "unrelated.txt")
	require.NoError(t, os.WriteFile(watched, []byte("workers = 1\n"), 0o600))

	reloaded := make(chan struct{}, 1)

	watcher, err := configfx.NewConfigWatcher([]string{watched}, func() {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	watcher.Start()
	defer watcher.Stop()

	require.NoError(t, os.WriteFile(other, []byte("noise"), 0o600))

	select {
	case <-reloaded:
		t.Fatal("did not expect reload callback for an unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
