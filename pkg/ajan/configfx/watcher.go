package configfx

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback is invoked on the watcher's own goroutine whenever one of
// the watched config files changes. It takes no argument and returns no
// error: the caller (cmd/daemon) re-runs the same loader it used at startup
// and is responsible for validating and applying the result. Keeping this
// decoupled from any particular
// Config type is what lets ConfigWatcher live in configfx rather than
// processfx.
type ReloadCallback func()

// ConfigWatcher watches one or more config file paths for changes and
// invokes a ReloadCallback on write, so file-driven reload and a USR2 signal
// drive the exact same code path.
type ConfigWatcher struct {
	watcher *fsnotify.Watcher
	paths   map[string]bool
	cb      ReloadCallback
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewConfigWatcher watches the directories containing each of paths (not
// the files themselves) so that atomic-rename-on-save editors and
// config-management tools that replace the file wholesale are still caught.
// A path that does not exist yet is still tracked (its creation triggers
// the callback), and a directory that cannot be watched is skipped rather
// than erroring, since not every config source configured for LoadDefaults
// need exist on disk (daemonkit.toml/config.json/.env are all best-effort).
func NewConfigWatcher(paths []string, cb ReloadCallback) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create config file watcher: %w", err)
	}

	watched := make(map[string]bool, len(paths))
	dirs := make(map[string]bool, len(paths))

	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			continue
		}

		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			continue
		}
	}

	return &ConfigWatcher{
		watcher: watcher,
		paths:   watched,
		cb:      cb,
		done:    make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *ConfigWatcher) Start() {
	w.wg.Add(1)

	go w.watch()
}

// Stop stops watching and waits for the watch goroutine to exit.
func (w *ConfigWatcher) Stop() {
	close(w.done)
	w.watcher.Close() //nolint:errcheck
	w.wg.Wait()
}

func (w *ConfigWatcher) watch() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			if !w.matches(event.Name) {
				continue
			}

			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.cb()
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *ConfigWatcher) matches(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}

	return w.paths[abs]
}
