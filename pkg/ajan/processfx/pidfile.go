package processfx

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

var ErrPIDFileOwnedByLiveProcess = errors.New("pid file is owned by a live process")

// PIDFile holds the ASCII decimal PID of the owning process, terminated by
// newline. Exactly one process owns it (the daemon: Supervisor if enabled,
// else Server), and only that owner removes it on clean exit.
type PIDFile struct {
	path string
}

func NewPIDFile(path string) *PIDFile {
	return &PIDFile{path: path}
}

// Write writes the current process's PID, overwriting any existing file.
// Callers that care about collision detection should call Check first.
func (f *PIDFile) Write() error {
	if f.path == "" {
		return nil
	}

	contents := strconv.Itoa(os.Getpid()) + "\n"

	if err := os.WriteFile(f.path, []byte(contents), 0o644); err != nil { //nolint:mnd,gosec
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	return nil
}

// Read parses the PID currently recorded in the file.
func (f *PIDFile) Read() (int, error) {
	data, err := os.ReadFile(f.path) //nolint:gosec
	if err != nil {
		return 0, fmt.Errorf("failed to read pid file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse pid file contents: %w", err)
	}

	return pid, nil
}

// Check reports whether the file names a PID that is still alive, using
// signal 0, so startup fails instead of clobbering a live daemon's file.
// A missing file or unparsable contents is treated as "not live" so startup
// proceeds and overwrites it.
func (f *PIDFile) Check() error {
	pid, err := f.Read()
	if err != nil {
		return nil //nolint:nilerr
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil //nolint:nilerr
	}

	if err := proc.Signal(syscall.Signal(0)); err == nil {
		return fmt.Errorf("%w: pid %d", ErrPIDFileOwnedByLiveProcess, pid)
	}

	return nil
}

// Remove deletes the pid file; a missing file is not an error.
func (f *PIDFile) Remove() error {
	if f.path == "" {
		return nil
	}

	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pid file: %w", err)
	}

	return nil
}
