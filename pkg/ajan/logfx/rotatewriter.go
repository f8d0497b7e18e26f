package logfx

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// rotateWriter is a minimal size- and age-bounded file writer.
type rotateWriter struct {
	mu sync.Mutex

	path    string
	maxSize int64
	maxAge  time.Duration

	file    *os.File
	written int64
}

func newRotateWriter(path string, maxSizeMB, maxAgeDays int) (*rotateWriter, error) {
	writer := &rotateWriter{ //nolint:exhaustruct
		path:    path,
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		maxAge:  time.Duration(maxAgeDays) * 24 * time.Hour,
	}

	if err := writer.openCurrent(); err != nil {
		return nil, err
	}

	return writer, nil
}

func (w *rotateWriter) openCurrent() error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil { //nolint:mnd
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	file, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:mnd
	if err != nil {
		return fmt.Errorf("failed to open log file %q: %w", w.path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()

		return fmt.Errorf("failed to stat log file %q: %w", w.path, err)
	}

	w.file = file
	w.written = info.Size()

	return nil
}

func (w *rotateWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxSize > 0 && w.written+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.written += int64(n)

	if err != nil {
		return n, fmt.Errorf("failed to write log entry: %w", err)
	}

	return n, nil
}

func (w *rotateWriter) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file for rotation: %w", err)
	}

	rotated := fmt.Sprintf("%s.%s", w.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(w.path, rotated); err != nil {
		return fmt.Errorf("failed to rotate log file: %w", err)
	}

	if err := w.openCurrent(); err != nil {
		return err
	}

	w.pruneAged()

	return nil
}

func (w *rotateWriter) pruneAged() {
	if w.maxAge <= 0 {
		return
	}

	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	cutoff := time.Now().Add(-w.maxAge)

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || len(name) <= len(base)+1 || name[:len(base)+1] != base+"." {
			continue
		}

		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		_ = os.Remove(filepath.Join(dir, name))
	}
}

func (w *rotateWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	return nil
}
