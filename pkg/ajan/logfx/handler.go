package logfx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// consoleHandler is a slog.Handler that renders a single human-readable,
// optionally ANSI-colored line per record: "TIME LEVEL msg key=value ...".
// This handler is console/file output only; records are not forwarded to
// the LoggerProvider set through Logger.WithLoggerProvider.
type consoleHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Leveler
	color  bool
	source bool
	attrs  []slog.Attr
	groups []string
}

func newConsoleHandler(out io.Writer, config *Config) *consoleHandler {
	color := config.PrettyColor
	if info, err := os.Stdout.Stat(); err != nil || info.Mode()&os.ModeCharDevice == 0 {
		color = false
	}

	return &consoleHandler{ //nolint:exhaustruct
		mu:     &sync.Mutex{},
		out:    out,
		level:  parseLevel(config.Level),
		color:  color,
		source: config.AddSource,
	}
}

func parseLevel(level string) slog.Level {
	var l slog.Level

	_ = l.UnmarshalText([]byte(level))

	return l
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	levelText := record.Level.String()

	line := fmt.Sprintf(
		"%s %s %s",
		record.Time.UTC().Format(time.RFC3339Nano),
		levelLabel(levelText, h.color),
		record.Message,
	)

	for _, attr := range h.attrs {
		line += " " + attr.String()
	}

	record.Attrs(func(attr slog.Attr) bool {
		line += " " + attr.String()

		return true
	})

	if h.source && record.PC != 0 {
		line += fmt.Sprintf(" pc=%d", record.PC)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	_, err := fmt.Fprintln(h.out, line)
	if err != nil {
		return fmt.Errorf("failed to write log line: %w", err)
	}

	return nil
}

func levelLabel(level string, colorize bool) string {
	if !colorize {
		return level
	}

	return Colored(levelColor(level), level)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)

	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.groups = append(append([]string{}, h.groups...), name)

	return &clone
}
