// Package appcontext wires the daemon's configuration, logger, and admin
// HTTP surface together, independent of which role (supervisor/server) the
// current process is playing.
package appcontext

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/eser/daemonkit/pkg/ajan/configfx"
	"github.com/eser/daemonkit/pkg/ajan/httpfx"
	"github.com/eser/daemonkit/pkg/ajan/httpfx/modules/healthcheck"
	"github.com/eser/daemonkit/pkg/ajan/httpfx/modules/profiling"
	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/eser/daemonkit/pkg/ajan/processfx"
)

var ErrInitFailed = errors.New("failed to initialize app context")

// Config is the daemon's full configuration surface: the processfx core
// options (including the nested log keys) plus the optional
// admin HTTP surface.
type Config struct {
	processfx.Config

	HTTP      httpfx.Config   `conf:"http"`
	Telemetry TelemetryConfig `conf:"telemetry"`
}

// AppContext is the embedding application's composition root.
type AppContext struct {
	Config *Config
	Logger *logfx.Logger

	telemetryShutdown func(context.Context) error
}

func New() *AppContext {
	return &AppContext{} //nolint:exhaustruct
}

func (a *AppContext) Init(ctx context.Context) error {
	cl := configfx.NewConfigManager()

	a.Config = &Config{} //nolint:exhaustruct

	if err := cl.LoadDefaults(a.Config); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	if err := a.Config.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	logger, err := logfx.NewLogger(toLogfxConfig(&a.Config.Logger))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	a.Logger = logger

	if err := a.initTelemetry(ctx); err != nil {
		return err
	}

	return nil
}

// Shutdown flushes telemetry batches, if telemetry was enabled. Safe to
// call (and a no-op) otherwise.
func (a *AppContext) Shutdown(ctx context.Context) {
	if a.telemetryShutdown == nil {
		return
	}

	if err := a.telemetryShutdown(ctx); err != nil {
		a.Logger.WarnContext(ctx, "telemetry shutdown failed", "error", err)
	}
}

// ConfigFilePaths lists the config file resources LoadDefaults reads,
// in the order a ConfigWatcher should watch them for changes.
func (a *AppContext) ConfigFilePaths() []string {
	return []string{"daemonkit.toml", "config.json", ".env"}
}

// ReloadConfig satisfies workerfx.ConfigReloader: it re-runs the same
// best-effort file/env loading pipeline Init used, and returns the
// processfx.Config half of the result for Server.Reload to install. The admin HTTP config is updated on the
// AppContext directly since it isn't part of processfx.Config; Logger
// options are deliberately left untouched here, since none of the log
// keys are dynamically reloadable.
func (a *AppContext) ReloadConfig(_ context.Context) (*processfx.Config, error) {
	cl := configfx.NewConfigManager()

	next := &Config{} //nolint:exhaustruct

	if err := cl.LoadDefaults(next); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	a.Config.HTTP = next.HTTP

	return &next.Config, nil
}

// toLogfxConfig maps the daemon's flat log options onto the richer
// logfx.Config the logger itself is built from.
func toLogfxConfig(opts *processfx.LoggerOptions) *logfx.Config {
	return &logfx.Config{ //nolint:exhaustruct
		Level:         opts.Level,
		Stdout:        opts.Stdout,
		Stderr:        opts.Stderr,
		PrettyColor:   true,
		RotatePath:    opts.Path,
		RotateSizeMB:  opts.RotateSize / (1 << 20), //nolint:mnd
		RotateAgeDays: opts.RotateAge,
	}
}

// StartAdminHTTP mounts /health and /debug/pprof/* (when enabled) and starts
// the admin HTTP surface. Returns a cleanup function, or nil, nil if the
// surface has nothing to serve.
func (a *AppContext) StartAdminHTTP(
	ctx context.Context,
	server healthcheck.StatusSource,
	supervisor healthcheck.SupervisorSource,
) (func(), error) {
	if !a.Config.HTTP.HealthCheckEnabled && !a.Config.HTTP.ProfilingEnabled {
		return nil, nil
	}

	mux := http.NewServeMux()

	healthcheck.RegisterRoutes(mux, &a.Config.HTTP, server, supervisor)
	profiling.RegisterRoutes(mux, &a.Config.HTTP)

	service := httpfx.NewHTTPService(&a.Config.HTTP, mux, a.Logger)

	cleanup, err := service.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	return cleanup, nil
}
