package workerfx

import (
	"context"

	"github.com/eser/daemonkit/pkg/ajan/processfx"
)

// ServerBeforeRunner is the optional `server.before_run` hook, run once in
// the server process before starting any workers. A non-nil error aborts
// Server.Run.
type ServerBeforeRunner interface {
	BeforeRun(ctx context.Context) error
}

// ServerAfterRunner is the optional `server.after_run` hook, run once after
// every worker has finished.
type ServerAfterRunner interface {
	AfterRun(ctx context.Context)
}

// ConfigReloader is the optional `server.reload_config` hook: re-runs the
// embedding application's configuration loader. A nil *processfx.Config
// alongside a nil error means "no change."
type ConfigReloader interface {
	ReloadConfig(ctx context.Context) (*processfx.Config, error)
}

// ServerModule adapts a user-supplied server module (any subset of
// ServerBeforeRunner/ServerAfterRunner/ConfigReloader) into processfx.
// ServerHooks. A nil module behaves like processfx.NoopServerHooks.
type ServerModule struct {
	module any
}

func NewServerModule(module any) *ServerModule {
	return &ServerModule{module: module}
}

func (s *ServerModule) BeforeRun(ctx context.Context) error {
	if r, ok := s.module.(ServerBeforeRunner); ok {
		return r.BeforeRun(ctx) //nolint:wrapcheck
	}

	return nil
}

func (s *ServerModule) AfterRun(ctx context.Context) {
	if r, ok := s.module.(ServerAfterRunner); ok {
		r.AfterRun(ctx)
	}
}

func (s *ServerModule) ReloadConfig(ctx context.Context) (*processfx.Config, error) {
	if r, ok := s.module.(ConfigReloader); ok {
		return r.ReloadConfig(ctx) //nolint:wrapcheck
	}

	return nil, nil //nolint:nilnil
}
