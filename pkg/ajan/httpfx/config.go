package httpfx

import (
	"time"
)

// Config is the optional admin HTTP surface's own configuration, distinct
// from the daemon's processfx.Config. The admin surface is never required
// for the supervisor/server/worker-monitor state machines to function.
type Config struct {
	Addr string `conf:"addr" default:":8080"`

	CertString string `conf:"cert_string"`
	KeyString  string `conf:"key_string"`

	ReadHeaderTimeout time.Duration `conf:"read_header_timeout" default:"5s"`
	ReadTimeout       time.Duration `conf:"read_timeout"        default:"30s"`
	WriteTimeout      time.Duration `conf:"write_timeout"       default:"30s"`
	IdleTimeout       time.Duration `conf:"idle_timeout"        default:"300s"`

	MaxHeaderBytes          int           `conf:"max_header_bytes" default:"1048576"`
	MaxBodyBytes            int64         `conf:"max_body_bytes"   default:"1048576"`
	GracefulShutdownTimeout time.Duration `conf:"shutdown_timeout" default:"5s"`

	HealthCheckEnabled bool `conf:"health_check" default:"true"`
	ProfilingEnabled   bool `conf:"profiling"    default:"false"`

	TCPKeepAlive       bool          `conf:"tcp_keep_alive"        default:"true"`
	TCPKeepAlivePeriod time.Duration `conf:"tcp_keep_alive_period" default:"30s"`
	TCPNoDelay         bool          `conf:"tcp_no_delay"          default:"true"`
	MaxConnections     int           `conf:"max_connections"       default:"512"`

	// SkipLoggingPaths is a comma-separated list of paths traced but not
	// logged per request (health probes poll frequently).
	SkipLoggingPaths string `conf:"skip_logging_paths" default:"/health-check"`
}
