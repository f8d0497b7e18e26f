package httpfx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/eser/daemonkit/pkg/ajan/httpfx/middlewares"
	"github.com/eser/daemonkit/pkg/ajan/logfx"
)

var (
	ErrFailedToLoadCertificate   = errors.New("failed to load certificate")
	ErrHTTPServiceNetListenError = errors.New("HTTP service net listen error")
)

// HTTPService is the optional admin surface: /health and /debug/pprof/*,
// started separately from the supervisor/server/worker-monitor core and
// never required by it.
type HTTPService struct {
	InnerServer *http.Server
	Mux         *http.ServeMux

	Config *Config
	logger *logfx.Logger

	activeConns int64
	totalConns  int64
}

func NewHTTPService(config *Config, mux *http.ServeMux, logger *logfx.Logger) *HTTPService {
	hs := &HTTPService{ //nolint:exhaustruct
		Mux:    mux,
		Config: config,
		logger: logger,
	}

	var handler http.Handler = mux
	handler = middlewares.RequestSizeLimitMiddleware(config.MaxBodyBytes)(handler)
	handler = middlewares.SecurityHeadersMiddleware(handler)
	handler = middlewares.ResponseTimeMiddleware(handler)
	handler = middlewares.TracingMiddleware(logger, config.SkipLoggingPaths)(handler)

	hs.InnerServer = &http.Server{ //nolint:exhaustruct
		Addr:              config.Addr,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
		Handler:           handler,
		ConnState:         hs.connStateCallback,
	}

	return hs
}

func (hs *HTTPService) Server() *http.Server {
	return hs.InnerServer
}

func (hs *HTTPService) connStateCallback(_ net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		atomic.AddInt64(&hs.activeConns, 1)
		atomic.AddInt64(&hs.totalConns, 1)
	case http.StateClosed, http.StateHijacked:
		atomic.AddInt64(&hs.activeConns, -1)
	case http.StateActive, http.StateIdle:
		// No counters track these transitions.
	}
}

func (hs *HTTPService) ActiveConnections() int64 {
	return atomic.LoadInt64(&hs.activeConns)
}

func (hs *HTTPService) TotalConnections() int64 {
	return atomic.LoadInt64(&hs.totalConns)
}

func (hs *HTTPService) setupTLS() error {
	if hs.Config.CertString == "" || hs.Config.KeyString == "" {
		return nil
	}

	cert, err := tls.X509KeyPair([]byte(hs.Config.CertString), []byte(hs.Config.KeyString))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToLoadCertificate, err)
	}

	hs.InnerServer.TLSConfig = &tls.Config{ //nolint:exhaustruct
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	return nil
}

// Start begins serving and returns a cleanup function performing a graceful
// shutdown bounded by Config.GracefulShutdownTimeout.
func (hs *HTTPService) Start(ctx context.Context) (func(), error) {
	hs.logger.InfoContext(ctx, "admin http surface starting",
		slog.String("addr", hs.Config.Addr))

	if err := hs.setupTLS(); err != nil {
		return nil, err
	}

	listener, err := hs.createListener(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHTTPServiceNetListenError, err)
	}

	go func() {
		var serveErr error

		if hs.InnerServer.TLSConfig != nil {
			serveErr = hs.InnerServer.ServeTLS(listener, "", "")
		} else {
			serveErr = hs.InnerServer.Serve(listener)
		}

		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			hs.logger.ErrorContext(ctx, "admin http surface serve error", slog.Any("error", serveErr))
		}
	}()

	cleanup := func() {
		hs.logger.InfoContext(ctx, "admin http surface shutting down",
			slog.Int64("active_connections", hs.ActiveConnections()),
			slog.Int64("total_connections_served", hs.TotalConnections()))

		shutdownCtx, cancel := context.WithTimeout(ctx, hs.Config.GracefulShutdownTimeout)
		defer cancel()

		if err := hs.InnerServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.ErrorContext(ctx, "admin http surface forced shutdown", slog.Any("error", err))

			return
		}

		hs.logger.InfoContext(ctx, "admin http surface stopped")
	}

	return cleanup, nil
}

func (hs *HTTPService) createListener(ctx context.Context) (net.Listener, error) {
	listenerConfig := &ListenerConfig{
		KeepAlive:       hs.Config.TCPKeepAlive,
		KeepAlivePeriod: hs.Config.TCPKeepAlivePeriod,
		TCPNoDelay:      hs.Config.TCPNoDelay,
		MaxConnections:  hs.Config.MaxConnections,
	}

	listener, err := NewHighPerfListener(ctx, hs.InnerServer.Addr, listenerConfig)
	if err != nil {
		hs.logger.WarnContext(ctx, "falling back to standard listener", slog.Any("error", err))

		stdListener, listenErr := net.Listen("tcp", hs.InnerServer.Addr)
		if listenErr != nil {
			return nil, fmt.Errorf("%w", listenErr)
		}

		return stdListener, nil
	}

	return listener, nil
}
