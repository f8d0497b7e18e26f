package logfx_test

import (
	"context"
	"testing"

	"github.com/eser/daemonkit/pkg/ajan/logfx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	t.Parallel()

	t.Run("constructs a logger with default noop providers", func(t *testing.T) {
		t.Parallel()

		config := &logfx.Config{ //nolint:exhaustruct
			Level:  "info",
			Stdout: true,
		}

		logger, err := logfx.NewLogger(config)

		require.NoError(t, err)
		assert.NotNil(t, logger)

		logger.InfoContext(context.Background(), "hello", "key", "value")
	})

	t.Run("discards output when no sink is configured", func(t *testing.T) {
		t.Parallel()

		config := &logfx.Config{} //nolint:exhaustruct

		logger, err := logfx.NewLogger(config)

		require.NoError(t, err)

		logger.DebugContext(context.Background(), "quiet")
	})
}

func TestLogger_StartSpan(t *testing.T) {
	t.Parallel()

	logger, err := logfx.NewLogger(&logfx.Config{}) //nolint:exhaustruct
	require.NoError(t, err)

	ctx, span := logger.StartSpan(context.Background(), "test-span")
	defer span.End()

	assert.NotNil(t, ctx)
}

func TestLogger_MetricsBuilder(t *testing.T) {
	t.Parallel()

	logger, err := logfx.NewLogger(&logfx.Config{}) //nolint:exhaustruct
	require.NoError(t, err)

	builder := logger.NewMetricsBuilder("test")
	counter := builder.Counter("widgets_total", "number of widgets")

	assert.NotNil(t, counter)
}
