package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/atspro/task-service/internal/config"
	"github.com/atspro/task-service/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupReturnsLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		log, err := logger.Setup(config.ServerConfig{LogLevel: level})
		require.NoError(t, err, "level %q", level)
		assert.NotNil(t, log, "level %q", level)
	}
}

func TestWithLoggerAndFromContext(t *testing.T) {
	buf, log := logger.SetupTestLogger(t)

	ctx := logger.WithLogger(context.Background(), log)
	got := logger.FromContext(ctx)
	got.Info("hello", "key", "value")

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0]["msg"])
	assert.Equal(t, "value", entries[0]["key"])
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	got := logger.FromContext(context.Background())
	assert.NotNil(t, got)
}

func TestFromContextOrDefault(t *testing.T) {
	_, log := logger.SetupTestLogger(t)

	// Context without a logger falls back to the provided default.
	def := slog.Default()
	assert.Same(t, def, logger.FromContextOrDefault(context.Background(), def))

	// Context with a logger returns the stored one.
	ctx := logger.WithLogger(context.Background(), log)
	assert.Same(t, log, logger.FromContextOrDefault(ctx, def))
}
