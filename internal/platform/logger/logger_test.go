package logger_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/papersum/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		want   slog.Level
		wantOK bool
	}{
		{"debug", "debug", slog.LevelDebug, true},
		{"upper case", "WARN", slog.LevelWarn, true},
		{"empty defaults to info", "", slog.LevelInfo, true},
		{"error", "error", slog.LevelError, true},
		{"invalid", "verbose", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			level, ok := logger.ParseLevel(tt.input)
			assert.Equal(t, tt.want, level)
			assert.Equal(t, tt.wantOK, ok)
		})
	}
}

func TestFanoutHandler_WritesToEverySink(t *testing.T) {
	t.Parallel()

	local := &logger.TestLogBuffer{}
	remote := &logger.TestLogBuffer{}

	log := logger.New(
		logger.NewJSONHandler(local, slog.LevelDebug),
		logger.NewJSONHandler(remote, slog.LevelWarn),
	)
	log = log.With("component", "consumer")

	log.Info("polled queue", "messages", 2)
	log.Warn("store write failed", "key", "k1")

	localEntries, err := local.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, localEntries, 2)
	assert.Equal(t, "consumer", localEntries[0]["component"])

	remoteEntries, err := remote.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, remoteEntries, 1, "remote sink only accepts warn and above")
	assert.Equal(t, "store write failed", remoteEntries[0]["msg"])
	assert.Equal(t, "k1", remoteEntries[0]["key"])
	assert.Equal(t, "consumer", remoteEntries[0]["component"])
}

func TestFanoutHandler_Groups(t *testing.T) {
	t.Parallel()

	a := &logger.TestLogBuffer{}
	b := &logger.TestLogBuffer{}
	log := logger.New(
		logger.NewJSONHandler(a, slog.LevelInfo),
		logger.NewJSONHandler(b, slog.LevelInfo),
	)

	log.WithGroup("wake").Info("nudge", "depth", 3)

	for _, buf := range []*logger.TestLogBuffer{a, b} {
		entries, err := buf.GetLogEntries()
		require.NoError(t, err)
		require.Len(t, entries, 1)
		group, ok := entries[0]["wake"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(3), group["depth"])
	}
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Default(), logger.FromContext(context.Background()))

	custom, _ := logger.NewTestLogger()
	ctx := logger.WithLogger(context.Background(), custom)
	assert.Same(t, custom, logger.FromContext(ctx))
}
