package logger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observedAdapter(level zapcore.Level) (*ZapAdapter, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewZapAdapter(zap.New(core)), logs
}

func TestZapAdapter_Levels(t *testing.T) {
	ctx := context.Background()
	a, logs := observedAdapter(zapcore.DebugLevel)

	a.Debug(ctx, "debug msg", map[string]any{"k": 1})
	a.Info(ctx, "info msg", nil)
	a.Warn(ctx, "warn msg", nil)
	a.Error(ctx, "error msg", errors.New("boom"), map[string]any{"k": 2})

	entries := logs.All()
	require.Len(t, entries, 4)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "info msg", entries[1].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
}

func TestZapAdapter_FieldsAndError(t *testing.T) {
	ctx := context.Background()
	a, logs := observedAdapter(zapcore.DebugLevel)

	a.Error(ctx, "load failed", errors.New("boom"), map[string]any{"path": "x.csv"})

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "x.csv", fields["path"])
	assert.Equal(t, "boom", fields["error"])
}

func TestZapAdapter_LevelFiltering(t *testing.T) {
	ctx := context.Background()
	a, logs := observedAdapter(zapcore.InfoLevel)

	a.Debug(ctx, "hidden", nil)
	a.Info(ctx, "visible", nil)

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "visible", entries[0].Message)
}

func TestNew_UnknownLevelDefaultsToInfo(t *testing.T) {
	a, err := New("not-a-level")
	require.NoError(t, err)
	require.NotNil(t, a)
}
