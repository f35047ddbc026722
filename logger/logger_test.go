package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitialize(t *testing.T) {
	tests := []struct {
		name       string
		jsonOutput bool
		level      zapcore.Level
	}{
		{name: "JSON output mode", jsonOutput: true, level: zapcore.InfoLevel},
		{name: "Console output mode", jsonOutput: false, level: zapcore.DebugLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev := Logger
			defer func() { Logger = prev; JSONOutput = false }()

			require.NoError(t, Initialize(tt.jsonOutput, tt.level))
			require.NotNil(t, Logger)
			assert.Equal(t, tt.jsonOutput, JSONOutput)
			assert.True(t, Logger.Desugar().Core().Enabled(tt.level))
		})
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestVerbosityToLevel(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, VerbosityToLevel(0))
	assert.Equal(t, zapcore.InfoLevel, VerbosityToLevel(1))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(2))
	assert.Equal(t, zapcore.DebugLevel, VerbosityToLevel(7))
	assert.Equal(t, "Info (-v)", LevelName(1))
}

func TestLoggerFromContext(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core).Sugar()

	ctx := WithComponent(WithJobID(context.Background(), "job-1"), "pulse.jobstore")
	LoggerFromContext(ctx, base).Infow("refreshed")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "job-1", fields[FieldJobID])
	assert.Equal(t, "pulse.jobstore", fields[FieldComponent])
}

func TestOrNop(t *testing.T) {
	assert.NotNil(t, OrNop(nil))
	l := zap.NewExample().Sugar()
	assert.Same(t, l, OrNop(l))
}
