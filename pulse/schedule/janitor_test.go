package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/pulsestore/db"
)

func TestJanitorRunOnce(t *testing.T) {
	store, h, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddJob(ctx, testJob("job-j", at(t0))))

	executions := NewExecutionStore(h, store.Normalizer(), nil)
	now := time.Now()
	for _, age := range []time.Duration{48 * time.Hour, 36 * time.Hour, time.Minute} {
		_, _, err := executions.Finalize(ctx, "job-j", now.Add(-age), StatusSuccess, nil, nil)
		require.NoError(t, err)
	}

	// Connection broken while idle: the fresh-connection wrapper repairs it
	require.NoError(t, h.DB().Close())

	janitor := NewJanitor(executions, db.NewHealthCheck(h, time.Hour, nil),
		JanitorConfig{Interval: time.Hour, MaxAge: 24 * time.Hour}, zaptest.NewLogger(t).Sugar())

	purged, err := janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), purged)
	assert.Equal(t, int64(1), h.Reconnects())

	stats := janitor.GetStats()
	assert.Equal(t, int64(1), stats["runs"])
	assert.Equal(t, int64(2), stats["total_purged"])
	assert.NotContains(t, stats, "last_error")
}

func TestJanitorStartStop(t *testing.T) {
	store, h, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddJob(ctx, testJob("job-j", at(t0))))

	executions := NewExecutionStore(h, store.Normalizer(), nil)
	_, _, err := executions.Finalize(ctx, "job-j", time.Now().Add(-time.Hour), StatusSuccess, nil, nil)
	require.NoError(t, err)

	janitor := NewJanitor(executions, nil, JanitorConfig{Interval: 10 * time.Millisecond, MaxAge: time.Minute}, nil)
	janitor.Start()

	require.Eventually(t, func() bool {
		return janitor.GetStats()["total_purged"].(int64) == 1
	}, 5*time.Second, 10*time.Millisecond)

	janitor.Stop()
	runs := janitor.GetStats()["runs"].(int64)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, janitor.GetStats()["runs"].(int64), "no runs after Stop")
}

func TestJanitorZeroIntervalStaysIdle(t *testing.T) {
	executions, _ := newTestExecutionStore(t, "job-z")
	ctx := context.Background()
	_, _, err := executions.Finalize(ctx, "job-z", time.Now().Add(-2*time.Hour), StatusSuccess, nil, nil)
	require.NoError(t, err)

	core, logs := observer.New(zapcore.InfoLevel)
	janitor := NewJanitor(executions, nil, JanitorConfig{MaxAge: time.Hour}, zap.New(core).Sugar())
	require.NotPanics(t, janitor.Start)
	assert.Equal(t, 1, logs.FilterMessage("Execution janitor disabled").Len())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(0), janitor.GetStats()["runs"])
	require.NotPanics(t, janitor.Stop)

	purged, err := janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
}

func TestJanitorLogsOnePurgeLine(t *testing.T) {
	store, h, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddJob(ctx, testJob("job-l", at(t0))))

	core, logs := observer.New(zapcore.InfoLevel)
	log := zap.New(core).Sugar()
	executions := NewExecutionStore(h, store.Normalizer(), log)
	_, _, err := executions.Finalize(ctx, "job-l", time.Now().Add(-2*time.Hour), StatusSuccess, nil, nil)
	require.NoError(t, err)

	janitor := NewJanitor(executions, nil, JanitorConfig{Interval: time.Hour, MaxAge: time.Hour}, log)
	_, err = janitor.RunOnce(ctx)
	require.NoError(t, err)

	purgeLines := logs.FilterMessageSnippet("Purged")
	require.Equal(t, 1, purgeLines.Len())
	assert.Equal(t, "Purged old executions", purgeLines.All()[0].Message)
}

func TestDefaultJanitorConfig(t *testing.T) {
	cfg := DefaultJanitorConfig()
	assert.Equal(t, 24*time.Hour, cfg.Interval)
	assert.Equal(t, 7*24*time.Hour, cfg.MaxAge)
}

func TestJanitorSetMaxAge(t *testing.T) {
	store, h, _ := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.AddJob(ctx, testJob("job-j", at(t0))))

	executions := NewExecutionStore(h, store.Normalizer(), nil)
	_, _, err := executions.Finalize(ctx, "job-j", time.Now().Add(-2*time.Hour), StatusSuccess, nil, nil)
	require.NoError(t, err)

	janitor := NewJanitor(executions, nil, JanitorConfig{Interval: time.Hour, MaxAge: 24 * time.Hour}, nil)
	purged, err := janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, purged)

	janitor.SetMaxAge(time.Hour)
	purged, err = janitor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	assert.Equal(t, time.Hour, janitor.GetStats()["max_age"])
}
