package schedule

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/pulsestore/db"
	"github.com/teranos/pulsestore/logger"
)

// Janitor periodically purges old execution history.
// The scheduling engine never starts it; an operator does.
type Janitor struct {
	executions *ExecutionStore
	health     *db.HealthCheck
	interval   time.Duration
	maxAge     time.Duration
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	logger     *zap.SugaredLogger

	mu           sync.Mutex
	lastRunAt    time.Time
	runs         int64
	totalPurged  int64
	lastRunError error
}

// JanitorConfig contains configuration for the retention janitor
type JanitorConfig struct {
	Interval time.Duration // how often to purge
	MaxAge   time.Duration // executions older than this are deleted
}

// DefaultJanitorConfig returns a daily purge of executions older than a week.
func DefaultJanitorConfig() JanitorConfig {
	return JanitorConfig{
		Interval: 24 * time.Hour,
		MaxAge:   7 * 24 * time.Hour,
	}
}

// NewJanitor creates a janitor. health may be nil; when set, each run is
// wrapped in db.WithFreshConnection.
func NewJanitor(executions *ExecutionStore, health *db.HealthCheck, cfg JanitorConfig, log *zap.SugaredLogger) *Janitor {
	return NewJanitorWithContext(context.Background(), executions, health, cfg, log)
}

// NewJanitorWithContext creates a janitor with a parent context
func NewJanitorWithContext(ctx context.Context, executions *ExecutionStore, health *db.HealthCheck, cfg JanitorConfig, log *zap.SugaredLogger) *Janitor {
	janitorCtx, cancel := context.WithCancel(ctx)
	return &Janitor{
		executions: executions,
		health:     health,
		interval:   cfg.Interval,
		maxAge:     cfg.MaxAge,
		ctx:        janitorCtx,
		cancel:     cancel,
		logger:     logger.OrNop(log),
	}
}

// Start begins the purge loop. A non-positive interval leaves the janitor
// idle; RunOnce still purges on demand.
func (j *Janitor) Start() {
	if j.interval <= 0 {
		j.logger.Infow("Execution janitor disabled",
			logger.FieldInterval, j.interval,
			logger.FieldMaxAge, j.maxAge,
		)
		return
	}
	j.wg.Add(1)
	go j.run()
	j.logger.Infow("Execution janitor started",
		logger.FieldInterval, j.interval,
		logger.FieldMaxAge, j.maxAge,
	)
}

// Stop gracefully stops the janitor
func (j *Janitor) Stop() {
	j.cancel()
	j.wg.Wait()
	j.logger.Infow("Execution janitor stopped")
}

func (j *Janitor) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.RunOnce(j.ctx); err != nil {
				j.logger.Warnw("Execution purge failed", logger.FieldError, err)
			}
		}
	}
}

// RunOnce purges now and returns the number of executions removed.
func (j *Janitor) RunOnce(ctx context.Context) (int64, error) {
	j.mu.Lock()
	maxAge := j.maxAge
	j.mu.Unlock()

	var purged int64
	purge := func(ctx context.Context) error {
		n, err := j.executions.PurgeOlderThan(ctx, maxAge)
		purged = n
		return err
	}

	start := time.Now()
	var err error
	if j.health != nil {
		err = db.WithFreshConnection(ctx, j.health, purge)
	} else {
		err = purge(ctx)
	}

	j.mu.Lock()
	j.lastRunAt = time.Now()
	j.runs++
	j.totalPurged += purged
	j.lastRunError = err
	j.mu.Unlock()

	if err == nil {
		j.logger.Infow("Purged old executions",
			logger.FieldCount, purged,
			logger.FieldMaxAge, maxAge,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	}

	return purged, err
}

// SetMaxAge changes the retention window for subsequent runs.
func (j *Janitor) SetMaxAge(maxAge time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if maxAge != j.maxAge {
		j.logger.Infow("Execution retention changed", logger.FieldMaxAge, maxAge)
	}
	j.maxAge = maxAge
}

// GetStats returns janitor statistics
func (j *Janitor) GetStats() map[string]interface{} {
	j.mu.Lock()
	defer j.mu.Unlock()

	stats := map[string]interface{}{
		"last_run_at":  j.lastRunAt,
		"runs":         j.runs,
		"total_purged": j.totalPurged,
		"interval":     j.interval,
		"max_age":      j.maxAge,
	}
	if j.lastRunError != nil {
		stats["last_error"] = j.lastRunError.Error()
	}
	return stats
}
