package db

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/teranos/pulsestore/logger"
)

// HealthCheck pings the database at most once per interval and replaces the
// pool when the ping fails. Each store owns its own policy.
type HealthCheck struct {
	handle   *Handle
	interval time.Duration
	limiter  *rate.Limiter
	now      func() time.Time

	mu        sync.Mutex
	lastCheck time.Time
}

// NewHealthCheck creates a policy for h. An interval of zero disables the
// throttled Check; Probe still works. now may be nil (time.Now).
func NewHealthCheck(h *Handle, interval time.Duration, now func() time.Time) *HealthCheck {
	if now == nil {
		now = time.Now
	}
	hc := &HealthCheck{
		handle:   h,
		interval: interval,
		now:      now,
	}
	if interval > 0 {
		hc.limiter = rate.NewLimiter(rate.Every(interval), 1)
	}
	return hc
}

// Interval returns the configured interval.
func (c *HealthCheck) Interval() time.Duration {
	return c.interval
}

// LastCheck returns when the database was last probed.
func (c *HealthCheck) LastCheck() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCheck
}

// Check probes the database if the interval has elapsed since the last
// probe. It reports whether a probe ran.
func (c *HealthCheck) Check(ctx context.Context) (bool, error) {
	if c == nil || c.limiter == nil {
		return false, nil
	}
	if !c.limiter.AllowN(c.now(), 1) {
		return false, nil
	}
	return true, c.Probe(ctx)
}

// Probe pings the database now and replaces the pool if the ping fails with
// a transient error.
func (c *HealthCheck) Probe(ctx context.Context) error {
	c.mu.Lock()
	c.lastCheck = c.now()
	c.mu.Unlock()

	log := c.handle.Logger()

	db, err := c.handle.conn()
	if err == nil {
		err = db.PingContext(ctx)
	}
	if err == nil {
		log.Debugw("Database health check passed", logger.FieldHealthy, true)
		return nil
	}
	if !IsTransient(err) {
		return err
	}

	log.Warnw("Database health check failed, reconnecting",
		logger.FieldHealthy, false,
		logger.FieldError, err,
	)
	return c.handle.Reconnect(ctx, db)
}

// WithFreshConnection probes the database before and after fn. Operator jobs
// that run outside the scheduler loop (e.g. retention purges) use it so a
// connection broken while idle never fails the job.
func WithFreshConnection(ctx context.Context, c *HealthCheck, fn func(context.Context) error) error {
	if err := c.Probe(ctx); err != nil {
		return err
	}
	fnErr := fn(ctx)
	if err := c.Probe(ctx); err != nil && fnErr == nil {
		return err
	}
	return fnErr
}
