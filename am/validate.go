package am

import (
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/pulse/schedule"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Pool size and busy timeout: 0 = use default, negative = invalid
	if c.Database.MaxOpenConns < 0 {
		return errors.Newf("database.max_open_conns must be >= 0, got %d", c.Database.MaxOpenConns)
	}
	if c.Database.BusyTimeoutMS < 0 {
		return errors.Newf("database.busy_timeout_ms must be >= 0, got %d", c.Database.BusyTimeoutMS)
	}

	switch schedule.TimezoneMode(c.Store.TimezoneMode) {
	case "", schedule.TimezoneAware, schedule.TimezoneNaive:
	default:
		return errors.Newf("store.timezone_mode must be %q or %q, got %q",
			schedule.TimezoneAware, schedule.TimezoneNaive, c.Store.TimezoneMode)
	}
	if c.Store.Timezone != "" {
		if _, err := time.LoadLocation(c.Store.Timezone); err != nil {
			return errors.Wrapf(err, "store.timezone %q is not a known timezone", c.Store.Timezone)
		}
	}

	if _, err := c.Registry(); err != nil {
		return errors.Wrap(err, "store.functions")
	}

	// Ping interval: 0 = check disabled, negative = invalid
	if c.Store.PingIntervalSeconds < 0 {
		return errors.Newf("store.ping_interval_seconds must be >= 0, got %d", c.Store.PingIntervalSeconds)
	}

	// Retention: max age must be positive; interval 0 = janitor disabled
	if c.Retention.MaxAgeSeconds <= 0 {
		return errors.Newf("retention.max_age_seconds must be > 0, got %d", c.Retention.MaxAgeSeconds)
	}
	if c.Retention.IntervalSeconds < 0 {
		return errors.Newf("retention.interval_seconds must be >= 0, got %d", c.Retention.IntervalSeconds)
	}

	if c.Log.Level != "" {
		if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
			return errors.Wrap(err, "log.level")
		}
	}

	return nil
}
