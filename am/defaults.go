package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/teranos/pulsestore/db"
	"github.com/teranos/pulsestore/pulse/schedule"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "pulsestore.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.busy_timeout_ms", 5000)

	v.SetDefault("store.timezone_mode", string(schedule.TimezoneAware))
	v.SetDefault("store.timezone", "UTC")
	v.SetDefault("store.ping_interval_seconds", int(schedule.DefaultPingInterval/time.Second))
	v.SetDefault("store.functions", []string{})

	v.SetDefault("retention.max_age_seconds", 7*24*60*60)
	v.SetDefault("retention.interval_seconds", 0)

	v.SetDefault("display.time_format", time.RFC3339)

	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}

// BindSensitiveEnvVars explicitly binds configuration that is commonly
// overridden per deployment
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", EnvPrefix+"_DATABASE_PATH")
	v.BindEnv("store.timezone", EnvPrefix+"_STORE_TIMEZONE")
	v.BindEnv("log.level", EnvPrefix+"_LOG_LEVEL")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "pulsestore.db"
	}
	return c.Database.Path
}

// DatabaseOptions returns the connection pool settings, falling back to
// db.DefaultOptions for unset values.
func (c *Config) DatabaseOptions() db.Options {
	opts := db.DefaultOptions()
	if c.Database.MaxOpenConns > 0 {
		opts.MaxOpenConns = c.Database.MaxOpenConns
	}
	if c.Database.BusyTimeoutMS > 0 {
		opts.BusyTimeout = time.Duration(c.Database.BusyTimeoutMS) * time.Millisecond
	}
	return opts
}

// Location resolves store.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Store.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Store.Timezone)
}

// Normalizer builds the datetime normalizer for the store settings.
func (c *Config) Normalizer() (*schedule.Normalizer, error) {
	loc, err := c.Location()
	if err != nil {
		return nil, err
	}
	mode := schedule.TimezoneMode(c.Store.TimezoneMode)
	if mode == "" {
		mode = schedule.TimezoneAware
	}
	return schedule.NewNormalizer(mode, loc)
}

// Registry returns the function registry for store.functions, or nil when
// the list is empty and any function name is accepted.
func (c *Config) Registry() (*schedule.Registry, error) {
	if len(c.Store.Functions) == 0 {
		return nil, nil
	}
	return schedule.NewRegistry(c.Store.Functions...)
}

// Codec returns the job definition codec, restricted to store.functions when set.
func (c *Config) Codec() (*schedule.JSONCodec, error) {
	reg, err := c.Registry()
	if err != nil {
		return nil, err
	}
	return schedule.NewJSONCodec(reg), nil
}

// PingInterval returns the health check throttle; zero disables the check.
func (c *Config) PingInterval() time.Duration {
	return time.Duration(c.Store.PingIntervalSeconds) * time.Second
}

// JanitorConfig returns the retention settings.
func (c *Config) JanitorConfig() schedule.JanitorConfig {
	return schedule.JanitorConfig{
		Interval: time.Duration(c.Retention.IntervalSeconds) * time.Second,
		MaxAge:   time.Duration(c.Retention.MaxAgeSeconds) * time.Second,
	}
}

// TimeLayout returns the layout used for times in CLI tables.
func (c *Config) TimeLayout() string {
	if c.Display.TimeFormat == "" {
		return time.RFC3339
	}
	return c.Display.TimeFormat
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Store: {Mode: %s, Timezone: %s}, Retention: {MaxAge: %ds}}",
		c.Database.Path, c.Store.TimezoneMode, c.Store.Timezone, c.Retention.MaxAgeSeconds)
}
