// Package am loads pulsestore configuration.
//
// Values come, lowest precedence first, from built-in defaults,
// /etc/pulsestore/am.toml, ~/.pulsestore/am.toml, the nearest am.toml found
// walking up from the working directory, and PULSESTORE_* environment
// variables.
package am

// Config represents the pulsestore configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Store     StoreConfig     `mapstructure:"store"`
	Retention RetentionConfig `mapstructure:"retention"`
	Display   DisplayConfig   `mapstructure:"display"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	MaxOpenConns  int    `mapstructure:"max_open_conns"`  // pool size (default: 4)
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms"` // wait on a locked database (default: 5000)
}

// StoreConfig configures the job and execution stores
type StoreConfig struct {
	TimezoneMode        string `mapstructure:"timezone_mode"`         // aware or naive (default: aware)
	Timezone            string `mapstructure:"timezone"`              // IANA name used by naive mode (default: UTC)
	PingIntervalSeconds int    `mapstructure:"ping_interval_seconds"` // connection health check throttle, 0 = disabled (default: 30)

	// Function names the engine registers. When set, stored jobs naming
	// anything else fail to decode and are quarantined.
	Functions []string `mapstructure:"functions"`
}

// RetentionConfig configures execution history cleanup
type RetentionConfig struct {
	MaxAgeSeconds   int `mapstructure:"max_age_seconds"`  // executions older than this are purged (default: 604800)
	IntervalSeconds int `mapstructure:"interval_seconds"` // janitor period, 0 = manual purge only
}

// DisplayConfig configures CLI output
type DisplayConfig struct {
	TimeFormat string `mapstructure:"time_format"` // Go time layout for table columns (default: RFC 3339)
}

// LogConfig configures logging
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"` // debug, info, warn, error (default: info)
}

// File system constants
const (
	DefaultDirPermissions  = 0755
	DefaultFilePermissions = 0644
)

// ConfigFileName is the file looked up in every config location.
const ConfigFileName = "am.toml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PULSESTORE"
