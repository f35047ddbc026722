package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/pulsestore/errors"
)

var (
	mu            sync.Mutex
	globalConfig  *Config
	viperInstance *viper.Viper

	// ConfigSources records which file set each key during the last merge.
	// Keys not present were left at their defaults.
	ConfigSources = map[string]SourceInfo{}
)

// Load reads the pulsestore configuration using Viper
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()

	if globalConfig != nil {
		return globalConfig, nil
	}

	config, err := LoadWithViper(initViper())
	if err != nil {
		return nil, err
	}

	globalConfig = config
	return globalConfig, nil
}

// GetViper returns the Viper instance for advanced configuration access
func GetViper() *viper.Viper {
	mu.Lock()
	defer mu.Unlock()
	return initViper()
}

// LoadWithViper loads configuration using a provided Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return &config, nil
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("toml")

	// Defaults only; environment is not consulted for an explicit file
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", configPath)
	}

	config, err := LoadWithViper(v)
	if err != nil {
		return nil, errors.Wrapf(err, "config from %s", configPath)
	}
	return config, nil
}

// Reset clears the cached configuration (useful for testing)
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	globalConfig = nil
	viperInstance = nil
	ConfigSources = map[string]SourceInfo{}
}

// initViper initializes Viper with configuration sources and defaults.
// Callers hold mu.
func initViper() *viper.Viper {
	if viperInstance != nil {
		return viperInstance
	}

	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	BindSensitiveEnvVars(v)
	SetDefaults(v)

	// system -> user -> project, then env vars on top
	mergeConfigFiles(v)

	viperInstance = v
	return v
}

// UserConfigDir returns ~/.pulsestore, or "" when the home directory is unknown.
func UserConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pulsestore")
}

// findProjectConfig walks up from the working directory looking for am.toml
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		path := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(path); err == nil {
			return path
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

type configLayer struct {
	path   string
	source ConfigSource
}

func configLayers() []configLayer {
	layers := []configLayer{
		{filepath.Join("/etc/pulsestore", ConfigFileName), SourceSystem},
	}
	if dir := UserConfigDir(); dir != "" {
		layers = append(layers, configLayer{filepath.Join(dir, ConfigFileName), SourceUser})
	}
	if project := findProjectConfig(); project != "" {
		layers = append(layers, configLayer{project, SourceProject})
	}
	return layers
}

// mergeConfigFiles merges configuration files in precedence order and
// records where each key came from
func mergeConfigFiles(v *viper.Viper) {
	ConfigSources = map[string]SourceInfo{}

	for _, layer := range configLayers() {
		if _, err := os.Stat(layer.path); err != nil {
			continue
		}

		layerViper := viper.New()
		layerViper.SetConfigFile(layer.path)
		layerViper.SetConfigType("toml")
		if err := layerViper.ReadInConfig(); err != nil {
			continue
		}

		// MergeConfigMap keeps file values below environment overrides
		if err := v.MergeConfigMap(layerViper.AllSettings()); err != nil {
			continue
		}
		for _, key := range layerViper.AllKeys() {
			ConfigSources[key] = SourceInfo{Source: layer.source, Path: layer.path}
		}
	}
}

// GetString returns a configuration value as string using dot notation
func GetString(key string) string {
	return GetViper().GetString(key)
}

// GetInt returns a configuration value as int using dot notation
func GetInt(key string) int {
	return GetViper().GetInt(key)
}

// GetBool returns a configuration value as bool using dot notation
func GetBool(key string) bool {
	return GetViper().GetBool(key)
}
