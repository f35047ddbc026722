package am

import (
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/pulsestore/am.toml
	SourceUser        ConfigSource = "user"        // ~/.pulsestore/am.toml
	SourceProject     ConfigSource = "project"     // nearest am.toml
	SourceEnvironment ConfigSource = "environment" // PULSESTORE_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // file path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key" yaml:"key"`
	Value      interface{}  `json:"value" yaml:"value"`
	Source     ConfigSource `json:"source" yaml:"source"`
	SourcePath string       `json:"source_path,omitempty" yaml:"source_path,omitempty"`
}

// ConfigIntrospection lists every effective setting with its origin
type ConfigIntrospection struct {
	Settings []SettingInfo `json:"settings" yaml:"settings"`
}

// GetConfigIntrospection returns every effective setting of the global
// configuration together with its source
func GetConfigIntrospection() *ConfigIntrospection {
	mu.Lock()
	defer mu.Unlock()
	return Introspect(initViper(), ConfigSources)
}

// Introspect flattens the settings of v, attributing each key to the file
// recorded in sources, an environment override, or the built-in default.
func Introspect(v *viper.Viper, sources map[string]SourceInfo) *ConfigIntrospection {
	keys := v.AllKeys()
	sort.Strings(keys)

	out := &ConfigIntrospection{Settings: make([]SettingInfo, 0, len(keys))}
	for _, key := range keys {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sources[key]; ok {
			info = si
		}

		envKey := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if _, ok := os.LookupEnv(envKey); ok {
			info = SourceInfo{Source: SourceEnvironment, Path: envKey}
		}

		out.Settings = append(out.Settings, SettingInfo{
			Key:        key,
			Value:      v.Get(key),
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
	return out
}

// Summary counts settings by source
func (ci *ConfigIntrospection) Summary() map[ConfigSource]int {
	counts := make(map[ConfigSource]int)
	for _, s := range ci.Settings {
		counts[s.Source]++
	}
	return counts
}
