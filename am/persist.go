package am

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
)

// createBackup keeps three rotating backups (.back1 newest) of configPath
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", logger.FieldPath, back3, logger.FieldError, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}

// UserConfigPath returns ~/.pulsestore/am.toml
func UserConfigPath() string {
	dir := UserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, ConfigFileName)
}

// ParseValue interprets a command-line value as a bool, integer, float or
// string, in that order.
func ParseValue(raw string) interface{} {
	if b, err := strconv.ParseBool(raw); err == nil {
		return b
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}

// SetValue writes key (dot notation) into the TOML file at configPath,
// keeping backups of the previous contents. The result must still validate.
func SetValue(configPath, key string, value interface{}) error {
	if configPath == "" {
		return errors.New("could not determine config path")
	}
	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrap(err, "failed to create config directory")
	}

	config := make(map[string]interface{})
	if data, err := os.ReadFile(configPath); err == nil {
		if err := toml.Unmarshal(data, &config); err != nil {
			return errors.Wrapf(err, "failed to parse %s", configPath)
		}
	}

	parts := strings.Split(key, ".")
	section := config
	for _, part := range parts[:len(parts)-1] {
		next, ok := section[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			section[part] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = value

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}

	// Reject values that would make the file unloadable
	candidate := configPath + ".candidate"
	if err := os.WriteFile(candidate, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write candidate config")
	}
	defer os.Remove(candidate)
	if _, err := LoadFromFile(candidate); err != nil {
		return errors.Wrapf(err, "refusing to set %s", key)
	}

	if err := createBackup(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	if w := GetGlobalWatcher(); w != nil {
		w.MarkOwnWrite()
	}

	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrap(err, "failed to write config")
	}
	return nil
}
