package am

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/pulsestore/errors"
	"github.com/teranos/pulsestore/logger"
)

// ConfigWatcher watches a config file and re-reads it on change
type ConfigWatcher struct {
	configPath     string
	watcher        *fsnotify.Watcher
	callbacks      []ReloadCallback
	mu             sync.RWMutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	logger         *zap.SugaredLogger

	ownWriteMu sync.Mutex
	isOwnWrite bool
}

// ReloadCallback receives the newly loaded config
type ReloadCallback func(*Config) error

var (
	globalWatcher   *ConfigWatcher
	globalWatcherMu sync.Mutex
)

// NewConfigWatcher creates a watcher for configPath. The directory is
// watched so that editors replacing the file are noticed.
func NewConfigWatcher(configPath string, log *zap.SugaredLogger) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}

	if err := watcher.Add(filepath.Dir(configPath)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch config directory for %s", configPath)
	}

	return &ConfigWatcher{
		configPath:     configPath,
		watcher:        watcher,
		debouncePeriod: 500 * time.Millisecond,
		logger:         logger.OrNop(log),
	}, nil
}

// SetDebounce changes how long the watcher waits for writes to settle
func (cw *ConfigWatcher) SetDebounce(d time.Duration) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.debouncePeriod = d
}

// OnReload registers a callback to be called when config is reloaded
func (cw *ConfigWatcher) OnReload(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// MarkOwnWrite marks the next write as coming from us
func (cw *ConfigWatcher) MarkOwnWrite() {
	cw.ownWriteMu.Lock()
	defer cw.ownWriteMu.Unlock()
	cw.isOwnWrite = true
}

func (cw *ConfigWatcher) checkOwnWrite() bool {
	cw.ownWriteMu.Lock()
	defer cw.ownWriteMu.Unlock()
	own := cw.isOwnWrite
	cw.isOwnWrite = false
	return own
}

// Start begins watching for config file changes
func (cw *ConfigWatcher) Start() {
	go cw.watchLoop()
}

func (cw *ConfigWatcher) watchLoop() {
	target := filepath.Clean(cw.configPath)
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target || isBackupFile(event.Name) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if cw.checkOwnWrite() {
				cw.logger.Debugw("Config watcher ignoring own write", logger.FieldPath, event.Name)
				continue
			}
			cw.logger.Infow("Config watcher detected change", logger.FieldPath, event.Name, "op", event.Op.String())
			cw.scheduleReload()

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			cw.logger.Warnw("Config watcher error", logger.FieldError, err)
		}
	}
}

func (cw *ConfigWatcher) scheduleReload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.debounceTimer = time.AfterFunc(cw.debouncePeriod, func() {
		if err := cw.reload(); err != nil {
			cw.logger.Errorw("Config reload failed", logger.FieldError, err)
		}
	})
}

func (cw *ConfigWatcher) reload() error {
	cfg, err := LoadFromFile(cw.configPath)
	if err != nil {
		return err
	}
	cw.logger.Infow("Config reloaded", logger.FieldPath, cw.configPath)

	cw.mu.RLock()
	callbacks := append([]ReloadCallback(nil), cw.callbacks...)
	cw.mu.RUnlock()

	for _, callback := range callbacks {
		if err := callback(cfg); err != nil {
			cw.logger.Warnw("Config reload callback error", logger.FieldError, err)
		}
	}
	return nil
}

// Stop stops watching for config changes
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.mu.Unlock()
	return cw.watcher.Close()
}

func isBackupFile(path string) bool {
	ext := filepath.Ext(path)
	return strings.HasPrefix(ext, ".back") || ext == ".candidate"
}

// SetGlobalWatcher registers the watcher SetValue notifies of its own writes
func SetGlobalWatcher(watcher *ConfigWatcher) {
	globalWatcherMu.Lock()
	defer globalWatcherMu.Unlock()
	globalWatcher = watcher
}

// GetGlobalWatcher returns the global watcher instance
func GetGlobalWatcher() *ConfigWatcher {
	globalWatcherMu.Lock()
	defer globalWatcherMu.Unlock()
	return globalWatcher
}
