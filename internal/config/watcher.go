package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is called with the freshly loaded config after a change
type ReloadCallback func(cfg *Config)

// Watcher monitors the config file and reloads it on change
type Watcher struct {
	watcher    *fsnotify.Watcher
	configPath string
	onReload   ReloadCallback
	done       chan struct{}
	debounce   *time.Timer
	debounceMu sync.Mutex
	stopOnce   sync.Once
}

// NewWatcher creates a config file watcher
func NewWatcher(configPath string, onReload ReloadCallback) (*Watcher, error) {
	if configPath == "" {
		return nil, fmt.Errorf("config path is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		watcher:    fw,
		configPath: configPath,
		onReload:   onReload,
		done:       make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory
func (w *Watcher) Start() error {
	// Watch the directory, not the file: editors replace files on save
	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.eventLoop()

	log.Info().Str("path", w.configPath).Msg("Config watcher started")

	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		case <-w.done:
			return
		}
	}
}

// scheduleReload debounces bursts of write events into a single reload
func (w *Watcher) scheduleReload() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounce != nil {
		w.debounce.Stop()
	}
	w.debounce = time.AfterFunc(200*time.Millisecond, w.reload)
}

func (w *Watcher) reload() {
	cfg, err := NewLoader(w.configPath).Load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload config")
		return
	}
	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("Reloaded config is invalid, keeping previous")
		return
	}

	log.Info().Str("path", w.configPath).Msg("Config reloaded")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
