package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads configuration when either config file changes on disk.
// Events are debounced so editors that write-then-rename produce a single
// reload.
type Watcher struct {
	globalPath  string
	projectPath string
	debounce    time.Duration
	logger      *slog.Logger

	watcher *fsnotify.Watcher

	pendingMu sync.Mutex
	pending   bool

	updates chan *Config
}

// NewWatcher creates a watcher for the given config paths. Either path may
// be empty to skip it.
func NewWatcher(globalPath, projectPath string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		globalPath:  globalPath,
		projectPath: projectPath,
		debounce:    200 * time.Millisecond,
		logger:      logger,
		watcher:     fsw,
		updates:     make(chan *Config, 4),
	}, nil
}

// Updates returns the channel of reloaded configurations.
func (w *Watcher) Updates() <-chan *Config {
	return w.updates
}

// Start begins watching and returns immediately. The processing goroutine
// exits when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	// The parent directories are watched rather than the files themselves:
	// most editors replace the file, which drops a file-level watch.
	for _, path := range []string{w.globalPath, w.projectPath} {
		if path == "" {
			continue
		}
		dir := filepath.Dir(path)
		if err := w.watcher.Add(dir); err != nil {
			w.logger.Warn("failed to watch config directory", "dir", dir, "error", err)
		}
	}

	go w.processEvents(ctx)

	w.logger.Info("config watcher started", "global", w.globalPath, "project", w.projectPath)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)
	if name != filepath.Clean(w.globalPath) && name != filepath.Clean(w.projectPath) {
		return
	}

	w.pendingMu.Lock()
	w.pending = true
	w.pendingMu.Unlock()
}

func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	dirty := w.pending
	w.pending = false
	w.pendingMu.Unlock()

	if !dirty {
		return
	}

	cfg, err := Load(w.globalPath, w.projectPath)
	if err != nil {
		w.logger.Error("config reload failed", "error", err)
		return
	}

	select {
	case w.updates <- cfg:
	default:
		w.logger.Warn("config update channel full, dropping reload")
	}
}
