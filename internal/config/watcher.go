package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 150 * time.Millisecond

// Watcher reloads the config file into a Store when it is edited outside
// the application. Contents the application wrote itself are skipped.
type Watcher struct {
	path     string
	store    *Store
	debounce time.Duration

	mu    sync.Mutex
	known [sha256.Size]byte
}

// NewWatcher creates a watcher for path.
func NewWatcher(path string, store *Store) *Watcher {
	return &Watcher{path: filepath.Clean(path), store: store, debounce: defaultWatchDebounce}
}

// IgnoreContent marks raw as already applied.
func (w *Watcher) IgnoreContent(raw []byte) {
	w.mu.Lock()
	w.known = ContentHash(raw)
	w.mu.Unlock()
}

// Run blocks until ctx is done. The parent directory is watched because
// atomic saves replace the file rather than writing to it.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(w.path), err)
	}
	slog.Debug("[DEBUG-CONFIG] watching config file", "path", w.path)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			slog.Warn("[WARN-CONFIG] config watcher error", "error", err)
		case <-timer.C:
			if err := w.Reload(); err != nil {
				slog.Warn("[WARN-CONFIG] external config edit not applied", "path", w.path, "error", err)
			}
		}
	}
}

// Reload reads the file and applies it unless its content is already known.
func (w *Watcher) Reload() error {
	raw, err := readLimitedFile(w.path, maxConfigFileBytes)
	if err != nil {
		return err
	}
	hash := ContentHash(raw)
	w.mu.Lock()
	if hash == w.known {
		w.mu.Unlock()
		return nil
	}
	w.known = hash
	w.mu.Unlock()

	// An unparsable edit keeps the running configuration. Repairs are
	// logged by load; nothing consumes pending warnings at runtime.
	cfg, _, err := load(w.path)
	if err != nil {
		return err
	}
	slog.Info("[config] external edit detected, reloading", "path", w.path)
	return w.store.Replace(cfg)
}
