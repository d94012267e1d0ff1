package config

import (
	"bytes"
	"log/slog"
	"sync"
	"time"
)

// DefaultPersistDelay is the quiet period after the last change before the
// config file is written.
const DefaultPersistDelay = 500 * time.Millisecond

// writeFileFn is a test seam.
var writeFileFn = WriteFile

// Persister writes the store to disk after changes settle. Writes run on a
// timer goroutine, never on the caller of Store.Set.
type Persister struct {
	path  string
	store *Store
	delay time.Duration

	// saveMu serializes file writes. Lock order: saveMu -> mu.
	saveMu sync.Mutex

	mu          sync.Mutex
	timer       *time.Timer
	unsubscribe func()
	onWrite     func(raw []byte)
	stopped     bool
}

// NewPersister creates a persister for store. A non-positive delay uses
// DefaultPersistDelay.
func NewPersister(path string, store *Store, delay time.Duration) *Persister {
	if delay <= 0 {
		delay = DefaultPersistDelay
	}
	return &Persister{path: path, store: store, delay: delay}
}

// OnWrite registers a callback that receives the bytes of every file write,
// used by the Watcher to recognise its own writes.
func (p *Persister) OnWrite(fn func(raw []byte)) {
	p.mu.Lock()
	p.onWrite = fn
	p.mu.Unlock()
}

// Start subscribes to store changes.
func (p *Persister) Start() {
	cancel := p.store.Subscribe(func(Config) { p.schedule() })
	p.mu.Lock()
	p.unsubscribe = cancel
	p.mu.Unlock()
}

func (p *Persister) schedule() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.delay, func() {
		if err := p.Flush(); err != nil {
			slog.Warn("[WARN-CONFIG] deferred config save failed", "path", p.path, "error", err)
		}
	})
}

// Flush writes the current snapshot now if it differs from the file.
func (p *Persister) Flush() error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	raw, err := Marshal(p.store.Snapshot())
	if err != nil {
		return err
	}
	if existing, readErr := readLimitedFile(p.path, maxConfigFileBytes); readErr == nil && bytes.Equal(existing, raw) {
		return nil
	}

	p.mu.Lock()
	onWrite := p.onWrite
	p.mu.Unlock()
	// Register before writing so the watcher event that follows is ignored.
	if onWrite != nil {
		onWrite(raw)
	}
	return writeFileFn(p.path, raw)
}

// Stop unsubscribes, cancels a pending write and flushes synchronously.
func (p *Persister) Stop() error {
	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	unsubscribe := p.unsubscribe
	p.unsubscribe = nil
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return p.Flush()
}
