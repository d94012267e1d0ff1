package bubble

import (
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Manager serializes bubble insertion (aggregator goroutine) and fading
// (render goroutine) under one mutex.
type Manager struct {
	mu            sync.Mutex
	bubbles       []Bubble
	maxKeys       int
	fadePerSecond float64
	onChange      func()
}

// NewManager creates a manager with the given limits. Non-positive values
// use the package defaults.
func NewManager(maxKeys int, fadePerSecond float64) *Manager {
	m := &Manager{}
	m.maxKeys, m.fadePerSecond = normalizeLimits(maxKeys, fadePerSecond)
	return m
}

func normalizeLimits(maxKeys int, fadePerSecond float64) (int, float64) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	if fadePerSecond <= 0 {
		fadePerSecond = DefaultFadePerSecond
	}
	return maxKeys, fadePerSecond
}

// OnChange registers a callback invoked (outside the lock) after Add or Clear.
// Tick does not call it; the render loop already observes its own ticks.
func (m *Manager) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// Add creates a bubble for text and inserts it, evicting the oldest bubble
// when the cap is reached.
func (m *Manager) Add(text string, now time.Time) Bubble {
	b := New(text, now)

	m.mu.Lock()
	next, evicted := Insert(m.bubbles, b, m.maxKeys)
	m.bubbles = next
	b = next[len(next)-1]
	notify := m.onChange
	m.mu.Unlock()

	if len(evicted) > 0 {
		slog.Debug("[bubble] evicted oldest", "count", len(evicted), "text", text)
	}
	if notify != nil {
		notify()
	}
	return b
}

// Tick fades every bubble by elapsed and reports whether anything was live.
func (m *Manager) Tick(elapsed time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.bubbles) == 0 {
		return false
	}
	m.bubbles, _ = Advance(m.bubbles, elapsed, m.fadePerSecond)
	return true
}

// Snapshot returns a copy of the live bubbles, oldest first.
func (m *Manager) Snapshot() []Bubble {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.bubbles)
}

// SetLimits updates the cap and fade speed. Lowering the cap evicts the
// oldest bubbles immediately.
func (m *Manager) SetLimits(maxKeys int, fadePerSecond float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maxKeys, m.fadePerSecond = normalizeLimits(maxKeys, fadePerSecond)
	m.bubbles, _ = Trim(m.bubbles, m.maxKeys)
}

// Limits returns the active cap and fade speed.
func (m *Manager) Limits() (int, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxKeys, m.fadePerSecond
}

// Clear removes every bubble.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.bubbles = nil
	notify := m.onChange
	m.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Len returns the number of live bubbles.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bubbles)
}
