package config

import (
	"log/slog"
	"slices"
	"sync"
)

// Store is the live, concurrency-safe option set.
//
// Listeners run after mu is released, in registration order. Only one
// goroutine delivers notifications at a time and it always delivers the
// newest configuration, so a listener never sees an older config after a
// newer one. A change made while another goroutine is delivering is handed
// to that goroutine; intermediate configs may be coalesced. A listener may
// call back into the store.
type Store struct {
	mu        sync.RWMutex
	cfg       Config
	version   uint64
	listeners []storeListener
	nextID    uint64

	// Lock order: notifyMu is never held while acquiring mu for writing.
	notifyMu    sync.Mutex
	dispatching bool
	delivered   uint64
}

type storeListener struct {
	id uint64
	fn func(Config)
}

// NewStore creates a store holding the normalized form of cfg.
func NewStore(cfg Config) *Store {
	normalized, warnings := Normalize(cfg)
	for _, w := range warnings {
		slog.Warn("[WARN-CONFIG] " + w)
	}
	return &Store{cfg: normalized}
}

// Get returns the current value of the named option.
func (s *Store) Get(name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Value(s.cfg, name)
}

// Set validates and stores one option. On *ValidationError or
// ErrUnknownOption the prior value is kept and listeners are not called.
func (s *Store) Set(name string, value any) error {
	s.mu.Lock()
	next := s.cfg
	if err := SetValue(&next, name, value); err != nil {
		s.mu.Unlock()
		slog.Warn("[WARN-CONFIG] option rejected", "name", name, "value", value, "error", err)
		return err
	}
	changed := next != s.cfg
	if changed {
		s.cfg = next
		s.version++
	}
	s.mu.Unlock()

	if changed {
		slog.Debug("[DEBUG-CONFIG] option set", "name", name, "value", value)
		s.dispatch()
	}
	return nil
}

// Snapshot returns a copy of the current configuration.
func (s *Store) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ApplyPreset writes the preset's colors and border flag in one step.
// Readers never observe a partially applied preset.
func (s *Store) ApplyPreset(name string) error {
	preset, err := LookupPreset(name)
	if err != nil {
		return err
	}
	s.update(func(cfg Config) Config { return preset.Apply(cfg) })
	slog.Info("[config] preset applied", "preset", preset.Name)
	return nil
}

// Reset restores every option to its default.
func (s *Store) Reset() {
	s.update(func(Config) Config { return DefaultConfig() })
	slog.Info("[config] options reset to defaults")
}

// Replace swaps in a whole configuration after validating every option.
// It is used when the file is edited externally and by the settings page.
// On *ValidationError nothing changes.
func (s *Store) Replace(cfg Config) error {
	if err := Validate(cfg); err != nil {
		slog.Warn("[WARN-CONFIG] replacement rejected", "error", err)
		return err
	}
	normalized, _ := Normalize(cfg)
	s.update(func(Config) Config { return normalized })
	return nil
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. The cancel function is idempotent.
func (s *Store) Subscribe(fn func(Config)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, storeListener{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.listeners = slices.DeleteFunc(s.listeners, func(l storeListener) bool { return l.id == id })
			s.mu.Unlock()
		})
	}
}

// Options describes every option for the settings surface.
func (s *Store) Options() []OptionInfo { return Options() }

func (s *Store) update(mutate func(Config) Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = mutate(s.cfg)
	changed := prev != s.cfg
	if changed {
		s.version++
	}
	s.mu.Unlock()
	if changed {
		s.dispatch()
	}
}

// dispatch delivers the latest config until no newer version is pending.
// If another goroutine is already delivering, it picks up this version.
func (s *Store) dispatch() {
	s.notifyMu.Lock()
	if s.dispatching {
		s.notifyMu.Unlock()
		return
	}
	s.dispatching = true
	for {
		s.mu.RLock()
		version, cfg, listeners := s.version, s.cfg, slices.Clone(s.listeners)
		s.mu.RUnlock()
		if version == s.delivered {
			s.dispatching = false
			s.notifyMu.Unlock()
			return
		}
		s.delivered = version
		s.notifyMu.Unlock()

		notifyListeners(listeners, cfg)

		s.notifyMu.Lock()
	}
}

func notifyListeners(listeners []storeListener, cfg Config) {
	defer func() {
		// A panicking listener must not leave dispatching stuck.
		if r := recover(); r != nil {
			slog.Error("[config] store listener panicked", "panic", r)
		}
	}()
	for _, l := range listeners {
		l.fn(cfg)
	}
}
