//go:build !windows

package hotkeys

import (
	"errors"
	"log/slog"
	"sync"
)

// Manager validates bindings on platforms without global hotkeys. The
// callback never fires.
type Manager struct {
	mu     sync.Mutex
	active string
}

// NewManager creates an idle manager.
func NewManager() *Manager {
	return &Manager{}
}

// Start validates spec and remembers it.
func (m *Manager) Start(spec string, onTrigger func()) error {
	if onTrigger == nil {
		return errors.New("onTrigger callback is required")
	}
	binding, err := ParseBinding(spec)
	if err != nil {
		return err
	}
	slog.Debug("[hotkey] global hotkeys are not supported on this platform", "binding", binding.String())

	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = binding.String()
	return nil
}

// Stop forgets the active binding.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = ""
	return nil
}

// ActiveBinding returns the canonical form of the remembered binding.
func (m *Manager) ActiveBinding() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
