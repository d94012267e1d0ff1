//go:build windows

package autostart

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows/registry"
)

const runKeyPath = `Software\Microsoft\Windows\CurrentVersion\Run`

// RegistryManager stores the entry under HKCU\...\Run.
type RegistryManager struct {
	root      registry.Key
	path      string
	valueName string
}

// NewManager returns the HKCU Run-key manager.
func NewManager() Manager {
	return &RegistryManager{root: registry.CURRENT_USER, path: runKeyPath, valueName: AppName}
}

// IsEnabled implements Manager.
func (m *RegistryManager) IsEnabled() (bool, error) {
	key, err := registry.OpenKey(m.root, m.path, registry.QUERY_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("open %s: %w", m.path, err)
	}
	defer key.Close()

	_, _, err = key.GetStringValue(m.valueName)
	if errors.Is(err, registry.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read %s: %w", m.valueName, err)
	}
	return true, nil
}

// Enable implements Manager.
func (m *RegistryManager) Enable(command string) error {
	key, _, err := registry.CreateKey(m.root, m.path, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open %s: %w", m.path, err)
	}
	defer key.Close()
	return key.SetStringValue(m.valueName, command)
}

// Disable implements Manager.
func (m *RegistryManager) Disable() error {
	key, err := registry.OpenKey(m.root, m.path, registry.SET_VALUE)
	if errors.Is(err, registry.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open %s: %w", m.path, err)
	}
	defer key.Close()
	if err := key.DeleteValue(m.valueName); err != nil && !errors.Is(err, registry.ErrNotExist) {
		return err
	}
	return nil
}
