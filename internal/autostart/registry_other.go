//go:build !windows

package autostart

type unsupportedManager struct{}

// NewManager returns a manager that reports ErrUnsupported for writes.
func NewManager() Manager { return unsupportedManager{} }

func (unsupportedManager) IsEnabled() (bool, error) { return false, nil }
func (unsupportedManager) Enable(string) error      { return ErrUnsupported }
func (unsupportedManager) Disable() error           { return nil }
