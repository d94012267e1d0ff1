// Package autostart keeps the per-user "run at login" entry in step with
// the start_with_windows option.
package autostart

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// AppName is the name of the autostart entry.
const AppName = "KeyBubbles"

// ErrUnsupported is returned where no login-item mechanism is implemented.
var ErrUnsupported = errors.New("autostart is not supported on this platform")

// Manager reads and writes the login entry.
type Manager interface {
	IsEnabled() (bool, error)
	Enable(command string) error
	Disable() error
}

// executableFn is a test seam.
var executableFn = os.Executable

// Command returns the quoted command line that launches this executable.
func Command() (string, error) {
	exe, err := executableFn()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return `"` + exe + `"`, nil
}

// Sync enables or disables the entry so it matches want. It does nothing
// when the entry is already in the wanted state.
func Sync(m Manager, want bool) error {
	enabled, err := m.IsEnabled()
	if err != nil {
		return fmt.Errorf("read autostart state: %w", err)
	}
	if enabled == want {
		return nil
	}
	if !want {
		if err := m.Disable(); err != nil {
			return fmt.Errorf("disable autostart: %w", err)
		}
		slog.Info("[autostart] disabled")
		return nil
	}
	command, err := Command()
	if err != nil {
		return err
	}
	if err := m.Enable(command); err != nil {
		return fmt.Errorf("enable autostart: %w", err)
	}
	slog.Info("[autostart] enabled", "command", command)
	return nil
}
