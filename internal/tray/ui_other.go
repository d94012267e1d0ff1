//go:build !windows

package tray

import "log/slog"

// UI is a no-op outside Windows; the control pipe and CLI still drive the
// Controller.
type UI struct {
	ctrl *Controller
}

// NewUI creates the tray UI for ctrl.
func NewUI(ctrl *Controller) *UI {
	return &UI{ctrl: ctrl}
}

// Start logs that no tray icon is available.
func (u *UI) Start() error {
	slog.Info("[tray] notification area icon is only available on Windows")
	return nil
}

// Stop is a no-op.
func (u *UI) Stop() {}
