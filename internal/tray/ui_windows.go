//go:build windows

package tray

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"

	"fyne.io/systray"

	"keybubbles/internal/workerutil"
)

// UI binds a Controller to the notification-area icon and menu.
type UI struct {
	ctrl *Controller

	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewUI creates the tray UI for ctrl. Nothing is shown until Start.
func NewUI(ctrl *Controller) *UI {
	return &UI{ctrl: ctrl}
}

// Start shows the tray icon on its own locked OS thread.
func (u *UI) Start() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.started {
		return errors.New("tray already started")
	}
	activeIcon, err := Icon(false)
	if err != nil {
		return err
	}
	pausedIcon, err := Icon(true)
	if err != nil {
		return err
	}
	u.started = true
	u.done = make(chan struct{})
	done := u.done

	go func() {
		defer close(done)
		defer workerutil.RecoverPanic("tray-ui", nil)
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		systray.Run(func() { u.onReady(activeIcon, pausedIcon) }, func() {
			slog.Debug("[tray] tray loop exited")
		})
	}()
	return nil
}

func (u *UI) onReady(activeIcon, pausedIcon []byte) {
	systray.SetIcon(activeIcon)
	systray.SetTitle("KeyBubbles")
	systray.SetTooltip("KeyBubbles")

	status := systray.AddMenuItem(u.ctrl.StatusText(), "Current status")
	status.Disable()
	systray.AddSeparator()
	pause := systray.AddMenuItem(u.ctrl.PauseLabel(), "Stop or resume showing keys")
	settings := systray.AddMenuItem("Settings...", "Open the settings page")
	reset := systray.AddMenuItem("Reset to Defaults", "Restore the default appearance")
	systray.AddSeparator()
	quit := systray.AddMenuItem("Quit", "Quit KeyBubbles")

	refresh := func(paused bool) {
		status.SetTitle(u.ctrl.StatusText())
		pause.SetTitle(u.ctrl.PauseLabel())
		if paused {
			systray.SetIcon(pausedIcon)
			systray.SetTooltip("KeyBubbles (paused)")
			return
		}
		systray.SetIcon(activeIcon)
		systray.SetTooltip("KeyBubbles")
	}
	cancel := u.ctrl.OnChange(refresh)
	refresh(u.ctrl.Paused())

	go func() {
		defer workerutil.RecoverPanic("tray-menu", nil)
		defer cancel()
		for {
			select {
			case <-pause.ClickedCh:
				u.ctrl.TogglePause()
			case <-settings.ClickedCh:
				u.ctrl.OpenSettings()
			case <-reset.ClickedCh:
				u.ctrl.ResetDefaults()
			case <-quit.ClickedCh:
				u.ctrl.Quit()
				return
			}
		}
	}()
}

// Stop removes the tray icon and waits for the tray thread to exit.
func (u *UI) Stop() {
	u.mu.Lock()
	done := u.done
	u.done = nil
	u.mu.Unlock()
	if done == nil {
		return
	}
	systray.Quit()
	<-done
}
