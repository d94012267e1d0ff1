// Package tray holds the pause state and menu actions behind the system tray
// icon. Controller is UI-free so the control pipe and tests can drive it.
package tray

import (
	"log/slog"
	"sync"
)

// Actions are the app callbacks the menu triggers. Nil entries are no-ops.
type Actions struct {
	OpenSettings  func()
	ResetDefaults func()
	Quit          func()
}

type changeListener struct {
	id uint64
	fn func(paused bool)
}

// Controller owns the Active/Paused state.
type Controller struct {
	actions Actions // INVARIANT: immutable after init.

	// changeMu serializes state changes with their notifications, so
	// listeners see changes in order. Lock order: changeMu before mu.
	// Listeners must not change the pause state.
	changeMu sync.Mutex

	mu        sync.Mutex
	paused    bool
	listeners []changeListener
	nextID    uint64

	quitOnce sync.Once
}

// NewController creates an active (not paused) controller.
func NewController(actions Actions) *Controller {
	return &Controller{actions: actions}
}

// Paused reports whether new input is being ignored.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// SetPaused updates the pause state and reports whether it changed.
// Listeners run outside the lock, in registration order.
func (c *Controller) SetPaused(paused bool) bool {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	return c.change(func(bool) bool { return paused })
}

// TogglePause flips the pause state and returns the new value. Concurrent
// toggles each flip once.
func (c *Controller) TogglePause() bool {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.change(func(current bool) bool { return !current })
	return c.Paused()
}

// change applies next to the state and notifies. Caller holds changeMu.
func (c *Controller) change(next func(current bool) bool) bool {
	c.mu.Lock()
	paused := next(c.paused)
	if c.paused == paused {
		c.mu.Unlock()
		return false
	}
	c.paused = paused
	listeners := append([]changeListener(nil), c.listeners...)
	c.mu.Unlock()

	slog.Info("[tray] pause state changed", "paused", paused)
	for _, l := range listeners {
		l.fn(paused)
	}
	return true
}

// StatusText is the label of the disabled status line at the top of the menu.
func (c *Controller) StatusText() string {
	if c.Paused() {
		return "KeyBubbles - Paused"
	}
	return "KeyBubbles - Active"
}

// PauseLabel is the label of the Pause/Resume item for the current state.
func (c *Controller) PauseLabel() string {
	if c.Paused() {
		return "Resume"
	}
	return "Pause"
}

// OnChange registers fn for pause-state changes. The returned func removes it.
func (c *Controller) OnChange(fn func(paused bool)) (cancel func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, changeListener{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, l := range c.listeners {
				if l.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// OpenSettings shows the settings surface.
func (c *Controller) OpenSettings() {
	slog.Debug("[tray] open settings requested")
	if c.actions.OpenSettings != nil {
		c.actions.OpenSettings()
	}
}

// ResetDefaults restores the default configuration.
func (c *Controller) ResetDefaults() {
	slog.Info("[tray] reset to defaults requested")
	if c.actions.ResetDefaults != nil {
		c.actions.ResetDefaults()
	}
}

// Quit starts a graceful shutdown. Only the first call has an effect.
func (c *Controller) Quit() {
	c.quitOnce.Do(func() {
		slog.Info("[tray] quit requested")
		if c.actions.Quit != nil {
			c.actions.Quit()
		}
	})
}
