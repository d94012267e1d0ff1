// Package overlay holds the native glue around the transparent overlay
// window: screen geometry, click-through window styles, following the
// renderer's window rectangle, and the fatal-error dialog.
package overlay

import (
	"errors"
	"log/slog"
	"sync"

	"keybubbles/internal/render"
)

// WindowTitle identifies the overlay window to the native helpers.
const WindowTitle = "KeyBubbles Overlay"

// ErrWindowNotFound is returned when the overlay window does not exist yet.
var ErrWindowNotFound = errors.New("overlay window not found")

// fallbackScreen is used when the primary screen size cannot be queried.
var fallbackScreen = render.Rect{W: 1920, H: 1080}

// Follower moves the overlay window to the rectangle of each frame. It only
// calls move when the rectangle actually changes.
type Follower struct {
	move func(r render.Rect)

	mu   sync.Mutex
	last render.Rect
	set  bool
}

// NewFollower calls move for every new window rectangle.
func NewFollower(move func(r render.Rect)) *Follower {
	return &Follower{move: move}
}

// Follow applies r if it differs from the last applied rectangle and
// reports whether the window was moved.
func (f *Follower) Follow(r render.Rect) bool {
	if r.W <= 0 || r.H <= 0 {
		return false
	}
	f.mu.Lock()
	if f.set && f.last == r {
		f.mu.Unlock()
		return false
	}
	f.last, f.set = r, true
	f.mu.Unlock()

	slog.Debug("[overlay] moving window", "x", r.X, "y", r.Y, "w", r.W, "h", r.H)
	f.move(r)
	return true
}

// Current returns the last applied rectangle.
func (f *Follower) Current() (render.Rect, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last, f.set
}
