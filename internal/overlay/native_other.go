//go:build !windows

package overlay

import (
	"fmt"
	"log/slog"
	"os"

	"keybubbles/internal/render"
)

// PrimaryScreen returns a fixed 1920x1080 screen outside Windows.
func PrimaryScreen() render.Rect { return fallbackScreen }

// MakeClickThrough is a no-op outside Windows.
func MakeClickThrough(title string) error {
	slog.Debug("[overlay] click-through styles are Windows-only", "title", title)
	return nil
}

// ShowError writes the message to stderr.
func ShowError(title, message string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
}
