//go:build !windows

package input

import (
	"context"

	"keybubbles/internal/keys"
)

// HookSource is unavailable outside Windows; Start reports ErrUnsupported.
type HookSource struct{}

// NewHookSource returns a source that cannot start on this platform.
func NewHookSource(bool) *HookSource { return &HookSource{} }

// Name implements Source.
func (*HookSource) Name() string { return "unsupported" }

// Start implements Source.
func (*HookSource) Start(context.Context, func(keys.Event)) error { return ErrUnsupported }

// Stop implements Source.
func (*HookSource) Stop() error { return nil }

// SetMouseEnabled implements MouseToggler.
func (*HookSource) SetMouseEnabled(bool) {}
