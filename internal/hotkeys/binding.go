// Package hotkeys registers the global shortcut that pauses the overlay.
package hotkeys

import "keybubbles/internal/keys"

// Binding describes a parsed global hotkey.
// Construct only via ParseBinding to guarantee invariant consistency.
type Binding struct {
	mods keys.ModSet
	key  keys.Key
	vk   uint32
}

// Modifiers returns the held modifiers.
func (b Binding) Modifiers() keys.ModSet { return b.mods }

// Key returns the non-modifier key.
func (b Binding) Key() keys.Key { return b.key }

// VirtualKey returns the Win32 virtual-key code of Key.
func (b Binding) VirtualKey() uint32 { return b.vk }

// String returns the canonical form, spelled the way the overlay labels the
// same combination ("Ctrl+Alt+K").
func (b Binding) String() string {
	if b.key == keys.None {
		return ""
	}
	return b.mods.String() + "+" + string(b.key)
}
