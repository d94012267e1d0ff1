package keys

import "fmt"

// Win32 virtual-key codes for the non-alphanumeric keys we label.
const (
	vkBack     = 0x08
	vkTab      = 0x09
	vkReturn   = 0x0D
	vkShift    = 0x10
	vkControl  = 0x11
	vkMenu     = 0x12
	vkPause    = 0x13
	vkCapital  = 0x14
	vkEscape   = 0x1B
	vkSpace    = 0x20
	vkPrior    = 0x21
	vkNext     = 0x22
	vkEnd      = 0x23
	vkHome     = 0x24
	vkLeft     = 0x25
	vkUp       = 0x26
	vkRight    = 0x27
	vkDown     = 0x28
	vkSnapshot = 0x2C
	vkInsert   = 0x2D
	vkDelete   = 0x2E
	vkLWin     = 0x5B
	vkRWin     = 0x5C
	vkApps     = 0x5D
	vkNumpad0  = 0x60
	vkNumpad9  = 0x69
	vkMultiply = 0x6A
	vkAdd      = 0x6B
	vkSubtract = 0x6D
	vkDecimal  = 0x6E
	vkDivide   = 0x6F
	vkF1       = 0x70
	vkF24      = 0x87
	vkNumLock  = 0x90
	vkScroll   = 0x91
	vkLShift   = 0xA0
	vkRShift   = 0xA1
	vkLControl = 0xA2
	vkRControl = 0xA3
	vkLMenu    = 0xA4
	vkRMenu    = 0xA5
)

var namedVirtualKeys = map[uint32]Key{
	vkBack:     "Backspace",
	vkTab:      "Tab",
	vkReturn:   "Enter",
	vkShift:    Shift,
	vkControl:  Ctrl,
	vkMenu:     Alt,
	vkPause:    "Pause",
	vkCapital:  "CapsLock",
	vkEscape:   "Esc",
	vkSpace:    "Space",
	vkPrior:    "PgUp",
	vkNext:     "PgDn",
	vkEnd:      "End",
	vkHome:     "Home",
	vkLeft:     "←",
	vkUp:       "↑",
	vkRight:    "→",
	vkDown:     "↓",
	vkSnapshot: "PrtSc",
	vkInsert:   "Insert",
	vkDelete:   "Delete",
	vkLWin:     Win,
	vkRWin:     Win,
	vkApps:     "Menu",
	vkMultiply: "*",
	vkAdd:      "+",
	vkSubtract: "-",
	vkDecimal:  ".",
	vkDivide:   "/",
	vkNumLock:  "NumLock",
	vkScroll:   "ScrollLock",
	vkLShift:   Shift,
	vkRShift:   Shift,
	vkLControl: Ctrl,
	vkRControl: Ctrl,
	vkLMenu:    Alt,
	vkRMenu:    Alt,

	// OEM punctuation on a US layout.
	0xBA: ";",
	0xBB: "=",
	0xBC: ",",
	0xBD: "-",
	0xBE: ".",
	0xBF: "/",
	0xC0: "`",
	0xDB: "[",
	0xDC: `\`,
	0xDD: "]",
	0xDE: "'",
}

// FromVirtualKey maps a Win32 virtual-key code to a Key. Unknown codes
// return false and are not displayed.
func FromVirtualKey(vk uint32) (Key, bool) {
	if k, ok := namedVirtualKeys[vk]; ok {
		return k, true
	}
	switch {
	case vk >= 'A' && vk <= 'Z', vk >= '0' && vk <= '9':
		return Key(string(rune(vk))), true
	case vk >= vkNumpad0 && vk <= vkNumpad9:
		return Key(string(rune('0' + vk - vkNumpad0))), true
	case vk >= vkF1 && vk <= vkF24:
		return Key(fmt.Sprintf("F%d", vk-vkF1+1)), true
	}
	return None, false
}

// VirtualKey is the inverse of FromVirtualKey for non-modifier keys. Keys
// with several codes (digits, OEM punctuation shared with the numpad) map to
// the main-block code.
func VirtualKey(k Key) (uint32, bool) {
	if k.IsModifier() || k == None {
		return 0, false
	}
	s := string(k)
	if len(s) == 1 {
		c := s[0]
		if c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			return uint32(c), true
		}
	}
	var n int
	if _, err := fmt.Sscanf(s, "F%d", &n); err == nil && fmt.Sprintf("F%d", n) == s && n >= 1 && n <= vkF24-vkF1+1 {
		return uint32(vkF1 + n - 1), true
	}
	vk, ok := virtualKeyByName[k]
	return vk, ok
}

// virtualKeyByName prefers OEM codes over numpad codes for shared labels.
// INVARIANT: immutable after init.
var virtualKeyByName = func() map[Key]uint32 {
	out := make(map[Key]uint32, len(namedVirtualKeys))
	for vk, k := range namedVirtualKeys {
		if prev, ok := out[k]; ok && prev > vk {
			continue
		}
		out[k] = vk
	}
	return out
}()
