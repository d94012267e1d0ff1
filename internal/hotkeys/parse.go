package hotkeys

import (
	"errors"
	"fmt"
	"strings"

	"keybubbles/internal/keys"
)

// ErrEmpty is returned for a blank spec. Callers treat it as "no hotkey".
var ErrEmpty = errors.New("hotkey spec is empty")

var modifierByName = map[string]keys.Modifier{
	"CTRL":    keys.ModCtrl,
	"CONTROL": keys.ModCtrl,
	"SHIFT":   keys.ModShift,
	"ALT":     keys.ModAlt,
	"WIN":     keys.ModWin,
	"SUPER":   keys.ModWin,
}

// keyAliases maps accepted spellings to overlay labels.
var keyAliases = map[string]keys.Key{
	"SPACE":     "Space",
	"TAB":       "Tab",
	"ENTER":     "Enter",
	"RETURN":    "Enter",
	"ESC":       "Esc",
	"ESCAPE":    "Esc",
	"DELETE":    "Delete",
	"DEL":       "Delete",
	"INSERT":    "Insert",
	"INS":       "Insert",
	"HOME":      "Home",
	"END":       "End",
	"PGUP":      "PgUp",
	"PAGEUP":    "PgUp",
	"PGDN":      "PgDn",
	"PAGEDOWN":  "PgDn",
	"PAUSE":     "Pause",
	"BACKSPACE": "Backspace",
	"LEFT":      "←",
	"RIGHT":     "→",
	"UP":        "↑",
	"DOWN":      "↓",
	"BACKQUOTE": "`",
	"GRAVE":     "`",
}

// ParseBinding parses a binding like "Ctrl+Shift+F12". Names are case
// insensitive; at least one modifier is required so the hotkey does not
// swallow ordinary typing.
func ParseBinding(spec string) (Binding, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Binding{}, ErrEmpty
	}

	parts := strings.Split(raw, "+")
	// "Ctrl++" names the plus key.
	if strings.HasSuffix(raw, "++") {
		parts = append(strings.Split(strings.TrimSuffix(raw, "++"), "+"), "+")
	}
	if len(parts) < 2 {
		return Binding{}, fmt.Errorf("hotkey must include modifiers and key: %s", raw)
	}

	var mods keys.ModSet
	for _, token := range parts[:len(parts)-1] {
		mod, ok := modifierByName[strings.ToUpper(strings.TrimSpace(token))]
		if !ok {
			return Binding{}, fmt.Errorf("unknown modifier %q in hotkey %q", token, raw)
		}
		mods = mods.With(mod)
	}

	key, err := parseKey(parts[len(parts)-1])
	if err != nil {
		return Binding{}, fmt.Errorf("%w in hotkey %q", err, raw)
	}
	vk, ok := keys.VirtualKey(key)
	if !ok {
		return Binding{}, fmt.Errorf("key %q cannot be used in hotkey %q", key, raw)
	}
	return Binding{mods: mods, key: key, vk: vk}, nil
}

func parseKey(raw string) (keys.Key, error) {
	token := strings.TrimSpace(raw)
	if token == "" {
		return keys.None, errors.New("missing key")
	}
	upper := strings.ToUpper(token)
	if k, ok := keyAliases[upper]; ok {
		return k, nil
	}
	if _, isMod := modifierByName[upper]; isMod {
		return keys.None, fmt.Errorf("modifier %q used as key", token)
	}
	// Letters, digits, function keys and punctuation use overlay labels.
	return keys.Key(upper), nil
}
