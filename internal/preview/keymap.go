package preview

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"

	"keybubbles/internal/keys"
)

var terminalKeyNames = map[string]keys.Key{
	"enter":     "Enter",
	"tab":       "Tab",
	"backspace": "Backspace",
	"esc":       "Esc",
	" ":         "Space",
	"space":     "Space",
	"up":        "↑",
	"down":      "↓",
	"left":      "←",
	"right":     "→",
	"pgup":      "PgUp",
	"pgdown":    "PgDn",
	"home":      "Home",
	"end":       "End",
	"delete":    "Delete",
	"insert":    "Insert",
}

var modifierPrefixes = []struct {
	prefix string
	key    keys.Key
	mod    keys.Modifier
}{
	{"ctrl+", keys.Ctrl, keys.ModCtrl},
	{"alt+", keys.Alt, keys.ModAlt},
	{"shift+", keys.Shift, keys.ModShift},
}

// EventsFromKey converts one terminal key message into the press/release
// sequence a keyboard hook would have reported. Terminals deliver no
// modifier-only presses and no releases, so each message becomes a complete
// stroke: modifiers down, key down, key up, modifiers up. Pastes and
// multi-rune input yield nothing.
func EventsFromKey(msg tea.KeyMsg, at time.Time) []keys.Event {
	if msg.Paste {
		return nil
	}
	name := msg.String()

	var mods []keys.Key
	var held keys.ModSet
	for changed := true; changed; {
		changed = false
		for _, p := range modifierPrefixes {
			rest, ok := strings.CutPrefix(name, p.prefix)
			if !ok || rest == "" || held.Has(p.mod) {
				continue
			}
			mods = append(mods, p.key)
			held = held.With(p.mod)
			name = rest
			changed = true
		}
	}

	key, shifted, ok := terminalKey(name)
	if !ok {
		return nil
	}
	if shifted && !held.Has(keys.ModShift) {
		mods = append(mods, keys.Shift)
	}

	events := make([]keys.Event, 0, 2*len(mods)+2)
	var down keys.ModSet
	for _, m := range mods {
		events = append(events, pressWith(m, down, at))
		mod, _ := m.Modifier()
		down = down.With(mod)
	}
	events = append(events, pressWith(key, down, at), releaseWith(key, down, at))
	for i := len(mods) - 1; i >= 0; i-- {
		mod, _ := mods[i].Modifier()
		down = down.Without(mod)
		events = append(events, releaseWith(mods[i], down, at))
	}
	return events
}

// terminalKey maps the key part of a bubbletea key name. shifted reports an
// upper-case letter, which a terminal sends instead of Shift+letter.
func terminalKey(name string) (key keys.Key, shifted bool, ok bool) {
	if k, found := terminalKeyNames[name]; found {
		return k, false, true
	}
	if rest, found := strings.CutPrefix(name, "f"); found && rest != "" && isDigits(rest) {
		return keys.Key("F" + rest), false, true
	}
	if utf8.RuneCountInString(name) != 1 {
		return keys.None, false, false
	}
	r, _ := utf8.DecodeRuneInString(name)
	switch {
	case unicode.IsLetter(r) && unicode.IsUpper(r):
		return keys.Key(string(r)), true, true
	case unicode.IsLetter(r):
		return keys.Key(string(unicode.ToUpper(r))), false, true
	case unicode.IsPrint(r):
		return keys.Key(string(r)), false, true
	}
	return keys.None, false, false
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func pressWith(k keys.Key, mods keys.ModSet, at time.Time) keys.Event {
	ev := keys.Pressed(k, at)
	ev.Mods = mods
	return ev
}

func releaseWith(k keys.Key, mods keys.ModSet, at time.Time) keys.Event {
	ev := keys.Released(k, at)
	ev.Mods = mods
	return ev
}
