// Package keys defines the normalized key model shared by the input sources,
// the combo aggregator and the overlay.
package keys

import (
	"strings"
	"time"
)

// Modifier is a single modifier key in a ModSet bitmask.
type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModWin
)

// canonicalOrder is the display order of modifiers in a combo label.
// INVARIANT: immutable after init.
var canonicalOrder = [...]Modifier{ModCtrl, ModAlt, ModShift, ModWin}

var modifierNames = map[Modifier]string{
	ModCtrl:  "Ctrl",
	ModAlt:   "Alt",
	ModShift: "Shift",
	ModWin:   "Win",
}

// String returns the display name of a single modifier.
func (m Modifier) String() string {
	if name, ok := modifierNames[m]; ok {
		return name
	}
	return "Mod?"
}

// ModSet is a set of held modifiers.
type ModSet uint8

// Has reports whether m is in the set.
func (s ModSet) Has(m Modifier) bool { return s&ModSet(m) != 0 }

// With returns the set plus m.
func (s ModSet) With(m Modifier) ModSet { return s | ModSet(m) }

// Without returns the set minus m.
func (s ModSet) Without(m Modifier) ModSet { return s &^ ModSet(m) }

// Empty reports whether no modifier is set.
func (s ModSet) Empty() bool { return s == 0 }

// Modifiers returns the members in canonical order (Ctrl, Alt, Shift, Win).
func (s ModSet) Modifiers() []Modifier {
	var out []Modifier
	for _, m := range canonicalOrder {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// String joins the members with "+" in canonical order.
func (s ModSet) String() string {
	mods := s.Modifiers()
	names := make([]string, 0, len(mods))
	for _, m := range mods {
		names = append(names, m.String())
	}
	return strings.Join(names, "+")
}

// Key is a semantic key identifier. Its value is the display label
// ("S", "Enter", "Ctrl", "Left Click").
type Key string

// None is the zero Key, used by tokens that carry only modifiers.
const None Key = ""

// Well-known keys produced by the sources.
const (
	Ctrl  Key = "Ctrl"
	Alt   Key = "Alt"
	Shift Key = "Shift"
	Win   Key = "Win"

	MouseLeft   Key = "Left Click"
	MouseRight  Key = "Right Click"
	MouseMiddle Key = "Middle Click"
)

var modifierByKey = map[Key]Modifier{
	Ctrl:  ModCtrl,
	Alt:   ModAlt,
	Shift: ModShift,
	Win:   ModWin,
}

// Label returns the display label.
func (k Key) Label() string { return string(k) }

// Modifier reports the modifier that k represents, if any.
func (k Key) Modifier() (Modifier, bool) {
	m, ok := modifierByKey[k]
	return m, ok
}

// IsModifier reports whether k is one of Ctrl, Alt, Shift or Win.
func (k Key) IsModifier() bool {
	_, ok := modifierByKey[k]
	return ok
}

// Action is the transition direction of an Event.
type Action uint8

const (
	Press Action = iota
	Release
)

func (a Action) String() string {
	if a == Release {
		return "release"
	}
	return "press"
}

// Origin tells which device produced an Event.
type Origin uint8

const (
	Keyboard Origin = iota
	Mouse
)

// Event is one physical key or button transition. Events are values and
// are never modified after a source emits them.
//
// Code identifies the physical key (left or right Ctrl, for example) when
// the source knows it; zero means unknown.
type Event struct {
	Key    Key
	Mods   ModSet // modifiers the source saw held when the event fired
	Code   uint32
	Time   time.Time
	Action Action
	Origin Origin
}

// Pressed builds a keyboard press event.
func Pressed(k Key, at time.Time) Event {
	return Event{Key: k, Time: at, Action: Press, Origin: Keyboard}
}

// Released builds a keyboard release event.
func Released(k Key, at time.Time) Event {
	return Event{Key: k, Time: at, Action: Release, Origin: Keyboard}
}
