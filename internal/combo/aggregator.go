// Package combo turns a stream of key transitions into display tokens,
// merging modifiers pressed just before a key into one "Ctrl+Shift+N" token.
package combo

import (
	"log/slog"
	"strings"
	"time"

	"keybubbles/internal/keys"
)

const (
	// DefaultWindow is how far before a key press a modifier press may land
	// and still be merged into the same token.
	DefaultWindow = 50 * time.Millisecond
	// DefaultModifierTimeout is how long a lone modifier waits for a primary
	// key before it is shown on its own.
	DefaultModifierTimeout = 400 * time.Millisecond
)

// Options tunes the aggregation timing.
type Options struct {
	Window          time.Duration
	ModifierTimeout time.Duration
}

// DefaultOptions returns the built-in timing.
func DefaultOptions() Options {
	return Options{Window: DefaultWindow, ModifierTimeout: DefaultModifierTimeout}
}

func (o Options) withDefaults() Options {
	if o.Window <= 0 {
		o.Window = DefaultWindow
	}
	if o.ModifierTimeout <= 0 {
		o.ModifierTimeout = DefaultModifierTimeout
	}
	return o
}

// Token is one logical keypress as it should be displayed.
// Key is keys.None for a modifier-only token.
type Token struct {
	Mods keys.ModSet
	Key  keys.Key
	At   time.Time
}

// Modifiers returns the token's modifiers in canonical order.
func (t Token) Modifiers() []keys.Modifier { return t.Mods.Modifiers() }

// String renders the token as "Ctrl+Alt+Shift+Win+Key".
func (t Token) String() string {
	parts := make([]string, 0, 5)
	for _, m := range t.Mods.Modifiers() {
		parts = append(parts, m.String())
	}
	if t.Key != keys.None {
		parts = append(parts, t.Key.Label())
	}
	return strings.Join(parts, "+")
}

// Aggregator is a synchronous state machine. It is not safe for concurrent
// use; Runner owns one on a single goroutine.
type Aggregator struct {
	opts Options

	// held is derived from heldKeys. Left and right variants of a modifier
	// are tracked separately so releasing one keeps the other held.
	held      keys.ModSet
	heldKeys  map[physicalKey]struct{}
	lastPress map[keys.Modifier]time.Time
	down      map[keys.Key]struct{}

	// pending holds modifiers that were pressed but not yet shown.
	pending     keys.ModSet
	deadline    time.Time
	hasDeadline bool
}

// NewAggregator creates an aggregator. Zero option fields use the defaults.
func NewAggregator(opts Options) *Aggregator {
	return &Aggregator{
		opts:      opts.withDefaults(),
		heldKeys:  make(map[physicalKey]struct{}, 8),
		lastPress: make(map[keys.Modifier]time.Time, 4),
		down:      make(map[keys.Key]struct{}),
	}
}

// Options returns the active timing.
func (a *Aggregator) Options() Options { return a.opts }

// SetOptions replaces the timing. An already armed deadline is kept.
func (a *Aggregator) SetOptions(opts Options) { a.opts = opts.withDefaults() }

// Deadline reports when Flush next has work to do.
func (a *Aggregator) Deadline() (time.Time, bool) {
	return a.deadline, a.hasDeadline
}

// Push feeds one event and returns the tokens it completes. Tokens for an
// expired modifier deadline are returned first.
func (a *Aggregator) Push(ev keys.Event) []Token {
	out := a.Flush(ev.Time)

	if ev.Action == keys.Release {
		a.release(ev)
		return out
	}

	if mod, ok := ev.Key.Modifier(); ok {
		a.pressModifier(physicalKey{mod: mod, code: ev.Code}, ev.Time)
		return out
	}

	if _, repeat := a.down[ev.Key]; repeat {
		return out
	}
	a.down[ev.Key] = struct{}{}

	mods := a.held | a.pending
	for _, m := range ev.Mods.Modifiers() {
		mods = mods.With(m)
	}
	for m, at := range a.lastPress {
		if !at.After(ev.Time) && ev.Time.Sub(at) <= a.opts.Window {
			mods = mods.With(m)
		}
	}
	a.clearPending()
	return append(out, Token{Mods: mods, Key: ev.Key, At: ev.Time})
}

// Flush emits the pending modifier-only token once its deadline is reached.
func (a *Aggregator) Flush(now time.Time) []Token {
	if !a.hasDeadline || now.Before(a.deadline) {
		return nil
	}
	at := a.deadline
	mods := a.pending
	a.clearPending()
	if mods.Empty() {
		return nil
	}
	return []Token{{Mods: mods, Key: keys.None, At: at}}
}

// Reset forgets every held key and pending modifier. Used when capture is
// paused so a release lost while paused cannot leave a modifier stuck.
func (a *Aggregator) Reset() {
	a.held = 0
	clear(a.heldKeys)
	clear(a.lastPress)
	clear(a.down)
	a.clearPending()
}

type physicalKey struct {
	mod  keys.Modifier
	code uint32
}

func (a *Aggregator) pressModifier(pk physicalKey, at time.Time) {
	if _, repeat := a.heldKeys[pk]; repeat {
		return
	}
	a.heldKeys[pk] = struct{}{}
	mod := pk.mod
	if a.held.Has(mod) {
		// The other side of an already held modifier.
		return
	}
	a.held = a.held.With(mod)
	a.lastPress[mod] = at
	a.pending = a.pending | a.held
	a.deadline = at.Add(a.opts.ModifierTimeout)
	a.hasDeadline = true
}

func (a *Aggregator) release(ev keys.Event) {
	mod, ok := ev.Key.Modifier()
	if !ok {
		delete(a.down, ev.Key)
		return
	}
	delete(a.heldKeys, physicalKey{mod: mod, code: ev.Code})
	if a.stillHeld(mod) {
		return
	}
	a.held = a.held.Without(mod)
	if a.held.Empty() && !a.pending.Empty() {
		// Tapped modifier: show it once the merge window after release has
		// passed, without waiting for the full timeout.
		early := ev.Time.Add(a.opts.Window)
		if early.Before(a.deadline) {
			a.deadline = early
		}
		slog.Debug("[combo] modifier released before a primary key", "pending", a.pending.String())
	}
}

func (a *Aggregator) stillHeld(mod keys.Modifier) bool {
	for pk := range a.heldKeys {
		if pk.mod == mod {
			return true
		}
	}
	return false
}

func (a *Aggregator) clearPending() {
	a.pending = 0
	a.deadline = time.Time{}
	a.hasDeadline = false
}
