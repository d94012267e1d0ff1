// Package bubble owns the list of live key bubbles: insertion with eviction
// of the oldest entry, and time-based fading.
package bubble

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxKeys is the live-bubble cap used when a caller passes a
	// non-positive limit.
	DefaultMaxKeys = 10
	// DefaultFadePerSecond is the opacity lost per second of wall time.
	DefaultFadePerSecond = 0.5
)

// Bubble is one displayed token. Opacity starts at 1.0 and only decreases.
type Bubble struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	Opacity   float64   `json:"opacity"`
	// Slot is the bubble's index in creation order, 0 being the oldest.
	Slot int `json:"slot"`
}

// newIDFn is a test seam.
var newIDFn = func() string { return uuid.NewString() }

// New returns a fully opaque bubble for text.
func New(text string, now time.Time) Bubble {
	return Bubble{
		ID:        newIDFn(),
		Text:      text,
		CreatedAt: now,
		Opacity:   1.0,
	}
}

// Insert appends b and evicts from the front until at most maxKeys remain.
// The input slice is never modified; next is always a fresh slice.
func Insert(list []Bubble, b Bubble, maxKeys int) (next, evicted []Bubble) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	next = make([]Bubble, 0, min(len(list)+1, maxKeys))
	all := append(slices.Clone(list), b)
	if over := len(all) - maxKeys; over > 0 {
		evicted = all[:over]
		all = all[over:]
	}
	next = append(next, all...)
	renumber(next)
	return next, evicted
}

// Trim evicts the oldest bubbles so that at most maxKeys remain.
func Trim(list []Bubble, maxKeys int) (next, evicted []Bubble) {
	if maxKeys <= 0 {
		maxKeys = DefaultMaxKeys
	}
	next = slices.Clone(list)
	if over := len(next) - maxKeys; over > 0 {
		evicted = next[:over:over]
		next = slices.Clone(next[over:])
	}
	renumber(next)
	return next, evicted
}

// Advance fades every bubble by elapsed*fadePerSecond and drops bubbles
// whose opacity reaches zero. Negative elapsed values are treated as zero,
// so opacity never increases.
func Advance(list []Bubble, elapsed time.Duration, fadePerSecond float64) (next, removed []Bubble) {
	if elapsed < 0 {
		elapsed = 0
	}
	if fadePerSecond < 0 {
		fadePerSecond = 0
	}
	step := elapsed.Seconds() * fadePerSecond

	next = make([]Bubble, 0, len(list))
	for _, b := range list {
		b.Opacity -= step
		if b.Opacity <= 0 {
			b.Opacity = 0
			removed = append(removed, b)
			continue
		}
		next = append(next, b)
	}
	renumber(next)
	return next, removed
}

func renumber(list []Bubble) {
	for i := range list {
		list[i].Slot = i
	}
}
