package input

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"keybubbles/internal/keys"
)

// DefaultBuffer is the event channel capacity. A human cannot outrun it;
// overflow only happens if the consumer is stalled.
const DefaultBuffer = 256

// Listener owns a Source subscription and the channel its events land in.
//
// The emit path runs on the OS hook thread, so it never blocks: when the
// channel is full the event is dropped and counted.
type Listener struct {
	src    Source
	events chan keys.Event

	dropped      atomic.Uint64
	mouseEnabled atomic.Bool

	// mu guards closed against the emit path. emit holds the read side only
	// for the non-blocking send.
	mu      sync.RWMutex
	closed  bool
	started bool
}

// NewListener wraps src. A non-positive buffer uses DefaultBuffer.
func NewListener(src Source, buffer int) *Listener {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Listener{src: src, events: make(chan keys.Event, buffer)}
}

// Start subscribes to the source. Failures wrap ErrSubscribe.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("%w: listener already stopped", ErrSubscribe)
	}
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribe, ErrAlreadyStarted)
	}
	l.started = true
	l.mu.Unlock()

	if err := l.src.Start(ctx, l.emit); err != nil {
		l.mu.Lock()
		l.started = false
		l.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrSubscribe, l.src.Name(), err)
	}
	slog.Info("[input] listener started", "source", l.src.Name())
	return nil
}

// SetMouseEnabled turns mouse-button events on or off. Sources that can
// install or remove their mouse hook are told as well.
func (l *Listener) SetMouseEnabled(enabled bool) {
	if l.mouseEnabled.Swap(enabled) == enabled {
		return
	}
	if toggler, ok := l.src.(MouseToggler); ok {
		toggler.SetMouseEnabled(enabled)
	}
	slog.Debug("[input] mouse capture toggled", "enabled", enabled)
}

func (l *Listener) emit(ev keys.Event) {
	if ev.Origin == keys.Mouse && !l.mouseEnabled.Load() {
		return
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.events <- ev:
	default:
		if n := l.dropped.Add(1); n&(n-1) == 0 {
			// Log on powers of two to avoid flooding.
			slog.Warn("[input] event channel full, dropping events", "dropped", n)
		}
	}
}

// Events returns the event stream. It is closed by Stop.
func (l *Listener) Events() <-chan keys.Event { return l.events }

// Dropped reports how many events were lost to a full channel.
func (l *Listener) Dropped() uint64 { return l.dropped.Load() }

// Stop unsubscribes and closes the event channel. Safe to call repeatedly.
func (l *Listener) Stop() error {
	l.mu.RLock()
	closed, started := l.closed, l.started
	l.mu.RUnlock()
	if closed {
		return nil
	}

	var stopErr error
	if started {
		stopErr = l.src.Stop()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.events)
	slog.Info("[input] listener stopped", "source", l.src.Name(), "dropped", l.dropped.Load())
	return stopErr
}
