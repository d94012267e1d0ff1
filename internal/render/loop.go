package render

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"keybubbles/internal/bubble"
	"keybubbles/internal/config"
)

// Sink receives frames on the render goroutine. Present must not block;
// the WebSocket hub only enqueues and keeps the latest frame per client.
type Sink interface {
	Present(Frame)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Frame)

// Present implements Sink.
func (f SinkFunc) Present(frame Frame) { f(frame) }

// Loop fades bubbles at a steady tick and presents a frame per tick.
// Consecutive empty frames are sent once.
type Loop struct {
	manager  *bubble.Manager
	measurer Measurer
	sink     Sink
	screen   func() Rect

	mu        sync.Mutex
	cfg       config.Config
	interval  time.Duration
	last      time.Time
	seq       uint64
	sentEmpty bool
	dirty     bool

	wake     chan struct{}
	warnings warnOnce
}

// NewLoop creates a render loop. screen is called every tick so work-area
// changes (taskbar moved, resolution switch) are picked up.
func NewLoop(manager *bubble.Manager, measurer Measurer, sink Sink, screen func() Rect, cfg config.Config) *Loop {
	if measurer == nil {
		measurer = EstimateMeasurer{}
	}
	l := &Loop{
		manager:  manager,
		measurer: measurer,
		sink:     sink,
		screen:   screen,
		wake:     make(chan struct{}, 1),
	}
	l.SetConfig(cfg)
	return l
}

// SetConfig sanitizes and installs a new configuration and forces the next
// frame to be sent.
func (l *Loop) SetConfig(cfg config.Config) {
	sanitized, warnings := Sanitize(cfg)
	l.warnings.log(warnings)

	l.mu.Lock()
	l.cfg = sanitized
	l.interval = sanitized.FrameInterval()
	l.dirty = true
	l.mu.Unlock()
	l.signal()
}

// Config returns the sanitized configuration in use.
func (l *Loop) Config() config.Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cfg
}

// Redraw forces the next tick to present even if nothing changed.
func (l *Loop) Redraw() {
	l.mu.Lock()
	l.dirty = true
	l.mu.Unlock()
	l.signal()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Step advances the bubbles to now and presents the frame unless it is a
// repeated empty frame. It reports whether a frame was sent.
func (l *Loop) Step(now time.Time) (Frame, bool) {
	l.mu.Lock()
	elapsed := time.Duration(0)
	if !l.last.IsZero() {
		elapsed = now.Sub(l.last)
	}
	l.last = now
	cfg := l.cfg
	l.mu.Unlock()

	l.manager.Tick(elapsed)
	frame := Layout(l.screenRect(), cfg, l.manager.Snapshot(), l.measurer)

	l.mu.Lock()
	if frame.Empty() && l.sentEmpty && !l.dirty {
		l.mu.Unlock()
		return frame, false
	}
	l.seq++
	frame.Seq = l.seq
	l.sentEmpty = frame.Empty()
	l.dirty = false
	l.mu.Unlock()

	if l.sink != nil {
		l.sink.Present(frame)
	}
	return frame, true
}

func (l *Loop) screenRect() Rect {
	if l.screen == nil {
		return Rect{W: 1920, H: 1080}
	}
	return l.screen()
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	interval := l.interval
	l.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Debug("[render] loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			slog.Debug("[render] loop stopped")
			return
		case <-l.wake:
			l.mu.Lock()
			next := l.interval
			l.mu.Unlock()
			if next != interval {
				interval = next
				ticker.Reset(interval)
			}
		case now := <-ticker.C:
			l.Step(now)
		}
	}
}
