package combo

import (
	"context"
	"time"

	"keybubbles/internal/keys"
)

// Sink receives completed tokens on the runner goroutine.
type Sink func(Token)

// Runner drives an Aggregator from an event channel and arms a timer for
// modifier deadlines. All aggregator access happens on the Run goroutine.
type Runner struct {
	agg    *Aggregator
	events <-chan keys.Event
	sink   Sink
	now    func() time.Time

	optsCh  chan Options
	resetCh chan struct{}
}

// NewRunner wires an aggregator to its input and output.
func NewRunner(opts Options, events <-chan keys.Event, sink Sink) *Runner {
	return &Runner{
		agg:     NewAggregator(opts),
		events:  events,
		sink:    sink,
		now:     time.Now,
		optsCh:  make(chan Options, 1),
		resetCh: make(chan struct{}, 1),
	}
}

// SetOptions queues new timing for the Run goroutine. The latest call wins.
func (r *Runner) SetOptions(opts Options) {
	for {
		select {
		case r.optsCh <- opts:
			return
		default:
		}
		select {
		case <-r.optsCh:
		default:
		}
	}
}

// Reset queues a state reset (held modifiers, pending tokens).
func (r *Runner) Reset() {
	select {
	case r.resetCh <- struct{}{}:
	default:
	}
}

// Run processes events until ctx is cancelled or the event channel closes.
func (r *Runner) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	arm := func() {
		timer.Stop()
		if deadline, ok := r.agg.Deadline(); ok {
			wait := max(deadline.Sub(r.now()), 0)
			timer.Reset(wait)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case opts := <-r.optsCh:
			r.agg.SetOptions(opts)
		case <-r.resetCh:
			r.agg.Reset()
			arm()
		case ev, ok := <-r.events:
			if !ok {
				r.emit(r.agg.Flush(r.now()))
				return
			}
			r.emit(r.agg.Push(ev))
			arm()
		case <-timer.C:
			r.emit(r.agg.Flush(r.now()))
			arm()
		}
	}
}

func (r *Runner) emit(tokens []Token) {
	if r.sink == nil {
		return
	}
	for _, tok := range tokens {
		r.sink(tok)
	}
}
