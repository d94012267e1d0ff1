// Package input subscribes to global keyboard and mouse-button events and
// hands them to the rest of the application as a bounded, time-ordered
// channel of keys.Event.
package input

import (
	"context"
	"errors"
	"sync"

	"keybubbles/internal/keys"
)

var (
	// ErrSubscribe wraps every failure to start an event source.
	ErrSubscribe = errors.New("input subscription failed")
	// ErrUnsupported is returned by sources that cannot run on this platform.
	ErrUnsupported = errors.New("global input capture is not supported on this platform")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("input source already started")
)

// Source is an event producer. emit may be called from any goroutine or OS
// thread and must return quickly. After Stop returns, emit is never called
// again.
type Source interface {
	Start(ctx context.Context, emit func(keys.Event)) error
	Stop() error
	Name() string
}

// MouseToggler is implemented by sources that can start or stop reporting
// mouse buttons at runtime.
type MouseToggler interface {
	SetMouseEnabled(enabled bool)
}

// FuncSource runs a producer function on its own goroutine. It backs the
// terminal preview and tests.
type FuncSource struct {
	name string
	run  func(ctx context.Context, emit func(keys.Event))

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFuncSource wraps run. run must return when its context is cancelled.
func NewFuncSource(name string, run func(ctx context.Context, emit func(keys.Event))) *FuncSource {
	return &FuncSource{name: name, run: run}
}

// Name implements Source.
func (s *FuncSource) Name() string { return s.name }

// Start implements Source.
func (s *FuncSource) Start(ctx context.Context, emit func(keys.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	go func() {
		defer close(done)
		s.run(runCtx, emit)
	}()
	return nil
}

// Stop implements Source. It waits for the producer to return.
func (s *FuncSource) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// NewChanSource emits every event received on ch until ch is closed or the
// source is stopped.
func NewChanSource(name string, ch <-chan keys.Event) *FuncSource {
	return NewFuncSource(name, func(ctx context.Context, emit func(keys.Event)) {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				emit(ev)
			}
		}
	})
}
