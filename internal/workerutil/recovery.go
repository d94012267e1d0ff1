// Package workerutil supervises the app's background goroutines: the combo
// runner, the render loop, the config watcher and persister, and the
// network listeners. A panicking worker is logged and restarted with
// exponential backoff instead of taking the overlay down.
package workerutil

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 5 * time.Second
	// 10 attempts at 100ms doubling to 5s span roughly half a minute.
	defaultMaxRetries = 10
)

// RecoveryOptions tunes RunWithPanicRecovery. Zero values select defaults;
// MaxRetries of 1 runs the worker once with no restart.
type RecoveryOptions struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxRetries     int

	// OnPanic runs after each recovered panic, before the backoff wait.
	// attempt is 1-based.
	OnPanic func(worker string, attempt int, value any)
	// OnFatal runs once the worker has used up MaxRetries.
	OnFatal func(worker string, maxRetries int)
	// IsShutdown stops restarts while the app is tearing down.
	IsShutdown func() bool
}

func (opts RecoveryOptions) withDefaults() RecoveryOptions {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		slog.Warn("[worker] MaxBackoff below InitialBackoff, raising it",
			"initialBackoff", opts.InitialBackoff, "maxBackoff", opts.MaxBackoff)
		opts.MaxBackoff = opts.InitialBackoff
	}
	return opts
}

// RunWithPanicRecovery runs fn on a goroutine tracked by wg. fn returning
// normally ends the worker; a panic restarts it after a backoff unless ctx
// is done, the app is shutting down, or the retry budget is spent.
func RunWithPanicRecovery(
	ctx context.Context,
	name string,
	wg *sync.WaitGroup,
	fn func(ctx context.Context),
	opts RecoveryOptions,
) {
	opts = opts.withDefaults()
	wg.Go(func() {
		supervise(ctx, name, fn, opts)
	})
}

func supervise(ctx context.Context, name string, fn func(ctx context.Context), opts RecoveryOptions) {
	delay := opts.InitialBackoff
	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		value, panicked := runOnce(ctx, name, fn)
		if !panicked || ctx.Err() != nil {
			return
		}
		if opts.IsShutdown != nil && opts.IsShutdown() {
			slog.Info("[worker] shutting down, not restarting", "worker", name)
			return
		}
		if opts.OnPanic != nil {
			opts.OnPanic(name, attempt, value)
		}
		if attempt == opts.MaxRetries {
			break
		}
		slog.Warn("[worker] restarting after panic", "worker", name, "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		delay = nextBackoff(delay, opts.MaxBackoff)
	}

	slog.Error("[worker] giving up after repeated panics", "worker", name, "maxRetries", opts.MaxRetries)
	if opts.OnFatal != nil {
		opts.OnFatal(name, opts.MaxRetries)
	}
}

func runOnce(ctx context.Context, name string, fn func(ctx context.Context)) (value any, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[worker] recovered panic", "worker", name, "panic", r, "stack", string(debug.Stack()))
			value, panicked = r, true
		}
	}()
	fn(ctx)
	return nil, false
}

// RecoverPanic is deferred by one-shot goroutines that must not crash the
// process. It logs the panic and passes it to onPanic when set.
//
//	go func() {
//		defer workerutil.RecoverPanic("tray-menu", nil)
//		...
//	}()
func RecoverPanic(name string, onPanic func(err error)) {
	r := recover()
	if r == nil {
		return
	}
	slog.Error("[worker] recovered panic", "worker", name, "panic", r, "stack", string(debug.Stack()))
	if onPanic != nil {
		onPanic(fmt.Errorf("%s panicked: %v", name, r))
	}
}

// nextBackoff doubles current up to limit. Overflow yields limit.
func nextBackoff(current, limit time.Duration) time.Duration {
	if current <= 0 {
		return defaultInitialBackoff
	}
	next := current * 2
	if next > limit || next < current {
		return limit
	}
	return next
}
