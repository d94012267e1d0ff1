package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultQueueSize   = 64
	storeWriteTimeout  = 2 * time.Second
)

// Recorder persists entries. *diaglog.Store implements it.
type Recorder interface {
	Record(ctx context.Context, ts time.Time, level slog.Level, msg string, source string) error
}

// StoreSink hands entries to a Recorder on its own goroutine so logging never
// waits on disk. Entries arriving while the queue is full are dropped.
type StoreSink struct {
	rec     Recorder
	queue   chan Entry
	dropped atomic.Uint64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
	done      chan struct{}
}

// NewStoreSink starts the writer goroutine. Close stops it.
func NewStoreSink(rec Recorder, queueSize int) *StoreSink {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	s := &StoreSink{
		rec:   rec,
		queue: make(chan Entry, queueSize),
		done:  make(chan struct{}),
	}
	go s.run()
	return s
}

// Add implements Sink.
func (s *StoreSink) Add(e Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- e:
	default:
		s.dropped.Add(1)
	}
}

// Dropped reports entries lost to a full queue.
func (s *StoreSink) Dropped() uint64 { return s.dropped.Load() }

// Close drains queued entries and stops the writer.
func (s *StoreSink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.queue)
		s.mu.Unlock()
	})
	<-s.done
}

func (s *StoreSink) run() {
	defer close(s.done)
	for e := range s.queue {
		ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
		err := s.rec.Record(ctx, e.Time, e.Level, e.Message, e.Source)
		cancel()
		if err != nil {
			// stderr, not slog: a failing store must not feed itself.
			fmt.Fprintf(os.Stderr, "[sessionlog] failed to persist entry: %v\n", err)
		}
	}
}
