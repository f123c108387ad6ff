package engine

import (
	"context"
	"sync"
	"time"
)

// DefaultFlushInterval is the persistence cadence of the Scheduler.
const DefaultFlushInterval = 5 * time.Minute

// Scheduler runs fn once per interval on a single background goroutine.
// Cancellation is observed only between cycles: a running fn receives a
// context that is never cancelled and finishes before Stop returns.
type Scheduler struct {
	interval time.Duration
	fn       func(context.Context)

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewScheduler creates a stopped scheduler. A non-positive interval means
// DefaultFlushInterval.
func NewScheduler(interval time.Duration, fn func(context.Context)) *Scheduler {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Scheduler{interval: interval, fn: fn}
}

// Interval returns the cycle period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Start launches the loop. Calling Start on a running or stopped scheduler
// does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// A cycle that has begun runs to completion.
			s.fn(context.WithoutCancel(ctx))
		}
	}
}

// Stop cancels the loop and waits for an in-flight cycle to finish. It is
// safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
