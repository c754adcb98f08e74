// Package sched provides the single-threaded cooperative scheduler every
// core component runs its callbacks on. Timers, child-exit notifications,
// and transport-read completions are all produced by other goroutines but
// executed serially by the one goroutine running Loop.Run — this is what
// gives the request state machines (§5) their "no kernel-thread
// parallelism inside the core" guarantee: any goroutine may *detect* an
// event, but only Run's goroutine ever *acts* on one.
package sched

import (
	"context"
	"sync"
	"time"
)

// Loop is a minimal single-goroutine task executor: other goroutines
// Post work; Run drains and executes it serially until its context is
// cancelled.
type Loop struct {
	mu      sync.Mutex
	tasks   []func()
	wake    chan struct{}
	running sync.Once
}

// New creates an idle Loop. Call Run to start executing posted tasks.
func New() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

// Post enqueues fn to run on the loop goroutine. Safe to call from any
// goroutine, including from within a task running on the loop itself.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// AfterFunc posts fn to the loop after d elapses. It is the loop's timer
// primitive: the enumeration scheduler's steady-cadence and hard-timeout
// reschedules are built on this.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() { l.Post(fn) })
}

// Run executes posted tasks serially until ctx is cancelled. It is safe to
// call exactly once per Loop.
func (l *Loop) Run(ctx context.Context) {
	for {
		batch := l.drain()
		for _, fn := range batch {
			fn()
		}

		if ctx.Err() != nil {
			return
		}

		if len(batch) > 0 {
			// More tasks may have been posted while we executed this
			// batch (including by the batch itself); loop again
			// without waiting so they run promptly.
			l.mu.Lock()
			pending := len(l.tasks) > 0
			l.mu.Unlock()
			if pending {
				continue
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-l.wake:
		}
	}
}

func (l *Loop) drain() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.tasks) == 0 {
		return nil
	}
	batch := l.tasks
	l.tasks = nil
	return batch
}
