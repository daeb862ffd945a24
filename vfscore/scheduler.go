package vfscore

import (
	"context"
	"sync"

	"github.com/kyrios-os/vfscore/waitq"
)

// Scheduler is the block/unblock/switch-away collaborator spec.md §1
// names as out of scope for the core; waitq.Table.Wait/Wakeup call
// through it rather than suspending a goroutine directly.
type Scheduler = waitq.Scheduler

// GoroutineScheduler is the default in-process Scheduler: each
// waitq.ThreadID gets a lazily created buffered channel acting as a
// binary semaphore, in the same spirit as samples that coordinate
// goroutines with plain channels rather than a real OS scheduler. It
// exists purely so the core is independently testable
// without a real thread scheduler; see spec.md §1's Non-goals.
type GoroutineScheduler struct {
	mu    sync.Mutex
	gates map[waitq.ThreadID]chan struct{}
}

// NewGoroutineScheduler constructs an empty GoroutineScheduler.
func NewGoroutineScheduler() *GoroutineScheduler {
	return &GoroutineScheduler{gates: make(map[waitq.ThreadID]chan struct{})}
}

func (s *GoroutineScheduler) gate(tid waitq.ThreadID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[tid]
	if !ok {
		g = make(chan struct{}, 1)
		s.gates[tid] = g
	}
	return g
}

// Block suspends the calling goroutine until Unblock(tid) or ctx.Done().
func (s *GoroutineScheduler) Block(ctx context.Context, tid waitq.ThreadID) bool {
	g := s.gate(tid)
	select {
	case <-g:
		return true
	case <-ctx.Done():
		return false
	}
}

// Unblock wakes tid if it is currently blocked, or primes its gate so a
// Block call that has not yet started does not miss the wakeup.
func (s *GoroutineScheduler) Unblock(tid waitq.ThreadID) {
	g := s.gate(tid)
	select {
	case g <- struct{}{}:
	default:
	}
}
