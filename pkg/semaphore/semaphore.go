// Package semaphore provides the connection slot table that caps how many
// TLS connections may be live at the same time.
package semaphore

import (
	"context"
	"fmt"
	"time"
)

// ConnSemaphore hands out a fixed number of slots.
// It uses a buffered channel holding one token per free slot.
type ConnSemaphore struct {
	sem chan struct{}
}

// New creates a semaphore with capacity n.
// The semaphore starts with all n slots available.
func New(n int) *ConnSemaphore {
	sem := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		sem <- struct{}{}
	}
	return &ConnSemaphore{sem: sem}
}

// TryAcquire takes a slot if one is free and never blocks.
func (s *ConnSemaphore) TryAcquire() bool {
	select {
	case <-s.sem:
		return true
	default:
		return false
	}
}

// Acquire waits for a slot up to timeout or until ctx is cancelled.
func (s *ConnSemaphore) Acquire(ctx context.Context, timeout time.Duration) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-s.sem:
		return nil
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("timeout acquiring connection slot after %v", timeout)
	}
}

// Release returns a slot. Releasing more slots than were acquired is a
// programming error and panics.
func (s *ConnSemaphore) Release() {
	select {
	case s.sem <- struct{}{}:
	default:
		panic("semaphore: release without acquire")
	}
}

// Cap returns the total number of slots.
func (s *ConnSemaphore) Cap() int {
	return cap(s.sem)
}

// InUse returns the number of slots currently taken.
func (s *ConnSemaphore) InUse() int {
	return cap(s.sem) - len(s.sem)
}
