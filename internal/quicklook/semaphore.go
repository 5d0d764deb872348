package quicklook

import (
	"context"
	"sync"
)

// OrderedSemaphore is a counting semaphore with the extra guarantee that
// acquirers obtain permits in call order: if A calls Acquire before B, A
// returns before B (C2). Pipeline stages use this so early jobs are never
// starved by a burst of later submissions under load.
type OrderedSemaphore struct {
	mu       sync.Mutex
	capacity int
	inUse    int
	waiters  []chan struct{}
}

// NewOrderedSemaphore creates a semaphore with the given number of permits.
func NewOrderedSemaphore(capacity int) *OrderedSemaphore {
	return &OrderedSemaphore{capacity: capacity}
}

// Acquire blocks until a permit is available, honoring FIFO order among
// concurrent callers. Returns ctx.Err() if ctx is cancelled first; a permit
// granted concurrently with cancellation is still honored, to avoid leaking
// it into a caller that will never release it.
func (s *OrderedSemaphore) Acquire(ctx context.Context) error {
	s.mu.Lock()

	if len(s.waiters) == 0 && s.inUse < s.capacity {
		s.inUse++
		s.mu.Unlock()

		return nil
	}

	wait := make(chan struct{})
	s.waiters = append(s.waiters, wait)
	s.mu.Unlock()

	select {
	case <-wait:
		return nil
	case <-ctx.Done():
		select {
		case <-wait:
			// Permit was granted in the race with cancellation; honor it.
			return nil
		default:
		}

		s.mu.Lock()

		for i, w := range s.waiters {
			if w == wait {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				s.mu.Unlock()

				return ctx.Err()
			}
		}

		s.mu.Unlock()

		// Release already handed this waiter the permit; honor it.
		return nil
	}
}

// Release returns a permit. If a waiter is queued, the permit is handed
// directly to the oldest one (FIFO); otherwise it is returned to the pool.
func (s *OrderedSemaphore) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		close(next)

		return
	}

	s.inUse--
}

// Locked reports whether the semaphore is currently at capacity.
func (s *OrderedSemaphore) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inUse >= s.capacity
}

// InUse reports the current number of outstanding permits, for metrics.
func (s *OrderedSemaphore) InUse() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inUse
}
