package quicklook_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestOrderedSemaphore_AcquireWithinCapacity(t *testing.T) {
	t.Parallel()

	sem := quicklook.NewOrderedSemaphore(2)

	require.NoError(t, sem.Acquire(context.Background()))
	require.NoError(t, sem.Acquire(context.Background()))
	assert.True(t, sem.Locked())
	assert.Equal(t, 2, sem.InUse())
}

func TestOrderedSemaphore_ReleaseFreesPermit(t *testing.T) {
	t.Parallel()

	sem := quicklook.NewOrderedSemaphore(1)

	require.NoError(t, sem.Acquire(context.Background()))
	sem.Release()
	assert.False(t, sem.Locked())
	assert.Equal(t, 0, sem.InUse())
}

// TestOrderedSemaphore_FIFOFairness checks that if K acquires are started in
// order A1..Ak, they complete in that order.
func TestOrderedSemaphore_FIFOFairness(t *testing.T) {
	t.Parallel()

	sem := quicklook.NewOrderedSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background())) // hold the only permit.

	const waiters = 5

	order := make(chan int, waiters)
	started := make(chan struct{}, waiters)

	var wg sync.WaitGroup

	for i := range waiters {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			started <- struct{}{}
			// Stagger goroutine scheduling so calls observably queue in order.
			time.Sleep(time.Duration(i) * 2 * time.Millisecond)

			require.NoError(t, sem.Acquire(context.Background()))
			order <- i
			sem.Release()
		}(i)
	}

	for range waiters {
		<-started
	}

	time.Sleep(20 * time.Millisecond) // let all goroutines reach Acquire and enqueue.
	sem.Release()                     // release the permit held up front; waiters drain FIFO.

	wg.Wait()
	close(order)

	var got []int
	for v := range order {
		got = append(got, v)
	}

	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestOrderedSemaphore_AcquireRespectsContextCancel(t *testing.T) {
	t.Parallel()

	sem := quicklook.NewOrderedSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := sem.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOrderedSemaphore_CancelledAcquireDoesNotLeakPermit(t *testing.T) {
	t.Parallel()

	sem := quicklook.NewOrderedSemaphore(1)
	require.NoError(t, sem.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.Error(t, sem.Acquire(ctx))

	sem.Release()

	// The permit must still be acquirable exactly once more: a cancelled
	// waiter must not have consumed it.
	acquireCtx, acquireCancel := context.WithTimeout(context.Background(), time.Second)
	defer acquireCancel()

	require.NoError(t, sem.Acquire(acquireCtx))
	assert.Equal(t, 1, sem.InUse())
}
