package quicklook_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestWorkerRegistry_RegisterIsIdempotent(t *testing.T) {
	t.Parallel()

	reg := quicklook.NewWorkerRegistry(nil)
	node := quicklook.WorkerNode{Host: "w1", Port: 9502}

	reg.Register(node)
	reg.Register(node)

	assert.Equal(t, []quicklook.WorkerNode{node}, reg.Snapshot())
}

func TestWorkerRegistry_RemoveDropsNode(t *testing.T) {
	t.Parallel()

	reg := quicklook.NewWorkerRegistry(nil)
	node := quicklook.WorkerNode{Host: "w1", Port: 9502}

	reg.Register(node)
	reg.Remove(node)

	assert.Empty(t, reg.Snapshot())
}

func TestWorkerRegistry_SnapshotIsSorted(t *testing.T) {
	t.Parallel()

	reg := quicklook.NewWorkerRegistry(nil)
	reg.Register(quicklook.WorkerNode{Host: "z", Port: 1})
	reg.Register(quicklook.WorkerNode{Host: "a", Port: 1})

	snap := reg.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].Host)
	assert.Equal(t, "z", snap[1].Host)
}

func TestWorkerRegistry_RunLivenessProbeRemovesFailingNodes(t *testing.T) {
	t.Parallel()

	reg := quicklook.NewWorkerRegistry(nil)
	healthy := quicklook.WorkerNode{Host: "healthy", Port: 1}
	dead := quicklook.WorkerNode{Host: "dead", Port: 1}

	reg.Register(healthy)
	reg.Register(dead)

	check := func(_ context.Context, node quicklook.WorkerNode, _ time.Duration) error {
		if node == dead {
			return errors.New("unreachable")
		}

		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	reg.RunLivenessProbe(ctx, 5*time.Millisecond, time.Millisecond, check)

	snap := reg.Snapshot()
	assert.Contains(t, snap, healthy)
	assert.NotContains(t, snap, dead)
}

func TestWorkerRegistry_RunLivenessProbeStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	reg := quicklook.NewWorkerRegistry(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})

	go func() {
		reg.RunLivenessProbe(ctx, time.Hour, time.Second, func(context.Context, quicklook.WorkerNode, time.Duration) error {
			return nil
		})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunLivenessProbe did not return promptly after context cancellation")
	}
}
