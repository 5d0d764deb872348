package quicklook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestWorkerNode_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "w1:9502", quicklook.WorkerNode{Host: "w1", Port: 9502}.String())
}

func TestCompareWorkerNodes_OrdersByHostThenPort(t *testing.T) {
	t.Parallel()

	assert.Negative(t, quicklook.CompareWorkerNodes(
		quicklook.WorkerNode{Host: "a", Port: 2}, quicklook.WorkerNode{Host: "b", Port: 1}))
	assert.Negative(t, quicklook.CompareWorkerNodes(
		quicklook.WorkerNode{Host: "a", Port: 1}, quicklook.WorkerNode{Host: "a", Port: 2}))
	assert.Zero(t, quicklook.CompareWorkerNodes(
		quicklook.WorkerNode{Host: "a", Port: 1}, quicklook.WorkerNode{Host: "a", Port: 1}))
}

func TestSortWorkerNodes_SortsAndDeduplicates(t *testing.T) {
	t.Parallel()

	input := []quicklook.WorkerNode{
		{Host: "w2", Port: 1}, {Host: "w1", Port: 2}, {Host: "w1", Port: 1}, {Host: "w1", Port: 1},
	}

	sorted := quicklook.SortWorkerNodes(input)

	assert.Equal(t, []quicklook.WorkerNode{
		{Host: "w1", Port: 1}, {Host: "w1", Port: 2}, {Host: "w2", Port: 1},
	}, sorted)

	// The input slice must not be mutated.
	assert.Equal(t, []quicklook.WorkerNode{
		{Host: "w2", Port: 1}, {Host: "w1", Port: 2}, {Host: "w1", Port: 1}, {Host: "w1", Port: 1},
	}, input)
}

func TestSortWorkerNodes_EmptyInput(t *testing.T) {
	t.Parallel()

	assert.Empty(t, quicklook.SortWorkerNodes(nil))
}
