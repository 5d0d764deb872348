package quicklook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestSynchronizer_AddEmitsAddedEvent(t *testing.T) {
	t.Parallel()

	sync := quicklook.NewSynchronizer()
	sub := sync.Subscribe()
	defer sub.Close()

	job := quicklook.NewJob("raw:broccoli", time.Now())
	sync.Add(job)

	ev := recv(t, sub)
	assert.Equal(t, quicklook.WatchAdded, ev.Kind)
	assert.Equal(t, job.Visit, ev.Report.Visit)

	report, ok := sync.Get(job.Visit)
	require.True(t, ok)
	assert.Equal(t, quicklook.PhaseQueued, report.Phase)
}

func TestSynchronizer_ModifyEmitsModifiedEvent(t *testing.T) {
	t.Parallel()

	sync := quicklook.NewSynchronizer()
	job := quicklook.NewJob("raw:broccoli", time.Now())
	sync.Add(job)

	sub := sync.Subscribe()
	defer sub.Close()

	// The replay for the current entry arrives first.
	replay := recv(t, sub)
	assert.Equal(t, quicklook.WatchAdded, replay.Kind)

	job.Phase = quicklook.PhaseGenerateRunning
	sync.Modify(job)

	ev := recv(t, sub)
	assert.Equal(t, quicklook.WatchModified, ev.Kind)
	assert.Equal(t, quicklook.PhaseGenerateRunning, ev.Report.Phase)
}

func TestSynchronizer_DeleteEmitsDeletedEvent(t *testing.T) {
	t.Parallel()

	sync := quicklook.NewSynchronizer()
	job := quicklook.NewJob("raw:broccoli", time.Now())
	sync.Add(job)

	sub := sync.Subscribe()
	defer sub.Close()

	recv(t, sub) // replay.

	sync.Delete(job.Visit)

	ev := recv(t, sub)
	assert.Equal(t, quicklook.WatchDeleted, ev.Kind)

	_, ok := sync.Get(job.Visit)
	assert.False(t, ok)
}

func TestSynchronizer_DeleteUnknownVisitIsNoop(t *testing.T) {
	t.Parallel()

	sync := quicklook.NewSynchronizer()
	sync.Delete("raw:nonexistent") // must not panic or publish.
}

// TestSynchronizer_SubscribeReplaysAllCurrentEntries checks that a new
// subscriber first receives one "added" event per entry already present.
func TestSynchronizer_SubscribeReplaysAllCurrentEntries(t *testing.T) {
	t.Parallel()

	sync := quicklook.NewSynchronizer()
	sync.Add(quicklook.NewJob("raw:a", time.Now()))
	sync.Add(quicklook.NewJob("raw:b", time.Now()))

	sub := sync.Subscribe()
	defer sub.Close()

	seen := map[quicklook.Visit]bool{}
	for range 2 {
		ev := recv(t, sub)
		assert.Equal(t, quicklook.WatchAdded, ev.Kind)
		seen[ev.Report.Visit] = true
	}

	assert.True(t, seen["raw:a"])
	assert.True(t, seen["raw:b"])
}

func TestSynchronizer_List(t *testing.T) {
	t.Parallel()

	sync := quicklook.NewSynchronizer()
	sync.Add(quicklook.NewJob("raw:a", time.Now()))
	sync.Add(quicklook.NewJob("raw:b", time.Now()))

	reports := sync.List()
	assert.Len(t, reports, 2)
}
