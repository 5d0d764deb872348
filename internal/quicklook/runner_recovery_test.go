package quicklook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestParseWorkerNode_RoundTripsWithString(t *testing.T) {
	t.Parallel()

	node := quicklook.WorkerNode{Host: "w1", Port: 9502}

	parsed, err := quicklook.ParseWorkerNode(node.String())
	require.NoError(t, err)
	assert.Equal(t, node, parsed)
}

func TestParseWorkerNode_RejectsMalformed(t *testing.T) {
	t.Parallel()

	_, err := quicklook.ParseWorkerNode("not-a-host-port")
	assert.Error(t, err)
}

func TestFromSnapshot_ReconstructsCcdGeneratorMap(t *testing.T) {
	t.Parallel()

	snap := quicklook.JobSnapshot{
		Visit:     "raw:broccoli",
		Phase:     quicklook.PhaseReady,
		CreatedAt: time.Now().Add(-time.Hour),
		UpdatedAt: time.Now(),
		CcdGeneratorMap: map[string]string{
			"R00_SG0": "w1:9502",
			"R01_SG0": "not-a-host-port", // skipped, not fatal.
		},
	}

	job := quicklook.FromSnapshot(snap)

	assert.Equal(t, snap.Visit, job.Visit)
	assert.Equal(t, quicklook.PhaseReady, job.Phase)
	assert.Equal(t, quicklook.WorkerNode{Host: "w1", Port: 9502}, job.CcdGeneratorMap["R00_SG0"])
	assert.NotContains(t, job.CcdGeneratorMap, "R01_SG0")
}

func newTestRunner(records quicklook.RecordStore, objects quicklook.ObjectStore, sync *quicklook.Synchronizer) *quicklook.Runner {
	return quicklook.NewRunner(
		quicklook.RunnerConfig{MaxRamJobs: 1, MaxDiskJobs: 1, MaxTransferJobs: 1},
		quicklook.RunnerDeps{
			Sync:    sync,
			Records: records,
			Objects: objects,
			Logger:  discardLogger(),
		},
		100, 24*time.Hour,
	)
}

func TestRunner_RecoverFromSnapshots_RepopulatesReadyJobsOnly(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore()
	objects := newFakeObjectStore()
	sync := quicklook.NewSynchronizer()

	records.records["raw:ready"] = quicklook.QuicklookRecord{
		Visit: "raw:ready", Phase: quicklook.RecordReady, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	objects.snaps["raw:ready"] = quicklook.JobSnapshot{
		Visit: "raw:ready", Phase: quicklook.PhaseReady, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	records.records["raw:inprogress"] = quicklook.QuicklookRecord{
		Visit: "raw:inprogress", Phase: quicklook.RecordInProgress, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	runner := newTestRunner(records, objects, sync)

	require.NoError(t, runner.RecoverFromSnapshots(t.Context()))

	report, ok := sync.Get("raw:ready")
	require.True(t, ok, "ready job should be repopulated into the synchronizer")
	assert.Equal(t, quicklook.PhaseReady, report.Phase)

	_, ok = sync.Get("raw:inprogress")
	assert.False(t, ok, "in-progress records have no snapshot and are left to ClearNonReady")
}

func TestRunner_RecoverFromSnapshots_MissingSnapshotIsSkippedNotFatal(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore()
	objects := newFakeObjectStore()
	sync := quicklook.NewSynchronizer()

	records.records["raw:orphan"] = quicklook.QuicklookRecord{
		Visit: "raw:orphan", Phase: quicklook.RecordReady, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}
	// No corresponding entry in objects.snaps.

	runner := newTestRunner(records, objects, sync)

	require.NoError(t, runner.RecoverFromSnapshots(t.Context()))

	_, ok := sync.Get("raw:orphan")
	assert.False(t, ok)
}
