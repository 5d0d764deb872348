package quicklook_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestNewJob_InitializesEmptyMaps(t *testing.T) {
	t.Parallel()

	now := time.Now()
	job := quicklook.NewJob("raw:broccoli", now)

	assert.Equal(t, quicklook.Visit("raw:broccoli"), job.Visit)
	assert.Equal(t, quicklook.PhaseQueued, job.Phase)
	assert.Equal(t, now, job.CreatedAt)
	assert.NotNil(t, job.GenerateProgress)
	assert.NotNil(t, job.MergeProgress)
	assert.NotNil(t, job.TransferProgress)
	assert.Nil(t, job.CcdGeneratorMap)
}

func TestJob_Clone_IsIndependentOfOriginal(t *testing.T) {
	t.Parallel()

	job := quicklook.NewJob("raw:broccoli", time.Now())
	job.GenerateProgress["w1:9502"] = quicklook.ProgressTriple{Downloaded: 1}
	job.CcdGeneratorMap = map[string]quicklook.WorkerNode{"R00": {Host: "w1", Port: 9502}}

	clone := job.Clone()

	job.GenerateProgress["w1:9502"] = quicklook.ProgressTriple{Downloaded: 99}
	job.CcdGeneratorMap["R00"] = quicklook.WorkerNode{Host: "w2", Port: 9503}

	require.Contains(t, clone.GenerateProgress, "w1:9502")
	assert.Equal(t, 1, clone.GenerateProgress["w1:9502"].Downloaded)
	assert.Equal(t, quicklook.WorkerNode{Host: "w1", Port: 9502}, clone.CcdGeneratorMap["R00"])
}

func TestToReport_ExcludesCcdGeneratorMap(t *testing.T) {
	t.Parallel()

	job := quicklook.NewJob("raw:broccoli", time.Now())
	job.CcdGeneratorMap = map[string]quicklook.WorkerNode{"R00": {Host: "w1", Port: 9502}}
	job.Phase = quicklook.PhaseMergeRunning

	report := quicklook.ToReport(job)

	assert.Equal(t, job.Visit, report.Visit)
	assert.Equal(t, job.Phase, report.Phase)
	// JobReport has no field for CcdGeneratorMap; this is a compile-time
	// guarantee, exercised here by confirming the report round-trips
	// through its own fields only.
	assert.Empty(t, report.FailureReason)
}

func TestToSnapshot_RendersWorkerNodesAsStrings(t *testing.T) {
	t.Parallel()

	job := quicklook.NewJob("raw:broccoli", time.Now())
	job.CcdGeneratorMap = map[string]quicklook.WorkerNode{
		"R00_SG0": {Host: "w1", Port: 9502},
	}

	snap := quicklook.ToSnapshot(job)

	assert.Equal(t, "w1:9502", snap.CcdGeneratorMap["R00_SG0"])
	assert.Equal(t, job.Visit, snap.Visit)
}
