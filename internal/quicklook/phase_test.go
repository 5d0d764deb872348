package quicklook_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestPhase_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "QUEUED", quicklook.PhaseQueued.String())
	assert.Equal(t, "READY", quicklook.PhaseReady.String())
	assert.Equal(t, "FAILED", quicklook.PhaseFailed.String())
	assert.Equal(t, "UNKNOWN", quicklook.Phase(999).String())
}

func TestPhase_MarshalJSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(quicklook.PhaseGenerateRunning)
	require.NoError(t, err)
	assert.JSONEq(t, `"GENERATE_RUNNING"`, string(data))
}

// TestPhase_MonotoneOrder checks that the full lifecycle sequence from
// QUEUED to READY only ever moves forward.
func TestPhase_MonotoneOrder(t *testing.T) {
	t.Parallel()

	sequence := []quicklook.Phase{
		quicklook.PhaseQueued,
		quicklook.PhaseGenerateRunning,
		quicklook.PhaseGenerateDone,
		quicklook.PhaseMergeRunning,
		quicklook.PhaseMergeDone,
		quicklook.PhaseTransferRunning,
		quicklook.PhaseTransferDone,
		quicklook.PhaseReady,
	}

	for i := 1; i < len(sequence); i++ {
		assert.True(t, sequence[i-1].AllowsTransitionTo(sequence[i]),
			"%s -> %s should be allowed", sequence[i-1], sequence[i])
	}
}

func TestPhase_AllowsTransitionTo_RejectsBackwards(t *testing.T) {
	t.Parallel()

	assert.False(t, quicklook.PhaseMergeRunning.AllowsTransitionTo(quicklook.PhaseGenerateRunning))
	assert.False(t, quicklook.PhaseReady.AllowsTransitionTo(quicklook.PhaseQueued))
}

func TestPhase_AllowsTransitionTo_FailedFromAnyNonTerminal(t *testing.T) {
	t.Parallel()

	nonTerminal := []quicklook.Phase{
		quicklook.PhaseQueued, quicklook.PhaseGenerateRunning, quicklook.PhaseGenerateDone,
		quicklook.PhaseMergeRunning, quicklook.PhaseMergeDone,
		quicklook.PhaseTransferRunning, quicklook.PhaseTransferDone,
	}

	for _, p := range nonTerminal {
		assert.True(t, p.AllowsTransitionTo(quicklook.PhaseFailed))
	}

	assert.False(t, quicklook.PhaseFailed.AllowsTransitionTo(quicklook.PhaseFailed))
}

func TestPhase_IsTerminal(t *testing.T) {
	t.Parallel()

	assert.True(t, quicklook.PhaseReady.IsTerminal())
	assert.True(t, quicklook.PhaseFailed.IsTerminal())
	assert.False(t, quicklook.PhaseGenerateRunning.IsTerminal())
}

func TestPhase_ToRecordPhase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, quicklook.RecordReady, quicklook.PhaseReady.ToRecordPhase())
	assert.Equal(t, quicklook.RecordInProgress, quicklook.PhaseGenerateRunning.ToRecordPhase())
	assert.Equal(t, quicklook.RecordInProgress, quicklook.PhaseQueued.ToRecordPhase())
}
