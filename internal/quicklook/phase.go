package quicklook

// Phase is the monotone lifecycle state of one job. Phases are ordered
// except for the terminal FAILED, which can be reached from any running
// phase and never precedes another phase.
type Phase int

// Phase values in monotone order. Do not reorder: comparisons elsewhere rely
// on the numeric ordering matching the sequence below.
const (
	PhaseQueued Phase = iota
	PhaseGenerateRunning
	PhaseGenerateDone
	PhaseMergeRunning
	PhaseMergeDone
	PhaseTransferRunning
	PhaseTransferDone
	PhaseReady
	PhaseFailed
)

//nolint:gochecknoglobals // lookup table, not mutable state.
var phaseNames = map[Phase]string{
	PhaseQueued:          "QUEUED",
	PhaseGenerateRunning: "GENERATE_RUNNING",
	PhaseGenerateDone:    "GENERATE_DONE",
	PhaseMergeRunning:    "MERGE_RUNNING",
	PhaseMergeDone:       "MERGE_DONE",
	PhaseTransferRunning: "TRANSFER_RUNNING",
	PhaseTransferDone:    "TRANSFER_DONE",
	PhaseReady:           "READY",
	PhaseFailed:          "FAILED",
}

// String renders the phase name used in logs, JobReport JSON, and the
// x-quicklook-phase response header.
func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}

	return "UNKNOWN"
}

// MarshalJSON renders the phase as its string name.
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// IsTerminal reports whether no further phase transition is expected.
func (p Phase) IsTerminal() bool {
	return p == PhaseReady || p == PhaseFailed
}

// AllowsTransitionTo reports whether moving from p to next is a legal
// transition: forward-only, except that FAILED is reachable from any
// non-terminal phase.
func (p Phase) AllowsTransitionTo(next Phase) bool {
	if next == PhaseFailed {
		return !p.IsTerminal()
	}

	return next > p
}

// RecordPhase is the coarser, persisted subset of Phase stored in the
// quicklooks DB table.
type RecordPhase string

// RecordPhase values, the only ones ever written to the quicklooks table.
const (
	RecordInProgress RecordPhase = "in_progress"
	RecordReady      RecordPhase = "ready"
	RecordDeleting   RecordPhase = "deleting"
)

// ToRecordPhase projects a live Phase onto the coarser persisted subset.
// FAILED jobs are never persisted as a record phase; the caller deletes the
// record instead (see runner.go failure cleanup).
func (p Phase) ToRecordPhase() RecordPhase {
	if p == PhaseReady {
		return RecordReady
	}

	return RecordInProgress
}
