package quicklook

import "time"

// ProgressTriple tracks the three generate-stage counters reported per
// worker: downloaded CCDs, preprocessed CCDs, and tiles built.
type ProgressTriple struct {
	Downloaded int `json:"downloaded"`
	Preprocess int `json:"preprocess"`
	TileBuild  int `json:"tileBuild"`
}

// ProgressPair tracks the two counters shared by the merge and transfer
// stages: tiles processed so far, and the total expected.
type ProgressPair struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Job is the coordinator-internal record for one quicklook run. It carries
// ccdGeneratorMap, which is large and never sent to subscribers; JobReport
// is the reduced view that is.
type Job struct {
	Visit     Visit
	Phase     Phase
	CreatedAt time.Time
	UpdatedAt time.Time

	// GenerateProgress is keyed by worker identity string (WorkerNode.String()).
	GenerateProgress map[string]ProgressTriple
	MergeProgress    map[string]ProgressPair
	TransferProgress map[string]ProgressPair

	// CcdGeneratorMap is set exactly once, at generate-stage entry, and
	// never mutated afterward. Nil until then.
	CcdGeneratorMap map[string]WorkerNode

	// FailureReason is set only when Phase == PhaseFailed; it is the
	// error message that caused the transition, for operator diagnosis.
	FailureReason string
}

// NewJob creates a freshly queued job for visit, with all progress maps
// initialized empty so callers never need a nil check before indexing them.
func NewJob(visit Visit, now time.Time) *Job {
	return &Job{
		Visit:            visit,
		Phase:            PhaseQueued,
		CreatedAt:        now,
		UpdatedAt:        now,
		GenerateProgress: make(map[string]ProgressTriple),
		MergeProgress:    make(map[string]ProgressPair),
		TransferProgress: make(map[string]ProgressPair),
	}
}

// Clone returns a deep-enough copy of j suitable for safe handoff across
// goroutine boundaries (the runner's single-writer loop hands Job values to
// the synchronizer, which must never observe later in-place mutation).
func (j *Job) Clone() *Job {
	clone := *j
	clone.GenerateProgress = cloneTripleMap(j.GenerateProgress)
	clone.MergeProgress = clonePairMap(j.MergeProgress)
	clone.TransferProgress = clonePairMap(j.TransferProgress)
	clone.CcdGeneratorMap = cloneWorkerMap(j.CcdGeneratorMap)

	return &clone
}

func cloneTripleMap(m map[string]ProgressTriple) map[string]ProgressTriple {
	if m == nil {
		return nil
	}

	out := make(map[string]ProgressTriple, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func clonePairMap(m map[string]ProgressPair) map[string]ProgressPair {
	if m == nil {
		return nil
	}

	out := make(map[string]ProgressPair, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

func cloneWorkerMap(m map[string]WorkerNode) map[string]WorkerNode {
	if m == nil {
		return nil
	}

	out := make(map[string]WorkerNode, len(m))
	for k, v := range m {
		out[k] = v
	}

	return out
}

// JobReport is the view of a Job broadcast to subscribers: phase, progress
// maps, and timestamps. It deliberately excludes CcdGeneratorMap, which can
// grow to hundreds of entries and is of no interest to a frontend (spec
// §4.6).
type JobReport struct {
	Visit            Visit                     `json:"visit"`
	Phase            Phase                     `json:"phase"`
	CreatedAt        time.Time                 `json:"createdAt"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
	GenerateProgress map[string]ProgressTriple `json:"generateProgress"`
	MergeProgress    map[string]ProgressPair   `json:"mergeProgress"`
	TransferProgress map[string]ProgressPair   `json:"transferProgress"`
	FailureReason    string                    `json:"failureReason,omitempty"`
}

// ToReport projects a Job onto its subscriber-facing JobReport. This is a
// pure function so it can run under the registry lock without risking a
// blocking call.
func ToReport(j *Job) JobReport {
	return JobReport{
		Visit:            j.Visit,
		Phase:            j.Phase,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		GenerateProgress: cloneTripleMap(j.GenerateProgress),
		MergeProgress:    clonePairMap(j.MergeProgress),
		TransferProgress: clonePairMap(j.TransferProgress),
		FailureReason:    j.FailureReason,
	}
}

// JobSnapshot is the JSON form of a Job persisted to the object store once
// transfer completes, used to reconstruct ccdGeneratorMap after a
// coordinator restart.
type JobSnapshot struct {
	Visit           Visit             `json:"visit"`
	Phase           Phase             `json:"phase"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	CcdGeneratorMap map[string]string `json:"ccdGeneratorMap"` // ccdName -> "host:port"
}

// FromSnapshot reconstructs a Job from its persisted snapshot form, used to
// repopulate the in-memory synchronizer for a READY job after a coordinator
// restart. Any ccdGeneratorMap entry that fails to parse is skipped rather
// than failing the whole reconstruction: a late tile read for that one CCD
// will simply report no overlapping generator, same as if the worker had
// never registered.
func FromSnapshot(snap JobSnapshot) *Job {
	ccdMap := make(map[string]WorkerNode, len(snap.CcdGeneratorMap))

	for ccd, nodeStr := range snap.CcdGeneratorMap {
		node, err := ParseWorkerNode(nodeStr)
		if err != nil {
			continue
		}

		ccdMap[ccd] = node
	}

	return &Job{
		Visit:            snap.Visit,
		Phase:            snap.Phase,
		CreatedAt:        snap.CreatedAt,
		UpdatedAt:        snap.UpdatedAt,
		GenerateProgress: make(map[string]ProgressTriple),
		MergeProgress:    make(map[string]ProgressPair),
		TransferProgress: make(map[string]ProgressPair),
		CcdGeneratorMap:  ccdMap,
	}
}

// ToSnapshot converts a Job to its persisted snapshot form.
func ToSnapshot(j *Job) JobSnapshot {
	ccdMap := make(map[string]string, len(j.CcdGeneratorMap))
	for ccd, node := range j.CcdGeneratorMap {
		ccdMap[ccd] = node.String()
	}

	return JobSnapshot{
		Visit:           j.Visit,
		Phase:           j.Phase,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
		CcdGeneratorMap: ccdMap,
	}
}
