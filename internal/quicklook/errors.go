package quicklook

import "errors"

// Sentinel error kinds. Wrap with fmt.Errorf("...: %w") at the call site to
// attach context; compare with errors.Is/errors.As.
var (
	// ErrTransientRpcTimeout is a worker RPC timeout. C5 retries it up to
	// MaxRpcRetries times before it becomes a stage failure.
	ErrTransientRpcTimeout = errors.New("quicklook: transient rpc timeout")

	// ErrPermanentRpcError is a non-timeout HTTP failure talking to a
	// worker. It fails the stage immediately; C5 never retries it.
	ErrPermanentRpcError = errors.New("quicklook: permanent rpc error")

	// ErrNoOverlappingGenerators means the router found no worker owning a
	// CCD that intersects the requested tile. At the tile-read boundary
	// this is treated as an empty tile, not an error; at merge/transfer
	// boundaries it is skipped silently.
	ErrNoOverlappingGenerators = errors.New("quicklook: no overlapping generators for tile")

	// ErrWorkerStreamError wraps an error envelope received inside a
	// streaming response; it fails the stage with the worker's message.
	ErrWorkerStreamError = errors.New("quicklook: worker stream error")

	// ErrDatabaseError wraps a failure from the persisted-record
	// collaborator. It bubbles to the stage and fails the job.
	ErrDatabaseError = errors.New("quicklook: database error")

	// ErrObjectStoreError wraps a failure from the object-store
	// collaborator. It bubbles to the stage and fails the job.
	ErrObjectStoreError = errors.New("quicklook: object store error")

	// ErrShutdownCancelled marks cooperative cancellation at process
	// shutdown. It is not logged as a failure.
	ErrShutdownCancelled = errors.New("quicklook: shutdown cancelled")

	// ErrPseudoErrorForTest stops the pipeline at a configured phase
	// without triggering cleanup. It is gated by environment (test-only)
	// and must never be reachable in a production build.
	ErrPseudoErrorForTest = errors.New("quicklook: pseudo error for test")
)

// ErrVisitNotFound is the sentinel for a job or snapshot lookup that misses.
// The coordinator HTTP surface does not consult it: its status and tile
// handlers answer 404 directly.
var ErrVisitNotFound = errors.New("quicklook: visit not found")

// ErrAlreadyQueued is returned when a visit is submitted while an
// equivalent job is already in flight: resubmission is idempotent rather
// than queuing a second, redundant pipeline run.
var ErrAlreadyQueued = errors.New("quicklook: visit already queued")
