package quicklook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/skyquick/quicklook/internal/observability"
)

// RunnerConfig parameterizes the staged job runner's resource caps and
// per-stage timeouts.
type RunnerConfig struct {
	MaxRamJobs      int
	MaxDiskJobs     int
	MaxTransferJobs int
	GenerateTimeout time.Duration
	MergeTimeout    time.Duration
	TransferTimeout time.Duration
	CleanupDelay    time.Duration
	TilePack        int

	// Environment gates TestFailAtPhase: it only takes effect when this is
	// "test", since PseudoErrorForTest must never be reachable in a
	// production build.
	Environment string
	// TestFailAtPhase, when non-zero and Environment == "test", stops the
	// pipeline at that phase without cleanup instead of continuing. Only
	// PhaseGenerateDone and PhaseMergeDone are checked; any other value
	// never stops the pipeline.
	TestFailAtPhase Phase
}

// RunnerDeps are the Runner's external collaborators, all consumed as
// interfaces so the pipeline itself never depends on a concrete HTTP
// router, SQL driver, or object-store SDK.
type RunnerDeps struct {
	Sync       *Synchronizer
	Registry   *WorkerRegistry
	Router     *Router
	RPC        *RpcClient
	Datasource Datasource
	Objects    ObjectStore
	Records    RecordStore
	Logger     *slog.Logger
	// Metrics is optional; a nil value disables stage/job metric recording
	// (every StageMetrics method is nil-receiver-safe).
	Metrics *observability.StageMetrics
}

// Runner drives jobs through {queued -> generate -> merge -> transfer ->
// ready}, acquiring and releasing overlapping semaphores, persisting phase,
// invoking the worker RPC client per stage, handling failures, and
// scheduling cleanup and housekeeping (C8, the centerpiece).
type Runner struct {
	cfg  RunnerConfig
	deps RunnerDeps

	ramSem       *OrderedSemaphore
	diskSem      *OrderedSemaphore
	transferSem  *OrderedSemaphore
	housekeepSem *OrderedSemaphore

	housekeeper *Housekeeper

	mu  sync.Mutex
	ctx context.Context //nolint:containedctx // this IS the pipeline's supervising scope, not a per-request context.
	// jobs tracks in-flight visits for idempotent-resubmission checks;
	// entries are removed when a job's goroutine exits, whether by
	// completion, failure, or test-only early stop.
	jobs map[Visit]*Job
}

// NewRunner constructs a runner. Call Start once before Submit to bind the
// supervising context that every job goroutine derives its cancellation
// from.
func NewRunner(cfg RunnerConfig, deps RunnerDeps, maxStorageEntries int, ttl time.Duration) *Runner {
	return &Runner{
		cfg:          cfg,
		deps:         deps,
		ramSem:       NewOrderedSemaphore(cfg.MaxRamJobs),
		diskSem:      NewOrderedSemaphore(cfg.MaxDiskJobs),
		transferSem:  NewOrderedSemaphore(cfg.MaxTransferJobs),
		housekeepSem: NewOrderedSemaphore(1),
		housekeeper:  NewHousekeeper(deps.Records, deps.Objects, maxStorageEntries, ttl, deps.Logger),
		ctx:          context.Background(),
		jobs:         make(map[Visit]*Job),
	}
}

// Start binds ctx as the pipeline's supervising scope. At shutdown, cancel
// ctx; in-flight RPCs are aborted and semaphores released by scope unwind.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctx = ctx
}

// Submit enqueues visit (fire-and-forget; returns as soon as the job is
// recorded). Resubmitting a visit that already has a non-terminal job in
// flight is a no-op that returns ErrAlreadyQueued.
func (r *Runner) Submit(visit Visit) error {
	r.mu.Lock()

	if existing, ok := r.jobs[visit]; ok && !existing.Phase.IsTerminal() {
		r.mu.Unlock()

		return ErrAlreadyQueued
	}

	job := NewJob(visit, time.Now())
	r.jobs[visit] = job
	ctx := r.ctx
	r.mu.Unlock()

	r.deps.Sync.Add(job)

	go r.run(ctx, job)

	return nil
}

// ClearAll wipes every in-flight job, truncates the persisted record table,
// asks every registered worker to wipe its local state, and clears the
// object store (DELETE /quicklooks/*).
func (r *Runner) ClearAll(ctx context.Context) error {
	r.mu.Lock()
	visits := make([]Visit, 0, len(r.jobs))

	for v := range r.jobs {
		visits = append(visits, v)
	}

	r.jobs = make(map[Visit]*Job)
	r.mu.Unlock()

	for _, v := range visits {
		r.deps.Sync.Delete(v)
	}

	if err := r.deps.Records.Truncate(ctx); err != nil {
		return fmt.Errorf("%w: truncate records: %w", ErrDatabaseError, err)
	}

	for _, node := range r.deps.Registry.Snapshot() {
		if err := r.deps.RPC.DeleteAll(ctx, node); err != nil {
			r.deps.Logger.WarnContext(ctx, "quicklook.clear_all_worker_failed", "worker", node.String(), "error", err)
		}
	}

	if err := r.deps.Objects.DeleteAllPrefixes(ctx); err != nil {
		return fmt.Errorf("%w: clear object store: %w", ErrObjectStoreError, err)
	}

	return nil
}

// RecoverFromSnapshots repopulates the in-memory synchronizer with every
// persisted "ready" record's snapshot, so status/tile-read requests for a
// job that finished before a coordinator restart don't 404 against an
// empty synchronizer until something resubmits it. Call once at startup,
// after ClearNonReady and before the HTTP server binds.
func (r *Runner) RecoverFromSnapshots(ctx context.Context) error {
	records, err := r.deps.Records.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list records: %w", ErrDatabaseError, err)
	}

	for _, rec := range records {
		if rec.Phase != RecordReady {
			continue
		}

		snap, err := r.deps.Objects.GetSnapshot(ctx, rec.Visit)
		if err != nil {
			r.deps.Logger.WarnContext(ctx, "quicklook.recover_snapshot_failed",
				"visit", string(rec.Visit), "error", err)

			continue
		}

		job := FromSnapshot(snap)

		r.mu.Lock()
		r.jobs[job.Visit] = job
		r.mu.Unlock()

		r.deps.Sync.Add(job)
	}

	return nil
}

// RunHousekeeping runs C9 under housekeepSem(1), ensuring at most one
// instance runs at a time.
func (r *Runner) RunHousekeeping(ctx context.Context) {
	if err := r.housekeepSem.Acquire(ctx); err != nil {
		return
	}
	defer r.housekeepSem.Release()

	if err := r.housekeeper.Run(ctx); err != nil {
		r.deps.Logger.ErrorContext(ctx, "quicklook.housekeeping_failed", "error", err)
	}
}

// run drives one job through its full lifecycle: generate, merge, transfer,
// and ready, with cleanup and snapshotting interleaved between stages.
func (r *Runner) run(ctx context.Context, job *Job) {
	visit := job.Visit

	defer func() {
		r.mu.Lock()
		delete(r.jobs, visit)
		r.mu.Unlock()
	}()

	if err := r.ramSem.Acquire(ctx); err != nil {
		r.failJob(ctx, job, fmt.Errorf("%w: acquire ram semaphore: %w", ErrShutdownCancelled, err), false)

		return
	}

	releaseRamMetric := r.deps.Metrics.TrackSemaphore(ctx, "ram")

	ramHeld := true
	defer func() {
		if ramHeld {
			r.ramSem.Release()
			releaseRamMetric()
		}
	}()

	if !r.runGenerate(ctx, job) {
		return
	}

	if r.stopForTest(job, PhaseGenerateDone) {
		return
	}

	if err := r.diskSem.Acquire(ctx); err != nil {
		r.failJob(ctx, job, fmt.Errorf("%w: acquire disk semaphore: %w", ErrShutdownCancelled, err), true)

		return
	}

	releaseDiskMetric := r.deps.Metrics.TrackSemaphore(ctx, "disk")

	diskHeld := true
	defer func() {
		if diskHeld {
			r.diskSem.Release()
			releaseDiskMetric()
		}
	}()

	if !r.runMerge(ctx, job) {
		return
	}

	r.ramSem.Release()
	ramHeld = false
	releaseRamMetric()
	r.setPhase(ctx, job, PhaseMergeDone)

	if r.stopForTest(job, PhaseMergeDone) {
		return
	}

	if err := r.transferSem.Acquire(ctx); err != nil {
		r.failJob(ctx, job, fmt.Errorf("%w: acquire transfer semaphore: %w", ErrShutdownCancelled, err), true)

		return
	}

	releaseTransferMetric := r.deps.Metrics.TrackSemaphore(ctx, "transfer")

	transferHeld := true
	defer func() {
		if transferHeld {
			r.transferSem.Release()
			releaseTransferMetric()
		}
	}()

	if !r.runTransfer(ctx, job) {
		return
	}

	r.transferSem.Release()
	transferHeld = false
	releaseTransferMetric()
	r.diskSem.Release()
	diskHeld = false
	releaseDiskMetric()
	r.setPhase(ctx, job, PhaseReady)
	r.deps.Metrics.RecordJobOutcome(ctx, PhaseReady.String())

	if err := r.deps.Records.Upsert(ctx, visit, RecordReady); err != nil {
		r.deps.Logger.ErrorContext(ctx, "quicklook.record_upsert_failed", "visit", string(visit), "error", err)
	}

	if err := r.saveSnapshot(ctx, job); err != nil {
		r.deps.Logger.ErrorContext(ctx, "quicklook.snapshot_save_failed", "visit", string(visit), "error", err)
	}

	r.requestFullCleanup(detachedContext(ctx), job)

	select {
	case <-time.After(r.cfg.CleanupDelay):
	case <-ctx.Done():
	}

	r.deps.Sync.Delete(visit)
	r.RunHousekeeping(detachedContext(ctx))
}

// runGenerate executes step 3-4: partition CCDs across live workers, fan
// out generate tasks, persist aggregate metadata. Returns false if the job
// failed and the caller must return immediately.
func (r *Runner) runGenerate(ctx context.Context, job *Job) bool {
	start := time.Now()
	defer func() { r.deps.Metrics.RecordStage(ctx, "generate", time.Since(start)) }()

	r.setPhase(ctx, job, PhaseGenerateRunning)

	ccdNames, err := r.deps.Datasource.CCDNames(ctx, job.Visit)
	if err != nil {
		r.failJob(ctx, job, fmt.Errorf("datasource ccd names: %w", err), true)

		return false
	}

	ccdMap, err := PartitionCCDs(ccdNames, r.deps.Registry.Snapshot())
	if err != nil {
		r.failJob(ctx, job, err, true)

		return false
	}

	job.CcdGeneratorMap = ccdMap
	r.notifyModify(job)

	results, err := r.fanOutGenerate(ctx, job, ccdMap)
	if err != nil {
		r.failJob(ctx, job, err, true)

		return false
	}

	for _, res := range results {
		r.deps.Metrics.RecordTiles(ctx, res.Worker, int64(res.TileCount))
	}

	if err := r.persistGenerateArtifacts(ctx, job, results); err != nil {
		r.failJob(ctx, job, err, true)

		return false
	}

	r.setPhase(ctx, job, PhaseGenerateDone)

	if err := r.deps.Records.Upsert(ctx, job.Visit, RecordInProgress); err != nil {
		r.failJob(ctx, job, fmt.Errorf("%w: %w", ErrDatabaseError, err), true)

		return false
	}

	return true
}

// runMerge executes step 5: fan out merge tasks, then best-effort request
// per-worker raw-tile cleanup.
func (r *Runner) runMerge(ctx context.Context, job *Job) bool {
	start := time.Now()
	defer func() { r.deps.Metrics.RecordStage(ctx, "merge", time.Since(start)) }()

	r.setPhase(ctx, job, PhaseMergeRunning)

	if err := r.fanOutMerge(ctx, job); err != nil {
		r.failJob(ctx, job, err, true)

		return false
	}

	r.requestRawCleanup(ctx, job)

	return true
}

// runTransfer executes step 7: fan out transfer tasks.
func (r *Runner) runTransfer(ctx context.Context, job *Job) bool {
	start := time.Now()
	defer func() { r.deps.Metrics.RecordStage(ctx, "transfer", time.Since(start)) }()

	r.setPhase(ctx, job, PhaseTransferRunning)

	if err := r.fanOutTransfer(ctx, job); err != nil {
		r.failJob(ctx, job, err, true)

		return false
	}

	return true
}

// stopForTest implements the PseudoErrorForTest escape hatch: when the
// runner is configured (and gated by Environment == "test") to stop at a
// specific phase, it removes the job's in-flight bookkeeping and returns
// true without cleanup, mid-pipeline, leaving the job's last published
// phase as its final observed state.
func (r *Runner) stopForTest(job *Job, at Phase) bool {
	if r.cfg.Environment != "test" || r.cfg.TestFailAtPhase != at || job.Phase != at {
		return false
	}

	r.deps.Logger.WarnContext(context.Background(), "quicklook.pseudo_error_for_test",
		"visit", string(job.Visit), "phase", at.String(), "error", ErrPseudoErrorForTest)

	return true
}

// setPhase advances job's phase, timestamps it, and notifies subscribers.
func (r *Runner) setPhase(ctx context.Context, job *Job, phase Phase) {
	job.Phase = phase
	job.UpdatedAt = time.Now()
	r.deps.Logger.InfoContext(ctx, "quicklook.phase_change", "visit", string(job.Visit), "phase", phase.String())
	r.deps.Sync.Modify(job)
}

// notifyModify re-publishes job's current state without changing its phase,
// used after progress-map updates.
func (r *Runner) notifyModify(job *Job) {
	r.deps.Sync.Modify(job)
}

// failJob transitions job to FAILED, notifies subscribers, and (unless
// cleanup is false, used when failure occurs before any worker tasks were
// dispatched) performs best-effort cleanup of worker tiles, object-store
// artifacts, and the persisted record.
func (r *Runner) failJob(ctx context.Context, job *Job, err error, cleanup bool) {
	job.Phase = PhaseFailed
	job.FailureReason = err.Error()
	job.UpdatedAt = time.Now()

	if errors.Is(err, ErrShutdownCancelled) {
		r.deps.Logger.InfoContext(ctx, "quicklook.job_cancelled", "visit", string(job.Visit), "error", err)
	} else {
		r.deps.Logger.ErrorContext(ctx, "quicklook.job_failed", "visit", string(job.Visit), "error", err)
	}

	r.deps.Sync.Modify(job)
	r.deps.Metrics.RecordJobOutcome(ctx, job.Phase.String())

	if cleanup {
		cleanupCtx := detachedContext(ctx)

		r.requestFullCleanup(cleanupCtx, job)

		if delErr := r.deps.Objects.DeletePrefix(cleanupCtx, job.Visit); delErr != nil {
			r.deps.Logger.WarnContext(ctx, "quicklook.cleanup_objectstore_failed", "visit", string(job.Visit), "error", delErr)
		}

		if delErr := r.deps.Records.Delete(cleanupCtx, job.Visit); delErr != nil {
			r.deps.Logger.WarnContext(ctx, "quicklook.cleanup_record_failed", "visit", string(job.Visit), "error", delErr)
		}
	}
}

// fanOutGenerate dispatches one GenerateTask per worker that owns at least
// one CCD in ccdMap, accumulating per-CCD result metadata.
func (r *Runner) fanOutGenerate(ctx context.Context, job *Job, ccdMap map[string]WorkerNode) ([]CcdMeta, error) {
	byWorker := groupCCDsByWorker(ccdMap)

	var (
		mu      sync.Mutex
		results []CcdMeta
	)

	g, gctx := errgroup.WithContext(ctx)

	for node, ccdNames := range byWorker {
		task := GenerateTask{Visit: job.Visit, Generator: node, CcdNames: ccdNames}

		g.Go(func() error {
			handler := StreamHandler{
				OnProgress: func(p ProgressPayload) {
					mu.Lock()
					job.GenerateProgress[node.String()] = ProgressTriple{
						Downloaded: p.Downloaded, Preprocess: p.Preprocess, TileBuild: p.TileBuild,
					}
					mu.Unlock()
					r.notifyModify(job)
				},
				OnResult: func(meta CcdMeta) {
					mu.Lock()
					results = append(results, meta)
					mu.Unlock()
				},
			}

			return r.deps.RPC.Generate(gctx, node, task, r.cfg.GenerateTimeout, handler)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// fanOutMerge dispatches one MergeTask (carrying the full ccdGeneratorMap,
// since a primary worker must pull overlapping tiles from peers) per
// distinct worker.
func (r *Runner) fanOutMerge(ctx context.Context, job *Job) error {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for _, node := range distinctWorkers(job.CcdGeneratorMap) {
		task := MergeTask{Visit: job.Visit, Generator: node, CcdGeneratorMap: job.CcdGeneratorMap}

		g.Go(func() error {
			handler := StreamHandler{
				OnProgress: func(p ProgressPayload) {
					mu.Lock()
					job.MergeProgress[node.String()] = ProgressPair{Done: p.Done, Total: p.Total}
					mu.Unlock()
					r.notifyModify(job)
				},
			}

			return r.deps.RPC.Merge(gctx, node, task, r.cfg.MergeTimeout, handler)
		})
	}

	return g.Wait() //nolint:wrapcheck // errgroup already returns the first worker's wrapped sentinel error.
}

// fanOutTransfer dispatches one TransferTask per distinct worker.
func (r *Runner) fanOutTransfer(ctx context.Context, job *Job) error {
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)

	for _, node := range distinctWorkers(job.CcdGeneratorMap) {
		task := TransferTask{Visit: job.Visit, Generator: node, CcdGeneratorMap: job.CcdGeneratorMap}

		g.Go(func() error {
			handler := StreamHandler{
				OnProgress: func(p ProgressPayload) {
					mu.Lock()
					job.TransferProgress[node.String()] = ProgressPair{Done: p.Done, Total: p.Total}
					mu.Unlock()
					r.notifyModify(job)
				},
			}

			return r.deps.RPC.Transfer(gctx, node, task, r.cfg.TransferTimeout, handler)
		})
	}

	return g.Wait() //nolint:wrapcheck // errgroup already returns the first worker's wrapped sentinel error.
}

// persistGenerateArtifacts writes the aggregate CCD metadata, the frozen
// job config, and the first job snapshot to the object store (step 3).
func (r *Runner) persistGenerateArtifacts(ctx context.Context, job *Job, results []CcdMeta) error {
	var totalBytes int64
	for _, meta := range results {
		totalBytes += meta.Bytes
	}

	r.deps.Logger.InfoContext(ctx, "quicklook.generate_complete",
		"visit", string(job.Visit), "ccds", len(results), "size", humanize.Bytes(uint64(totalBytes)))

	metaBytes, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal generate metadata: %w", err)
	}

	if err := r.deps.Objects.PutMeta(ctx, job.Visit, metaBytes); err != nil {
		return fmt.Errorf("%w: put meta: %w", ErrObjectStoreError, err)
	}

	cfgBytes, err := json.Marshal(ToSnapshot(job).CcdGeneratorMap)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}

	if err := r.deps.Objects.PutJobConfig(ctx, job.Visit, cfgBytes); err != nil {
		return fmt.Errorf("%w: put job config: %w", ErrObjectStoreError, err)
	}

	return r.saveSnapshot(ctx, job)
}

// saveSnapshot writes job's current snapshot to the object store, used
// after generate and again after transfer completes.
func (r *Runner) saveSnapshot(ctx context.Context, job *Job) error {
	if err := r.deps.Objects.PutSnapshot(ctx, job.Visit, ToSnapshot(job)); err != nil {
		return fmt.Errorf("%w: put snapshot: %w", ErrObjectStoreError, err)
	}

	return nil
}

// requestRawCleanup asks every worker owning CCDs in this job to delete its
// raw tiles, keeping merged tiles (step 5). Best-effort: errors are logged,
// never propagated.
func (r *Runner) requestRawCleanup(ctx context.Context, job *Job) {
	for _, node := range distinctWorkers(job.CcdGeneratorMap) {
		if err := r.deps.RPC.DeleteVisit(ctx, node, job.Visit, true, false); err != nil {
			r.deps.Logger.WarnContext(ctx, "quicklook.raw_cleanup_failed",
				"visit", string(job.Visit), "worker", node.String(), "error", err)
		}
	}
}

// requestFullCleanup asks every worker owning CCDs in this job to delete
// both raw and merged tiles (step 9 and failure cleanup). Best-effort.
func (r *Runner) requestFullCleanup(ctx context.Context, job *Job) {
	for _, node := range distinctWorkers(job.CcdGeneratorMap) {
		if err := r.deps.RPC.DeleteVisit(ctx, node, job.Visit, true, true); err != nil {
			r.deps.Logger.WarnContext(ctx, "quicklook.full_cleanup_failed",
				"visit", string(job.Visit), "worker", node.String(), "error", err)
		}
	}
}

// PartitionCCDs splits the sorted CCD list across workers as a deterministic
// contiguous partition. Returns ErrNoOverlappingGenerators if no workers are
// registered.
func PartitionCCDs(ccdNames []string, workers []WorkerNode) (map[string]WorkerNode, error) {
	if len(workers) == 0 {
		return nil, fmt.Errorf("%w: no registered workers", ErrNoOverlappingGenerators)
	}

	sorted := append([]string(nil), ccdNames...)
	sort.Strings(sorted)

	out := make(map[string]WorkerNode, len(sorted))

	total := len(sorted)
	base := total / len(workers)
	remainder := total % len(workers)
	idx := 0

	for i, node := range workers {
		count := base
		if i < remainder {
			count++
		}

		for range count {
			out[sorted[idx]] = node
			idx++
		}
	}

	return out, nil
}

func groupCCDsByWorker(ccdMap map[string]WorkerNode) map[WorkerNode][]string {
	out := make(map[WorkerNode][]string)

	for ccd, node := range ccdMap {
		out[node] = append(out[node], ccd)
	}

	for _, names := range out {
		sort.Strings(names)
	}

	return out
}

func distinctWorkers(ccdMap map[string]WorkerNode) []WorkerNode {
	seen := make(map[WorkerNode]struct{}, len(ccdMap))

	out := make([]WorkerNode, 0, len(ccdMap))

	for _, node := range ccdMap {
		if _, ok := seen[node]; ok {
			continue
		}

		seen[node] = struct{}{}

		out = append(out, node)
	}

	return SortWorkerNodes(out)
}

// detachedContext preserves no deadline/cancellation from parent but keeps
// going through the same value chain (trace context, request id), so
// best-effort cleanup after a cancelled or failed stage can still run to
// completion and still carries tracing attributes.
func detachedContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}
