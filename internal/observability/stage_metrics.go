package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricJobsTotal      = "quicklook.jobs.total"
	metricStageDuration  = "quicklook.stage.duration.seconds"
	metricTilesTotal     = "quicklook.tiles.total"
	metricSemaphoreHolds = "quicklook.semaphore.holds"

	attrStage    = "stage"
	attrWorker   = "worker"
	attrSemStage = "semaphore"
)

// StageMetrics holds OTel instruments describing the staged job pipeline:
// per-stage duration, tiles produced per worker, and semaphore occupancy.
type StageMetrics struct {
	jobsTotal      metric.Int64Counter
	stageDuration  metric.Float64Histogram
	tilesTotal     metric.Int64Counter
	semaphoreHolds metric.Int64UpDownCounter
}

// NewStageMetrics creates pipeline metric instruments from the given meter.
func NewStageMetrics(mt metric.Meter) (*StageMetrics, error) {
	b := newMetricBuilder(mt)

	sm := &StageMetrics{
		jobsTotal:      b.counter(metricJobsTotal, "Total quicklook jobs by final phase", "{job}"),
		stageDuration:  b.histogram(metricStageDuration, "Per-stage duration in seconds", "s", durationBucketBoundaries...),
		tilesTotal:     b.counter(metricTilesTotal, "Tiles produced per worker", "{tile}"),
		semaphoreHolds: b.upDownCounter(metricSemaphoreHolds, "Jobs currently holding a pipeline semaphore", "{job}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return sm, nil
}

// RecordStage records the duration of one completed pipeline stage.
// Safe to call on a nil receiver (no-op).
func (sm *StageMetrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if sm == nil {
		return
	}

	sm.stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String(attrStage, stage)))
}

// RecordJobOutcome increments the completed-jobs counter tagged by final phase.
func (sm *StageMetrics) RecordJobOutcome(ctx context.Context, phase string) {
	if sm == nil {
		return
	}

	sm.jobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStage, phase)))
}

// RecordTiles adds to the per-worker tile count.
func (sm *StageMetrics) RecordTiles(ctx context.Context, worker string, count int64) {
	if sm == nil || count == 0 {
		return
	}

	sm.tilesTotal.Add(ctx, count, metric.WithAttributes(attribute.String(attrWorker, worker)))
}

// TrackSemaphore increments the semaphore-holds gauge and returns a function
// to decrement it on release.
func (sm *StageMetrics) TrackSemaphore(ctx context.Context, name string) func() {
	if sm == nil {
		return func() {}
	}

	attrs := metric.WithAttributes(attribute.String(attrSemStage, name))
	sm.semaphoreHolds.Add(ctx, 1, attrs)

	return func() {
		sm.semaphoreHolds.Add(ctx, -1, attrs)
	}
}
