package quicklook

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// Housekeeper evicts old/incomplete jobs from the database and object store
// under TTL and max-entries policies (C9). Run is always called with
// housekeepSem(1) held by the caller, so at most one instance runs at a
// time.
type Housekeeper struct {
	records    RecordStore
	objects    ObjectStore
	maxEntries int
	ttl        time.Duration
	logger     *slog.Logger
}

// NewHousekeeper creates a housekeeper retaining at most maxEntries "ready"
// records and evicting any non-ready record older than ttl.
func NewHousekeeper(records RecordStore, objects ObjectStore, maxEntries int, ttl time.Duration, logger *slog.Logger) *Housekeeper {
	return &Housekeeper{
		records:    records,
		objects:    objects,
		maxEntries: maxEntries,
		ttl:        ttl,
		logger:     logger,
	}
}

// Run evicts records per the union policy, then sweeps any object-store
// prefix with no corresponding DB row.
func (h *Housekeeper) Run(ctx context.Context) error {
	records, err := h.records.List(ctx)
	if err != nil {
		return fmt.Errorf("%w: list records: %w", ErrDatabaseError, err)
	}

	for _, rec := range h.selectEvictions(records) {
		if evictErr := h.evict(ctx, rec.Visit); evictErr != nil {
			h.logger.WarnContext(ctx, "housekeeper.evict_failed", "visit", string(rec.Visit), "error", evictErr)
		}
	}

	if sweepErr := h.sweepDangling(ctx, records); sweepErr != nil {
		h.logger.WarnContext(ctx, "housekeeper.sweep_dangling_failed", "error", sweepErr)
	}

	return nil
}

// selectEvictions applies the union policy: any ready record beyond the
// newest maxEntries (by creation time) is evicted, and any non-ready record
// whose updatedAt is older than ttl is evicted.
func (h *Housekeeper) selectEvictions(records []QuicklookRecord) []QuicklookRecord {
	var ready, stale []QuicklookRecord

	now := time.Now()

	for _, rec := range records {
		if rec.Phase == RecordReady {
			ready = append(ready, rec)

			continue
		}

		if now.Sub(rec.UpdatedAt) > h.ttl {
			stale = append(stale, rec)
		}
	}

	sort.Slice(ready, func(i, j int) bool { return ready[i].CreatedAt.Before(ready[j].CreatedAt) })

	var evict []QuicklookRecord

	if len(ready) > h.maxEntries {
		evict = append(evict, ready[:len(ready)-h.maxEntries]...)
	}

	return append(evict, stale...)
}

// evict transitions a record to "deleting", removes its object-store
// prefix, then deletes the DB row.
func (h *Housekeeper) evict(ctx context.Context, visit Visit) error {
	if err := h.records.Upsert(ctx, visit, RecordDeleting); err != nil {
		return fmt.Errorf("%w: mark deleting: %w", ErrDatabaseError, err)
	}

	if err := h.objects.DeletePrefix(ctx, visit); err != nil {
		return fmt.Errorf("%w: delete object store prefix: %w", ErrObjectStoreError, err)
	}

	if err := h.records.Delete(ctx, visit); err != nil {
		return fmt.Errorf("%w: delete record: %w", ErrDatabaseError, err)
	}

	return nil
}

// sweepDangling removes any object-store visit prefix with no DB row.
func (h *Housekeeper) sweepDangling(ctx context.Context, records []QuicklookRecord) error {
	known := make(map[Visit]struct{}, len(records))
	for _, rec := range records {
		known[rec.Visit] = struct{}{}
	}

	prefixes, err := h.objects.ListVisitPrefixes(ctx)
	if err != nil {
		return fmt.Errorf("%w: list object store prefixes: %w", ErrObjectStoreError, err)
	}

	for _, visit := range prefixes {
		if _, ok := known[visit]; ok {
			continue
		}

		if delErr := h.objects.DeletePrefix(ctx, visit); delErr != nil {
			h.logger.WarnContext(ctx, "housekeeper.dangling_delete_failed", "visit", string(visit), "error", delErr)
		}
	}

	return nil
}
