package quicklook_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyquick/quicklook/internal/quicklook"
)

type fakeRecordStore struct {
	records map[quicklook.Visit]quicklook.QuicklookRecord
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{records: make(map[quicklook.Visit]quicklook.QuicklookRecord)}
}

func (f *fakeRecordStore) Upsert(_ context.Context, visit quicklook.Visit, phase quicklook.RecordPhase) error {
	rec, ok := f.records[visit]
	if !ok {
		rec = quicklook.QuicklookRecord{Visit: visit, CreatedAt: time.Now()}
	}

	rec.Phase = phase
	rec.UpdatedAt = time.Now()
	f.records[visit] = rec

	return nil
}

func (f *fakeRecordStore) Delete(_ context.Context, visit quicklook.Visit) error {
	delete(f.records, visit)

	return nil
}

func (f *fakeRecordStore) List(_ context.Context) ([]quicklook.QuicklookRecord, error) {
	out := make([]quicklook.QuicklookRecord, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r)
	}

	return out, nil
}

func (f *fakeRecordStore) ClearNonReady(_ context.Context) error {
	for v, r := range f.records {
		if r.Phase != quicklook.RecordReady {
			delete(f.records, v)
		}
	}

	return nil
}

func (f *fakeRecordStore) Truncate(_ context.Context) error {
	f.records = make(map[quicklook.Visit]quicklook.QuicklookRecord)

	return nil
}

type fakeObjectStore struct {
	prefixes map[quicklook.Visit]bool
	snaps    map[quicklook.Visit]quicklook.JobSnapshot
	packed   map[quicklook.Visit]map[quicklook.PackedTileId][][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{
		prefixes: make(map[quicklook.Visit]bool),
		snaps:    make(map[quicklook.Visit]quicklook.JobSnapshot),
		packed:   make(map[quicklook.Visit]map[quicklook.PackedTileId][][]byte),
	}
}

func (f *fakeObjectStore) PutMeta(_ context.Context, visit quicklook.Visit, _ []byte) error {
	f.prefixes[visit] = true

	return nil
}

func (f *fakeObjectStore) PutJobConfig(_ context.Context, visit quicklook.Visit, _ []byte) error {
	f.prefixes[visit] = true

	return nil
}

func (f *fakeObjectStore) PutSnapshot(_ context.Context, visit quicklook.Visit, snap quicklook.JobSnapshot) error {
	f.prefixes[visit] = true
	f.snaps[visit] = snap

	return nil
}

func (f *fakeObjectStore) GetSnapshot(_ context.Context, visit quicklook.Visit) (quicklook.JobSnapshot, error) {
	snap, ok := f.snaps[visit]
	if !ok {
		return quicklook.JobSnapshot{}, quicklook.ErrVisitNotFound
	}

	return snap, nil
}

func (f *fakeObjectStore) PutPackedTile(
	_ context.Context, visit quicklook.Visit, packed quicklook.PackedTileId, blobs [][]byte,
) error {
	f.prefixes[visit] = true

	if f.packed[visit] == nil {
		f.packed[visit] = make(map[quicklook.PackedTileId][][]byte)
	}

	f.packed[visit][packed] = blobs

	return nil
}

func (f *fakeObjectStore) GetPackedTile(
	_ context.Context, visit quicklook.Visit, packed quicklook.PackedTileId,
) ([][]byte, error) {
	blobs, ok := f.packed[visit][packed]
	if !ok {
		return nil, quicklook.ErrVisitNotFound
	}

	return blobs, nil
}

func (f *fakeObjectStore) DeletePrefix(_ context.Context, visit quicklook.Visit) error {
	delete(f.prefixes, visit)
	delete(f.packed, visit)

	return nil
}

func (f *fakeObjectStore) ListVisitPrefixes(_ context.Context) ([]quicklook.Visit, error) {
	out := make([]quicklook.Visit, 0, len(f.prefixes))
	for v := range f.prefixes {
		out = append(out, v)
	}

	return out, nil
}

func (f *fakeObjectStore) DeleteAllPrefixes(_ context.Context) error {
	f.prefixes = make(map[quicklook.Visit]bool)

	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestHousekeeper_EvictsOldestBeyondRetention checks that with N ready
// records and a retention cap of R, exactly max(0, N-R) are evicted, oldest
// first by creation time.
func TestHousekeeper_EvictsOldestBeyondRetention(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore()
	objects := newFakeObjectStore()

	base := time.Now().Add(-time.Hour)
	visits := []quicklook.Visit{"raw:a", "raw:b", "raw:c"}

	for i, v := range visits {
		records.records[v] = quicklook.QuicklookRecord{
			Visit: v, Phase: quicklook.RecordReady,
			CreatedAt: base.Add(time.Duration(i) * time.Minute), UpdatedAt: base,
		}
		objects.prefixes[v] = true
	}

	hk := quicklook.NewHousekeeper(records, objects, 2, 24*time.Hour, discardLogger())
	require.NoError(t, hk.Run(context.Background()))

	_, stillHasA := records.records["raw:a"]
	_, stillHasB := records.records["raw:b"]
	_, stillHasC := records.records["raw:c"]

	assert.False(t, stillHasA, "oldest ready record should be evicted")
	assert.True(t, stillHasB)
	assert.True(t, stillHasC)
	assert.False(t, objects.prefixes["raw:a"])
}

func TestHousekeeper_EvictsStaleNonReadyByTTL(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore()
	objects := newFakeObjectStore()

	stale := "raw:stale"
	records.records[quicklook.Visit(stale)] = quicklook.QuicklookRecord{
		Visit: quicklook.Visit(stale), Phase: quicklook.RecordInProgress,
		CreatedAt: time.Now().Add(-48 * time.Hour), UpdatedAt: time.Now().Add(-48 * time.Hour),
	}
	objects.prefixes[quicklook.Visit(stale)] = true

	fresh := "raw:fresh"
	records.records[quicklook.Visit(fresh)] = quicklook.QuicklookRecord{
		Visit: quicklook.Visit(fresh), Phase: quicklook.RecordInProgress,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}

	hk := quicklook.NewHousekeeper(records, objects, 100, time.Hour, discardLogger())
	require.NoError(t, hk.Run(context.Background()))

	_, staleRemains := records.records[quicklook.Visit(stale)]
	_, freshRemains := records.records[quicklook.Visit(fresh)]

	assert.False(t, staleRemains)
	assert.True(t, freshRemains)
}

func TestHousekeeper_SweepsDanglingObjectPrefixes(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore()
	objects := newFakeObjectStore()

	objects.prefixes["raw:orphan"] = true // no corresponding DB row.

	hk := quicklook.NewHousekeeper(records, objects, 100, 24*time.Hour, discardLogger())
	require.NoError(t, hk.Run(context.Background()))

	assert.False(t, objects.prefixes["raw:orphan"])
}

func TestHousekeeper_RetentionExactlyAtLimitEvictsNothing(t *testing.T) {
	t.Parallel()

	records := newFakeRecordStore()
	objects := newFakeObjectStore()

	for _, v := range []quicklook.Visit{"raw:a", "raw:b"} {
		records.records[v] = quicklook.QuicklookRecord{
			Visit: v, Phase: quicklook.RecordReady, CreatedAt: time.Now(), UpdatedAt: time.Now(),
		}
	}

	hk := quicklook.NewHousekeeper(records, objects, 2, 24*time.Hour, discardLogger())
	require.NoError(t, hk.Run(context.Background()))

	assert.Len(t, records.records, 2)
}
