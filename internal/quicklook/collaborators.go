package quicklook

import (
	"context"
	"time"
)

// Datasource resolves the CCD names belonging to a visit. It is an external
// collaborator (catalog lookup and blob fetch); this package depends only on
// this interface, never a concrete client.
type Datasource interface {
	CCDNames(ctx context.Context, visit Visit) ([]string, error)
}

// QuicklookRecord is the persisted, coarser phase record.
type QuicklookRecord struct {
	Visit     Visit
	Phase     RecordPhase
	CreatedAt time.Time
	UpdatedAt time.Time
}

// RecordStore persists the QuicklookRecord lifecycle to the relational
// database. An external collaborator; the concrete adapter lives in
// internal/db.
type RecordStore interface {
	// Upsert inserts or updates the record for visit to phase.
	Upsert(ctx context.Context, visit Visit, phase RecordPhase) error
	// Delete removes the record for visit, if present.
	Delete(ctx context.Context, visit Visit) error
	// List returns every persisted record.
	List(ctx context.Context) ([]QuicklookRecord, error)
	// ClearNonReady deletes every record whose phase is not "ready" — the
	// startup recovery task run before the coordinator binds its HTTP
	// server, since a crash mid-pipeline leaves no goroutine left to
	// finish the job that record was tracking.
	ClearNonReady(ctx context.Context) error
	// Truncate deletes every record (DELETE /quicklooks/*).
	Truncate(ctx context.Context) error
}

// ObjectStore persists tile artifacts, job metadata, and snapshots to an
// S3-compatible object store. An external collaborator; the concrete
// adapter lives in internal/objectstore.
type ObjectStore interface {
	// PutMeta stores the aggregate per-CCD metadata produced by generate.
	PutMeta(ctx context.Context, visit Visit, data []byte) error
	// PutJobConfig stores the frozen ccdGeneratorMap needed for late tile
	// reads.
	PutJobConfig(ctx context.Context, visit Visit, data []byte) error
	// PutSnapshot stores the job's final/intermediate snapshot.
	PutSnapshot(ctx context.Context, visit Visit, snapshot JobSnapshot) error
	// GetSnapshot loads a previously stored snapshot, used to reconstruct
	// ccdGeneratorMap after a coordinator restart.
	GetSnapshot(ctx context.Context, visit Visit) (JobSnapshot, error)
	// PutPackedTile uploads the assembled list-of-blobs for one packed
	// tile block.
	PutPackedTile(ctx context.Context, visit Visit, packed PackedTileId, blobs [][]byte) error
	// GetPackedTile reads back a packed tile block's blobs.
	GetPackedTile(ctx context.Context, visit Visit, packed PackedTileId) ([][]byte, error)
	// DeletePrefix removes every object under quicklook/{visit}/.
	DeletePrefix(ctx context.Context, visit Visit) error
	// ListVisitPrefixes enumerates every visit with at least one object,
	// for the housekeeper's dangling-prefix sweep.
	ListVisitPrefixes(ctx context.Context) ([]Visit, error)
	// DeleteAllPrefixes wipes every object under the quicklook/ prefix
	// (DELETE /quicklooks/*).
	DeleteAllPrefixes(ctx context.Context) error
}
