// Package localstore manages the worker's on-disk tile cache: one directory
// per visit holding raw per-CCD tiles and merged per-tile artifacts, plus a
// small metadata file used for orphan cleanup and crash recovery.
package localstore

// MetadataVersion is the current on-disk metadata format version.
const MetadataVersion = 1

// Metadata records when a visit's local directory was seeded and with which
// CCDs, so a restarted worker can recognize in-flight visits without
// re-contacting the coordinator.
type Metadata struct {
	Version   int      `json:"version"`
	Visit     string   `json:"visit"`
	VisitHash string   `json:"visit_hash"`
	CreatedAt string   `json:"created_at"`
	CCDNames  []string `json:"ccd_names"`
}
