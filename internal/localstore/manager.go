package localstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/skyquick/quicklook/internal/persist"
)

// metaBasename is the persist.Persister basename for a visit's metadata
// file (combined with the JSON codec's extension, it is "meta.json").
const metaBasename = "meta"

// Sentinel errors for local-store validation.
var (
	ErrVisitMismatch = errors.New("visit hash collision: stored visit does not match requested visit")
)

// DefaultDir returns the default worker tile cache directory
// (~/.quicklook/tiles).
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}

	return filepath.Join(home, ".quicklook", "tiles")
}

// VisitHash computes a filesystem-safe directory name for a visit. Visit
// identifiers contain a colon (`<kind>:<name>`) and are not safe to use
// directly as path components on all platforms.
func VisitHash(visit string) string {
	h := sha256.Sum256([]byte(visit))

	return hex.EncodeToString(h[:8]) // First 8 bytes = 16 hex chars.
}

// Default retention values for the orphan sweep.
const (
	DefaultMaxAge = 24 * time.Hour
)

// Directory permissions for tile directories.
const dirPerm = 0o750

// rawSubdir and mergedSubdir name the per-visit tile kind directories.
const (
	rawSubdir    = "raw"
	mergedSubdir = "merged"
)

// Manager tracks the worker's on-disk tile cache: one directory per visit,
// holding raw per-CCD tiles and merged per-tile artifacts, with a metadata
// file recording when the directory was seeded.
type Manager struct {
	BaseDir string
	MaxAge  time.Duration
}

// NewManager creates a local tile store manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	return &Manager{
		BaseDir: baseDir,
		MaxAge:  DefaultMaxAge,
	}
}

// VisitDir returns the root directory for a visit's local tile cache.
func (m *Manager) VisitDir(visit string) string {
	return filepath.Join(m.BaseDir, VisitHash(visit))
}

// RawTileDir returns the directory holding this worker's raw per-CCD tiles
// for a visit.
func (m *Manager) RawTileDir(visit string) string {
	return filepath.Join(m.VisitDir(visit), rawSubdir)
}

// MergedTileDir returns the directory holding this worker's merged
// per-tile artifacts for a visit.
func (m *Manager) MergedTileDir(visit string) string {
	return filepath.Join(m.VisitDir(visit), mergedSubdir)
}

// metadataPath returns the path to a visit's metadata file.
func (m *Manager) metadataPath(visit string) string {
	return filepath.Join(m.VisitDir(visit), "meta.json")
}

// Exists returns true if a visit has a local tile directory.
func (m *Manager) Exists(visit string) bool {
	_, err := os.Stat(m.metadataPath(visit))

	return err == nil
}

// Seed creates the visit's raw/merged directories and writes its metadata.
// Called at GENERATE entry, once ccdGeneratorMap has been frozen.
func (m *Manager) Seed(visit string, ccdNames []string) error {
	rawErr := os.MkdirAll(m.RawTileDir(visit), dirPerm)
	if rawErr != nil {
		return fmt.Errorf("create raw tile dir: %w", rawErr)
	}

	mergedErr := os.MkdirAll(m.MergedTileDir(visit), dirPerm)
	if mergedErr != nil {
		return fmt.Errorf("create merged tile dir: %w", mergedErr)
	}

	meta := Metadata{
		Version:   MetadataVersion,
		Visit:     visit,
		VisitHash: VisitHash(visit),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		CCDNames:  ccdNames,
	}

	if saveErr := persist.SaveState(m.VisitDir(visit), metaBasename, persist.NewJSONCodec(), &meta); saveErr != nil {
		return fmt.Errorf("write metadata: %w", saveErr)
	}

	return nil
}

// LoadMetadata loads a visit's local-store metadata.
func (m *Manager) LoadMetadata(visit string) (*Metadata, error) {
	var meta Metadata

	if err := persist.LoadState(m.VisitDir(visit), metaBasename, persist.NewJSONCodec(), &meta); err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}

	if meta.Visit != visit {
		return nil, fmt.Errorf("%w: dir %s", ErrVisitMismatch, m.VisitDir(visit))
	}

	return &meta, nil
}

// ClearRaw removes only the raw per-CCD tile directory for a visit, keeping
// merged tiles — used after a successful merge stage (§4.8 step 5).
func (m *Manager) ClearRaw(visit string) error {
	err := os.RemoveAll(m.RawTileDir(visit))
	if err != nil {
		return fmt.Errorf("remove raw tile dir: %w", err)
	}

	return nil
}

// ClearMerged removes only the merged per-tile directory for a visit,
// keeping raw tiles — used when a DELETE request asks for merged cleanup
// without also asking for raw cleanup.
func (m *Manager) ClearMerged(visit string) error {
	err := os.RemoveAll(m.MergedTileDir(visit))
	if err != nil {
		return fmt.Errorf("remove merged tile dir: %w", err)
	}

	return nil
}

// ClearVisit removes all local state (raw, merged, metadata) for one visit.
func (m *Manager) ClearVisit(visit string) error {
	dir := m.VisitDir(visit)

	_, statErr := os.Stat(dir)
	if os.IsNotExist(statErr) {
		return nil
	}

	err := os.RemoveAll(dir)
	if err != nil {
		return fmt.Errorf("remove visit dir: %w", err)
	}

	return nil
}

// ClearAll wipes the entire local tile cache, used by `DELETE /quicklooks/*`.
func (m *Manager) ClearAll() error {
	entries, err := os.ReadDir(m.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("read base dir: %w", err)
	}

	for _, entry := range entries {
		removeErr := os.RemoveAll(filepath.Join(m.BaseDir, entry.Name()))
		if removeErr != nil {
			return fmt.Errorf("remove %s: %w", entry.Name(), removeErr)
		}
	}

	return nil
}

// SweepOrphans removes visit directories whose metadata is older than
// MaxAge and whose visit is not present in liveVisits. This is a worker-
// local safety net distinct from the coordinator-driven housekeeper (C9),
// guarding against a coordinator that never asked for cleanup.
func (m *Manager) SweepOrphans(liveVisits map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(m.BaseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read base dir: %w", err)
	}

	var swept []string

	cutoff := time.Now().Add(-m.MaxAge)

	for _, entry := range entries {
		metaPath := filepath.Join(m.BaseDir, entry.Name(), "meta.json")

		data, readErr := os.ReadFile(metaPath)
		if readErr != nil {
			continue
		}

		var meta Metadata

		if jsonErr := json.Unmarshal(data, &meta); jsonErr != nil {
			continue
		}

		if liveVisits[meta.Visit] {
			continue
		}

		createdAt, parseErr := time.Parse(time.RFC3339, meta.CreatedAt)
		if parseErr != nil || createdAt.After(cutoff) {
			continue
		}

		removeErr := os.RemoveAll(filepath.Join(m.BaseDir, entry.Name()))
		if removeErr != nil {
			return swept, fmt.Errorf("remove orphan %s: %w", meta.Visit, removeErr)
		}

		swept = append(swept, meta.Visit)
	}

	return swept, nil
}
