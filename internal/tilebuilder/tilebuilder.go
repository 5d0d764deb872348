// Package tilebuilder defines the per-CCD numeric tile-pyramid construction
// collaborator, kept external to the pipeline core, plus the small amount
// of array arithmetic and compression the worker's merge/transfer stages
// perform on
// the builder's output: summing overlapping tiles and compressing the
// result with lz4 before it lands in local merged storage or the object
// store. Nothing in internal/quicklook depends on this package.
package tilebuilder

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"

	"github.com/skyquick/quicklook/internal/quicklook"
)

// Builder produces the raw per-tile pixel arrays for one CCD, tile by
// tile, reporting download/preprocess/tile-build progress as it goes. The
// concrete implementation (FITS decompression, per-CCD preprocessing, and
// pyramid construction) is an external collaborator; this package only
// specifies the shape workers drive it through.
type Builder interface {
	// Build decompresses, preprocesses, and tiles one CCD's pixel data,
	// invoking onProgress with each of the three stages as it completes;
	// counting is left to the caller. It returns one raw array per TileId
	// the CCD covers.
	Build(ctx context.Context, visit quicklook.Visit, ccdName string, onProgress func(stage Stage)) (map[quicklook.TileId][]byte, error)
}

// Stage names the three generate sub-phases reported per CCD, matching the
// fields of ProgressTriple.
type Stage int

// Stage values, in the order a single CCD passes through them.
const (
	StageDownloaded Stage = iota
	StagePreprocessed
	StageTileBuilt
)

// TileArrayBytes is the fixed width of the stub builder's per-tile array,
// standing in for whatever pixel array width the real numeric kernel
// produces; the merge arithmetic below only assumes a fixed, uniform width
// per tile.
const TileArrayBytes = 64

// SumArrays element-wise sums a set of same-size byte arrays with
// saturating addition, standing in for the real pixel-summation kernel that
// gathers copies of the same tile from every overlapping worker and sums
// them. All inputs must share TileArrayBytes length; a mismatched input is
// skipped rather than erroring, since a partial/corrupt peer fetch should
// degrade the sum, not abort the job.
func SumArrays(arrays [][]byte) []byte {
	out := make([]byte, TileArrayBytes)

	for _, a := range arrays {
		if len(a) != TileArrayBytes {
			continue
		}

		for i, b := range a {
			sum := int(out[i]) + int(b)
			if sum > 255 {
				sum = 255
			}

			out[i] = byte(sum)
		}
	}

	return out
}

// CompressMerged lz4-compresses a merged tile array before it is written to
// local merged storage or a packed transfer block.
func CompressMerged(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	w := lz4.NewWriter(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("lz4 close: %w", err)
	}

	return buf.Bytes(), nil
}

// DecompressMerged reverses CompressMerged.
func DecompressMerged(data []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(data))

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}

	return out, nil
}

// Stub is a deterministic Builder for development and tests: it synthesizes
// one TileArrayBytes-wide array per tile a CCD covers, filled from a simple
// function of the CCD name and tile id so runs are reproducible without
// touching real FITS data.
type Stub struct {
	// TilesPerCCD is the set of tiles each CCD is considered to cover,
	// shared across all CCDs for simplicity (a real per-CCD footprint
	// would differ per CCD; this stub's callers only need determinism).
	TilesPerCCD []quicklook.TileId
}

// NewStub creates a stub builder covering the given tile set for every
// CCD.
func NewStub(tiles []quicklook.TileId) *Stub {
	return &Stub{TilesPerCCD: tiles}
}

// Build implements Builder.
func (s *Stub) Build(
	_ context.Context, _ quicklook.Visit, ccdName string, onProgress func(stage Stage),
) (map[quicklook.TileId][]byte, error) {
	if onProgress != nil {
		onProgress(StageDownloaded)
		onProgress(StagePreprocessed)
	}

	out := make(map[quicklook.TileId][]byte, len(s.TilesPerCCD))

	for _, tile := range s.TilesPerCCD {
		out[tile] = syntheticArray(ccdName, tile)
	}

	if onProgress != nil {
		onProgress(StageTileBuilt)
	}

	return out, nil
}

// syntheticArray deterministically derives a TileArrayBytes array from a
// CCD name and tile id so repeated stub runs produce identical output.
func syntheticArray(ccdName string, tile quicklook.TileId) []byte {
	seed := fnv32(ccdName) ^ uint32(tile.Level*1_000_003) ^ uint32(tile.I*131) ^ uint32(tile.J*17) //nolint:gosec // deterministic synthetic fixture, not a security-sensitive hash.

	out := make([]byte, TileArrayBytes)
	for i := range out {
		out[i] = byte(seed >> (uint(i) % 24))
	}

	return out
}

func fnv32(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)

	h := uint32(offset32)

	for i := range len(s) {
		h ^= uint32(s[i])
		h *= prime32
	}

	return h
}
