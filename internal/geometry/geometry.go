// Package geometry provides the CCD focal-plane bounding-box index that the
// tile-to-worker router (C4) queries to find which CCDs intersect a tile.
// It is an external collaborator: the core quicklook package depends only
// on the quicklook.TileIntersector function signature, never on this
// package's types.
package geometry

import (
	"fmt"
	"sync"

	"github.com/skyquick/quicklook/internal/quicklook"
)

// BBox is an axis-aligned bounding box in focal-plane tile-index units at
// level 0. CCD footprints are registered once, at process start, from the
// static instrument layout.
type BBox struct {
	MinI, MinJ int
	MaxI, MaxJ int
}

// Contains reports whether the level-0 tile index (i, j) falls in b.
func (b BBox) Contains(i, j int) bool {
	return i >= b.MinI && i <= b.MaxI && j >= b.MinJ && j <= b.MaxJ
}

// Index is a static spatial index mapping CCD name to its focal-plane
// bounding box. Lookups scale a tile's index by its level before testing
// containment, so the same registered level-0 footprints serve every zoom
// level. A real deployment would back this with an R-tree for large
// instrument layouts (hundreds of CCDs); a linear scan is equivalent for
// correctness and is what this stub provides.
type Index struct {
	mu   sync.RWMutex
	ccds map[string]BBox
}

// NewIndex creates an empty geometry index.
func NewIndex() *Index {
	return &Index{ccds: make(map[string]BBox)}
}

// Register records ccdName's level-0 bounding box.
func (idx *Index) Register(ccdName string, box BBox) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.ccds[ccdName] = box
}

// Intersect returns every registered CCD whose bounding box contains tile's
// index, satisfying quicklook.TileIntersector (bind via idx.Intersect when
// constructing a quicklook.Router). Level increments halve resolution in
// each axis, so a level-L tile index is scaled up by 2^L before testing
// against the level-0 footprint.
func (idx *Index) Intersect(tile quicklook.TileId) []string {
	scaledI := tile.I << tile.Level
	scaledJ := tile.J << tile.Level

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var hits []string

	for name, box := range idx.ccds {
		if box.Contains(scaledI, scaledJ) {
			hits = append(hits, name)
		}
	}

	return hits
}

// Universe enumerates every tile, at every level from 0 through maxLevel,
// that overlaps the union of all registered CCD footprints. The coordinator
// and every worker must agree on this set (it is the domain PackedTileId
// blocks and per-tile reads are defined over), so it is derived once, the
// same way, from the same static layout each process loads at startup.
func (idx *Index) Universe(maxLevel int) []quicklook.TileId {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if len(idx.ccds) == 0 {
		return nil
	}

	first := true

	var minI, minJ, maxI, maxJ int

	for _, box := range idx.ccds {
		if first {
			minI, minJ, maxI, maxJ = box.MinI, box.MinJ, box.MaxI, box.MaxJ
			first = false

			continue
		}

		minI, minJ = min(minI, box.MinI), min(minJ, box.MinJ)
		maxI, maxJ = max(maxI, box.MaxI), max(maxJ, box.MaxJ)
	}

	var tiles []quicklook.TileId

	for level := 0; level <= maxLevel; level++ {
		loI, hiI := minI>>level, maxI>>level
		loJ, hiJ := minJ>>level, maxJ>>level

		for i := loI; i <= hiI; i++ {
			for j := loJ; j <= hiJ; j++ {
				tiles = append(tiles, quicklook.TileId{Level: level, I: i, J: j})
			}
		}
	}

	return tiles
}

// Default focal-plane grid dimensions: rows x cols CCDs, each spanning
// DefaultCCDSpan level-0 tile indices per axis.
const (
	DefaultGridRows = 5
	DefaultGridCols = 6
	DefaultCCDSpan  = 32
)

// RegisterDefaultLayout seeds idx with the static instrument layout: a
// fixed grid of equally sized, non-overlapping CCD footprints. It returns
// the registered CCD names, sorted by row then column. The coordinator and
// every worker load this same layout at startup, since the tile-to-worker
// router (C4) and the packed-block universe both depend on every process
// agreeing on CCD footprints.
func RegisterDefaultLayout(idx *Index) []string {
	names := make([]string, 0, DefaultGridRows*DefaultGridCols)

	for row := 0; row < DefaultGridRows; row++ {
		for col := 0; col < DefaultGridCols; col++ {
			name := fmt.Sprintf("ccd_%02d_%02d", row, col)

			idx.Register(name, BBox{
				MinI: col * DefaultCCDSpan,
				MinJ: row * DefaultCCDSpan,
				MaxI: (col+1)*DefaultCCDSpan - 1,
				MaxJ: (row+1)*DefaultCCDSpan - 1,
			})

			names = append(names, name)
		}
	}

	return names
}
