package quicklook

import (
	"fmt"
	"sort"
)

// TileId identifies one tile in the pyramid. Level 0 is highest-resolution;
// each increment halves resolution in each axis. (I, J) are integer tile
// indices in the focal-plane coordinate frame.
type TileId struct {
	Level int
	I     int
	J     int
}

// String renders the tile id in "level/i/j" form, matching the worker HTTP
// surface's path layout (GET /quicklooks/{visit}/tiles/{z}/{y}/{x}).
func (t TileId) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Level, t.I, t.J)
}

// PackedTileId addresses a fixed NxN aggregation of tiles stored as one
// object: (level, i>>pack, j>>pack).
type PackedTileId struct {
	Level int
	I     int
	J     int
}

// PackTileId derives the packed block a tile belongs to, given the packed
// block exponent (QUICKLOOK_tile_pack).
func PackTileId(t TileId, pack int) PackedTileId {
	return PackedTileId{
		Level: t.Level,
		I:     t.I >> pack,
		J:     t.J >> pack,
	}
}

// String renders the packed tile id in "level/i/j" form.
func (p PackedTileId) String() string {
	return fmt.Sprintf("%d/%d/%d", p.Level, p.I, p.J)
}

// PackedBlockMembers returns the tiles of universe that belong to packed
// block target, sorted by (level, i, j). Both the worker (assembling a
// packed upload) and the coordinator (reading one tile back out of a
// packed object) must derive the same member order from the same universe
// and pack exponent, since a packed object stores its blobs positionally
// rather than keyed by tile id.
func PackedBlockMembers(universe []TileId, pack int, target PackedTileId) []TileId {
	var members []TileId

	for _, t := range universe {
		if PackTileId(t, pack) == target {
			members = append(members, t)
		}
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].Level != members[j].Level {
			return members[i].Level < members[j].Level
		}

		if members[i].I != members[j].I {
			return members[i].I < members[j].I
		}

		return members[i].J < members[j].J
	})

	return members
}
