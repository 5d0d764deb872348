package quicklook_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/skyquick/quicklook/internal/quicklook"
)

func TestTileId_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "3/4/5", quicklook.TileId{Level: 3, I: 4, J: 5}.String())
}

func TestPackTileId_GroupsByShiftedIndex(t *testing.T) {
	t.Parallel()

	pack := 2 // 4x4 blocks.

	a := quicklook.PackTileId(quicklook.TileId{Level: 0, I: 0, J: 0}, pack)
	b := quicklook.PackTileId(quicklook.TileId{Level: 0, I: 3, J: 3}, pack)
	c := quicklook.PackTileId(quicklook.TileId{Level: 0, I: 4, J: 0}, pack)

	assert.Equal(t, a, b, "tiles within the same 4x4 block share a packed id")
	assert.NotEqual(t, a, c, "tile past the block boundary has a different packed id")
}

func TestPackedTileId_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "2/1/0", quicklook.PackedTileId{Level: 2, I: 1, J: 0}.String())
}

func TestPackedBlockMembers_ReturnsSortedSubset(t *testing.T) {
	t.Parallel()

	universe := []quicklook.TileId{
		{Level: 0, I: 3, J: 3},
		{Level: 0, I: 0, J: 0},
		{Level: 0, I: 4, J: 0}, // different block.
		{Level: 0, I: 0, J: 1},
	}

	pack := 2
	target := quicklook.PackTileId(quicklook.TileId{Level: 0, I: 0, J: 0}, pack)

	members := quicklook.PackedBlockMembers(universe, pack, target)

	assert.Equal(t, []quicklook.TileId{
		{Level: 0, I: 0, J: 0},
		{Level: 0, I: 0, J: 1},
		{Level: 0, I: 3, J: 3},
	}, members)
}

func TestPackedBlockMembers_OrderIsStableAcrossInputPermutations(t *testing.T) {
	t.Parallel()

	pack := 1
	target := quicklook.PackTileId(quicklook.TileId{Level: 1, I: 0, J: 0}, pack)

	universeA := []quicklook.TileId{
		{Level: 1, I: 1, J: 0}, {Level: 1, I: 0, J: 0}, {Level: 1, I: 0, J: 1}, {Level: 1, I: 1, J: 1},
	}
	universeB := []quicklook.TileId{
		{Level: 1, I: 1, J: 1}, {Level: 1, I: 0, J: 1}, {Level: 1, I: 1, J: 0}, {Level: 1, I: 0, J: 0},
	}

	membersA := quicklook.PackedBlockMembers(universeA, pack, target)
	membersB := quicklook.PackedBlockMembers(universeB, pack, target)

	assert.Equal(t, membersA, membersB,
		"worker and coordinator must derive the same positional order regardless of enumeration order")
}

func TestPackedBlockMembers_EmptyWhenNoneMatch(t *testing.T) {
	t.Parallel()

	universe := []quicklook.TileId{{Level: 0, I: 9, J: 9}}

	members := quicklook.PackedBlockMembers(universe, 2, quicklook.PackedTileId{Level: 0, I: 0, J: 0})
	assert.Empty(t, members)
}
