package workerapi

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/skyquick/quicklook/internal/localstore"
	"github.com/skyquick/quicklook/internal/quicklook"
)

// tileFilePerm is the permission mode for per-tile cache files.
const tileFilePerm = 0o600

func tileFileName(tile quicklook.TileId) string {
	return fmt.Sprintf("%d_%d_%d.bin", tile.Level, tile.I, tile.J)
}

func rawTilePath(store *localstore.Manager, visit string, tile quicklook.TileId) string {
	return filepath.Join(store.RawTileDir(visit), tileFileName(tile))
}

func mergedTilePath(store *localstore.Manager, visit string, tile quicklook.TileId) string {
	return filepath.Join(store.MergedTileDir(visit), tileFileName(tile))
}

func writeTileFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, tileFilePerm); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}

	return nil
}

func readTileFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	return data, nil
}

// listRawTiles enumerates every tile this worker holds a raw array for, by
// scanning its raw tile directory for the visit.
func listRawTiles(store *localstore.Manager, visit string) ([]quicklook.TileId, error) {
	entries, err := os.ReadDir(store.RawTileDir(visit))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("read raw tile dir: %w", err)
	}

	out := make([]quicklook.TileId, 0, len(entries))

	for _, entry := range entries {
		tile, ok := parseTileFileName(entry.Name())
		if ok {
			out = append(out, tile)
		}
	}

	return out, nil
}

func parseTileFileName(name string) (quicklook.TileId, bool) {
	var tile quicklook.TileId

	base := name[:len(name)-len(filepath.Ext(name))]

	n, err := fmt.Sscanf(base, "%d_%d_%d", &tile.Level, &tile.I, &tile.J)
	if err != nil || n != 3 {
		return quicklook.TileId{}, false
	}

	return tile, true
}
