package quicklook

import (
	"fmt"
	"hash/fnv"
)

// TileIntersector returns the CCD names whose focal-plane bounding box
// intersects tile. The concrete implementation (a static R-tree keyed by
// CCD geometry) lives in the external geometry collaborator; this package
// only depends on this function's signature.
type TileIntersector func(tile TileId) []string

// Router resolves the deterministic primary worker for a tile among the
// workers that own overlapping CCDs (C4).
type Router struct {
	intersect TileIntersector
}

// NewRouter creates a router backed by the given intersection function.
func NewRouter(intersect TileIntersector) *Router {
	return &Router{intersect: intersect}
}

// Route returns the primary worker for tile and the full set of overlapping
// workers, sorted by (host, port). Returns ErrNoOverlappingGenerators if no
// CCD in ccdGeneratorMap intersects tile. The primary is a pure function of
// (ccdGeneratorMap, tile): same inputs always produce the same primary,
// using a hash that is stable across processes.
func (r *Router) Route(ccdGeneratorMap map[string]WorkerNode, tile TileId) (WorkerNode, []WorkerNode, error) {
	ccdNames := r.intersect(tile)

	workerSet := make(map[WorkerNode]struct{}, len(ccdNames))

	for _, ccd := range ccdNames {
		node, ok := ccdGeneratorMap[ccd]
		if !ok {
			continue
		}

		workerSet[node] = struct{}{}
	}

	if len(workerSet) == 0 {
		return WorkerNode{}, nil, fmt.Errorf("%w: tile %s", ErrNoOverlappingGenerators, tile)
	}

	workers := make([]WorkerNode, 0, len(workerSet))
	for w := range workerSet {
		workers = append(workers, w)
	}

	workers = SortWorkerNodes(workers)

	idx := int(hashTileID(tile) % uint64(len(workers)))

	return workers[idx], workers, nil
}

// hashTileID computes a process-stable hash of a tile id. fnv-1a is
// deterministic across processes and architectures, unlike Go's built-in
// map hash (which is randomly seeded per process).
func hashTileID(t TileId) uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d:%d:%d", t.Level, t.I, t.J)

	return h.Sum64()
}
