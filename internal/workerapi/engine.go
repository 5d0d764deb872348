// Package workerapi implements the worker HTTP surface (C11): the
// streaming generate/merge/transfer endpoints, raw and merged tile reads,
// and selective/full cleanup. Engine holds the worker's local state and
// drives the three stages; Router wires Engine's methods to chi routes.
package workerapi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skyquick/quicklook/internal/localstore"
	"github.com/skyquick/quicklook/internal/quicklook"
	"github.com/skyquick/quicklook/internal/tilebuilder"
)

// Engine is the worker's stage driver: it owns the local tile cache, the
// per-CCD builder, the cross-worker peer client used during merge and
// transfer, and the one-task-at-a-time guard per stage.
type Engine struct {
	Store        *localstore.Manager
	Builder      tilebuilder.Builder
	Router       *quicklook.Router
	Peers        *PeerClient
	Objects      quicklook.ObjectStore
	TileUniverse []quicklook.TileId
	PackExponent int
	Logger       *slog.Logger

	generateMu sync.Mutex
	mergeMu    sync.Mutex
	transferMu sync.Mutex
}

// NewEngine constructs a worker engine.
func NewEngine(
	store *localstore.Manager, builder tilebuilder.Builder, router *quicklook.Router,
	peers *PeerClient, objects quicklook.ObjectStore, tileUniverse []quicklook.TileId,
	packExponent int, logger *slog.Logger,
) *Engine {
	return &Engine{
		Store: store, Builder: builder, Router: router, Peers: peers, Objects: objects,
		TileUniverse: tileUniverse, PackExponent: packExponent, Logger: logger,
	}
}

// frameSink is satisfied by the HTTP handler: it writes one frame per
// progress/result record and flushes so the coordinator observes it as it
// happens, rather than buffered until the stage completes.
type frameSink interface {
	Send(env quicklook.Envelope) error
}

// RunGenerate executes one generate-stage task under generateMu, streaming
// progress and per-CCD results to sink as each CCD finishes.
func (e *Engine) RunGenerate(ctx context.Context, task quicklook.GenerateTask, sink frameSink) error {
	e.generateMu.Lock()
	defer e.generateMu.Unlock()

	visit := string(task.Visit)

	if err := e.Store.Seed(visit, task.CcdNames); err != nil {
		return fmt.Errorf("seed local store: %w", err)
	}

	byTile := make(map[quicklook.TileId][]byte)

	downloaded, preprocessed, tileBuilt := 0, 0, 0

	for _, ccdName := range task.CcdNames {
		tiles, err := e.Builder.Build(ctx, task.Visit, ccdName, func(stage tilebuilder.Stage) {
			switch stage {
			case tilebuilder.StageDownloaded:
				downloaded++
			case tilebuilder.StagePreprocessed:
				preprocessed++
			case tilebuilder.StageTileBuilt:
				tileBuilt++
			}

			_ = sink.Send(quicklook.ProgressEnvelope(quicklook.MessageKindGenerateProgress, quicklook.ProgressPayload{
				Worker: task.Generator.String(), Downloaded: downloaded, Preprocess: preprocessed, TileBuild: tileBuilt,
			}))
		})
		if err != nil {
			return fmt.Errorf("build ccd %s: %w", ccdName, err)
		}

		var byteCount int64

		for tile, arr := range tiles {
			byTile[tile] = tilebuilder.SumArrays([][]byte{byTile[tile], arr})
			byteCount += int64(len(arr))
		}

		if err := sink.Send(quicklook.ResultEnvelope(quicklook.CcdMeta{
			CcdName: ccdName, Worker: task.Generator.String(), TileCount: len(tiles), Bytes: byteCount,
		})); err != nil {
			return fmt.Errorf("send ccd result: %w", err)
		}
	}

	if err := e.writeRawTiles(visit, byTile); err != nil {
		return err
	}

	return sink.Send(quicklook.TerminatorEnvelope())
}

func (e *Engine) writeRawTiles(visit string, byTile map[quicklook.TileId][]byte) error {
	for tile, arr := range byTile {
		if err := writeTileFile(rawTilePath(e.Store, visit, tile), arr); err != nil {
			return fmt.Errorf("write raw tile %s: %w", tile, err)
		}
	}

	return nil
}

// RunMerge executes one merge-stage task under mergeMu: for every raw tile
// this worker holds where it is the deterministic primary, it pulls peer
// copies and sums them.
func (e *Engine) RunMerge(ctx context.Context, task quicklook.MergeTask, sink frameSink) error {
	e.mergeMu.Lock()
	defer e.mergeMu.Unlock()

	visit := string(task.Visit)

	tiles, err := listRawTiles(e.Store, visit)
	if err != nil {
		return fmt.Errorf("list raw tiles: %w", err)
	}

	total := len(tiles)
	done := 0

	for _, tile := range tiles {
		primary, workers, routeErr := e.Router.Route(task.CcdGeneratorMap, tile)
		if routeErr != nil {
			// No overlapping generators: skipped silently at this boundary.
			done++

			continue
		}

		if primary != task.Generator {
			done++

			continue
		}

		own, readErr := readTileFile(rawTilePath(e.Store, visit, tile))
		if readErr != nil {
			return fmt.Errorf("read own raw tile %s: %w", tile, readErr)
		}

		arrays := [][]byte{own}

		for _, peer := range workers {
			if peer == task.Generator {
				continue
			}

			peerArr, pullErr := e.Peers.GetRawTile(ctx, peer, task.Visit, tile)
			if pullErr != nil {
				e.Logger.WarnContext(ctx, "workerapi.merge_pull_failed",
					"visit", visit, "tile", tile.String(), "peer", peer.String(), "error", pullErr)

				continue
			}

			if peerArr != nil {
				arrays = append(arrays, peerArr)
			}
		}

		merged := tilebuilder.SumArrays(arrays)

		compressed, compressErr := tilebuilder.CompressMerged(merged)
		if compressErr != nil {
			return fmt.Errorf("compress merged tile %s: %w", tile, compressErr)
		}

		if writeErr := writeTileFile(mergedTilePath(e.Store, visit, tile), compressed); writeErr != nil {
			return fmt.Errorf("write merged tile %s: %w", tile, writeErr)
		}

		done++

		if sendErr := sink.Send(quicklook.ProgressEnvelope(quicklook.MessageKindMergeProgress, quicklook.ProgressPayload{
			Worker: task.Generator.String(), Done: done, Total: total,
		})); sendErr != nil {
			return fmt.Errorf("send merge progress: %w", sendErr)
		}
	}

	return sink.Send(quicklook.TerminatorEnvelope())
}

// RunTransfer executes one transfer-stage task under transferMu: it
// enumerates the packed blocks this worker is primary for, assembles each
// block's constituent merged tiles (local or pulled from the actual
// primary), and uploads the block.
func (e *Engine) RunTransfer(ctx context.Context, task quicklook.TransferTask, sink frameSink) error {
	e.transferMu.Lock()
	defer e.transferMu.Unlock()

	visit := string(task.Visit)

	blocks := e.packedBlocksOwnedBy(task)

	total := len(blocks)
	done := 0

	for packed, members := range blocks {
		blobs := make([][]byte, 0, len(members))

		for _, tile := range members {
			blob, fetchErr := e.fetchMergedTile(ctx, task, tile)
			if fetchErr != nil {
				e.Logger.WarnContext(ctx, "workerapi.transfer_fetch_failed",
					"visit", visit, "tile", tile.String(), "error", fetchErr)
				blobs = append(blobs, nil)

				continue
			}

			blobs = append(blobs, blob)
		}

		if uploadErr := e.Objects.PutPackedTile(ctx, task.Visit, packed, blobs); uploadErr != nil {
			return fmt.Errorf("%w: upload packed tile %s: %w", quicklook.ErrObjectStoreError, packed, uploadErr)
		}

		done++

		if sendErr := sink.Send(quicklook.ProgressEnvelope(quicklook.MessageKindTransferProgress, quicklook.ProgressPayload{
			Worker: task.Generator.String(), Done: done, Total: total,
		})); sendErr != nil {
			return fmt.Errorf("send transfer progress: %w", sendErr)
		}
	}

	return sink.Send(quicklook.TerminatorEnvelope())
}

// packedBlocksOwnedBy groups the worker's full tile universe into packed
// blocks, keeping only blocks that contain at least one tile this worker is
// primary for, and returns all member tiles of those blocks (so a block's
// sub-tiles owned by other workers are still pulled in).
func (e *Engine) packedBlocksOwnedBy(task quicklook.TransferTask) map[quicklook.PackedTileId][]quicklook.TileId {
	byBlock := make(map[quicklook.PackedTileId][]quicklook.TileId)
	owned := make(map[quicklook.PackedTileId]bool)

	for _, tile := range e.TileUniverse {
		packed := quicklook.PackTileId(tile, e.PackExponent)
		byBlock[packed] = append(byBlock[packed], tile)

		primary, _, err := e.Router.Route(task.CcdGeneratorMap, tile)
		if err == nil && primary == task.Generator {
			owned[packed] = true
		}
	}

	out := make(map[quicklook.PackedTileId][]quicklook.TileId)

	for packed := range byBlock {
		if owned[packed] {
			out[packed] = quicklook.PackedBlockMembers(e.TileUniverse, e.PackExponent, packed)
		}
	}

	return out
}

// fetchMergedTile returns tile's merged array, reading it locally if this
// worker is primary for it, otherwise pulling it from the actual primary.
func (e *Engine) fetchMergedTile(ctx context.Context, task quicklook.TransferTask, tile quicklook.TileId) ([]byte, error) {
	primary, _, err := e.Router.Route(task.CcdGeneratorMap, tile)
	if err != nil {
		return nil, nil //nolint:nilnil // no overlapping generators: packed slot stays null.
	}

	if primary == task.Generator {
		compressed, readErr := readTileFile(mergedTilePath(e.Store, string(task.Visit), tile))
		if readErr != nil {
			return nil, fmt.Errorf("read local merged tile: %w", readErr)
		}

		return tilebuilder.DecompressMerged(compressed)
	}

	return e.Peers.GetMergedTile(ctx, primary, task.Visit, tile)
}

// DeleteVisit selectively removes raw and/or merged local state for one
// visit. Requesting both removes every trace of the visit (including its
// metadata file, so SweepOrphans never finds a stale entry); requesting one
// alone leaves the other kind, and the metadata, in place.
func (e *Engine) DeleteVisit(visit string, tmp, merged bool) error {
	if tmp && merged {
		if err := e.Store.ClearVisit(visit); err != nil {
			return fmt.Errorf("clear visit: %w", err)
		}

		return nil
	}

	if tmp {
		if err := e.Store.ClearRaw(visit); err != nil {
			return fmt.Errorf("clear raw: %w", err)
		}
	}

	if merged {
		if err := e.Store.ClearMerged(visit); err != nil {
			return fmt.Errorf("clear merged: %w", err)
		}
	}

	return nil
}

// DeleteAll wipes every visit's local state.
func (e *Engine) DeleteAll() error {
	if err := e.Store.ClearAll(); err != nil {
		return fmt.Errorf("clear all: %w", err)
	}

	return nil
}

// ReadRawTile returns the raw per-worker tile bytes for one tile, or an
// os.ErrNotExist-wrapping error if absent.
func (e *Engine) ReadRawTile(visit string, tile quicklook.TileId) ([]byte, error) {
	return readTileFile(rawTilePath(e.Store, visit, tile))
}

// ReadMergedTile returns the compressed merged tile bytes for one tile.
func (e *Engine) ReadMergedTile(visit string, tile quicklook.TileId) ([]byte, error) {
	return readTileFile(mergedTilePath(e.Store, visit, tile))
}
