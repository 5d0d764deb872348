package workerapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/skyquick/quicklook/internal/quicklook"
)

// httpFrameSink adapts an http.ResponseWriter into a frameSink: every Send
// writes one length-prefixed frame and flushes immediately so the
// coordinator observes progress as it happens.
type httpFrameSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newHTTPFrameSink(w http.ResponseWriter) httpFrameSink {
	flusher, _ := w.(http.Flusher)

	return httpFrameSink{w: w, flusher: flusher}
}

// Send implements frameSink.
func (s httpFrameSink) Send(env quicklook.Envelope) error {
	if err := quicklook.WriteFrame(s.w, env); err != nil {
		return err //nolint:wrapcheck // WriteFrame already describes the failure.
	}

	if s.flusher != nil {
		s.flusher.Flush()
	}

	return nil
}

// NewRouter builds the chi mux for the worker HTTP surface (C11).
func NewRouter(engine *Engine, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Post("/quicklooks", handleGenerate(engine, logger))
	r.Post("/quicklooks/merge", handleMerge(engine, logger))
	r.Post("/quicklooks/transfer", handleTransfer(engine, logger))
	r.Get("/quicklooks/{visit}/tiles/{z}/{y}/{x}", handleReadTile(engine, false))
	r.Get("/quicklooks/{visit}/merged-tiles/{z}/{y}/{x}", handleReadTile(engine, true))
	r.Delete("/quicklooks/*", handleDeleteAll(engine, logger))
	r.Delete("/quicklooks/{visit}", handleDeleteVisit(engine, logger))

	return r
}

func handleGenerate(engine *Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var task quicklook.GenerateTask

		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			http.Error(w, "decode task: "+err.Error(), http.StatusBadRequest)

			return
		}

		w.WriteHeader(http.StatusOK)

		sink := newHTTPFrameSink(w)

		if err := engine.RunGenerate(r.Context(), task, sink); err != nil {
			logger.ErrorContext(r.Context(), "workerapi.generate_failed", "visit", string(task.Visit), "error", err)
			_ = sink.Send(quicklook.ErrorEnvelope(err.Error()))
		}
	}
}

func handleMerge(engine *Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var task quicklook.MergeTask

		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			http.Error(w, "decode task: "+err.Error(), http.StatusBadRequest)

			return
		}

		w.WriteHeader(http.StatusOK)

		sink := newHTTPFrameSink(w)

		if err := engine.RunMerge(r.Context(), task, sink); err != nil {
			logger.ErrorContext(r.Context(), "workerapi.merge_failed", "visit", string(task.Visit), "error", err)
			_ = sink.Send(quicklook.ErrorEnvelope(err.Error()))
		}
	}
}

func handleTransfer(engine *Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var task quicklook.TransferTask

		if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
			http.Error(w, "decode task: "+err.Error(), http.StatusBadRequest)

			return
		}

		w.WriteHeader(http.StatusOK)

		sink := newHTTPFrameSink(w)

		if err := engine.RunTransfer(r.Context(), task, sink); err != nil {
			logger.ErrorContext(r.Context(), "workerapi.transfer_failed", "visit", string(task.Visit), "error", err)
			_ = sink.Send(quicklook.ErrorEnvelope(err.Error()))
		}
	}
}

func handleReadTile(engine *Engine, merged bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		visit := chi.URLParam(r, "visit")

		tile, ok := parseTileParams(r)
		if !ok {
			http.Error(w, "invalid tile coordinates", http.StatusBadRequest)

			return
		}

		var (
			data []byte
			err  error
		)

		if merged {
			data, err = engine.ReadMergedTile(visit, tile)
		} else {
			data, err = engine.ReadRawTile(visit, tile)
		}

		if err != nil {
			http.NotFound(w, r)

			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)
	}
}

func handleDeleteVisit(engine *Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		visit := chi.URLParam(r, "visit")
		tmp := r.URL.Query().Get("tmp") == "true"
		merged := r.URL.Query().Get("merged") == "true"

		if err := engine.DeleteVisit(visit, tmp, merged); err != nil {
			logger.WarnContext(r.Context(), "workerapi.delete_visit_failed", "visit", visit, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func handleDeleteAll(engine *Engine, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := engine.DeleteAll(); err != nil {
			logger.WarnContext(r.Context(), "workerapi.delete_all_failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func parseTileParams(r *http.Request) (quicklook.TileId, bool) {
	level, err1 := strconv.Atoi(chi.URLParam(r, "z"))
	i, err2 := strconv.Atoi(chi.URLParam(r, "y"))
	j, err3 := strconv.Atoi(chi.URLParam(r, "x"))

	if err1 != nil || err2 != nil || err3 != nil {
		return quicklook.TileId{}, false
	}

	return quicklook.TileId{Level: level, I: i, J: j}, true
}
