// Package coordinatorapi implements the coordinator HTTP surface (C10):
// job submission, clearing, listing/status, the WebSocket event stream,
// worker self-registration, and the operational health endpoints. It
// depends on internal/quicklook but is never depended on by it, keeping the
// HTTP transport and WebSocket wiring out of the pipeline core.
package coordinatorapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/skyquick/quicklook/internal/observability"
	"github.com/skyquick/quicklook/internal/quicklook"
)

// Deps are the collaborators the coordinator HTTP surface is built from.
type Deps struct {
	Runner       *quicklook.Runner
	Sync         *quicklook.Synchronizer
	Registry     *quicklook.WorkerRegistry
	Records      quicklook.RecordStore
	Objects      quicklook.ObjectStore
	TileUniverse []quicklook.TileId
	PackExponent int
	Logger       *slog.Logger
	Ready        []observability.ReadyCheck
}

// NewRouter builds the chi mux for the coordinator HTTP surface (C10).
func NewRouter(deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}))

	r.Get("/healthz", observability.HealthHandler().ServeHTTP)
	r.Get("/ready", observability.ReadyHandler(deps.Ready...).ServeHTTP)
	r.Get("/pod_status", handlePodStatus(deps))

	r.Post("/quicklooks", handleCreate(deps))
	r.Delete("/quicklooks/*", handleClearAll(deps))
	r.Get("/quicklook-jobs", handleList(deps))
	r.Get("/quicklooks/{visit}/status", handleStatus(deps))
	r.Get("/api/quicklooks/{visit}/tiles/{z}/{y}/{x}", handleTileRead(deps))
	r.Get("/quicklook-jobs/events.ws", handleEvents(deps))

	r.Post("/register_generator", handleRegister(deps))
	r.Post("/housekeeping/run", handleHousekeepRun(deps))

	return r
}
