package coordinatorapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/skyquick/quicklook/internal/quicklook"
)

// splitRemoteHost splits an http.Request's RemoteAddr into host and
// ephemeral client port. Callers keep only the host: the generator
// registering itself reports its own listening port in the request body,
// which has nothing to do with the TCP source port the registration arrived
// on.
func splitRemoteHost(remoteAddr string) (string, string, error) {
	host, port, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return "", "", err //nolint:wrapcheck // net's error already names the malformed address.
	}

	return host, port, nil
}

// createRequest is the POST /quicklooks body.
type createRequest struct {
	Visit string `json:"visit"`
}

func handleCreate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createRequest

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "decode request: "+err.Error(), http.StatusBadRequest)

			return
		}

		err := deps.Runner.Submit(quicklook.Visit(req.Visit))
		if err != nil && !errors.Is(err, quicklook.ErrAlreadyQueued) {
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusAccepted)
	}
}

func handleClearAll(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Runner.ClearAll(r.Context()); err != nil {
			deps.Logger.ErrorContext(r.Context(), "coordinatorapi.clear_all_failed", "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// handleHousekeepRun triggers one housekeeping pass (C9) synchronously and
// reports completion, letting the operator CLI's "housekeep run" command
// show a result instead of only ever reading the next scheduled tick.
func handleHousekeepRun(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Runner.RunHousekeeping(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleList(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, deps.Sync.List())
	}
}

func handleStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		visit := quicklook.Visit(chi.URLParam(r, "visit"))

		report, ok := deps.Sync.Get(visit)
		if !ok {
			http.NotFound(w, r)

			return
		}

		writeJSON(w, http.StatusOK, report)
	}
}

func handleRegister(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Port int `json:"port"`
		}

		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "decode request: "+err.Error(), http.StatusBadRequest)

			return
		}

		host, _, err := splitRemoteHost(r.RemoteAddr)
		if err != nil {
			http.Error(w, "determine remote host: "+err.Error(), http.StatusBadRequest)

			return
		}

		deps.Registry.Register(quicklook.WorkerNode{Host: host, Port: req.Port})
		w.WriteHeader(http.StatusNoContent)
	}
}

func handlePodStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"jobs":    len(deps.Sync.List()),
			"workers": len(deps.Registry.Snapshot()),
		})
	}
}

// handleTileRead serves a published tile straight from the object store,
// without contacting any worker. It looks up the
// packed block the requested tile belongs to, then indexes into the
// deterministic member order to find this tile's blob.
func handleTileRead(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		visit := quicklook.Visit(chi.URLParam(r, "visit"))

		tile, ok := parseTileParams(r)
		if !ok {
			http.Error(w, "invalid tile coordinates", http.StatusBadRequest)

			return
		}

		packed := quicklook.PackTileId(tile, deps.PackExponent)
		members := quicklook.PackedBlockMembers(deps.TileUniverse, deps.PackExponent, packed)

		idx := indexOf(members, tile)
		if idx < 0 {
			http.NotFound(w, r)

			return
		}

		blobs, err := deps.Objects.GetPackedTile(r.Context(), visit, packed)
		if err != nil || idx >= len(blobs) || blobs[idx] == nil {
			http.NotFound(w, r)

			return
		}

		if report, ok := deps.Sync.Get(visit); ok {
			w.Header().Set("x-quicklook-phase", report.Phase.String())
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(blobs[idx])
	}
}

func indexOf(members []quicklook.TileId, target quicklook.TileId) int {
	for i, m := range members {
		if m == target {
			return i
		}
	}

	return -1
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

// upgrader allows any origin, matching the coordinator's permissive CORS
// policy for the frontend event stream.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades to a WebSocket and streams WatchEvents, one
// JSON-encoded event object per binary message: on connect, one "added"
// message per current job, then one message per subsequent event. Events
// are not wrapped in lists, and the on-connect replay is not batched into a
// single message.
func handleEvents(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			deps.Logger.WarnContext(r.Context(), "coordinatorapi.ws_upgrade_failed", "error", err)

			return
		}
		defer conn.Close()

		sub := deps.Sync.Subscribe()
		defer sub.Close()

		// Drain (and discard) client messages solely to detect disconnect.
		go func() {
			for {
				if _, _, readErr := conn.NextReader(); readErr != nil {
					sub.Close()

					return
				}
			}
		}()

		streamEvents(r, conn, sub, deps)
	}
}

func streamEvents(r *http.Request, conn *websocket.Conn, sub *quicklook.Subscription[quicklook.WatchEvent], deps Deps) {
	for ev := range sub.C() {
		if err := sendEvent(conn, ev); err != nil {
			deps.Logger.WarnContext(r.Context(), "coordinatorapi.ws_send_failed", "error", err)

			return
		}
	}
}

func sendEvent(conn *websocket.Conn, ev quicklook.WatchEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err //nolint:wrapcheck // json.Marshal failure on our own type is unexpected; caller logs it.
	}

	return conn.WriteMessage(websocket.BinaryMessage, data) //nolint:wrapcheck // gorilla's error already describes the failure.
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
