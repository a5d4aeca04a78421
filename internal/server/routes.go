package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/strefethen/sonos-bridge-go/internal/api"
	"github.com/strefethen/sonos-bridge-go/internal/apperrors"
	"github.com/strefethen/sonos-bridge-go/internal/artcache"
	"github.com/strefethen/sonos-bridge-go/internal/auth"
	"github.com/strefethen/sonos-bridge-go/internal/bridge"
	"github.com/strefethen/sonos-bridge-go/internal/controller"
	"github.com/strefethen/sonos-bridge-go/internal/directory"
	"github.com/strefethen/sonos-bridge-go/internal/metrics"
	"github.com/strefethen/sonos-bridge-go/internal/projection"
	"github.com/strefethen/sonos-bridge-go/internal/scheduler"
	"github.com/strefethen/sonos-bridge-go/internal/state"
)

func init() {
	chi.RegisterMethod("NOTIFY")
}

// StatusProvider reports the poll loop status.
type StatusProvider interface {
	Status() bridge.Status
}

// Routes are the dependencies of the HTTP surface. Scheduler, Stream,
// Metrics and Notify are optional.
type Routes struct {
	Store      *state.Store
	Directory  *directory.Directory
	Controller *controller.Controller
	Art        *artcache.Cache
	Bridge     StatusProvider
	Scheduler  *scheduler.Service
	Stream     http.Handler
	Metrics    *metrics.Metrics
	Notify     http.Handler
	Auth       auth.Config
}

// RegisterRoutes wires the bridge routes to the router.
func RegisterRoutes(router chi.Router, routes Routes) {
	registerHealthRoutes(router, routes)

	if routes.Metrics != nil {
		router.Handle("/metrics", routes.Metrics.Handler())
	}
	if routes.Notify != nil {
		router.Method("NOTIFY", "/upnp/notify/{topic}", routes.Notify)
	}
	if routes.Stream != nil {
		router.Handle("/v1/events", routes.Stream)
	}

	router.Method(http.MethodGet, "/v1/devices", api.Handler(listDevices(routes)))
	router.Method(http.MethodGet, "/v1/devices/{id}", api.Handler(getDevice(routes)))
	router.Method(http.MethodGet, "/v1/state", api.Handler(getState(routes)))
	router.Method(http.MethodGet, "/v1/status", api.Handler(getStatus(routes)))
	router.Method(http.MethodGet, "/image/sonos/*", api.Handler(getImage(routes)))

	router.Group(func(protected chi.Router) {
		protected.Use(auth.Middleware(routes.Auth))
		protected.Method(http.MethodPost, "/v1/devices/{id}/actions/{action}", api.Handler(executeAction(routes)))
	})
}

func registerHealthRoutes(router chi.Router, routes Routes) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "sonos-bridge",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if routes.Bridge != nil {
			response["bridge"] = routes.Bridge.Status()
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		if routes.Bridge != nil && !routes.Bridge.Status().Connected {
			return api.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "connecting"})
		}
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}

func formatDevice(endpoint directory.Endpoint, tree map[string]any, registered func(string) bool) map[string]any {
	return map[string]any{
		"object":        "device",
		"id":            endpoint.ID,
		"uid":           endpoint.UID,
		"friendly_name": endpoint.FriendlyName,
		"description":   endpoint.Description,
		"manufacturer":  endpoint.Manufacturer,
		"category":      endpoint.Category,
		"ip_address":    endpoint.Address,
		"interfaces":    endpoint.Capabilities,
		"registered_at": timestamp(endpoint.RegisteredAt),
		"state":         projection.All(tree, endpoint.UID, registered),
	}
}

// listDevices handles GET /v1/devices
func listDevices(routes Routes) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		tree := routes.Store.Snapshot()
		endpoints := routes.Directory.List()
		devices := make([]map[string]any, 0, len(endpoints))
		for _, endpoint := range endpoints {
			devices = append(devices, formatDevice(endpoint, tree, routes.Directory.Registered))
		}
		return api.WriteList(w, "/v1/devices", devices, false)
	}
}

// getDevice handles GET /v1/devices/{id}
func getDevice(routes Routes) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "id")
		endpoint, ok := routes.Directory.Find(id)
		if !ok {
			return apperrors.NewNotFoundResource("device", id)
		}
		return api.WriteResource(w, http.StatusOK, formatDevice(endpoint, routes.Store.Snapshot(), routes.Directory.Registered))
	}
}

// executeAction handles POST /v1/devices/{id}/actions/{action}
func executeAction(routes Routes) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		id := chi.URLParam(r, "id")
		target := id
		if endpoint, ok := routes.Directory.Find(id); ok {
			target = endpoint.UID
		}

		payload := map[string]any{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
			return apperrors.NewValidationError("request body must be a JSON object", nil)
		}

		result := routes.Controller.Execute(r.Context(), controller.Command{
			Target:           target,
			Action:           controller.ParseAction(chi.URLParam(r, "action")),
			Payload:          payload,
			CorrelationToken: api.Correlation(r),
		})
		w.Header().Set(api.CorrelationHeader, result.CorrelationToken)
		if !result.OK() {
			return result.Err
		}

		return api.WriteAction(w, http.StatusOK, map[string]any{
			"object":            "device_action",
			"device_id":         directory.EndpointID(directory.UIDFromEndpoint(target)),
			"action":            result.Action,
			"executed_by":       directory.EndpointID(result.Executor),
			"correlation_token": result.CorrelationToken,
			"executed_at":       timestamp(time.Now()),
		})
	}
}

// getState handles GET /v1/state?path=player/<uid>/...
func getState(routes Routes) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		path := strings.Trim(r.URL.Query().Get("path"), "/")
		value, ok := routes.Store.Get(path)
		if !ok {
			return apperrors.NewNotFoundResource("state path", path)
		}
		return api.WriteResource(w, http.StatusOK, map[string]any{
			"object": "state",
			"path":   path,
			"value":  value,
		})
	}
}

// getStatus handles GET /v1/status
func getStatus(routes Routes) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"object":    "status",
			"endpoints": routes.Directory.Len(),
		}
		if routes.Bridge != nil {
			response["bridge"] = routes.Bridge.Status()
		}
		if routes.Scheduler != nil {
			response["jobs"] = routes.Scheduler.Jobs()
		}
		if routes.Art != nil {
			response["cached_images"] = routes.Art.Len()
		}
		return api.WriteResource(w, http.StatusOK, response)
	}
}

// getImage handles GET /image/sonos/{logo|lightlogo|darklogo} and
// GET /image/sonos/player/<uid>/<path>/album_art_uri?album=<album>. Other
// player fields are not served.
func getImage(routes Routes) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		path := strings.Trim(chi.URLParam(r, "*"), "/")

		var data []byte
		if strings.HasPrefix(path, "player/") {
			segments := state.SplitPath(path)
			if len(segments) < 3 || segments[len(segments)-1] != artField {
				return apperrors.NewNotFoundResource("image", path)
			}
			data = fetchArt(r, routes, path)
		} else {
			data, _ = routes.Art.Image(path)
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		_, err := w.Write(data)
		return err
	}
}

// artField is the only state field whose value may be fetched as an image.
const artField = "album_art_uri"

// fetchArt returns the art for a state path, downloading it when the album
// changed since the cached copy.
func fetchArt(r *http.Request, routes Routes, path string) []byte {
	tree := routes.Store.Snapshot()
	source := state.LookupString(tree, path)

	album := r.URL.Query().Get("album")
	if album == "" {
		parent := path[:strings.LastIndex(path, "/")]
		album = state.LookupString(tree, parent+"/album")
		if album == "" {
			album = state.LookupString(tree, parent+"/title")
		}
	}

	segments := state.SplitPath(path)
	address := state.LookupString(tree, "player/"+segments[1]+"/ip_address")

	data := routes.Art.Get(r.Context(), path, album, source, address)
	if routes.Metrics != nil {
		outcome := "hit"
		if source == "" {
			outcome = "missing"
		}
		routes.Metrics.ArtRequest(outcome)
	}
	return data
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
