package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/insightops/modelgate/router"
)

// RouteHandler exposes routing decisions over HTTP and feeds request
// outcomes back into health tracking.
type RouteHandler struct {
	router *router.Router

	requests *prometheus.CounterVec
	misses   *prometheus.CounterVec
}

// NewRouteHandler creates a handler and registers its metrics. reg may be
// nil when metrics are disabled.
func NewRouteHandler(rt *router.Router, reg prometheus.Registerer) *RouteHandler {
	h := &RouteHandler{
		router: rt,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_route_requests_total",
			Help: "Routing decisions by model, version, and lifecycle state.",
		}, []string{"model", "version", "state"}),
		misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "modelgate_route_misses_total",
			Help: "Routing requests that could not be served, by reason.",
		}, []string{"model", "reason"}),
	}
	if reg != nil {
		reg.MustRegister(h.requests, h.misses)
	}
	return h
}

// RegisterHTTPHandlers registers routing handlers under the given prefix.
// Handlers are registered as:
//
//	GET  <prefix>/route/{model}
//	POST <prefix>/route/{model}/outcome
func (h *RouteHandler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc("GET "+prefix+"/route/{model}", h.handleRoute)
	mux.HandleFunc("POST "+prefix+"/route/{model}/outcome", h.handleOutcome)
}

// OutcomeRequest is the body for POST .../outcome.
type OutcomeRequest struct {
	Version int  `json:"version"`
	Success bool `json:"success"`
}

func (h *RouteHandler) handleRoute(w http.ResponseWriter, r *http.Request) {
	model := r.PathValue("model")
	target, err := h.router.Route(model, r.URL.Query().Get("key"))
	if err != nil {
		switch {
		case errors.Is(err, router.ErrUnknownModel):
			h.misses.WithLabelValues(model, "unknown_model").Inc()
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, router.ErrNoHealthyTarget):
			h.misses.WithLabelValues(model, "no_healthy_target").Inc()
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	h.requests.WithLabelValues(target.ModelName, versionLabel(target.Version), string(target.State)).Inc()
	writeJSON(w, http.StatusOK, target)
}

func (h *RouteHandler) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req OutcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Version < 1 {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	h.router.Record(&router.Target{ModelName: r.PathValue("model"), Version: req.Version}, req.Success)
	w.WriteHeader(http.StatusNoContent)
}

func versionLabel(v int) string {
	return strconv.Itoa(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; log and move on.
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
