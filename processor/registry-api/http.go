package registryapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/insightops/modelgate/registry"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// RegisterHTTPHandlers registers all registry-api HTTP handlers under the
// given prefix. The prefix should be the path segment without a trailing
// slash (e.g. "api/registry"). Handlers are registered as:
//
//	POST <prefix>/models
//	GET  <prefix>/models
//	GET  <prefix>/models/{name}
//	GET  <prefix>/models/{name}/production
//	GET  <prefix>/models/{name}/versions/{version}
//	PUT  <prefix>/models/{name}/versions/{version}/transition
//	PUT  <prefix>/models/{name}/versions/{version}/weight
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc("POST "+prefix+"/models", c.handleRegister)
	mux.HandleFunc("GET "+prefix+"/models", c.handleList)
	mux.HandleFunc("GET "+prefix+"/models/{name}", c.handleListModel)
	mux.HandleFunc("GET "+prefix+"/models/{name}/production", c.handleGetProduction)
	mux.HandleFunc("GET "+prefix+"/models/{name}/versions/{version}", c.handleGetVersion)
	mux.HandleFunc("PUT "+prefix+"/models/{name}/versions/{version}/transition", c.handleTransition)
	mux.HandleFunc("PUT "+prefix+"/models/{name}/versions/{version}/weight", c.handleSetWeight)
}

// RegisterRequest is the body for POST /models.
type RegisterRequest struct {
	ModelName   string             `json:"model_name"`
	Version     int                `json:"version,omitempty"`
	ArtifactRef string             `json:"artifact_ref"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// TransitionRequest is the body for PUT .../transition.
type TransitionRequest struct {
	TargetState string `json:"target_state"`
	Reason      string `json:"reason,omitempty"`
}

// WeightRequest is the body for PUT .../weight.
type WeightRequest struct {
	Weight int `json:"weight"`
}

func (c *Component) handleRegister(w http.ResponseWriter, r *http.Request) {
	client := c.Registry()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not started")
		return
	}

	var req RegisterRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ModelName == "" {
		writeError(w, http.StatusBadRequest, "model_name is required")
		return
	}
	if req.ArtifactRef == "" {
		writeError(w, http.StatusBadRequest, "artifact_ref is required")
		return
	}
	if req.Version < 0 {
		writeError(w, http.StatusBadRequest, "version must be >= 0")
		return
	}

	mv, err := client.Register(r.Context(), req.ModelName, req.ArtifactRef, req.Version, req.Metrics)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, mv)
}

func (c *Component) handleList(w http.ResponseWriter, r *http.Request) {
	client := c.Registry()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not started")
		return
	}

	versions, err := client.List(r.Context(), "")
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if versions == nil {
		versions = []*registry.ModelVersion{}
	}
	writeJSON(w, http.StatusOK, versions)
}

func (c *Component) handleListModel(w http.ResponseWriter, r *http.Request) {
	client := c.Registry()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not started")
		return
	}

	name := r.PathValue("name")
	versions, err := client.List(r.Context(), name)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	if len(versions) == 0 {
		writeError(w, http.StatusNotFound, "model "+name+" not found")
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (c *Component) handleGetProduction(w http.ResponseWriter, r *http.Request) {
	client := c.Registry()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not started")
		return
	}

	mv, err := client.GetProduction(r.Context(), r.PathValue("name"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

func (c *Component) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	client := c.Registry()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not started")
		return
	}

	version, ok := parseVersion(w, r)
	if !ok {
		return
	}

	mv, err := client.Get(r.Context(), r.PathValue("name"), version)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

func (c *Component) handleTransition(w http.ResponseWriter, r *http.Request) {
	client := c.Registry()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not started")
		return
	}

	version, ok := parseVersion(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	target := registry.State(req.TargetState)
	if !target.Valid() {
		writeError(w, http.StatusBadRequest, "unknown target_state "+req.TargetState)
		return
	}

	mv, err := client.Transition(r.Context(), r.PathValue("name"), version, target, req.Reason)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

func (c *Component) handleSetWeight(w http.ResponseWriter, r *http.Request) {
	client := c.Registry()
	if client == nil {
		writeError(w, http.StatusServiceUnavailable, "registry not started")
		return
	}

	version, ok := parseVersion(w, r)
	if !ok {
		return
	}

	var req WeightRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Weight < 0 || req.Weight > 100 {
		writeError(w, http.StatusBadRequest, "weight must be 0-100")
		return
	}

	mv, err := client.SetCanaryWeight(r.Context(), r.PathValue("name"), version, req.Weight)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, mv)
}

func parseVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "invalid version "+r.PathValue("version"))
		return 0, false
	}
	return version, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeRegistryError maps registry errors onto HTTP status codes.
func writeRegistryError(w http.ResponseWriter, err error) {
	var transitionErr *registry.TransitionError
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrDuplicateVersion):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &transitionErr), errors.Is(err, registry.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, registry.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
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
