package comparisonapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/insightops/modelgate/comparison"
	"github.com/insightops/modelgate/inference"
	"github.com/insightops/modelgate/registry"
)

// maxRequestBodySize limits POST body sizes. Runs may carry inline
// samples, so this is larger than the usual API body cap.
const maxRequestBodySize = 8 << 20 // 8 MB

// RegisterHTTPHandlers registers comparison run HTTP handlers under the
// given prefix. Handlers are registered as:
//
//	POST <prefix>/runs
//	GET  <prefix>/runs
//	GET  <prefix>/runs/{id}
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc("POST "+prefix+"/runs", c.handleStartRun)
	mux.HandleFunc("GET "+prefix+"/runs", c.handleListRuns)
	mux.HandleFunc("GET "+prefix+"/runs/{id}", c.handleGetRun)
}

// RunRequest is the body for POST /runs. BaselineVersion zero means the
// current production version. Samples are optional; the configured sample
// file is used when absent.
type RunRequest struct {
	ModelName        string             `json:"model_name"`
	BaselineVersion  int                `json:"baseline_version,omitempty"`
	CandidateVersion int                `json:"candidate_version"`
	Samples          []inference.Sample `json:"samples,omitempty"`
}

func (c *Component) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ModelName == "" {
		writeError(w, http.StatusBadRequest, "model_name is required")
		return
	}
	if req.CandidateVersion < 1 {
		writeError(w, http.StatusBadRequest, "candidate_version is required")
		return
	}

	report, err := c.StartRun(r.Context(), req.ModelName, req.BaselineVersion, req.CandidateVersion, req.Samples)
	if err != nil {
		writeComparisonError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, report)
}

func (c *Component) handleListRuns(w http.ResponseWriter, r *http.Request) {
	store := c.Reports()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "comparison api not started")
		return
	}

	reports, err := store.List(r.Context(), r.URL.Query().Get("model"))
	if err != nil {
		writeComparisonError(w, err)
		return
	}
	if reports == nil {
		reports = []*comparison.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (c *Component) handleGetRun(w http.ResponseWriter, r *http.Request) {
	store := c.Reports()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "comparison api not started")
		return
	}

	report, err := store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeComparisonError(w, err)
		return
	}

	// A run still in flight answers 202 so pollers can tell
	// "not done yet" from a completed report.
	status := http.StatusOK
	if report.Status == comparison.StatusRunning {
		status = http.StatusAccepted
	}
	writeJSON(w, status, report)
}

// writeComparisonError maps run and registry errors onto HTTP status codes.
func writeComparisonError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, comparison.ErrReportNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
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
