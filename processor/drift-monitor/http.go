package driftmonitor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/insightops/modelgate/drift"
	"github.com/insightops/modelgate/metricsource"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// webhookTimeout bounds the retraining webhook call.
const webhookTimeout = 10 * time.Second

// ActionRetrainingTriggered is the alert resolution that fires the
// retraining webhook.
const ActionRetrainingTriggered = "retraining_triggered"

// RegisterHTTPHandlers registers drift alert HTTP handlers under the given
// prefix. Handlers are registered as:
//
//	POST <prefix>/check
//	GET  <prefix>/alerts
//	GET  <prefix>/alerts/{model}/{id}
//	POST <prefix>/alerts/{model}/{id}/action
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc("POST "+prefix+"/check", c.handleCheck)
	mux.HandleFunc("GET "+prefix+"/alerts", c.handleListAlerts)
	mux.HandleFunc("GET "+prefix+"/alerts/{model}/{id}", c.handleGetAlert)
	mux.HandleFunc("POST "+prefix+"/alerts/{model}/{id}/action", c.handleActionAlert)
}

// CheckRequest is the body for POST .../check. Filter and Threshold
// default to the configured monitor for the model, when one exists.
// ReferenceWindow and ComparisonWindow override the monitor's rolling
// windows; supplied together or not at all.
type CheckRequest struct {
	Model            string               `json:"model"`
	Filter           string               `json:"filter,omitempty"`
	Threshold        float64              `json:"threshold,omitempty"`
	ReferenceWindow  *metricsource.Window `json:"reference_window,omitempty"`
	ComparisonWindow *metricsource.Window `json:"comparison_window,omitempty"`
}

// CheckResponse reports one on-demand drift evaluation.
type CheckResponse struct {
	Model    string       `json:"model"`
	Result   drift.Result `json:"result"`
	Breached bool         `json:"breached"`
}

// handleCheck runs an immediate drift check for one model. On-demand
// checks never feed the breach tracker or record events.
func (c *Component) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if (req.ReferenceWindow == nil) != (req.ComparisonWindow == nil) {
		writeError(w, http.StatusBadRequest, "reference_window and comparison_window must be supplied together")
		return
	}
	if req.ReferenceWindow != nil {
		if err := req.ReferenceWindow.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "reference_window: "+err.Error())
			return
		}
		if err := req.ComparisonWindow.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, "comparison_window: "+err.Error())
			return
		}
	}

	monitor := MonitorConfig{Model: req.Model, Filter: req.Filter, Threshold: req.Threshold}
	c.mu.RLock()
	for _, m := range c.config.Monitors {
		if m.Model == req.Model {
			if monitor.Filter == "" {
				monitor.Filter = m.Filter
			}
			if monitor.Threshold == 0 {
				monitor.Threshold = m.Threshold
			}
			break
		}
	}
	c.mu.RUnlock()

	var (
		result drift.Result
		err    error
	)
	if req.ReferenceWindow != nil {
		result, _, err = c.computeWindows(r.Context(), monitor, *req.ReferenceWindow, *req.ComparisonWindow)
	} else {
		result, _, err = c.compute(r.Context(), monitor, time.Now())
	}
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	breached := result.Status == drift.StatusComputed &&
		monitor.Threshold > 0 &&
		result.Score > monitor.Threshold

	writeJSON(w, http.StatusOK, CheckResponse{
		Model:    req.Model,
		Result:   result,
		Breached: breached,
	})
}

// ActionRequest is the body for POST .../action.
type ActionRequest struct {
	Action string `json:"action"`
}

func (c *Component) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	store := c.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "drift monitor not started")
		return
	}

	model := r.URL.Query().Get("model")
	status := r.URL.Query().Get("status")

	events, err := store.List(r.Context(), model, status)
	if err != nil {
		writeDriftError(w, err)
		return
	}
	if events == nil {
		events = []*drift.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (c *Component) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	store := c.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "drift monitor not started")
		return
	}

	event, err := store.Get(r.Context(), r.PathValue("model"), r.PathValue("id"))
	if err != nil {
		writeDriftError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (c *Component) handleActionAlert(w http.ResponseWriter, r *http.Request) {
	store := c.Store()
	if store == nil {
		writeError(w, http.StatusServiceUnavailable, "drift monitor not started")
		return
	}

	var req ActionRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	event, err := store.Action(r.Context(), r.PathValue("model"), r.PathValue("id"), req.Action)
	if err != nil {
		writeDriftError(w, err)
		return
	}

	if req.Action == ActionRetrainingTriggered && c.config.RetrainingWebhook != "" {
		go c.callRetrainingWebhook(event)
	}

	writeJSON(w, http.StatusOK, event)
}

// callRetrainingWebhook notifies the external retraining pipeline. Failures
// are logged only; the alert resolution is already recorded.
func (c *Component) callRetrainingWebhook(event *drift.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		c.logger.Warn("Failed to marshal retraining payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.RetrainingWebhook, bytes.NewReader(body))
	if err != nil {
		c.logger.Warn("Failed to build retraining request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		c.logger.Warn("Retraining webhook failed",
			"model", event.ModelName,
			"event_id", event.ID,
			"error", err)
		return
	}
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("Retraining webhook rejected",
			"model", event.ModelName,
			"event_id", event.ID,
			"status", resp.StatusCode)
		return
	}

	c.logger.Info("Retraining triggered",
		"model", event.ModelName,
		"event_id", event.ID)
}

// writeDriftError maps drift store errors onto HTTP status codes.
func writeDriftError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, drift.ErrEventNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, drift.ErrEventActioned):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, drift.ErrConcurrentModification):
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
