package safetyguard

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/insightops/modelgate/guard"
)

// RegisterHTTPHandlers registers adaptation state HTTP handlers under the
// given prefix. Handlers are registered as:
//
//	GET <prefix>/adaptation
//	GET <prefix>/adaptation/journal
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc("GET "+prefix+"/adaptation", c.handleGetState)
	mux.HandleFunc("GET "+prefix+"/adaptation/journal", c.handleJournal)
}

func (c *Component) handleGetState(w http.ResponseWriter, _ *http.Request) {
	controller := c.Controller()
	if controller == nil {
		writeError(w, http.StatusServiceUnavailable, "safety guard not started")
		return
	}
	writeJSON(w, http.StatusOK, controller.State())
}

func (c *Component) handleJournal(w http.ResponseWriter, r *http.Request) {
	journal := c.Journal()
	if journal == nil {
		writeError(w, http.StatusServiceUnavailable, "safety guard not started")
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339: "+err.Error())
			return
		}
		since = parsed
	}

	transitions, err := journal.ListSince(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if transitions == nil {
		transitions = []guard.Transition{}
	}
	writeJSON(w, http.StatusOK, transitions)
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
