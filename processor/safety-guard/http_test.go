package safetyguard

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/insightops/modelgate/guard"
	"github.com/insightops/modelgate/metricsource"
)

// stubSource serves fixed scalar values per query.
type stubSource struct {
	values map[string]float64
}

func (s *stubSource) QueryScalar(_ context.Context, query string) (float64, error) {
	return s.values[query], nil
}

func (s *stubSource) FetchEmbeddings(context.Context, metricsource.Window, string) ([][]float64, error) {
	return nil, nil
}

func setupGuard(t *testing.T, source metricsource.Source, rules []guard.Rule) *Component {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	journal, err := guard.NewJournal(db)
	if err != nil {
		t.Fatalf("create journal: %v", err)
	}

	controller, err := guard.NewController(source, rules, guard.ControllerConfig{
		PollInterval: time.Second,
		Cooldown:     time.Minute,
	}, nil, journal, slog.Default())
	if err != nil {
		t.Fatalf("create controller: %v", err)
	}

	cfg := DefaultConfig()
	cfg.PrometheusURL = "http://localhost:9091"
	return &Component{
		name:       "safety-guard",
		config:     cfg,
		logger:     slog.Default(),
		source:     source,
		controller: controller,
		journal:    journal,
		db:         db,
		running:    true,
	}
}

func testRules() []guard.Rule {
	return []guard.Rule{
		{Name: "latency-degraded", Query: "latency_p95", Operator: guard.OpGreaterThan, Threshold: 0.5, Level: guard.LevelDegraded},
		{Name: "errors-critical", Query: "error_rate", Operator: guard.OpGreaterThan, Threshold: 0.2, Level: guard.LevelCritical},
	}
}

func TestHandleGetState(t *testing.T) {
	source := &stubSource{values: map[string]float64{"latency_p95": 0.9, "error_rate": 0.0}}
	c := setupGuard(t, source, testRules())

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/guard", mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	// Initial state is NORMAL.
	resp, err := http.Get(srv.URL + "/api/guard/adaptation")
	if err != nil {
		t.Fatalf("GET adaptation: %v", err)
	}
	var state guard.State
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	resp.Body.Close()
	if state.Level != guard.LevelNormal {
		t.Errorf("expected NORMAL, got %s", state.Level)
	}

	// A breached rule escalates on the next tick.
	c.controller.Tick(context.Background())

	resp, err = http.Get(srv.URL + "/api/guard/adaptation")
	if err != nil {
		t.Fatalf("GET adaptation: %v", err)
	}
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	resp.Body.Close()
	if state.Level != guard.LevelDegraded {
		t.Errorf("expected DEGRADED, got %s", state.Level)
	}
	if state.TriggeredBy != "latency-degraded" {
		t.Errorf("expected trigger latency-degraded, got %s", state.TriggeredBy)
	}
}

func TestHandleJournal(t *testing.T) {
	source := &stubSource{values: map[string]float64{"latency_p95": 0.9}}
	c := setupGuard(t, source, testRules())
	c.controller.Tick(context.Background())

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/guard", mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/guard/adaptation/journal")
	if err != nil {
		t.Fatalf("GET journal: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var transitions []guard.Transition
	if err := json.NewDecoder(resp.Body).Decode(&transitions); err != nil {
		t.Fatalf("decode journal: %v", err)
	}
	if len(transitions) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(transitions))
	}
	if transitions[0].To != guard.LevelDegraded {
		t.Errorf("expected transition to DEGRADED, got %s", transitions[0].To)
	}

	// Future since excludes it.
	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	resp, err = http.Get(srv.URL + "/api/guard/adaptation/journal?since=" + future)
	if err != nil {
		t.Fatalf("GET journal: %v", err)
	}
	defer resp.Body.Close()
	transitions = nil
	if err := json.NewDecoder(resp.Body).Decode(&transitions); err != nil {
		t.Fatalf("decode journal: %v", err)
	}
	if len(transitions) != 0 {
		t.Errorf("expected no transitions since %s, got %d", future, len(transitions))
	}
}

func TestHandleJournal_BadSince(t *testing.T) {
	c := setupGuard(t, &stubSource{}, nil)

	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/guard", mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/guard/adaptation/journal?since=yesterday")
	if err != nil {
		t.Fatalf("GET journal: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing prometheus url", func(c *Config) { c.PrometheusURL = "" }, true},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }, true},
		{"zero cooldown", func(c *Config) { c.Cooldown = 0 }, true},
		{"missing journal path", func(c *Config) { c.JournalPath = "" }, true},
		{"invalid rule", func(c *Config) {
			c.Rules = []guard.Rule{{Name: "bad", Operator: "between"}}
		}, true},
		{"fallback keyed by NORMAL", func(c *Config) {
			c.Fallbacks = map[guard.Level]map[string]string{guard.LevelNormal: {"m": "m-lite"}}
		}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.PrometheusURL = "http://localhost:9091"
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}
