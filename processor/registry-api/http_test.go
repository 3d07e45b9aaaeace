package registryapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/insightops/modelgate/registry"
)

// memBucket is an in-memory registry.Bucket with revision semantics.
type memBucket struct {
	mu      sync.Mutex
	entries map[string]*memEntry
}

type memEntry struct {
	key      string
	value    []byte
	revision uint64
}

func (e *memEntry) Bucket() string                  { return registry.RegistryBucket }
func (e *memEntry) Key() string                     { return e.key }
func (e *memEntry) Value() []byte                   { return e.value }
func (e *memEntry) Revision() uint64                { return e.revision }
func (e *memEntry) Created() time.Time              { return time.Time{} }
func (e *memEntry) Delta() uint64                   { return 0 }
func (e *memEntry) Operation() jetstream.KeyValueOp { return jetstream.KeyValuePut }

func (b *memBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return &memEntry{key: entry.key, value: append([]byte(nil), entry.value...), revision: entry.revision}, nil
}

func (b *memBucket) Create(_ context.Context, key string, value []byte, _ ...jetstream.KVCreateOpt) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.entries[key]; ok {
		return 0, jetstream.ErrKeyExists
	}
	b.entries[key] = &memEntry{key: key, value: append([]byte(nil), value...), revision: 1}
	return 1, nil
}

func (b *memBucket) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[key]
	if !ok {
		return 0, jetstream.ErrKeyNotFound
	}
	if entry.revision != revision {
		return 0, jetstream.ErrKeyExists
	}
	entry.value = append([]byte(nil), value...)
	entry.revision++
	return entry.revision, nil
}

func (b *memBucket) Keys(_ context.Context, _ ...jetstream.WatchOpt) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.entries) == 0 {
		return nil, jetstream.ErrNoKeysFound
	}
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// setupTestComponent creates a Component wired to an in-memory registry.
func setupTestComponent(t *testing.T) *Component {
	t.Helper()
	service := registry.NewServiceWithBucket(&memBucket{entries: make(map[string]*memEntry)})
	c := &Component{
		name:    "registry-api",
		config:  DefaultConfig(),
		logger:  slog.Default(),
		service: service,
		client:  registry.NewClient(service, 3, slog.Default()),
	}
	return c
}

// registerHandlers wires the component's handlers into a fresh mux and returns a test server.
func registerHandlers(c *Component) *httptest.Server {
	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/registry", mux)
	return httptest.NewServer(mux)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	return resp
}

func putJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT %s: %v", url, err)
	}
	return resp
}

func decode(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHandleRegister(t *testing.T) {
	c := setupTestComponent(t)
	srv := registerHandlers(c)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/registry/models", RegisterRequest{
		ModelName:   "detector",
		ArtifactRef: "s3://models/detector/1",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	var mv registry.ModelVersion
	decode(t, resp, &mv)
	if mv.Version != 1 {
		t.Errorf("expected auto-assigned version 1, got %d", mv.Version)
	}
	if mv.State != registry.StateRegistered {
		t.Errorf("expected state REGISTERED, got %s", mv.State)
	}

	// Second registration auto-increments.
	resp = postJSON(t, srv.URL+"/api/registry/models", RegisterRequest{
		ModelName:   "detector",
		ArtifactRef: "s3://models/detector/2",
	})
	decode(t, resp, &mv)
	if mv.Version != 2 {
		t.Errorf("expected version 2, got %d", mv.Version)
	}
}

func TestHandleRegister_Validation(t *testing.T) {
	c := setupTestComponent(t)
	srv := registerHandlers(c)
	defer srv.Close()

	resp := postJSON(t, srv.URL+"/api/registry/models", RegisterRequest{ArtifactRef: "ref"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing model_name: expected 400, got %d", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/registry/models", RegisterRequest{ModelName: "detector"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing artifact_ref: expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleTransition(t *testing.T) {
	c := setupTestComponent(t)
	srv := registerHandlers(c)
	defer srv.Close()

	postJSON(t, srv.URL+"/api/registry/models", RegisterRequest{ModelName: "detector", ArtifactRef: "ref"}).Body.Close()

	// Valid edge.
	resp := putJSON(t, srv.URL+"/api/registry/models/detector/versions/1/transition", TransitionRequest{
		TargetState: "SHADOWING",
		Reason:      "starting shadow evaluation",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var mv registry.ModelVersion
	decode(t, resp, &mv)
	if mv.State != registry.StateShadowing {
		t.Errorf("expected SHADOWING, got %s", mv.State)
	}

	// Skipping states is rejected.
	resp = putJSON(t, srv.URL+"/api/registry/models/detector/versions/1/transition", TransitionRequest{
		TargetState: "PRODUCTION",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("invalid edge: expected 409, got %d", resp.StatusCode)
	}

	// Unknown state is a bad request.
	resp = putJSON(t, srv.URL+"/api/registry/models/detector/versions/1/transition", TransitionRequest{
		TargetState: "LIMBO",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown state: expected 400, got %d", resp.StatusCode)
	}

	// Unknown version is not found.
	resp = putJSON(t, srv.URL+"/api/registry/models/detector/versions/9/transition", TransitionRequest{
		TargetState: "SHADOWING",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown version: expected 404, got %d", resp.StatusCode)
	}
}

func TestHandleSetWeight(t *testing.T) {
	c := setupTestComponent(t)
	srv := registerHandlers(c)
	defer srv.Close()

	postJSON(t, srv.URL+"/api/registry/models", RegisterRequest{ModelName: "detector", ArtifactRef: "ref"}).Body.Close()
	putJSON(t, srv.URL+"/api/registry/models/detector/versions/1/transition", TransitionRequest{TargetState: "SHADOWING"}).Body.Close()
	putJSON(t, srv.URL+"/api/registry/models/detector/versions/1/transition", TransitionRequest{TargetState: "CANARY"}).Body.Close()

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/registry/models/detector/versions/1/weight", bytes.NewReader([]byte(`{"weight":25}`)))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT weight: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var mv registry.ModelVersion
	decode(t, resp, &mv)
	if mv.CanaryWeight != 25 {
		t.Errorf("expected weight 25, got %d", mv.CanaryWeight)
	}

	// Out of range weight.
	req, _ = http.NewRequest(http.MethodPut, srv.URL+"/api/registry/models/detector/versions/1/weight", bytes.NewReader([]byte(`{"weight":150}`)))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT weight: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestHandleGetProduction(t *testing.T) {
	c := setupTestComponent(t)
	srv := registerHandlers(c)
	defer srv.Close()

	postJSON(t, srv.URL+"/api/registry/models", RegisterRequest{ModelName: "detector", ArtifactRef: "ref"}).Body.Close()

	// No production version yet.
	resp, err := http.Get(srv.URL + "/api/registry/models/detector/production")
	if err != nil {
		t.Fatalf("GET production: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	for _, state := range []string{"SHADOWING", "CANARY", "PRODUCTION"} {
		putJSON(t, srv.URL+"/api/registry/models/detector/versions/1/transition", TransitionRequest{TargetState: state}).Body.Close()
	}

	resp, err = http.Get(srv.URL + "/api/registry/models/detector/production")
	if err != nil {
		t.Fatalf("GET production: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var mv registry.ModelVersion
	decode(t, resp, &mv)
	if mv.State != registry.StateProduction {
		t.Errorf("expected PRODUCTION, got %s", mv.State)
	}
}

func TestHandleListModel_NotFound(t *testing.T) {
	c := setupTestComponent(t)
	srv := registerHandlers(c)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/registry/models/missing")
	if err != nil {
		t.Fatalf("GET model: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}
