package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds a single Analyze round trip.
	DefaultTimeout = 30 * time.Second

	// maxResponseBytes caps how much of a backend response we read.
	maxResponseBytes = 16 << 20
)

// Client is an HTTP Backend talking to an OpenAI-style serving API.
// The backend exposes POST /v1/analyze and loads artifacts on demand
// by reference.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a backend client. baseURL must include the scheme.
// apiKey may be empty for backends without auth.
func NewClient(baseURL, apiKey string, timeout time.Duration) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("inference backend URL is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

type analyzeRequest struct {
	ArtifactRef string          `json:"artifact_ref"`
	SampleID    string          `json:"sample_id"`
	Payload     json.RawMessage `json:"payload"`
}

type analyzeResponse struct {
	Embedding  []float64   `json:"embedding"`
	Detections []Detection `json:"detections"`
	Error      string      `json:"error,omitempty"`
}

// Analyze runs one sample against one artifact and measures the round
// trip. Transport failures and 5xx responses map to
// ErrBackendUnavailable so callers can distinguish backend outages from
// bad requests.
func (c *Client) Analyze(ctx context.Context, sample Sample, artifactRef string) (Output, error) {
	if artifactRef == "" {
		return Output{}, fmt.Errorf("artifact ref is required")
	}

	body, err := json.Marshal(analyzeRequest{
		ArtifactRef: artifactRef,
		SampleID:    sample.ID,
		Payload:     sample.Payload,
	})
	if err != nil {
		return Output{}, fmt.Errorf("marshal analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Output{}, fmt.Errorf("%w: read response: %v", ErrBackendUnavailable, err)
	}
	latency := time.Since(start)

	if resp.StatusCode >= http.StatusInternalServerError {
		return Output{}, fmt.Errorf("%w: status %d", ErrBackendUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Output{}, fmt.Errorf("analyze failed with status %d: %s", resp.StatusCode, truncate(data, 256))
	}

	var parsed analyzeResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Output{}, fmt.Errorf("parse analyze response: %w", err)
	}
	if parsed.Error != "" {
		return Output{}, fmt.Errorf("backend rejected sample %s: %s", sample.ID, parsed.Error)
	}

	return Output{
		SampleID:   sample.ID,
		Embedding:  parsed.Embedding,
		Detections: parsed.Detections,
		Latency:    latency,
	}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
