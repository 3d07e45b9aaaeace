package metricsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeout bounds a single metric source request.
const DefaultTimeout = 10 * time.Second

// PromQL is a Source backed by a Prometheus-compatible HTTP API. Scalar
// queries go to /api/v1/query; embedding batches come from the vector-store
// facade exposed by the same backend at /api/v1/embeddings/range.
type PromQL struct {
	baseURL string
	client  *http.Client
}

// NewPromQL returns a PromQL source for baseURL. timeout <= 0 selects
// DefaultTimeout.
func NewPromQL(baseURL string, timeout time.Duration) (*PromQL, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("metric source base_url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PromQL{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// queryResponse mirrors the Prometheus instant-query envelope.
type queryResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Value [2]any `json:"value"`
		} `json:"result"`
	} `json:"data"`
	Error string `json:"error,omitempty"`
}

// QueryScalar evaluates query and returns the first sample's value.
func (p *PromQL) QueryScalar(ctx context.Context, query string) (float64, error) {
	if query == "" {
		return 0, fmt.Errorf("query is required")
	}

	endpoint := p.baseURL + "/api/v1/query?query=" + url.QueryEscape(query)
	body, err := p.get(ctx, endpoint)
	if err != nil {
		return 0, err
	}

	var resp queryResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("decode query response: %w", err)
	}
	if resp.Status != "success" {
		return 0, fmt.Errorf("query failed: %s", resp.Error)
	}
	if len(resp.Data.Result) == 0 {
		return 0, fmt.Errorf("query %q returned no samples", query)
	}

	raw, ok := resp.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, fmt.Errorf("unexpected sample value type in query response")
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sample value %q: %w", raw, err)
	}
	return value, nil
}

// embeddingsResponse is the embedding range endpoint envelope.
type embeddingsResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
}

// FetchEmbeddings returns embedding vectors recorded inside the window.
func (p *PromQL) FetchEmbeddings(ctx context.Context, w Window, filter string) ([][]float64, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("start", strconv.FormatInt(w.Start.Unix(), 10))
	params.Set("end", strconv.FormatInt(w.End.Unix(), 10))
	if filter != "" {
		params.Set("filter", filter)
	}

	endpoint := p.baseURL + "/api/v1/embeddings/range?" + params.Encode()
	body, err := p.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var resp embeddingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}
	return resp.Embeddings, nil
}

func (p *PromQL) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("metric source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}
