package metricsource

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPromQL_QueryScalar(t *testing.T) {
	t.Run("parses instant query sample", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/query", r.URL.Path)
			assert.Equal(t, "avg_over_time(inference_latency_seconds[1m])", r.URL.Query().Get("query"))
			w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[{"value":[1712000000,"0.42"]}]}}`))
		}))
		defer server.Close()

		src, err := NewPromQL(server.URL, time.Second)
		require.NoError(t, err)

		value, err := src.QueryScalar(context.Background(), "avg_over_time(inference_latency_seconds[1m])")
		require.NoError(t, err)
		assert.InDelta(t, 0.42, value, 1e-9)
	})

	t.Run("no samples is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"success","data":{"resultType":"vector","result":[]}}`))
		}))
		defer server.Close()

		src, err := NewPromQL(server.URL, time.Second)
		require.NoError(t, err)

		_, err = src.QueryScalar(context.Background(), "up")
		assert.Error(t, err)
	})

	t.Run("server error maps to ErrUpstreamUnavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		src, err := NewPromQL(server.URL, time.Second)
		require.NoError(t, err)

		_, err = src.QueryScalar(context.Background(), "up")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})

	t.Run("unreachable backend maps to ErrUpstreamUnavailable", func(t *testing.T) {
		src, err := NewPromQL("http://127.0.0.1:1", 100*time.Millisecond)
		require.NoError(t, err)

		_, err = src.QueryScalar(context.Background(), "up")
		assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	})
}

func TestPromQL_FetchEmbeddings(t *testing.T) {
	t.Run("fetches window", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v1/embeddings/range", r.URL.Path)
			assert.Equal(t, "detector", r.URL.Query().Get("filter"))
			w.Write([]byte(`{"embeddings":[[0.1,0.2],[0.3,0.4]]}`))
		}))
		defer server.Close()

		src, err := NewPromQL(server.URL, time.Second)
		require.NoError(t, err)

		window := Window{Start: time.Unix(1000, 0), End: time.Unix(2000, 0)}
		vectors, err := src.FetchEmbeddings(context.Background(), window, "detector")
		require.NoError(t, err)
		require.Len(t, vectors, 2)
		assert.Equal(t, []float64{0.1, 0.2}, vectors[0])
	})

	t.Run("rejects malformed window", func(t *testing.T) {
		src, err := NewPromQL("http://localhost:9090", time.Second)
		require.NoError(t, err)

		_, err = src.FetchEmbeddings(context.Background(), Window{}, "")
		assert.Error(t, err)

		bad := Window{Start: time.Unix(2000, 0), End: time.Unix(1000, 0)}
		_, err = src.FetchEmbeddings(context.Background(), bad, "")
		assert.Error(t, err)
		assert.False(t, errors.Is(err, ErrUpstreamUnavailable), "validation is not an upstream failure")
	})
}

func TestWindow(t *testing.T) {
	w := Window{Start: time.Unix(0, 0), End: time.Unix(600, 0)}
	require.NoError(t, w.Validate())
	assert.Equal(t, 10*time.Minute, w.Duration())
}
