// Package httpapi hosts the governance HTTP surface. Processor components
// hang their handlers off a shared mux under per-area prefixes, the same
// contract they expose to any other host.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/insightops/modelgate/config"
)

// HandlerRegistrar is implemented by components that expose HTTP endpoints.
type HandlerRegistrar interface {
	RegisterHTTPHandlers(prefix string, mux *http.ServeMux)
}

// Gateway is the single HTTP server fronting all governance endpoints.
type Gateway struct {
	server *http.Server
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewGateway creates a gateway bound to the configured address.
func NewGateway(cfg config.HTTPConfig, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	return &Gateway{
		mux:    mux,
		logger: logger,
		server: &http.Server{
			Addr:         cfg.Addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
	}
}

// Register mounts a component's handlers under the given prefix.
func (g *Gateway) Register(prefix string, component HandlerRegistrar) {
	component.RegisterHTTPHandlers(prefix, g.mux)
	g.logger.Debug("Registered HTTP handlers", "prefix", prefix)
}

// Handle mounts a raw handler, e.g. health or metrics endpoints.
func (g *Gateway) Handle(pattern string, handler http.Handler) {
	g.mux.Handle(pattern, handler)
}

// EnableMetrics exposes the Prometheus gatherer on the given path.
func (g *Gateway) EnableMetrics(path string, gatherer prometheus.Gatherer) {
	if path == "" {
		path = "/metrics"
	}
	g.mux.Handle("GET "+path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// Start serves until Shutdown or a listener error.
func (g *Gateway) Start() error {
	g.logger.Info("HTTP gateway listening", "addr", g.server.Addr)
	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http gateway: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	return g.server.Shutdown(ctx)
}

// Mux returns the underlying mux, used by tests to serve the gateway
// without binding a listener.
func (g *Gateway) Mux() *http.ServeMux {
	return g.mux
}
