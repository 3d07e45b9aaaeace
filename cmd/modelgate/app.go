package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/insightops/modelgate/config"
	"github.com/insightops/modelgate/httpapi"
	comparisonapi "github.com/insightops/modelgate/processor/comparison-api"
	driftmonitor "github.com/insightops/modelgate/processor/drift-monitor"
	registryapi "github.com/insightops/modelgate/processor/registry-api"
	safetyguard "github.com/insightops/modelgate/processor/safety-guard"
	"github.com/insightops/modelgate/router"
)

// governanceStream carries drift alerts, comparison results, and
// adaptation state announcements.
const governanceStream = "GOVERNANCE"

// App wires the governance components, the router, and the HTTP gateway.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsClient     *natsclient.Client

	// Governance components
	registryAPI   *registryapi.Component
	driftMonitor  *driftmonitor.Component
	comparisonAPI *comparisonapi.Component
	safetyGuard   *safetyguard.Component

	// Serving plane
	provider *router.Provider
	gateway  *httpapi.Gateway

	watcher *config.Watcher
	cancel  context.CancelFunc
}

// NewApp creates an application instance from a validated config.
func NewApp(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger}
}

// Start brings up NATS, the governance components, the router, and the
// HTTP gateway. Components keep running until Shutdown.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.startNATS(runCtx); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	if err := a.ensureStreams(runCtx); err != nil {
		return err
	}

	if err := a.createComponents(); err != nil {
		return err
	}

	if err := a.startComponents(runCtx); err != nil {
		return err
	}

	a.startGateway(runCtx)

	return nil
}

func (a *App) startNATS(ctx context.Context) error {
	natsURL := a.cfg.NATS.URL

	if natsURL == "" || a.cfg.NATS.Embedded {
		a.logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns
		natsURL = ns.ClientURL()
	}

	a.logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20),
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return wrapNATSError(err, natsURL)
	}

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return wrapNATSError(err, natsURL)
	}

	a.natsClient = client
	a.logger.Info("Connected to NATS", "url", natsURL)
	return nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

Either start a NATS server there, set MODELGATE_NATS_URL, or leave
nats.url empty to run the embedded server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

func (a *App) ensureStreams(ctx context.Context) error {
	js, err := a.natsClient.JetStream()
	if err != nil {
		return fmt.Errorf("get JetStream: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     governanceStream,
		Subjects: []string{"governance.>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("ensure %s stream: %w", governanceStream, err)
	}

	a.logger.Debug("JetStream streams ready", "stream", governanceStream)
	return nil
}

func (a *App) createComponents() error {
	// The factory registry validates registration metadata even though
	// components are instantiated directly below.
	componentRegistry := component.NewRegistry()
	if err := registryapi.Register(componentRegistry); err != nil {
		return fmt.Errorf("register registry-api: %w", err)
	}
	if err := driftmonitor.Register(componentRegistry); err != nil {
		return fmt.Errorf("register drift-monitor: %w", err)
	}
	if err := comparisonapi.Register(componentRegistry); err != nil {
		return fmt.Errorf("register comparison-api: %w", err)
	}
	if err := safetyguard.Register(componentRegistry); err != nil {
		return fmt.Errorf("register safety-guard: %w", err)
	}

	deps := component.Dependencies{
		NATSClient: a.natsClient,
		Logger:     a.logger,
	}

	var err error
	if a.registryAPI, err = newRegistryAPI(a.cfg, deps); err != nil {
		return err
	}
	if a.driftMonitor, err = newDriftMonitor(a.cfg, deps); err != nil {
		return err
	}
	if a.comparisonAPI, err = newComparisonAPI(a.cfg, deps); err != nil {
		return err
	}
	if a.safetyGuard, err = newSafetyGuard(a.cfg, deps); err != nil {
		return err
	}

	return nil
}

func newRegistryAPI(cfg *config.Config, deps component.Dependencies) (*registryapi.Component, error) {
	raw, err := json.Marshal(registryapi.Config{
		RetryAttempts: cfg.Registry.RetryAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal registry-api config: %w", err)
	}
	disc, err := registryapi.NewComponent(raw, deps)
	if err != nil {
		return nil, fmt.Errorf("create registry-api: %w", err)
	}
	return disc.(*registryapi.Component), nil
}

func newDriftMonitor(cfg *config.Config, deps component.Dependencies) (*driftmonitor.Component, error) {
	raw, err := json.Marshal(driftmonitor.Config{
		CheckInterval:       cfg.Drift.Interval,
		ReferenceWindow:     cfg.Drift.ReferenceWindow,
		CurrentWindow:       cfg.Drift.CurrentWindow,
		Components:          cfg.Drift.Components,
		MinSamples:          cfg.Drift.MinSamples,
		ConsecutiveBreaches: cfg.Drift.ConsecutiveBreaches,
		Cooldown:            cfg.Drift.Cooldown,
		PrometheusURL:       cfg.MetricSource.PrometheusURL,
		RetrainingWebhook:   cfg.Drift.RetrainingWebhook,
		Monitors:            driftMonitors(cfg.Drift.Monitors),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal drift-monitor config: %w", err)
	}
	disc, err := driftmonitor.NewComponent(raw, deps)
	if err != nil {
		return nil, fmt.Errorf("create drift-monitor: %w", err)
	}
	return disc.(*driftmonitor.Component), nil
}

func driftMonitors(monitors []config.DriftMonitor) []driftmonitor.MonitorConfig {
	out := make([]driftmonitor.MonitorConfig, len(monitors))
	for i, m := range monitors {
		out[i] = driftmonitor.MonitorConfig{
			Model:     m.Model,
			Filter:    m.Filter,
			Threshold: m.Threshold,
		}
	}
	return out
}

func newComparisonAPI(cfg *config.Config, deps component.Dependencies) (*comparisonapi.Component, error) {
	raw, err := json.Marshal(comparisonapi.Config{
		InferenceURL:     cfg.Inference.URL,
		InferenceAPIKey:  cfg.Inference.APIKey,
		InferenceTimeout: cfg.Inference.Timeout,
		MaxConcurrency:   cfg.Comparison.MaxConcurrency,
		SampleTimeout:    cfg.Comparison.SampleTimeout,
		SampleLimit:      cfg.Comparison.SampleLimit,
		SamplesPath:      cfg.Comparison.SamplesPath,
		AutoPromote:      cfg.Comparison.AutoPromote,
		Thresholds:       cfg.Comparison.Thresholds,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal comparison-api config: %w", err)
	}
	disc, err := comparisonapi.NewComponent(raw, deps)
	if err != nil {
		return nil, fmt.Errorf("create comparison-api: %w", err)
	}
	return disc.(*comparisonapi.Component), nil
}

func newSafetyGuard(cfg *config.Config, deps component.Dependencies) (*safetyguard.Component, error) {
	raw, err := json.Marshal(safetyguard.Config{
		PrometheusURL:   cfg.MetricSource.PrometheusURL,
		PollInterval:    cfg.Guard.PollInterval,
		Cooldown:        cfg.Guard.Cooldown,
		MaxPollFailures: cfg.Guard.MaxPollFailures,
		JournalPath:     cfg.Guard.JournalPath,
		Rules:           cfg.Guard.Rules,
		Fallbacks:       cfg.Guard.Fallbacks,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal safety-guard config: %w", err)
	}
	disc, err := safetyguard.NewComponent(raw, deps)
	if err != nil {
		return nil, fmt.Errorf("create safety-guard: %w", err)
	}
	return disc.(*safetyguard.Component), nil
}

func (a *App) startComponents(ctx context.Context) error {
	type lifecycle interface {
		Initialize() error
		Start(ctx context.Context) error
	}

	components := []struct {
		name string
		c    lifecycle
	}{
		{"registry-api", a.registryAPI},
		{"drift-monitor", a.driftMonitor},
		{"comparison-api", a.comparisonAPI},
		{"safety-guard", a.safetyGuard},
	}

	for _, entry := range components {
		if err := entry.c.Initialize(); err != nil {
			return fmt.Errorf("initialize %s: %w", entry.name, err)
		}
		if err := entry.c.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", entry.name, err)
		}
		a.logger.Debug("Component started", "name", entry.name)
	}

	return nil
}

func (a *App) startGateway(ctx context.Context) {
	a.provider = router.NewProvider(a.registryAPI.Registry(), a.cfg.Router.RefreshInterval, a.logger)
	go a.provider.Run(ctx)

	health := router.NewHealthTracker(
		a.cfg.Router.Health.Window,
		a.cfg.Router.Health.Threshold,
		a.cfg.Router.Health.ProbeInterval,
	)

	var override router.Override
	if ctrl := a.safetyGuard.Controller(); ctrl != nil {
		override = ctrl
	}
	rt := router.NewRouter(a.provider, health, override, a.logger)

	var registerer prometheus.Registerer
	a.gateway = httpapi.NewGateway(a.cfg.HTTP, a.logger)
	if a.cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		a.gateway.EnableMetrics(a.cfg.Metrics.Path, reg)
		registerer = reg
	}

	a.gateway.Register("/api/registry", a.registryAPI)
	a.gateway.Register("/api/drift", a.driftMonitor)
	a.gateway.Register("/api/comparison", a.comparisonAPI)
	a.gateway.Register("/api/guard", a.safetyGuard)
	a.gateway.Register("/api", httpapi.NewRouteHandler(rt, registerer))
	a.gateway.Handle("GET /healthz", http.HandlerFunc(a.handleHealthz))

	go func() {
		if err := a.gateway.Start(); err != nil {
			a.logger.Error("HTTP gateway failed", "error", err)
		}
	}()
}

// handleHealthz aggregates component health into one status.
func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	type componentHealth struct {
		Healthy bool   `json:"healthy"`
		Status  string `json:"status"`
	}

	components := map[string]component.HealthStatus{
		"registry-api":   a.registryAPI.Health(),
		"drift-monitor":  a.driftMonitor.Health(),
		"comparison-api": a.comparisonAPI.Health(),
		"safety-guard":   a.safetyGuard.Health(),
	}

	healthy := true
	body := make(map[string]componentHealth, len(components))
	for name, h := range components {
		healthy = healthy && h.Healthy
		body[name] = componentHealth{Healthy: h.Healthy, Status: h.Status}
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"healthy":    healthy,
		"components": body,
	})
}

// WatchConfig hot-reloads the config file. Only settings that are safe
// to change at runtime are applied; everything else needs a restart.
func (a *App) WatchConfig(ctx context.Context, path string) error {
	watcher, err := config.NewWatcher(path, a.applyReload, a.logger)
	if err != nil {
		return err
	}
	a.watcher = watcher
	go watcher.Run(ctx)
	a.logger.Info("Watching config for changes", "path", path)
	return nil
}

func (a *App) applyReload(cfg *config.Config) {
	a.driftMonitor.UpdateMonitors(driftMonitors(cfg.Drift.Monitors))
	a.logger.Info("Applied config reload",
		"drift_monitors", len(cfg.Drift.Monitors))
}

// Shutdown stops the gateway, the components, and NATS in reverse
// start order.
func (a *App) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if a.gateway != nil {
		if err := a.gateway.Shutdown(ctx); err != nil {
			a.logger.Warn("HTTP gateway shutdown", "error", err)
		}
	}

	if a.cancel != nil {
		a.cancel()
	}

	components := []struct {
		name string
		c    interface{ Stop(time.Duration) error }
	}{
		{"safety-guard", a.safetyGuard},
		{"comparison-api", a.comparisonAPI},
		{"drift-monitor", a.driftMonitor},
		{"registry-api", a.registryAPI},
	}
	for _, entry := range components {
		if entry.c == nil {
			continue
		}
		if err := entry.c.Stop(timeout); err != nil {
			a.logger.Warn("Component stop", "name", entry.name, "error", err)
		}
	}

	if a.natsClient != nil {
		a.natsClient.Close(ctx)
	}

	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}
