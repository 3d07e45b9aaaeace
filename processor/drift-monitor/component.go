// Package driftmonitor provides a processor that compares recent embedding
// windows against a reference window and raises drift alerts when the
// divergence stays above a model's threshold.
package driftmonitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/insightops/modelgate/drift"
	"github.com/insightops/modelgate/metricsource"
)

// Component implements the drift monitor processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	source   metricsource.Source
	detector *drift.Detector
	store    *drift.EventStore
	trackers map[string]*drift.Tracker

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	checksPerformed atomic.Int64
	alertsRaised    atomic.Int64
	lastCheckMu     sync.RWMutex
	lastCheck       time.Time
}

// NewComponent creates a new drift monitor processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.CheckInterval == 0 {
		config.CheckInterval = defaults.CheckInterval
	}
	if config.ReferenceWindow == 0 {
		config.ReferenceWindow = defaults.ReferenceWindow
	}
	if config.CurrentWindow == 0 {
		config.CurrentWindow = defaults.CurrentWindow
	}
	if config.Components == 0 {
		config.Components = defaults.Components
	}
	if config.MinSamples == 0 {
		config.MinSamples = defaults.MinSamples
	}
	if config.ConsecutiveBreaches == 0 {
		config.ConsecutiveBreaches = defaults.ConsecutiveBreaches
	}
	if config.Cooldown == 0 {
		config.Cooldown = defaults.Cooldown
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	source, err := metricsource.NewPromQL(config.PrometheusURL, metricsource.DefaultTimeout)
	if err != nil {
		return nil, fmt.Errorf("create metric source: %w", err)
	}

	trackers := make(map[string]*drift.Tracker, len(config.Monitors))
	for _, m := range config.Monitors {
		trackers[m.Model] = drift.NewTracker(config.ConsecutiveBreaches, config.Cooldown)
	}

	return &Component{
		name:       "drift-monitor",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		source:     source,
		detector:   drift.NewDetector(config.Components, config.MinSamples),
		trackers:   trackers,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized drift-monitor",
		"check_interval", c.config.CheckInterval,
		"monitors", len(c.config.Monitors))
	return nil
}

// Start begins the periodic drift checks.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("get JetStream: %w", err)
	}

	store, err := drift.NewEventStore(ctx, js)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("create event store: %w", err)
	}
	c.store = store

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.checkLoop(subCtx)

	c.logger.Info("drift-monitor started",
		"check_interval", c.config.CheckInterval,
		"monitors", len(c.config.Monitors))

	return nil
}

// checkLoop runs drift checks on the configured interval.
func (c *Component) checkLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	// Run immediately on start
	c.runChecks(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.runChecks(ctx)
		}
	}
}

// runChecks evaluates every configured monitor once.
func (c *Component) runChecks(ctx context.Context) {
	c.checksPerformed.Add(1)
	c.updateLastCheck()

	c.mu.RLock()
	monitors := make([]MonitorConfig, len(c.config.Monitors))
	copy(monitors, c.config.Monitors)
	c.mu.RUnlock()

	now := time.Now()
	for _, monitor := range monitors {
		if err := c.checkMonitor(ctx, monitor, now); err != nil {
			c.logger.Warn("Drift check failed",
				"model", monitor.Model,
				"error", err)
		}
	}
}

// compute scores drift between the monitor's configured windows ending
// at now. It has no side effects on trackers or the event store.
func (c *Component) compute(ctx context.Context, monitor MonitorConfig, now time.Time) (drift.Result, metricsource.Window, error) {
	reference := metricsource.Window{
		Start: now.Add(-c.config.ReferenceWindow),
		End:   now.Add(-c.config.CurrentWindow),
	}
	current := metricsource.Window{
		Start: now.Add(-c.config.CurrentWindow),
		End:   now,
	}
	return c.computeWindows(ctx, monitor, reference, current)
}

// computeWindows fetches the two given windows and scores the drift
// between them.
func (c *Component) computeWindows(ctx context.Context, monitor MonitorConfig, reference, current metricsource.Window) (drift.Result, metricsource.Window, error) {
	refData, err := c.source.FetchEmbeddings(ctx, reference, monitor.Filter)
	if err != nil {
		return drift.Result{}, current, fmt.Errorf("fetch reference window: %w", err)
	}
	curData, err := c.source.FetchEmbeddings(ctx, current, monitor.Filter)
	if err != nil {
		return drift.Result{}, current, fmt.Errorf("fetch current window: %w", err)
	}

	result, err := c.detector.Check(refData, curData)
	if err != nil {
		return drift.Result{}, current, fmt.Errorf("compute drift: %w", err)
	}
	return result, current, nil
}

// checkMonitor evaluates drift for one model and feeds the breach
// tracker, raising an alert when the streak gate opens.
func (c *Component) checkMonitor(ctx context.Context, monitor MonitorConfig, now time.Time) error {
	result, current, err := c.compute(ctx, monitor, now)
	if err != nil {
		return err
	}

	if result.Status == drift.StatusInsufficientData {
		c.logger.Debug("Insufficient samples for drift check",
			"model", monitor.Model,
			"reference_samples", result.ReferenceSamples,
			"current_samples", result.CurrentSamples)
		c.tracker(monitor.Model).Observe(false, now)
		return nil
	}

	breached := result.Score > monitor.Threshold
	c.logger.Debug("Drift check computed",
		"model", monitor.Model,
		"score", result.Score,
		"threshold", monitor.Threshold,
		"breached", breached)

	if !c.tracker(monitor.Model).Observe(breached, now) {
		return nil
	}

	return c.raiseAlert(ctx, monitor, result, current)
}

// raiseAlert records a drift event and announces it on the stream.
func (c *Component) raiseAlert(ctx context.Context, monitor MonitorConfig, result drift.Result, window metricsource.Window) error {
	event, err := c.store.Record(ctx, monitor.Model, result, monitor.Threshold, window.Start, window.End)
	if err != nil {
		return fmt.Errorf("record drift event: %w", err)
	}

	c.alertsRaised.Add(1)
	c.logger.Info("Drift alert raised",
		"model", monitor.Model,
		"event_id", event.ID,
		"score", result.Score,
		"threshold", monitor.Threshold)

	alert := DriftAlert{
		EventID:     event.ID,
		ModelName:   monitor.Model,
		Score:       result.Score,
		Threshold:   monitor.Threshold,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Timestamp:   time.Now(),
	}

	baseMsg := message.NewBaseMessage(DriftAlertType, &alert, "drift-monitor")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	subject := fmt.Sprintf("governance.drift.%s", monitor.Model)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}

	return nil
}

func (c *Component) tracker(model string) *drift.Tracker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.trackers[model]
	if !ok {
		t = drift.NewTracker(c.config.ConsecutiveBreaches, c.config.Cooldown)
		c.trackers[model] = t
	}
	return t
}

// UpdateMonitors replaces the monitored model set without a restart.
// Models that stay keep their breach streaks; new models start clean.
func (c *Component) UpdateMonitors(monitors []MonitorConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.config.Monitors = monitors

	keep := make(map[string]bool, len(monitors))
	for _, m := range monitors {
		keep[m.Model] = true
	}
	for model := range c.trackers {
		if !keep[model] {
			delete(c.trackers, model)
		}
	}

	c.logger.Info("Drift monitors updated", "monitors", len(monitors))
}

// Store returns the drift event store, nil until Start succeeds.
func (c *Component) Store() *drift.EventStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("drift-monitor stopped",
		"checks_performed", c.checksPerformed.Load(),
		"alerts_raised", c.alertsRaised.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "drift-monitor",
		Type:        "processor",
		Description: "Watches embedding distributions and raises drift alerts",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionInput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = component.Port{
			Name:        portDef.Name,
			Direction:   component.DirectionOutput,
			Required:    portDef.Required,
			Description: portDef.Description,
			Config: component.NATSPort{
				Subject: portDef.Subject,
			},
		}
	}
	return ports
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return driftMonitorSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}

	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: 0,
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      c.getLastCheck(),
	}
}

func (c *Component) updateLastCheck() {
	c.lastCheckMu.Lock()
	c.lastCheck = time.Now()
	c.lastCheckMu.Unlock()
}

func (c *Component) getLastCheck() time.Time {
	c.lastCheckMu.RLock()
	defer c.lastCheckMu.RUnlock()
	return c.lastCheck
}

// DriftAlert announces a recorded drift event on the governance stream.
type DriftAlert struct {
	EventID     string    `json:"event_id"`
	ModelName   string    `json:"model_name"`
	Score       float64   `json:"score"`
	Threshold   float64   `json:"threshold"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Timestamp   time.Time `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (a *DriftAlert) Schema() message.Type {
	return DriftAlertType
}

// Validate validates the alert.
func (a *DriftAlert) Validate() error {
	if a.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if a.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	return nil
}

// MarshalJSON marshals the alert to JSON.
func (a *DriftAlert) MarshalJSON() ([]byte, error) {
	type Alias DriftAlert
	return json.Marshal((*Alias)(a))
}

// UnmarshalJSON unmarshals the alert from JSON.
func (a *DriftAlert) UnmarshalJSON(data []byte) error {
	type Alias DriftAlert
	return json.Unmarshal(data, (*Alias)(a))
}

// DriftAlertType is the message type for drift alerts.
var DriftAlertType = message.Type{
	Domain:   "governance",
	Category: "drift",
	Version:  "v1",
}
