// Package comparisonapi provides a processor that runs baseline/candidate
// comparison evaluations, stores the resulting reports, and optionally
// applies verdicts back to the model registry.
package comparisonapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"

	"github.com/insightops/modelgate/comparison"
	"github.com/insightops/modelgate/inference"
	"github.com/insightops/modelgate/registry"
)

// registryRetryAttempts is how many times registry writes retry on
// concurrent modification.
const registryRetryAttempts = 3

// Component implements the comparison API processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	backend inference.Backend
	runner  *comparison.Runner
	store   *comparison.Store
	client  *registry.Client

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	runCtx    context.Context

	// Metrics
	runsStarted   atomic.Int64
	runsCompleted atomic.Int64
	runsFailed    atomic.Int64
	lastRunMu     sync.RWMutex
	lastRun       time.Time
}

// NewComponent creates a new comparison API processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.InferenceTimeout == 0 {
		config.InferenceTimeout = defaults.InferenceTimeout
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = defaults.MaxConcurrency
	}
	if config.SampleTimeout == 0 {
		config.SampleTimeout = defaults.SampleTimeout
	}
	if config.SampleLimit == 0 {
		config.SampleLimit = defaults.SampleLimit
	}
	if config.Ports == nil {
		config.Ports = defaults.Ports
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	backend, err := inference.NewClient(config.InferenceURL, config.InferenceAPIKey, config.InferenceTimeout)
	if err != nil {
		return nil, fmt.Errorf("create inference client: %w", err)
	}

	logger := deps.GetLogger()
	runner := comparison.NewRunner(backend, comparison.RunnerConfig{
		MaxConcurrency: config.MaxConcurrency,
		SampleTimeout:  config.SampleTimeout,
		Thresholds:     config.Thresholds,
	}, logger)

	return &Component{
		name:       "comparison-api",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     logger,
		backend:    backend,
		runner:     runner,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized comparison-api",
		"max_concurrency", c.config.MaxConcurrency,
		"auto_promote", c.config.AutoPromote)
	return nil
}

// Start connects the report store and registry client.
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

	store, err := comparison.NewStore(ctx, js)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("create report store: %w", err)
	}
	c.store = store

	service, err := registry.NewService(ctx, js)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("create registry service: %w", err)
	}
	c.client = registry.NewClient(service, registryRetryAttempts, c.logger)

	c.running = true
	c.startTime = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.runCtx = runCtx
	c.mu.Unlock()

	c.logger.Info("comparison-api started",
		"max_concurrency", c.config.MaxConcurrency,
		"auto_promote", c.config.AutoPromote)

	return nil
}

// StartRun resolves the versions, persists a RUNNING report, and evaluates
// the run in the background. The returned report carries the ID callers
// poll for the outcome.
func (c *Component) StartRun(ctx context.Context, modelName string, baselineVersion, candidateVersion int, samples []inference.Sample) (*comparison.Report, error) {
	c.mu.RLock()
	store, client, runCtx := c.store, c.client, c.runCtx
	c.mu.RUnlock()
	if store == nil || client == nil {
		return nil, fmt.Errorf("comparison api not started")
	}

	candidate, err := client.Get(ctx, modelName, candidateVersion)
	if err != nil {
		return nil, fmt.Errorf("resolve candidate: %w", err)
	}

	var baseline *registry.ModelVersion
	if baselineVersion > 0 {
		baseline, err = client.Get(ctx, modelName, baselineVersion)
	} else {
		baseline, err = client.GetProduction(ctx, modelName)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve baseline: %w", err)
	}
	if baseline.Version == candidate.Version {
		return nil, fmt.Errorf("baseline and candidate are both version %d", baseline.Version)
	}

	if len(samples) == 0 {
		samples, err = c.loadSamples(ctx)
		if err != nil {
			return nil, fmt.Errorf("load samples: %w", err)
		}
	}
	if len(samples) > c.config.SampleLimit {
		samples = samples[:c.config.SampleLimit]
	}

	report := &comparison.Report{
		ID:               uuid.NewString(),
		ModelName:        modelName,
		BaselineVersion:  baseline.Version,
		CandidateVersion: candidate.Version,
		Status:           comparison.StatusRunning,
		StartedAt:        time.Now().UTC(),
	}
	if err := store.Save(ctx, report); err != nil {
		return nil, fmt.Errorf("persist report: %w", err)
	}

	c.runsStarted.Add(1)
	c.updateLastRun()

	go c.executeRun(runCtx, report, baseline, candidate, samples)

	return report, nil
}

// executeRun drives one comparison run to completion and persists the
// outcome under the report ID handed back to the caller.
func (c *Component) executeRun(ctx context.Context, report *comparison.Report, baseline, candidate *registry.ModelVersion, samples []inference.Sample) {
	result, err := c.runner.Run(ctx, baseline, candidate, samples)
	if err != nil {
		c.runsFailed.Add(1)
		report.Status = comparison.StatusFailed
		report.Error = err.Error()
		report.CompletedAt = time.Now().UTC()
		if saveErr := c.store.Save(ctx, report); saveErr != nil {
			c.logger.Error("Failed to persist failed report",
				"report_id", report.ID,
				"error", saveErr)
		}
		return
	}

	// Keep the ID the caller is polling on.
	result.ID = report.ID
	result.StartedAt = report.StartedAt

	if err := c.store.Save(ctx, result); err != nil {
		c.logger.Error("Failed to persist completed report",
			"report_id", report.ID,
			"error", err)
		return
	}
	c.runsCompleted.Add(1)

	if err := c.publishResult(ctx, result); err != nil {
		c.logger.Warn("Failed to publish comparison result",
			"report_id", result.ID,
			"error", err)
	}

	if c.config.AutoPromote {
		c.applyVerdict(ctx, result, candidate)
	}
}

// applyVerdict moves the candidate along the lifecycle according to the
// run's verdict. PROMOTE advances a shadowing candidate to CANARY; REJECT
// retires the candidate, as REJECTED from CANARY or ARCHIVED otherwise.
func (c *Component) applyVerdict(ctx context.Context, report *comparison.Report, candidate *registry.ModelVersion) {
	var target registry.State
	switch report.Verdict {
	case comparison.VerdictPromote:
		if candidate.State != registry.StateShadowing {
			c.logger.Debug("Skipping auto-promote for non-shadowing candidate",
				"model", candidate.ModelName,
				"version", candidate.Version,
				"state", candidate.State)
			return
		}
		target = registry.StateCanary
	case comparison.VerdictReject:
		if candidate.State == registry.StateCanary {
			target = registry.StateRejected
		} else {
			target = registry.StateArchived
		}
	default:
		return
	}

	reason := fmt.Sprintf("comparison run %s: %s", report.ID, report.Reason)
	if _, err := c.client.Transition(ctx, candidate.ModelName, candidate.Version, target, reason); err != nil {
		c.logger.Error("Failed to apply verdict",
			"model", candidate.ModelName,
			"version", candidate.Version,
			"target", target,
			"error", err)
		return
	}

	c.logger.Info("Applied comparison verdict",
		"model", candidate.ModelName,
		"version", candidate.Version,
		"verdict", report.Verdict,
		"target", target)
}

// publishResult announces a completed run on the governance stream.
func (c *Component) publishResult(ctx context.Context, report *comparison.Report) error {
	if c.natsClient == nil {
		return nil
	}
	result := ComparisonResult{
		ReportID:         report.ID,
		ModelName:        report.ModelName,
		BaselineVersion:  report.BaselineVersion,
		CandidateVersion: report.CandidateVersion,
		Verdict:          report.Verdict,
		Reason:           report.Reason,
		Timestamp:        time.Now(),
	}

	baseMsg := message.NewBaseMessage(ComparisonResultType, &result, "comparison-api")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	subject := fmt.Sprintf("governance.comparison.%s", report.ModelName)
	if err := c.natsClient.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	return nil
}

// loadSamples reads the configured sample file.
func (c *Component) loadSamples(_ context.Context) ([]inference.Sample, error) {
	if c.config.SamplesPath == "" {
		return nil, fmt.Errorf("no samples in request and no samples_path configured")
	}
	data, err := os.ReadFile(c.config.SamplesPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.config.SamplesPath, err)
	}
	var samples []inference.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.config.SamplesPath, err)
	}
	return samples, nil
}

// Reports returns the report store, nil until Start succeeds.
func (c *Component) Reports() *comparison.Store {
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
	c.logger.Info("comparison-api stopped",
		"runs_started", c.runsStarted.Load(),
		"runs_completed", c.runsCompleted.Load(),
		"runs_failed", c.runsFailed.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "comparison-api",
		Type:        "processor",
		Description: "Baseline/candidate comparison runs with verdicts",
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
	return comparisonAPISchema
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
		LastActivity:      c.getLastRun(),
	}
}

func (c *Component) updateLastRun() {
	c.lastRunMu.Lock()
	c.lastRun = time.Now()
	c.lastRunMu.Unlock()
}

func (c *Component) getLastRun() time.Time {
	c.lastRunMu.RLock()
	defer c.lastRunMu.RUnlock()
	return c.lastRun
}

// ComparisonResult announces a completed comparison run.
type ComparisonResult struct {
	ReportID         string    `json:"report_id"`
	ModelName        string    `json:"model_name"`
	BaselineVersion  int       `json:"baseline_version"`
	CandidateVersion int       `json:"candidate_version"`
	Verdict          string    `json:"verdict"`
	Reason           string    `json:"reason,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// Schema returns the message type for this payload.
func (r *ComparisonResult) Schema() message.Type {
	return ComparisonResultType
}

// Validate validates the result.
func (r *ComparisonResult) Validate() error {
	if r.ReportID == "" {
		return fmt.Errorf("report_id is required")
	}
	if r.ModelName == "" {
		return fmt.Errorf("model_name is required")
	}
	return nil
}

// MarshalJSON marshals the result to JSON.
func (r *ComparisonResult) MarshalJSON() ([]byte, error) {
	type Alias ComparisonResult
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the result from JSON.
func (r *ComparisonResult) UnmarshalJSON(data []byte) error {
	type Alias ComparisonResult
	return json.Unmarshal(data, (*Alias)(r))
}

// ComparisonResultType is the message type for comparison results.
var ComparisonResultType = message.Type{
	Domain:   "governance",
	Category: "comparison",
	Version:  "v1",
}
