// Package safetyguard provides a processor that evaluates serving health
// rules and drives the system adaptation level. While degraded, the
// router consults the guard for fallback models.
package safetyguard

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	_ "modernc.org/sqlite"

	"github.com/insightops/modelgate/guard"
	"github.com/insightops/modelgate/metricsource"
)

// Component implements the safety guard processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	source     metricsource.Source
	controller *guard.Controller
	journal    *guard.Journal
	db         *sql.DB

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
}

// NewComponent creates a new safety guard processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Apply defaults
	defaults := DefaultConfig()
	if config.PollInterval == 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.Cooldown == 0 {
		config.Cooldown = defaults.Cooldown
	}
	if config.MaxPollFailures == 0 {
		config.MaxPollFailures = defaults.MaxPollFailures
	}
	if config.JournalPath == "" {
		config.JournalPath = defaults.JournalPath
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

	return &Component{
		name:       "safety-guard",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		source:     source,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized safety-guard",
		"poll_interval", c.config.PollInterval,
		"rules", len(c.config.Rules))
	return nil
}

// Start opens the journal, wires the state sink, and runs the guard loop.
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

	sink, err := guard.NewStateSink(ctx, js, c.natsClient)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("create state sink: %w", err)
	}

	db, err := sql.Open("sqlite", c.config.JournalPath)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("open journal %s: %w", c.config.JournalPath, err)
	}
	journal, err := guard.NewJournal(db)
	if err != nil {
		db.Close()
		c.mu.Unlock()
		return fmt.Errorf("create journal: %w", err)
	}

	controller, err := guard.NewController(c.source, c.config.Rules, guard.ControllerConfig{
		PollInterval:    c.config.PollInterval,
		Cooldown:        c.config.Cooldown,
		MaxPollFailures: c.config.MaxPollFailures,
		Fallbacks:       c.config.Fallbacks,
	}, sink, journal, c.logger)
	if err != nil {
		db.Close()
		c.mu.Unlock()
		return fmt.Errorf("create controller: %w", err)
	}

	c.db = db
	c.journal = journal
	c.controller = controller
	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go controller.Run(subCtx)

	c.logger.Info("safety-guard started",
		"poll_interval", c.config.PollInterval,
		"rules", len(c.config.Rules),
		"journal", c.config.JournalPath)

	return nil
}

// Controller returns the guard controller, nil until Start succeeds. The
// router consults it for fallback overrides.
func (c *Component) Controller() *guard.Controller {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.controller
}

// Journal returns the transition journal, nil until Start succeeds.
func (c *Component) Journal() *guard.Journal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.journal
}

// Stop gracefully stops the component and closes the journal.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Warn("Failed to close journal", "error", err)
		}
		c.db = nil
	}

	c.running = false
	c.logger.Info("safety-guard stopped")

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "safety-guard",
		Type:        "processor",
		Description: "Rule-driven adaptation levels with fallback routing",
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
	return safetyGuardSchema
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
	var last time.Time
	if controller := c.Controller(); controller != nil {
		last = controller.State().Since
	}
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
		LastActivity:      last,
	}
}
