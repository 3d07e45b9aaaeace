package driftmonitor

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// driftMonitorSchema defines the configuration schema.
var driftMonitorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// MonitorConfig declares one model whose embedding stream is watched for drift.
type MonitorConfig struct {
	// Model is the registered model name the monitor reports against.
	Model string `json:"model"`

	// Filter narrows the embedding fetch (e.g. a label selector). Empty
	// means all embeddings for the model.
	Filter string `json:"filter,omitempty"`

	// Threshold is the drift score above which the window counts as breached.
	Threshold float64 `json:"threshold"`
}

// Config holds configuration for the drift monitor component.
type Config struct {
	// CheckInterval is how often drift checks run.
	CheckInterval time.Duration `json:"check_interval"`

	// ReferenceWindow is how far back the reference window reaches.
	ReferenceWindow time.Duration `json:"reference_window"`

	// CurrentWindow is the length of the recent window under test.
	CurrentWindow time.Duration `json:"current_window"`

	// Components is the number of principal components to project onto.
	Components int `json:"components"`

	// MinSamples is the minimum window size for a computable result.
	MinSamples int `json:"min_samples"`

	// ConsecutiveBreaches is how many breached checks in a row raise an alert.
	ConsecutiveBreaches int `json:"consecutive_breaches"`

	// Cooldown suppresses repeat alerts for the same model.
	Cooldown time.Duration `json:"cooldown"`

	// PrometheusURL is the base URL of the metrics/embedding backend.
	PrometheusURL string `json:"prometheus_url"`

	// RetrainingWebhook receives a POST when an alert is actioned as
	// retraining_triggered. Empty disables the webhook.
	RetrainingWebhook string `json:"retraining_webhook,omitempty"`

	// Monitors lists the models to watch.
	Monitors []MonitorConfig `json:"monitors,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		CheckInterval:       5 * time.Minute,
		ReferenceWindow:     24 * time.Hour,
		CurrentWindow:       1 * time.Hour,
		Components:          2,
		MinSamples:          30,
		ConsecutiveBreaches: 3,
		Cooldown:            1 * time.Hour,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{},
			Outputs: []component.PortDefinition{
				{
					Name:        "drift-alerts",
					Type:        "jetstream",
					Subject:     "governance.drift.>",
					StreamName:  "GOVERNANCE",
					Description: "Publish drift alerts",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CheckInterval <= 0 {
		return fmt.Errorf("check_interval must be positive")
	}
	if c.CurrentWindow <= 0 {
		return fmt.Errorf("current_window must be positive")
	}
	if c.ReferenceWindow <= c.CurrentWindow {
		return fmt.Errorf("reference_window must be longer than current_window")
	}
	if c.Components < 1 {
		return fmt.Errorf("components must be at least 1")
	}
	if c.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2")
	}
	if c.ConsecutiveBreaches < 1 {
		return fmt.Errorf("consecutive_breaches must be at least 1")
	}
	if c.PrometheusURL == "" {
		return fmt.Errorf("prometheus_url is required")
	}
	for i, m := range c.Monitors {
		if m.Model == "" {
			return fmt.Errorf("monitor %d: model is required", i)
		}
		if m.Threshold <= 0 {
			return fmt.Errorf("monitor %q: threshold must be positive", m.Model)
		}
	}
	return nil
}
