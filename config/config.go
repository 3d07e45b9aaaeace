// Package config provides configuration loading and management for Modelgate.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/insightops/modelgate/comparison"
	"github.com/insightops/modelgate/guard"
)

// Config represents the complete Modelgate configuration
type Config struct {
	NATS         NATSConfig         `yaml:"nats"`
	HTTP         HTTPConfig         `yaml:"http"`
	Metrics      MetricsConfig      `yaml:"metrics"`
	MetricSource MetricSourceConfig `yaml:"metric_source"`
	Inference    InferenceConfig    `yaml:"inference"`
	Registry     RegistryConfig     `yaml:"registry"`
	Drift        DriftConfig        `yaml:"drift"`
	Comparison   ComparisonConfig   `yaml:"comparison"`
	Router       RouterConfig       `yaml:"router"`
	Guard        GuardConfig        `yaml:"guard"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// HTTPConfig configures the governance HTTP gateway
type HTTPConfig struct {
	// Addr is the listen address (default: :8080)
	Addr string `yaml:"addr"`
	// ReadTimeout bounds request header+body reads
	ReadTimeout time.Duration `yaml:"read_timeout"`
	// WriteTimeout bounds response writes
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// MetricsConfig configures the Prometheus exposition endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// MetricSourceConfig configures where live serving metrics are read from
type MetricSourceConfig struct {
	// PrometheusURL is the base URL of the Prometheus-compatible API
	PrometheusURL string `yaml:"prometheus_url"`
	// Timeout bounds one query round trip
	Timeout time.Duration `yaml:"timeout"`
}

// InferenceConfig configures the model serving backend client
type InferenceConfig struct {
	// URL is the base URL of the serving backend
	URL string `yaml:"url"`
	// APIKey is the bearer token (empty = no auth)
	APIKey string `yaml:"api_key"`
	// Timeout bounds one analyze round trip
	Timeout time.Duration `yaml:"timeout"`
}

// RegistryConfig configures registry client behavior
type RegistryConfig struct {
	// RetryAttempts is how many times a lost CAS race is retried
	RetryAttempts int `yaml:"retry_attempts"`
}

// DriftMonitor configures drift checking for one model
type DriftMonitor struct {
	// Model is the model name whose embeddings are monitored
	Model string `yaml:"model"`
	// Filter selects the embedding series in the metric source
	Filter string `yaml:"filter"`
	// Threshold is the drift score above which a check breaches
	Threshold float64 `yaml:"threshold"`
}

// DriftConfig configures the drift monitor component
type DriftConfig struct {
	// Interval is how often each monitor runs a check
	Interval time.Duration `yaml:"interval"`
	// ReferenceWindow is how far back the known-good window reaches
	ReferenceWindow time.Duration `yaml:"reference_window"`
	// CurrentWindow is the size of the window under test
	CurrentWindow time.Duration `yaml:"current_window"`
	// Components is the projection dimensionality
	Components int `yaml:"components"`
	// MinSamples is the smallest window that yields a score
	MinSamples int `yaml:"min_samples"`
	// ConsecutiveBreaches is how many breached checks raise an event
	ConsecutiveBreaches int `yaml:"consecutive_breaches"`
	// Cooldown suppresses repeat events per model
	Cooldown time.Duration `yaml:"cooldown"`
	// RetrainingWebhook is POSTed to when an event is actioned with
	// retraining (empty = disabled)
	RetrainingWebhook string `yaml:"retraining_webhook"`
	// Monitors lists the models to watch
	Monitors []DriftMonitor `yaml:"monitors"`
}

// ComparisonConfig configures shadow comparison runs
type ComparisonConfig struct {
	// MaxConcurrency bounds in-flight samples per run
	MaxConcurrency int `yaml:"max_concurrency"`
	// SampleTimeout bounds one sample through one version
	SampleTimeout time.Duration `yaml:"sample_timeout"`
	// SampleLimit is how many samples a run requests from its source
	SampleLimit int `yaml:"sample_limit"`
	// SamplesPath is a JSON file with evaluation samples used when a run
	// does not carry its own
	SamplesPath string `yaml:"samples_path"`
	// Thresholds drive the verdict
	Thresholds comparison.Thresholds `yaml:"thresholds"`
	// AutoPromote applies a PROMOTE verdict to the registry without a
	// human in the loop. Off unless explicitly enabled.
	AutoPromote bool `yaml:"auto_promote"`
}

// RouterHealthConfig configures per-target health tracking
type RouterHealthConfig struct {
	Window        int           `yaml:"window"`
	Threshold     float64       `yaml:"threshold"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
}

// RouterConfig configures the routing layer
type RouterConfig struct {
	// RefreshInterval is how often the routing table is rebuilt
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Health          RouterHealthConfig `yaml:"health"`
}

// GuardConfig configures the safety guard
type GuardConfig struct {
	// PollInterval is how often rules are evaluated
	PollInterval time.Duration `yaml:"poll_interval"`
	// Cooldown gates de-escalation
	Cooldown time.Duration `yaml:"cooldown"`
	// MaxPollFailures is tolerated consecutive failed cycles
	MaxPollFailures int `yaml:"max_poll_failures"`
	// JournalPath is the SQLite file for the transition journal
	// (empty = journal disabled)
	JournalPath string `yaml:"journal_path"`
	// Rules are the safety rules, most severe evaluated first
	Rules []guard.Rule `yaml:"rules"`
	// Fallbacks maps a level to per-model fallback model names
	Fallbacks map[guard.Level]map[string]string `yaml:"fallbacks"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		HTTP: HTTPConfig{
			Addr:         ":8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		MetricSource: MetricSourceConfig{
			PrometheusURL: "http://localhost:9091",
			Timeout:       10 * time.Second,
		},
		Inference: InferenceConfig{
			URL:     "http://localhost:8000",
			Timeout: 30 * time.Second,
		},
		Registry: RegistryConfig{
			RetryAttempts: 3,
		},
		Drift: DriftConfig{
			Interval:            5 * time.Minute,
			ReferenceWindow:     24 * time.Hour,
			CurrentWindow:       time.Hour,
			Components:          2,
			MinSamples:          30,
			ConsecutiveBreaches: 3,
			Cooldown:            time.Hour,
		},
		Comparison: ComparisonConfig{
			MaxConcurrency: 4,
			SampleTimeout:  30 * time.Second,
			SampleLimit:    100,
			Thresholds:     comparison.Thresholds{}.WithDefaults(),
			AutoPromote:    false,
		},
		Router: RouterConfig{
			RefreshInterval: 10 * time.Second,
			Health: RouterHealthConfig{
				Window:        20,
				Threshold:     0.5,
				ProbeInterval: 30 * time.Second,
			},
		},
		Guard: GuardConfig{
			PollInterval:    30 * time.Second,
			Cooldown:        5 * time.Minute,
			MaxPollFailures: 3,
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.MetricSource.PrometheusURL == "" {
		return fmt.Errorf("metric_source.prometheus_url is required")
	}
	if c.Inference.URL == "" {
		return fmt.Errorf("inference.url is required")
	}
	if c.Registry.RetryAttempts < 1 {
		return fmt.Errorf("registry.retry_attempts must be >= 1")
	}
	if c.Drift.Interval <= 0 {
		return fmt.Errorf("drift.interval must be positive")
	}
	if c.Drift.ReferenceWindow <= c.Drift.CurrentWindow {
		return fmt.Errorf("drift.reference_window must be larger than drift.current_window")
	}
	for i, m := range c.Drift.Monitors {
		if m.Model == "" {
			return fmt.Errorf("drift.monitors[%d].model is required", i)
		}
		if m.Threshold <= 0 {
			return fmt.Errorf("drift.monitors[%d].threshold must be positive", i)
		}
	}
	if c.Comparison.MaxConcurrency < 1 {
		return fmt.Errorf("comparison.max_concurrency must be >= 1")
	}
	if c.Comparison.SampleLimit < 1 {
		return fmt.Errorf("comparison.sample_limit must be >= 1")
	}
	for _, rule := range c.Guard.Rules {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("guard.rules: %w", err)
		}
	}
	for level := range c.Guard.Fallbacks {
		if !level.Valid() || level == guard.LevelNormal {
			return fmt.Errorf("guard.fallbacks: %q is not a degraded level", level)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// HTTP
	if other.HTTP.Addr != "" {
		c.HTTP.Addr = other.HTTP.Addr
	}
	if other.HTTP.ReadTimeout != 0 {
		c.HTTP.ReadTimeout = other.HTTP.ReadTimeout
	}
	if other.HTTP.WriteTimeout != 0 {
		c.HTTP.WriteTimeout = other.HTTP.WriteTimeout
	}

	// Metrics
	if other.Metrics.Port != 0 {
		c.Metrics.Port = other.Metrics.Port
	}
	if other.Metrics.Path != "" {
		c.Metrics.Path = other.Metrics.Path
	}

	// Metric source
	if other.MetricSource.PrometheusURL != "" {
		c.MetricSource.PrometheusURL = other.MetricSource.PrometheusURL
	}
	if other.MetricSource.Timeout != 0 {
		c.MetricSource.Timeout = other.MetricSource.Timeout
	}

	// Inference
	if other.Inference.URL != "" {
		c.Inference.URL = other.Inference.URL
	}
	if other.Inference.APIKey != "" {
		c.Inference.APIKey = other.Inference.APIKey
	}
	if other.Inference.Timeout != 0 {
		c.Inference.Timeout = other.Inference.Timeout
	}

	// Registry
	if other.Registry.RetryAttempts != 0 {
		c.Registry.RetryAttempts = other.Registry.RetryAttempts
	}

	// Drift
	if other.Drift.Interval != 0 {
		c.Drift.Interval = other.Drift.Interval
	}
	if other.Drift.ReferenceWindow != 0 {
		c.Drift.ReferenceWindow = other.Drift.ReferenceWindow
	}
	if other.Drift.CurrentWindow != 0 {
		c.Drift.CurrentWindow = other.Drift.CurrentWindow
	}
	if other.Drift.Components != 0 {
		c.Drift.Components = other.Drift.Components
	}
	if other.Drift.MinSamples != 0 {
		c.Drift.MinSamples = other.Drift.MinSamples
	}
	if other.Drift.ConsecutiveBreaches != 0 {
		c.Drift.ConsecutiveBreaches = other.Drift.ConsecutiveBreaches
	}
	if other.Drift.Cooldown != 0 {
		c.Drift.Cooldown = other.Drift.Cooldown
	}
	if other.Drift.RetrainingWebhook != "" {
		c.Drift.RetrainingWebhook = other.Drift.RetrainingWebhook
	}
	if len(other.Drift.Monitors) > 0 {
		c.Drift.Monitors = other.Drift.Monitors
	}

	// Comparison
	if other.Comparison.MaxConcurrency != 0 {
		c.Comparison.MaxConcurrency = other.Comparison.MaxConcurrency
	}
	if other.Comparison.SampleTimeout != 0 {
		c.Comparison.SampleTimeout = other.Comparison.SampleTimeout
	}
	if other.Comparison.SampleLimit != 0 {
		c.Comparison.SampleLimit = other.Comparison.SampleLimit
	}
	if other.Comparison.SamplesPath != "" {
		c.Comparison.SamplesPath = other.Comparison.SamplesPath
	}
	if other.Comparison.Thresholds != (comparison.Thresholds{}) {
		c.Comparison.Thresholds = other.Comparison.Thresholds.WithDefaults()
	}
	if other.Comparison.AutoPromote {
		c.Comparison.AutoPromote = true
	}

	// Router
	if other.Router.RefreshInterval != 0 {
		c.Router.RefreshInterval = other.Router.RefreshInterval
	}
	if other.Router.Health.Window != 0 {
		c.Router.Health.Window = other.Router.Health.Window
	}
	if other.Router.Health.Threshold != 0 {
		c.Router.Health.Threshold = other.Router.Health.Threshold
	}
	if other.Router.Health.ProbeInterval != 0 {
		c.Router.Health.ProbeInterval = other.Router.Health.ProbeInterval
	}

	// Guard
	if other.Guard.PollInterval != 0 {
		c.Guard.PollInterval = other.Guard.PollInterval
	}
	if other.Guard.Cooldown != 0 {
		c.Guard.Cooldown = other.Guard.Cooldown
	}
	if other.Guard.MaxPollFailures != 0 {
		c.Guard.MaxPollFailures = other.Guard.MaxPollFailures
	}
	if other.Guard.JournalPath != "" {
		c.Guard.JournalPath = other.Guard.JournalPath
	}
	if len(other.Guard.Rules) > 0 {
		c.Guard.Rules = other.Guard.Rules
	}
	if len(other.Guard.Fallbacks) > 0 {
		c.Guard.Fallbacks = other.Guard.Fallbacks
	}
}
