package safetyguard

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/insightops/modelgate/guard"
)

// safetyGuardSchema defines the configuration schema.
var safetyGuardSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the safety guard component.
type Config struct {
	// PrometheusURL is the base URL of the metrics backend.
	PrometheusURL string `json:"prometheus_url"`

	// PollInterval is how often rules are evaluated.
	PollInterval time.Duration `json:"poll_interval"`

	// Cooldown is the minimum time at an elevated level before
	// de-escalation.
	Cooldown time.Duration `json:"cooldown"`

	// MaxPollFailures is how many consecutive failed cycles are tolerated
	// before failing safe to NORMAL.
	MaxPollFailures int `json:"max_poll_failures"`

	// JournalPath is the SQLite file holding the transition audit log.
	JournalPath string `json:"journal_path"`

	// Rules are the safety rules, evaluated most severe first.
	Rules []guard.Rule `json:"rules,omitempty"`

	// Fallbacks maps a level to per-model fallback model names.
	Fallbacks map[guard.Level]map[string]string `json:"fallbacks,omitempty"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:    guard.DefaultPollInterval,
		Cooldown:        guard.DefaultCooldown,
		MaxPollFailures: guard.DefaultMaxPollFailures,
		JournalPath:     "adaptation.db",
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{},
			Outputs: []component.PortDefinition{
				{
					Name:        "adaptation-state",
					Type:        "jetstream",
					Subject:     guard.StateSubject,
					StreamName:  "GOVERNANCE",
					Description: "Announce adaptation level changes",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.PrometheusURL == "" {
		return fmt.Errorf("prometheus_url is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive")
	}
	if c.Cooldown <= 0 {
		return fmt.Errorf("cooldown must be positive")
	}
	if c.MaxPollFailures < 1 {
		return fmt.Errorf("max_poll_failures must be at least 1")
	}
	if c.JournalPath == "" {
		return fmt.Errorf("journal_path is required")
	}
	for _, r := range c.Rules {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
	}
	for level := range c.Fallbacks {
		if level == guard.LevelNormal {
			return fmt.Errorf("fallbacks cannot be keyed by NORMAL")
		}
		if !level.Valid() {
			return fmt.Errorf("unknown fallback level %q", level)
		}
	}
	return nil
}
