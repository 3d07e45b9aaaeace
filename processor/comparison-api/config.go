package comparisonapi

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/insightops/modelgate/comparison"
)

// comparisonAPISchema defines the configuration schema.
var comparisonAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the comparison API component.
type Config struct {
	// InferenceURL is the base URL of the inference backend.
	InferenceURL string `json:"inference_url"`

	// InferenceAPIKey authenticates against the inference backend.
	InferenceAPIKey string `json:"inference_api_key,omitempty"`

	// InferenceTimeout bounds each backend call.
	InferenceTimeout time.Duration `json:"inference_timeout"`

	// MaxConcurrency is the worker pool size for comparison runs.
	MaxConcurrency int `json:"max_concurrency"`

	// SampleTimeout bounds one sample through one version.
	SampleTimeout time.Duration `json:"sample_timeout"`

	// SampleLimit caps how many samples a run evaluates.
	SampleLimit int `json:"sample_limit"`

	// SamplesPath points at a JSON file with evaluation samples. Runs may
	// also carry samples inline, which takes precedence.
	SamplesPath string `json:"samples_path,omitempty"`

	// AutoPromote applies verdicts to the registry automatically. Off by
	// default; verdicts are advisory until an operator enables this.
	AutoPromote bool `json:"auto_promote"`

	// Thresholds control verdict decisions.
	Thresholds comparison.Thresholds `json:"thresholds"`

	// Ports contains input/output port definitions.
	Ports *component.PortConfig `json:"ports,omitempty"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		InferenceTimeout: 30 * time.Second,
		MaxConcurrency:   comparison.DefaultMaxConcurrency,
		SampleTimeout:    comparison.DefaultSampleTimeout,
		SampleLimit:      100,
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{},
			Outputs: []component.PortDefinition{
				{
					Name:        "comparison-results",
					Type:        "jetstream",
					Subject:     "governance.comparison.>",
					StreamName:  "GOVERNANCE",
					Description: "Publish comparison run results",
					Required:    true,
				},
			},
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.InferenceURL == "" {
		return fmt.Errorf("inference_url is required")
	}
	if c.InferenceTimeout <= 0 {
		return fmt.Errorf("inference_timeout must be positive")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1")
	}
	if c.SampleTimeout <= 0 {
		return fmt.Errorf("sample_timeout must be positive")
	}
	if c.SampleLimit < 1 {
		return fmt.Errorf("sample_limit must be at least 1")
	}
	return nil
}
