package registryapi

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// registryAPISchema holds the configuration schema generated from Config.
var registryAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the registry-api component.
type Config struct {
	// RetryAttempts is how many times a write that loses a concurrent
	// update race is retried before the conflict surfaces to the caller.
	RetryAttempts int `json:"retry_attempts" schema:"type:int,description:Retry attempts for concurrent write conflicts,category:basic,default:3"`

	// Ports declares optional port configuration.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		RetryAttempts: 3,
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be >= 1")
	}
	return nil
}
