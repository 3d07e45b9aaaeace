package driftmonitor

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the drift-monitor component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "drift-monitor",
		Factory:     NewComponent,
		Schema:      driftMonitorSchema,
		Type:        "processor",
		Protocol:    "nats",
		Domain:      "governance",
		Description: "Periodic embedding drift checks with alerting",
		Version:     "0.1.0",
	})
}
