package safetyguard

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the safety-guard component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "safety-guard",
		Factory:     NewComponent,
		Schema:      safetyGuardSchema,
		Type:        "processor",
		Protocol:    "nats",
		Domain:      "governance",
		Description: "Safety rule evaluation and adaptation control",
		Version:     "0.1.0",
	})
}
