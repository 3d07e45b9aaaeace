package registryapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the registry-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "registry-api",
		Factory:     NewComponent,
		Schema:      registryAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "governance",
		Description: "HTTP endpoints for model version lifecycle management",
		Version:     "0.1.0",
	})
}
