package driftmonitor

import (
	"fmt"

	"github.com/c360studio/semstreams/payloadregistry"
)

// RegisterPayloads registers the drift-monitor payload types with the
// supplied registry.
func RegisterPayloads(reg *payloadregistry.Registry) error {
	registration := &payloadregistry.Registration{
		Domain:      "governance",
		Category:    "drift",
		Version:     "v1",
		Description: "Drift alert raised when embedding divergence stays above threshold",
		Factory:     func() any { return &DriftAlert{} },
	}
	if err := reg.Register(registration); err != nil {
		return fmt.Errorf("failed to register DriftAlert: %w", err)
	}
	return nil
}
