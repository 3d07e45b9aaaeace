package comparisonapi

import (
	"fmt"

	"github.com/c360studio/semstreams/payloadregistry"
)

// RegisterPayloads registers the comparison-api payload types with the
// supplied registry.
func RegisterPayloads(reg *payloadregistry.Registry) error {
	registration := &payloadregistry.Registration{
		Domain:      "governance",
		Category:    "comparison",
		Version:     "v1",
		Description: "Result of a baseline/candidate comparison run",
		Factory:     func() any { return &ComparisonResult{} },
	}
	if err := reg.Register(registration); err != nil {
		return fmt.Errorf("failed to register ComparisonResult: %w", err)
	}
	return nil
}
