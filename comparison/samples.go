package comparison

import (
	"context"
	"fmt"

	"github.com/insightops/modelgate/inference"
)

// SampleSource supplies the evaluation samples for a comparison run.
type SampleSource interface {
	// Fetch returns up to limit samples. Fewer samples than requested
	// is not an error; the verdict logic handles small runs.
	Fetch(ctx context.Context, limit int) ([]inference.Sample, error)
}

// StaticSource serves a fixed slice of samples, used for replay sets
// and in tests.
type StaticSource struct {
	Samples []inference.Sample
}

// Fetch returns up to limit samples from the fixed set.
func (s *StaticSource) Fetch(_ context.Context, limit int) ([]inference.Sample, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}
	if limit > len(s.Samples) {
		limit = len(s.Samples)
	}
	return s.Samples[:limit], nil
}
