// Package metricsource provides read access to the external metrics and
// embedding backends the governance plane consumes: scalar time-series
// queries for the safety guard and comparison thresholds, and embedding
// batches for the drift detector. The backends themselves are external
// collaborators; this package only defines the interface and an HTTP client.
package metricsource

import (
	"context"
	"time"
)

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks that the window is well-formed.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errWindowRequired
	}
	if !w.End.After(w.Start) {
		return errWindowOrder
	}
	return nil
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Source is the read interface over the external metrics/embedding backend.
type Source interface {
	// QueryScalar evaluates a scalar query (e.g. an avg_over_time
	// expression) and returns its current value.
	QueryScalar(ctx context.Context, query string) (float64, error)

	// FetchEmbeddings returns the embedding vectors recorded inside the
	// window, optionally filtered (e.g. by model name).
	FetchEmbeddings(ctx context.Context, w Window, filter string) ([][]float64, error)
}
