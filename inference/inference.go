// Package inference provides the client used to run samples through a
// model serving backend. The governance plane never executes models
// itself; it submits samples to the backend that hosts the artifact and
// observes the structured output plus the measured round-trip latency.
package inference

import (
	"context"
	"encoding/json"
	"time"
)

// Sample is a single input to analyze. Payload is opaque to the control
// plane and forwarded to the backend unchanged.
type Sample struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// Detection is one object or event the model found in a sample.
type Detection struct {
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box,omitempty"`
}

// Output is the result of analyzing one sample with one model version.
type Output struct {
	SampleID   string      `json:"sample_id"`
	Embedding  []float64   `json:"embedding"`
	Detections []Detection `json:"detections"`
	Latency    time.Duration `json:"latency"`
}

// Backend runs samples against a hosted model artifact.
type Backend interface {
	// Analyze submits one sample to the artifact identified by
	// artifactRef and returns its output. Latency in the returned
	// Output is measured by the caller side, wall clock.
	Analyze(ctx context.Context, sample Sample, artifactRef string) (Output, error)
}
