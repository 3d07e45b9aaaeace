// Package drift scores distribution shift between two windows of model
// embedding outputs. A reference window (known-good behavior) and a
// current window are projected onto a shared low-dimensional basis and
// compared with a KL divergence estimate over kernel densities.
package drift

import (
	"fmt"
)

const (
	// DefaultComponents is the dimensionality of the projection space.
	DefaultComponents = 2

	// DefaultMinSamples is the smallest window size that yields a
	// meaningful density estimate.
	DefaultMinSamples = 30
)

// Result statuses.
const (
	StatusComputed         = "computed"
	StatusInsufficientData = "insufficient_data"
)

// Result is the outcome of one drift check. When Status is
// StatusInsufficientData, Score is meaningless and must not be compared
// against a threshold.
type Result struct {
	Status           string  `json:"status"`
	Score            float64 `json:"score"`
	ReferenceSamples int     `json:"reference_samples"`
	CurrentSamples   int     `json:"current_samples"`
}

// Detector computes drift scores. The zero value is not usable; use
// NewDetector.
type Detector struct {
	components int
	minSamples int
}

// NewDetector creates a detector. Non-positive arguments fall back to
// package defaults.
func NewDetector(components, minSamples int) *Detector {
	if components <= 0 {
		components = DefaultComponents
	}
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &Detector{components: components, minSamples: minSamples}
}

// Check scores how far the current window has moved from the reference
// window. The projection basis is fit on the reference only, so the
// reference frame stays stable while the current window shifts. The
// score is the mean log density ratio of the reference samples under
// the two estimated densities: near zero when the windows match,
// growing as the current window stops covering reference behavior.
//
// Check is deterministic: identical inputs always produce identical
// scores.
func (d *Detector) Check(reference, current [][]float64) (Result, error) {
	if len(reference) < d.minSamples || len(current) < d.minSamples {
		return Result{
			Status:           StatusInsufficientData,
			ReferenceSamples: len(reference),
			CurrentSamples:   len(current),
		}, nil
	}

	if err := sameDimension(reference, current); err != nil {
		return Result{}, err
	}

	basis, err := fitPCA(reference, d.components)
	if err != nil {
		return Result{}, fmt.Errorf("fit projection basis: %w", err)
	}

	refProj := basis.project(reference)
	curProj := basis.project(current)

	refDensity, err := fitKDE(refProj)
	if err != nil {
		return Result{}, fmt.Errorf("estimate reference density: %w", err)
	}
	curDensity, err := fitKDE(curProj)
	if err != nil {
		return Result{}, fmt.Errorf("estimate current density: %w", err)
	}

	var score float64
	for _, x := range refProj {
		score += refDensity.logDensity(x) - curDensity.logDensity(x)
	}
	score /= float64(len(refProj))

	return Result{
		Status:           StatusComputed,
		Score:            score,
		ReferenceSamples: len(reference),
		CurrentSamples:   len(current),
	}, nil
}

func sameDimension(reference, current [][]float64) error {
	d := len(reference[0])
	for i, row := range reference {
		if len(row) != d {
			return fmt.Errorf("reference sample %d has dimension %d, want %d", i, len(row), d)
		}
	}
	for i, row := range current {
		if len(row) != d {
			return fmt.Errorf("current sample %d has dimension %d, want %d", i, len(row), d)
		}
	}
	return nil
}
