package drift

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gaussianCloud generates n d-dimensional samples around center with the
// given spread, deterministically for a fixed seed.
func gaussianCloud(seed int64, n, d int, center, spread float64) [][]float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, d)
		for j := range row {
			row[j] = center + spread*rng.NormFloat64()
		}
		out[i] = row
	}
	return out
}

func TestDetectorCheck(t *testing.T) {
	detector := NewDetector(2, 10)

	t.Run("identical windows score near zero", func(t *testing.T) {
		window := gaussianCloud(1, 100, 8, 0, 1)

		result, err := detector.Check(window, window)
		require.NoError(t, err)
		assert.Equal(t, StatusComputed, result.Status)
		assert.InDelta(t, 0, result.Score, 1e-9)
		assert.Equal(t, 100, result.ReferenceSamples)
		assert.Equal(t, 100, result.CurrentSamples)
	})

	t.Run("shifted window scores higher than matching window", func(t *testing.T) {
		reference := gaussianCloud(1, 100, 8, 0, 1)
		matching := gaussianCloud(2, 100, 8, 0, 1)
		shifted := gaussianCloud(3, 100, 8, 5, 1)

		low, err := detector.Check(reference, matching)
		require.NoError(t, err)
		high, err := detector.Check(reference, shifted)
		require.NoError(t, err)

		assert.Greater(t, high.Score, low.Score)
		assert.Greater(t, high.Score, 1.0, "a five sigma shift should score well above noise")
	})

	t.Run("deterministic across repeated checks", func(t *testing.T) {
		reference := gaussianCloud(4, 50, 8, 0, 1)
		current := gaussianCloud(5, 50, 8, 2, 1)

		first, err := detector.Check(reference, current)
		require.NoError(t, err)
		for i := 0; i < 5; i++ {
			again, err := detector.Check(reference, current)
			require.NoError(t, err)
			assert.Equal(t, first.Score, again.Score)
		}
	})

	t.Run("insufficient data is a status not an error", func(t *testing.T) {
		reference := gaussianCloud(6, 100, 8, 0, 1)
		tiny := gaussianCloud(7, 3, 8, 0, 1)

		result, err := detector.Check(reference, tiny)
		require.NoError(t, err)
		assert.Equal(t, StatusInsufficientData, result.Status)
		assert.Equal(t, 3, result.CurrentSamples)

		result, err = detector.Check(tiny, reference)
		require.NoError(t, err)
		assert.Equal(t, StatusInsufficientData, result.Status)
	})

	t.Run("ragged dimensions rejected", func(t *testing.T) {
		reference := gaussianCloud(8, 20, 8, 0, 1)
		current := gaussianCloud(9, 20, 4, 0, 1)

		_, err := detector.Check(reference, current)
		assert.Error(t, err)
	})

	t.Run("score is finite for disjoint windows", func(t *testing.T) {
		reference := gaussianCloud(10, 50, 8, 0, 0.1)
		farAway := gaussianCloud(11, 50, 8, 100, 0.1)

		result, err := detector.Check(reference, farAway)
		require.NoError(t, err)
		assert.False(t, math.IsInf(result.Score, 0))
		assert.False(t, math.IsNaN(result.Score))
	})
}

func TestFitPCA(t *testing.T) {
	t.Run("components are unit length and orthogonal", func(t *testing.T) {
		data := gaussianCloud(12, 200, 6, 0, 1)
		// Stretch one axis so there is a dominant direction.
		for _, row := range data {
			row[2] *= 10
		}

		model, err := fitPCA(data, 2)
		require.NoError(t, err)
		require.Len(t, model.components, 2)

		for _, comp := range model.components {
			assert.InDelta(t, 1, vecNorm(comp), 1e-6)
		}

		var dot float64
		for j := range model.components[0] {
			dot += model.components[0][j] * model.components[1][j]
		}
		assert.InDelta(t, 0, dot, 1e-4)

		// The first component should align with the stretched axis.
		assert.Greater(t, math.Abs(model.components[0][2]), 0.99)
	})

	t.Run("k clamped to dimension", func(t *testing.T) {
		data := gaussianCloud(13, 30, 2, 0, 1)
		model, err := fitPCA(data, 5)
		require.NoError(t, err)
		assert.Len(t, model.components, 2)
	})

	t.Run("empty input rejected", func(t *testing.T) {
		_, err := fitPCA(nil, 2)
		assert.Error(t, err)
	})
}

func TestFitKDE(t *testing.T) {
	t.Run("density is higher near the data", func(t *testing.T) {
		points := gaussianCloud(14, 100, 2, 0, 1)
		density, err := fitKDE(points)
		require.NoError(t, err)

		near := density.logDensity([]float64{0, 0})
		far := density.logDensity([]float64{20, 20})
		assert.Greater(t, near, far)
	})

	t.Run("zero variance dimension stays finite", func(t *testing.T) {
		points := [][]float64{{1, 0}, {2, 0}, {3, 0}, {4, 0}}
		density, err := fitKDE(points)
		require.NoError(t, err)

		v := density.logDensity([]float64{2, 0})
		assert.False(t, math.IsInf(v, 0))
		assert.False(t, math.IsNaN(v))
	})
}
