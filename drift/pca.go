package drift

import (
	"fmt"
	"math"
)

const (
	powerIterations  = 200
	powerTolerance   = 1e-10
)

// pcaModel holds a principal component basis fit on a reference window.
// Projection centers inputs with the reference mean so both windows are
// compared in the same coordinate frame.
type pcaModel struct {
	mean       []float64
	components [][]float64
}

// fitPCA computes the top k principal components of data using power
// iteration with deflation. Start vectors are fixed so repeated fits on
// the same input produce the same basis.
func fitPCA(data [][]float64, k int) (*pcaModel, error) {
	n := len(data)
	if n == 0 {
		return nil, fmt.Errorf("no samples to fit")
	}
	d := len(data[0])
	if d == 0 {
		return nil, fmt.Errorf("zero-dimensional samples")
	}
	for i, row := range data {
		if len(row) != d {
			return nil, fmt.Errorf("sample %d has dimension %d, want %d", i, len(row), d)
		}
	}
	if k > d {
		k = d
	}

	mean := make([]float64, d)
	for _, row := range data {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	// Covariance matrix of the centered data.
	cov := make([][]float64, d)
	for i := range cov {
		cov[i] = make([]float64, d)
	}
	for _, row := range data {
		for i := 0; i < d; i++ {
			ci := row[i] - mean[i]
			for j := i; j < d; j++ {
				cov[i][j] += ci * (row[j] - mean[j])
			}
		}
	}
	denom := float64(n - 1)
	if n == 1 {
		denom = 1
	}
	for i := 0; i < d; i++ {
		for j := i; j < d; j++ {
			cov[i][j] /= denom
			cov[j][i] = cov[i][j]
		}
	}

	components := make([][]float64, 0, k)
	for c := 0; c < k; c++ {
		// Deterministic start: unit vector rotated per component.
		v := make([]float64, d)
		v[c%d] = 1

		var lambda float64
		for iter := 0; iter < powerIterations; iter++ {
			next := matVec(cov, v)
			norm := vecNorm(next)
			if norm < powerTolerance {
				// Covariance has no remaining variance in this
				// direction. Keep the start vector as a basis filler.
				next = v
				norm = vecNorm(next)
			}
			for j := range next {
				next[j] /= norm
			}
			delta := 0.0
			for j := range next {
				delta += math.Abs(next[j] - v[j])
			}
			v = next
			lambda = norm
			if delta < powerTolerance {
				break
			}
		}

		components = append(components, v)

		// Deflate so the next iteration finds an orthogonal direction.
		for i := 0; i < d; i++ {
			for j := 0; j < d; j++ {
				cov[i][j] -= lambda * v[i] * v[j]
			}
		}
	}

	return &pcaModel{mean: mean, components: components}, nil
}

// project maps data into the component space fit by fitPCA.
func (m *pcaModel) project(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		proj := make([]float64, len(m.components))
		for c, comp := range m.components {
			var sum float64
			for j, v := range row {
				sum += (v - m.mean[j]) * comp[j]
			}
			proj[c] = sum
		}
		out[i] = proj
	}
	return out
}

func matVec(m [][]float64, v []float64) []float64 {
	out := make([]float64, len(m))
	for i, row := range m {
		var sum float64
		for j, x := range row {
			sum += x * v[j]
		}
		out[i] = sum
	}
	return out
}

func vecNorm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
