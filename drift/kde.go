package drift

import (
	"fmt"
	"math"
)

// minBandwidth keeps degenerate dimensions from producing infinite
// densities when a window has zero variance along an axis.
const minBandwidth = 1e-6

// kde is a Gaussian kernel density estimate over low-dimensional
// projected samples. Bandwidth per dimension follows Scott's rule.
type kde struct {
	points    [][]float64
	bandwidth []float64
	logNorm   float64
}

// fitKDE builds a density estimate from points. All points must share
// one dimension.
func fitKDE(points [][]float64) (*kde, error) {
	n := len(points)
	if n == 0 {
		return nil, fmt.Errorf("no points to estimate")
	}
	d := len(points[0])

	mean := make([]float64, d)
	for _, p := range points {
		for j, v := range p {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float64(n)
	}

	variance := make([]float64, d)
	for _, p := range points {
		for j, v := range p {
			dv := v - mean[j]
			variance[j] += dv * dv
		}
	}

	// Scott's rule: h_j = sigma_j * n^(-1/(d+4)).
	factor := math.Pow(float64(n), -1.0/float64(d+4))
	bandwidth := make([]float64, d)
	logNorm := -math.Log(float64(n))
	for j := range bandwidth {
		sigma := math.Sqrt(variance[j] / float64(maxInt(n-1, 1)))
		h := sigma * factor
		if h < minBandwidth {
			h = minBandwidth
		}
		bandwidth[j] = h
		logNorm -= math.Log(h * math.Sqrt(2*math.Pi))
	}

	return &kde{points: points, bandwidth: bandwidth, logNorm: logNorm}, nil
}

// logDensity evaluates the log of the estimated density at x using a
// log-sum-exp over kernel contributions for numerical stability.
func (k *kde) logDensity(x []float64) float64 {
	maxExp := math.Inf(-1)
	exps := make([]float64, len(k.points))
	for i, p := range k.points {
		var e float64
		for j, v := range x {
			z := (v - p[j]) / k.bandwidth[j]
			e -= 0.5 * z * z
		}
		exps[i] = e
		if e > maxExp {
			maxExp = e
		}
	}

	var sum float64
	for _, e := range exps {
		sum += math.Exp(e - maxExp)
	}
	return k.logNorm + maxExp + math.Log(sum)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
