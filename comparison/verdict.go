package comparison

import (
	"fmt"
	"math"
)

// Default verdict thresholds.
const (
	DefaultMaxErrorRateDelta         = 0.02
	DefaultRejectLatencyThresholdMS  = 100.0
	DefaultPromoteLatencyThresholdMS = 25.0
	DefaultPromoteSimilarity         = 0.98
	DefaultMinSamples                = 20
)

// Thresholds control how a run's stats map to a verdict. Latency
// thresholds apply to the mean-latency delta (candidate minus
// baseline) in milliseconds.
type Thresholds struct {
	// MaxErrorRateDelta is how much higher the candidate's error rate
	// may be than the baseline's before rejection.
	MaxErrorRateDelta float64 `yaml:"max_error_rate_delta" json:"max_error_rate_delta"`

	// RejectLatencyThresholdMS is the mean-latency delta above which
	// the candidate is rejected.
	RejectLatencyThresholdMS float64 `yaml:"reject_latency_threshold_ms" json:"reject_latency_threshold_ms"`

	// PromoteLatencyThresholdMS is the mean-latency delta the candidate
	// must stay within to be recommended for promotion.
	PromoteLatencyThresholdMS float64 `yaml:"promote_latency_threshold_ms" json:"promote_latency_threshold_ms"`

	// PromoteSimilarity is the mean output similarity required to
	// recommend promotion.
	PromoteSimilarity float64 `yaml:"promote_similarity" json:"promote_similarity"`

	// MinSamples is how many completed samples a run needs before a
	// PROMOTE verdict is allowed. Rejection rules apply regardless.
	MinSamples int `yaml:"min_samples" json:"min_samples"`
}

// WithDefaults fills unset fields.
func (t Thresholds) WithDefaults() Thresholds {
	if t.MaxErrorRateDelta <= 0 {
		t.MaxErrorRateDelta = DefaultMaxErrorRateDelta
	}
	if t.RejectLatencyThresholdMS <= 0 {
		t.RejectLatencyThresholdMS = DefaultRejectLatencyThresholdMS
	}
	if t.PromoteLatencyThresholdMS <= 0 {
		t.PromoteLatencyThresholdMS = DefaultPromoteLatencyThresholdMS
	}
	if t.PromoteSimilarity <= 0 {
		t.PromoteSimilarity = DefaultPromoteSimilarity
	}
	if t.MinSamples <= 0 {
		t.MinSamples = DefaultMinSamples
	}
	return t
}

// Decide maps run stats to a verdict. Rules apply in a fixed order:
// error regression rejects first, then latency regression, then the
// promotion check. Anything inconclusive holds. Rejections do not wait
// for MinSamples; a clearly broken candidate should not keep shadowing.
func Decide(stats Stats, t Thresholds) (verdict, reason string) {
	t = t.WithDefaults()

	if stats.CandidateErrorRate > stats.BaselineErrorRate+t.MaxErrorRateDelta {
		return VerdictReject, fmt.Sprintf("candidate error rate %.4f exceeds baseline %.4f by more than %.4f",
			stats.CandidateErrorRate, stats.BaselineErrorRate, t.MaxErrorRateDelta)
	}

	latencyDelta := stats.LatencyDeltaMS()
	if stats.SampleCount > 0 && latencyDelta > t.RejectLatencyThresholdMS {
		return VerdictReject, fmt.Sprintf("candidate mean latency is %.1fms above baseline (max +%.1fms)",
			latencyDelta, t.RejectLatencyThresholdMS)
	}

	if stats.SampleCount < t.MinSamples {
		return VerdictHold, fmt.Sprintf("only %d completed samples (need %d)", stats.SampleCount, t.MinSamples)
	}

	if stats.MeanSimilarity < t.PromoteSimilarity {
		return VerdictHold, fmt.Sprintf("mean similarity %.4f below promotion threshold %.4f",
			stats.MeanSimilarity, t.PromoteSimilarity)
	}

	if latencyDelta > t.PromoteLatencyThresholdMS {
		return VerdictHold, fmt.Sprintf("mean latency delta %.1fms exceeds promotion threshold %.1fms",
			latencyDelta, t.PromoteLatencyThresholdMS)
	}

	return VerdictPromote, fmt.Sprintf("mean similarity %.4f meets promotion threshold %.4f within latency budget",
		stats.MeanSimilarity, t.PromoteSimilarity)
}

// cosineSimilarity compares two embedding vectors. Mismatched lengths
// or zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
