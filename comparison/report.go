// Package comparison runs shadow evaluations of a candidate model
// version against the current baseline. Both versions analyze the same
// samples; the report aggregates output similarity, latency, and error
// behavior into a verdict a human (or the auto-promote gate) acts on.
package comparison

import "time"

// Report statuses.
const (
	StatusRunning   = "RUNNING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// Verdicts, from worst to best outcome for the candidate.
const (
	VerdictReject  = "REJECT"
	VerdictPromote = "PROMOTE"
	VerdictHold    = "HOLD"
)

// Stats aggregates the per-sample outcomes of one run. SampleCount is
// the number of samples where both versions completed; samples where
// either side errored or timed out contribute to error rates but not to
// similarity or latency aggregates.
type Stats struct {
	Attempted            int           `json:"attempted"`
	SampleCount          int           `json:"sample_count"`
	MeanSimilarity       float64       `json:"mean_similarity"`
	BaselineMeanLatency  time.Duration `json:"baseline_mean_latency"`
	CandidateMeanLatency time.Duration `json:"candidate_mean_latency"`
	BaselineP95          time.Duration `json:"baseline_p95"`
	CandidateP95         time.Duration `json:"candidate_p95"`
	BaselineErrorRate    float64       `json:"baseline_error_rate"`
	CandidateErrorRate   float64       `json:"candidate_error_rate"`
}

// LatencyDeltaMS is how much slower the candidate's mean latency is
// than the baseline's, in milliseconds. Negative when the candidate is
// faster.
func (s Stats) LatencyDeltaMS() float64 {
	return float64(s.CandidateMeanLatency-s.BaselineMeanLatency) / float64(time.Millisecond)
}

// Report is the durable record of one comparison run.
type Report struct {
	ID               string    `json:"id"`
	ModelName        string    `json:"model_name"`
	BaselineVersion  int       `json:"baseline_version"`
	CandidateVersion int       `json:"candidate_version"`
	Status           string    `json:"status"`
	StartedAt        time.Time `json:"started_at"`
	CompletedAt      time.Time `json:"completed_at"`
	Stats            Stats     `json:"stats"`
	Verdict          string    `json:"verdict,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	Error            string    `json:"error,omitempty"`
}
