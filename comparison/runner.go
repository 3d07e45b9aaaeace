package comparison

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insightops/modelgate/inference"
	"github.com/insightops/modelgate/registry"
)

const (
	// DefaultMaxConcurrency bounds how many samples run in flight at
	// once across both model versions.
	DefaultMaxConcurrency = 4

	// DefaultSampleTimeout bounds one sample's round trip through one
	// version. A timed-out side counts as that side's error.
	DefaultSampleTimeout = 30 * time.Second
)

// RunnerConfig tunes run execution.
type RunnerConfig struct {
	MaxConcurrency int           `yaml:"max_concurrency" json:"max_concurrency"`
	SampleTimeout  time.Duration `yaml:"sample_timeout" json:"sample_timeout"`
	Thresholds     Thresholds    `yaml:"thresholds" json:"thresholds"`
}

func (c RunnerConfig) withDefaults() RunnerConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.SampleTimeout <= 0 {
		c.SampleTimeout = DefaultSampleTimeout
	}
	c.Thresholds = c.Thresholds.WithDefaults()
	return c
}

// Runner executes comparison runs against the serving backend.
type Runner struct {
	backend inference.Backend
	cfg     RunnerConfig
	logger  *slog.Logger
}

// NewRunner creates a runner. A nil logger falls back to slog.Default.
func NewRunner(backend inference.Backend, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{backend: backend, cfg: cfg.withDefaults(), logger: logger}
}

// pairResult is the outcome of one sample through both versions.
type pairResult struct {
	baselineErr  error
	candidateErr error
	similarity   float64
	baselineLat  time.Duration
	candidateLat time.Duration
}

// Run evaluates candidate against baseline over the given samples and
// returns a completed report. Samples are processed by a bounded worker
// pool; each side of each sample gets its own timeout. Context
// cancellation aborts the run and returns the context error, leaving it
// to the caller to persist a FAILED report.
func (r *Runner) Run(ctx context.Context, baseline, candidate *registry.ModelVersion, samples []inference.Sample) (*Report, error) {
	if baseline == nil || candidate == nil {
		return nil, fmt.Errorf("baseline and candidate versions are required")
	}
	if baseline.ModelName != candidate.ModelName {
		return nil, fmt.Errorf("cannot compare %s against %s", candidate.ModelName, baseline.ModelName)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("no samples to evaluate")
	}

	report := &Report{
		ID:               uuid.NewString(),
		ModelName:        candidate.ModelName,
		BaselineVersion:  baseline.Version,
		CandidateVersion: candidate.Version,
		Status:           StatusRunning,
		StartedAt:        time.Now().UTC(),
	}

	r.logger.Info("Starting comparison run",
		"report_id", report.ID,
		"model", report.ModelName,
		"baseline", baseline.Version,
		"candidate", candidate.Version,
		"samples", len(samples))

	results := make([]pairResult, len(samples))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < r.cfg.MaxConcurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = r.evaluate(ctx, samples[i], baseline.ArtifactRef, candidate.ArtifactRef)
			}
		}()
	}

	var aborted error
dispatch:
	for i := range samples {
		select {
		case jobs <- i:
		case <-ctx.Done():
			aborted = ctx.Err()
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	if aborted != nil {
		return nil, fmt.Errorf("comparison run %s aborted: %w", report.ID, aborted)
	}

	report.Stats = aggregate(results)
	report.Verdict, report.Reason = Decide(report.Stats, r.cfg.Thresholds)
	report.Status = StatusCompleted
	report.CompletedAt = time.Now().UTC()

	r.logger.Info("Comparison run completed",
		"report_id", report.ID,
		"verdict", report.Verdict,
		"completed_samples", report.Stats.SampleCount,
		"mean_similarity", report.Stats.MeanSimilarity)

	return report, nil
}

// evaluate runs one sample through both versions sequentially. The pool
// provides cross-sample parallelism; keeping the two sides sequential
// per sample avoids doubling in-flight load on the backend.
func (r *Runner) evaluate(ctx context.Context, sample inference.Sample, baselineRef, candidateRef string) pairResult {
	var result pairResult

	baseOut, err := r.analyzeOne(ctx, sample, baselineRef)
	if err != nil {
		result.baselineErr = err
	} else {
		result.baselineLat = baseOut.Latency
	}

	candOut, err := r.analyzeOne(ctx, sample, candidateRef)
	if err != nil {
		result.candidateErr = err
	} else {
		result.candidateLat = candOut.Latency
	}

	if result.baselineErr == nil && result.candidateErr == nil {
		result.similarity = outputSimilarity(baseOut, candOut)
	}
	return result
}

// outputSimilarity scores how closely two outputs agree. Embedding
// outputs use cosine similarity; purely discrete detection outputs
// fall back to Jaccard over the detected label sets.
func outputSimilarity(a, b inference.Output) float64 {
	if len(a.Embedding) > 0 || len(b.Embedding) > 0 {
		return cosineSimilarity(a.Embedding, b.Embedding)
	}
	return labelJaccard(a.Detections, b.Detections)
}

// labelJaccard compares detection label sets. Two empty sets agree.
func labelJaccard(a, b []inference.Detection) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	setA := make(map[string]bool, len(a))
	for _, d := range a {
		setA[d.Label] = true
	}
	setB := make(map[string]bool, len(b))
	for _, d := range b {
		setB[d.Label] = true
	}

	intersection := 0
	for label := range setA {
		if setB[label] {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1
	}
	return float64(intersection) / float64(union)
}

func (r *Runner) analyzeOne(ctx context.Context, sample inference.Sample, artifactRef string) (inference.Output, error) {
	sampleCtx, cancel := context.WithTimeout(ctx, r.cfg.SampleTimeout)
	defer cancel()
	out, err := r.backend.Analyze(sampleCtx, sample, artifactRef)
	if err != nil {
		r.logger.Debug("Sample analysis failed",
			"sample_id", sample.ID,
			"artifact_ref", artifactRef,
			"error", err)
	}
	return out, err
}

// aggregate folds per-sample outcomes into run stats. Latency and
// similarity aggregates only include fully completed pairs.
func aggregate(results []pairResult) Stats {
	stats := Stats{Attempted: len(results)}
	if len(results) == 0 {
		return stats
	}

	var (
		simSum        float64
		baselineLats  []time.Duration
		candidateLats []time.Duration
		baseErrs      int
		candErrs      int
	)

	for _, res := range results {
		if res.baselineErr != nil {
			baseErrs++
		}
		if res.candidateErr != nil {
			candErrs++
		}
		if res.baselineErr == nil && res.candidateErr == nil {
			stats.SampleCount++
			simSum += res.similarity
			baselineLats = append(baselineLats, res.baselineLat)
			candidateLats = append(candidateLats, res.candidateLat)
		}
	}

	if stats.SampleCount > 0 {
		stats.MeanSimilarity = simSum / float64(stats.SampleCount)
		stats.BaselineMeanLatency = mean(baselineLats)
		stats.CandidateMeanLatency = mean(candidateLats)
		stats.BaselineP95 = percentile(baselineLats, 0.95)
		stats.CandidateP95 = percentile(candidateLats, 0.95)
	}
	stats.BaselineErrorRate = float64(baseErrs) / float64(stats.Attempted)
	stats.CandidateErrorRate = float64(candErrs) / float64(stats.Attempted)
	return stats
}

func mean(values []time.Duration) time.Duration {
	if len(values) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range values {
		sum += v
	}
	return sum / time.Duration(len(values))
}

// percentile uses nearest-rank on a sorted copy.
func percentile(values []time.Duration, p float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
