package metricsource

import "errors"

var (
	// ErrUpstreamUnavailable is returned when the metrics backend cannot
	// be reached or answers with a server error. Background poll loops log
	// it and continue; the hot routing path falls back to cached state.
	ErrUpstreamUnavailable = errors.New("metric source unavailable")

	errWindowRequired = errors.New("window start and end are required")
	errWindowOrder    = errors.New("window end must be after start")
)
