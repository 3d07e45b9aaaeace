package router

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand"

	"github.com/insightops/modelgate/registry"
)

// Override reports a forced fallback during degraded operation. The
// safety guard implements this; a return of "" means no override.
type Override interface {
	FallbackModel(modelName string) string
}

// Router picks a serving target per request. The draw is weighted by
// the routing table, skips unhealthy targets, and is deterministic for
// a given request key so retries of the same request land on the same
// version.
type Router struct {
	provider *Provider
	health   *HealthTracker
	override Override
	logger   *slog.Logger
}

// NewRouter creates a router. override may be nil when no safety guard
// is wired; a nil logger falls back to slog.Default.
func NewRouter(provider *Provider, health *HealthTracker, override Override, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{provider: provider, health: health, override: override, logger: logger}
}

// Route resolves the target for one request. requestKey seeds the
// weighted draw; an empty key draws randomly.
func (r *Router) Route(modelName, requestKey string) (*Target, error) {
	if r.override != nil {
		if fallback := r.override.FallbackModel(modelName); fallback != "" {
			r.logger.Debug("Routing overridden by safety guard",
				"model", modelName,
				"fallback", fallback)
			return r.routeForced(fallback)
		}
	}

	table := r.provider.Table(modelName)
	if table == nil {
		return nil, fmt.Errorf("model %s: %w", modelName, ErrUnknownModel)
	}

	healthy := make([]Target, 0, len(table.Targets))
	total := 0
	for _, t := range table.Targets {
		if r.health != nil && !r.health.Healthy(t.ModelName, t.Version) {
			continue
		}
		healthy = append(healthy, t)
		total += t.Weight
	}
	if len(healthy) == 0 {
		return nil, fmt.Errorf("model %s: %w", modelName, ErrNoHealthyTarget)
	}

	// All remaining weight may belong to excluded targets; any healthy
	// target is better than refusing the request.
	if total <= 0 {
		return &healthy[0], nil
	}

	draw := int(drawValue(requestKey) % uint64(total))
	for _, t := range healthy {
		draw -= t.Weight
		if draw < 0 {
			target := t
			return &target, nil
		}
	}
	return &healthy[len(healthy)-1], nil
}

// routeForced pins a guard-overridden request to the fallback model's
// production version. Canary weights are suspended while the override
// is active, including any canaries of the fallback model itself.
func (r *Router) routeForced(fallback string) (*Target, error) {
	table := r.provider.Table(fallback)
	if table == nil {
		return nil, fmt.Errorf("fallback model %s: %w", fallback, ErrUnknownModel)
	}
	for _, t := range table.Targets {
		if t.State != registry.StateProduction {
			continue
		}
		if r.health != nil && !r.health.Healthy(t.ModelName, t.Version) {
			break
		}
		target := t
		return &target, nil
	}
	return nil, fmt.Errorf("fallback model %s: %w", fallback, ErrNoHealthyTarget)
}

// Record feeds a request outcome back into health tracking.
func (r *Router) Record(target *Target, success bool) {
	if r.health == nil || target == nil {
		return
	}
	r.health.Record(target.ModelName, target.Version, success)
}

func drawValue(requestKey string) uint64 {
	if requestKey == "" {
		return rand.Uint64()
	}
	h := fnv.New64a()
	h.Write([]byte(requestKey))
	return h.Sum64()
}
