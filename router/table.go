// Package router resolves which model version serves a live request.
// It projects the registry into an immutable routing table, splits
// traffic between the PRODUCTION version and weighted CANARY versions,
// drops unhealthy targets, and honors safety-guard overrides.
package router

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/insightops/modelgate/registry"
)

// DefaultRefreshInterval is how often the routing snapshot is rebuilt
// from the registry.
const DefaultRefreshInterval = 10 * time.Second

// Target is one routable model version with its traffic share.
type Target struct {
	ModelName   string         `json:"model_name"`
	Version     int            `json:"version"`
	ArtifactRef string         `json:"artifact_ref"`
	State       registry.State `json:"state"`
	Weight      int            `json:"weight"`
}

// Table is the routing view of one model: the production version plus
// any canaries, with weights summing to 100. Tables are immutable
// snapshots; a refresh builds a new one.
type Table struct {
	ModelName string   `json:"model_name"`
	Targets   []Target `json:"targets"`
}

// BuildTable projects a model's versions into a routing table. The
// PRODUCTION version absorbs whatever weight the canaries do not claim.
// A model without a PRODUCTION version gets an empty table; canaries
// cannot serve without a production fallback behind them.
func BuildTable(modelName string, versions []*registry.ModelVersion) *Table {
	table := &Table{ModelName: modelName}

	var production *registry.ModelVersion
	var canaries []*registry.ModelVersion
	for _, v := range versions {
		switch v.State {
		case registry.StateProduction:
			production = v
		case registry.StateCanary:
			if v.CanaryWeight > 0 {
				canaries = append(canaries, v)
			}
		}
	}
	if production == nil {
		return table
	}

	sort.Slice(canaries, func(i, j int) bool { return canaries[i].Version < canaries[j].Version })

	canaryTotal := 0
	for _, c := range canaries {
		canaryTotal += c.CanaryWeight
	}

	table.Targets = append(table.Targets, Target{
		ModelName:   modelName,
		Version:     production.Version,
		ArtifactRef: production.ArtifactRef,
		State:       registry.StateProduction,
		Weight:      100 - canaryTotal,
	})
	for _, c := range canaries {
		table.Targets = append(table.Targets, Target{
			ModelName:   modelName,
			Version:     c.Version,
			ArtifactRef: c.ArtifactRef,
			State:       registry.StateCanary,
			Weight:      c.CanaryWeight,
		})
	}
	return table
}

// snapshot is the full routing view across models.
type snapshot struct {
	tables  map[string]*Table
	builtAt time.Time
}

// Lister is the registry read surface the provider needs.
type Lister interface {
	List(ctx context.Context, name string) ([]*registry.ModelVersion, error)
}

// Provider keeps an atomically swapped routing snapshot fresh from the
// registry. Readers never block on a refresh; a failed refresh keeps
// serving the last good snapshot.
type Provider struct {
	lister   Lister
	interval time.Duration
	logger   *slog.Logger

	current atomic.Pointer[snapshot]
}

// NewProvider creates a provider. Non-positive interval falls back to
// DefaultRefreshInterval; a nil logger falls back to slog.Default.
func NewProvider(lister Lister, interval time.Duration, logger *slog.Logger) *Provider {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{lister: lister, interval: interval, logger: logger}
	p.current.Store(&snapshot{tables: map[string]*Table{}})
	return p
}

// Refresh rebuilds the snapshot from the registry. On error the last
// good snapshot stays in place and the error is returned.
func (p *Provider) Refresh(ctx context.Context) error {
	versions, err := p.lister.List(ctx, "")
	if err != nil {
		p.logger.Warn("Routing refresh failed, keeping last snapshot", "error", err)
		return err
	}

	byModel := make(map[string][]*registry.ModelVersion)
	for _, v := range versions {
		byModel[v.ModelName] = append(byModel[v.ModelName], v)
	}

	tables := make(map[string]*Table, len(byModel))
	for name, vs := range byModel {
		tables[name] = BuildTable(name, vs)
	}

	p.current.Store(&snapshot{tables: tables, builtAt: time.Now().UTC()})
	return nil
}

// Run refreshes on a ticker until ctx is cancelled.
func (p *Provider) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Initial refresh so routing works before the first tick.
	if err := p.Refresh(ctx); err != nil {
		p.logger.Warn("Initial routing refresh failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = p.Refresh(ctx) // already logged inside Refresh
		}
	}
}

// Table returns the current routing table for a model, or nil when the
// model is unknown.
func (p *Provider) Table(modelName string) *Table {
	return p.current.Load().tables[modelName]
}
