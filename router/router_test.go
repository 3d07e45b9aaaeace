package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightops/modelgate/registry"
)

type fakeLister struct {
	versions []*registry.ModelVersion
	err      error
}

func (f *fakeLister) List(_ context.Context, _ string) ([]*registry.ModelVersion, error) {
	return f.versions, f.err
}

func detectorVersions() []*registry.ModelVersion {
	return []*registry.ModelVersion{
		{ModelName: "detector", Version: 2, ArtifactRef: "ref-v2", State: registry.StateArchived},
		{ModelName: "detector", Version: 3, ArtifactRef: "ref-v3", State: registry.StateProduction},
		{ModelName: "detector", Version: 4, ArtifactRef: "ref-v4", State: registry.StateCanary, CanaryWeight: 10},
	}
}

func newTestProvider(t *testing.T, lister Lister) *Provider {
	t.Helper()
	provider := NewProvider(lister, time.Minute, nil)
	require.NoError(t, provider.Refresh(context.Background()))
	return provider
}

func TestBuildTable(t *testing.T) {
	t.Run("production absorbs unclaimed weight", func(t *testing.T) {
		table := BuildTable("detector", detectorVersions())
		require.Len(t, table.Targets, 2)
		assert.Equal(t, 90, table.Targets[0].Weight)
		assert.Equal(t, registry.StateProduction, table.Targets[0].State)
		assert.Equal(t, 10, table.Targets[1].Weight)
		assert.Equal(t, registry.StateCanary, table.Targets[1].State)
	})

	t.Run("no production means empty table", func(t *testing.T) {
		table := BuildTable("detector", []*registry.ModelVersion{
			{ModelName: "detector", Version: 1, State: registry.StateCanary, CanaryWeight: 50},
		})
		assert.Empty(t, table.Targets)
	})

	t.Run("zero weight canaries excluded", func(t *testing.T) {
		table := BuildTable("detector", []*registry.ModelVersion{
			{ModelName: "detector", Version: 3, State: registry.StateProduction},
			{ModelName: "detector", Version: 4, State: registry.StateCanary, CanaryWeight: 0},
		})
		require.Len(t, table.Targets, 1)
		assert.Equal(t, 100, table.Targets[0].Weight)
	})
}

func TestProviderRefresh(t *testing.T) {
	t.Run("failed refresh keeps last snapshot", func(t *testing.T) {
		lister := &fakeLister{versions: detectorVersions()}
		provider := newTestProvider(t, lister)
		require.NotNil(t, provider.Table("detector"))

		lister.err = errors.New("registry down")
		assert.Error(t, provider.Refresh(context.Background()))
		assert.NotNil(t, provider.Table("detector"), "stale table should keep serving")
	})

	t.Run("unknown model has no table", func(t *testing.T) {
		provider := newTestProvider(t, &fakeLister{versions: detectorVersions()})
		assert.Nil(t, provider.Table("classifier"))
	})
}

func TestRouterRoute(t *testing.T) {
	t.Run("canary share tracks configured weight", func(t *testing.T) {
		provider := newTestProvider(t, &fakeLister{versions: detectorVersions()})
		router := NewRouter(provider, nil, nil, nil)

		canary := 0
		for i := 0; i < 1000; i++ {
			target, err := router.Route("detector", fmt.Sprintf("req-%d", i))
			require.NoError(t, err)
			if target.State == registry.StateCanary {
				canary++
			}
		}
		assert.InDelta(t, 100, canary, 40, "10%% canary weight should draw roughly 100 of 1000 requests")
	})

	t.Run("same request key routes to the same target", func(t *testing.T) {
		provider := newTestProvider(t, &fakeLister{versions: detectorVersions()})
		router := NewRouter(provider, nil, nil, nil)

		first, err := router.Route("detector", "req-42")
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			again, err := router.Route("detector", "req-42")
			require.NoError(t, err)
			assert.Equal(t, first.Version, again.Version)
		}
	})

	t.Run("unknown model", func(t *testing.T) {
		provider := newTestProvider(t, &fakeLister{versions: detectorVersions()})
		router := NewRouter(provider, nil, nil, nil)

		_, err := router.Route("classifier", "req-1")
		assert.ErrorIs(t, err, ErrUnknownModel)
	})

	t.Run("unhealthy canary falls back to production", func(t *testing.T) {
		provider := newTestProvider(t, &fakeLister{versions: detectorVersions()})
		health := NewHealthTracker(4, 0.5, time.Hour)
		router := NewRouter(provider, health, nil, nil)

		for i := 0; i < 4; i++ {
			health.Record("detector", 4, false)
		}

		for i := 0; i < 200; i++ {
			target, err := router.Route("detector", fmt.Sprintf("req-%d", i))
			require.NoError(t, err)
			assert.Equal(t, 3, target.Version)
		}
	})

	t.Run("all targets unhealthy", func(t *testing.T) {
		provider := newTestProvider(t, &fakeLister{versions: detectorVersions()})
		health := NewHealthTracker(4, 0.5, time.Hour)
		router := NewRouter(provider, health, nil, nil)

		for i := 0; i < 4; i++ {
			health.Record("detector", 3, false)
			health.Record("detector", 4, false)
		}

		_, err := router.Route("detector", "req-1")
		assert.ErrorIs(t, err, ErrNoHealthyTarget)
	})

	t.Run("guard override redirects to fallback model", func(t *testing.T) {
		versions := append(detectorVersions(),
			&registry.ModelVersion{ModelName: "detector-lite", Version: 1, ArtifactRef: "ref-lite", State: registry.StateProduction})
		provider := newTestProvider(t, &fakeLister{versions: versions})
		router := NewRouter(provider, nil, overrideFunc(func(model string) string {
			if model == "detector" {
				return "detector-lite"
			}
			return ""
		}), nil)

		target, err := router.Route("detector", "req-1")
		require.NoError(t, err)
		assert.Equal(t, "detector-lite", target.ModelName)
		assert.Equal(t, "ref-lite", target.ArtifactRef)
	})

	t.Run("override suspends the fallback model's canaries", func(t *testing.T) {
		versions := append(detectorVersions(),
			&registry.ModelVersion{ModelName: "detector-lite", Version: 1, ArtifactRef: "ref-lite", State: registry.StateProduction},
			&registry.ModelVersion{ModelName: "detector-lite", Version: 2, ArtifactRef: "ref-lite-v2", State: registry.StateCanary, CanaryWeight: 90})
		provider := newTestProvider(t, &fakeLister{versions: versions})
		router := NewRouter(provider, nil, overrideFunc(func(string) string {
			return "detector-lite"
		}), nil)

		for i := 0; i < 50; i++ {
			target, err := router.Route("detector", fmt.Sprintf("req-%d", i))
			require.NoError(t, err)
			assert.Equal(t, registry.StateProduction, target.State)
			assert.Equal(t, 1, target.Version)
		}
	})
}

type overrideFunc func(string) string

func (f overrideFunc) FallbackModel(model string) string { return f(model) }

func TestHealthTracker(t *testing.T) {
	t.Run("trips after window fills with errors", func(t *testing.T) {
		tracker := NewHealthTracker(4, 0.5, time.Hour)

		tracker.Record("m", 1, false)
		tracker.Record("m", 1, false)
		assert.True(t, tracker.Healthy("m", 1), "partial window should not trip")

		tracker.Record("m", 1, false)
		tracker.Record("m", 1, false)
		assert.False(t, tracker.Healthy("m", 1))
	})

	t.Run("errors below threshold do not trip", func(t *testing.T) {
		tracker := NewHealthTracker(4, 0.5, time.Hour)

		tracker.Record("m", 1, false)
		tracker.Record("m", 1, true)
		tracker.Record("m", 1, true)
		tracker.Record("m", 1, true)
		assert.True(t, tracker.Healthy("m", 1))
	})

	t.Run("probe interval reopens the target", func(t *testing.T) {
		tracker := NewHealthTracker(2, 0.5, 10*time.Minute)
		now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		tracker.now = func() time.Time { return now }

		tracker.Record("m", 1, false)
		tracker.Record("m", 1, false)
		assert.False(t, tracker.Healthy("m", 1))

		now = now.Add(11 * time.Minute)
		assert.True(t, tracker.Healthy("m", 1), "probe window elapsed")

		// Still broken: refilling the window with errors trips it again.
		tracker.Record("m", 1, false)
		tracker.Record("m", 1, false)
		assert.False(t, tracker.Healthy("m", 1))
	})

	t.Run("unknown target is healthy", func(t *testing.T) {
		tracker := NewHealthTracker(4, 0.5, time.Hour)
		assert.True(t, tracker.Healthy("m", 9))
	})
}
