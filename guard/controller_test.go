package guard

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insightops/modelgate/metricsource"
)

// scriptedSource returns configured values per query and can be flipped
// into a failing state.
type scriptedSource struct {
	mu     sync.Mutex
	values map[string]float64
	err    error
}

func (s *scriptedSource) QueryScalar(_ context.Context, query string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	value, ok := s.values[query]
	if !ok {
		return 0, fmt.Errorf("no scripted value for %q", query)
	}
	return value, nil
}

func (s *scriptedSource) FetchEmbeddings(context.Context, metricsource.Window, string) ([][]float64, error) {
	return nil, nil
}

func (s *scriptedSource) set(query string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[query] = value
}

func (s *scriptedSource) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type memorySink struct {
	mu     sync.Mutex
	states []State
}

func (m *memorySink) Save(_ context.Context, state State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, state)
	return nil
}

func (m *memorySink) last() (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return State{}, false
	}
	return m.states[len(m.states)-1], true
}

func testRules() []Rule {
	return []Rule{
		{Name: "latency-degraded", Query: "latency_p95", Operator: OpGreaterThan, Threshold: 0.5, Level: LevelDegraded},
		{Name: "error-critical", Query: "error_rate", Operator: OpGreaterThan, Threshold: 0.2, Level: LevelCritical},
	}
}

func newTestController(t *testing.T, source *scriptedSource, sink Sink, cfg ControllerConfig) (*Controller, *time.Time) {
	t.Helper()
	ctrl, err := NewController(source, testRules(), cfg, sink, nil, nil)
	require.NoError(t, err)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctrl.now = func() time.Time { return now }
	return ctrl, &now
}

func healthySource() *scriptedSource {
	return &scriptedSource{values: map[string]float64{
		"latency_p95": 0.1,
		"error_rate":  0.01,
	}}
}

func TestControllerTick(t *testing.T) {
	ctx := context.Background()

	t.Run("healthy metrics stay NORMAL", func(t *testing.T) {
		ctrl, _ := newTestController(t, healthySource(), nil, ControllerConfig{})
		ctrl.Tick(ctx)
		assert.Equal(t, LevelNormal, ctrl.State().Level)
	})

	t.Run("critical rule wins over degraded rule", func(t *testing.T) {
		source := healthySource()
		source.set("latency_p95", 2.0) // degraded breach
		source.set("error_rate", 0.5)  // critical breach

		sink := &memorySink{}
		ctrl, _ := newTestController(t, source, sink, ControllerConfig{})
		ctrl.Tick(ctx)

		state := ctrl.State()
		assert.Equal(t, LevelCritical, state.Level)
		assert.Equal(t, "error-critical", state.TriggeredBy)
		assert.Equal(t, state.Since.Add(DefaultCooldown), state.ActiveUntil)

		saved, ok := sink.last()
		require.True(t, ok)
		assert.Equal(t, LevelCritical, saved.Level)
	})

	t.Run("escalation is immediate even from elevated level", func(t *testing.T) {
		source := healthySource()
		source.set("latency_p95", 2.0)
		ctrl, _ := newTestController(t, source, nil, ControllerConfig{Cooldown: time.Hour})

		ctrl.Tick(ctx)
		assert.Equal(t, LevelDegraded, ctrl.State().Level)

		source.set("error_rate", 0.9)
		ctrl.Tick(ctx)
		assert.Equal(t, LevelCritical, ctrl.State().Level, "escalation must not wait for cooldown")
	})

	t.Run("de-escalation waits out the cooldown", func(t *testing.T) {
		source := healthySource()
		source.set("error_rate", 0.9)
		ctrl, now := newTestController(t, source, nil, ControllerConfig{Cooldown: 10 * time.Minute})

		ctrl.Tick(ctx)
		require.Equal(t, LevelCritical, ctrl.State().Level)

		source.set("error_rate", 0.01)
		*now = now.Add(5 * time.Minute)
		ctrl.Tick(ctx)
		assert.Equal(t, LevelCritical, ctrl.State().Level, "cooldown not elapsed")

		*now = now.Add(6 * time.Minute)
		ctrl.Tick(ctx)
		assert.Equal(t, LevelNormal, ctrl.State().Level)
	})

	t.Run("repeated breaches do not rewrite state", func(t *testing.T) {
		source := healthySource()
		source.set("latency_p95", 2.0)
		sink := &memorySink{}
		ctrl, _ := newTestController(t, source, sink, ControllerConfig{})

		ctrl.Tick(ctx)
		ctrl.Tick(ctx)
		ctrl.Tick(ctx)

		assert.Len(t, sink.states, 1, "only the transition should be persisted")
	})

	t.Run("fails safe to NORMAL after repeated poll failures", func(t *testing.T) {
		source := healthySource()
		source.set("error_rate", 0.9)
		sink := &memorySink{}
		ctrl, _ := newTestController(t, source, sink, ControllerConfig{Cooldown: time.Hour, MaxPollFailures: 3})

		ctrl.Tick(ctx)
		require.Equal(t, LevelCritical, ctrl.State().Level)

		source.fail(fmt.Errorf("prometheus unreachable"))
		ctrl.Tick(ctx)
		ctrl.Tick(ctx)
		assert.Equal(t, LevelCritical, ctrl.State().Level, "tolerated failures keep the level")

		ctrl.Tick(ctx)
		state := ctrl.State()
		assert.Equal(t, LevelNormal, state.Level)
		assert.Contains(t, state.Reason, "failing safe")
	})

	t.Run("successful cycle resets the failure count", func(t *testing.T) {
		source := healthySource()
		ctrl, _ := newTestController(t, source, nil, ControllerConfig{MaxPollFailures: 2})

		source.fail(fmt.Errorf("blip"))
		ctrl.Tick(ctx)

		source.fail(nil)
		ctrl.Tick(ctx)

		source.fail(fmt.Errorf("blip"))
		ctrl.Tick(ctx)
		assert.Equal(t, LevelNormal, ctrl.State().Level)
		ctrl.mu.Lock()
		failures := ctrl.pollFailures
		ctrl.mu.Unlock()
		assert.Equal(t, 1, failures)
	})
}

func TestControllerFallbackModel(t *testing.T) {
	ctx := context.Background()
	cfg := ControllerConfig{
		Fallbacks: map[Level]map[string]string{
			LevelDegraded: {"detector": "detector-lite"},
			LevelCritical: {"detector": "detector-tiny"},
		},
	}

	source := healthySource()
	ctrl, _ := newTestController(t, source, nil, cfg)

	assert.Empty(t, ctrl.FallbackModel("detector"), "NORMAL has no fallback")

	source.set("latency_p95", 2.0)
	ctrl.Tick(ctx)
	assert.Equal(t, "detector-lite", ctrl.FallbackModel("detector"))
	assert.Empty(t, ctrl.FallbackModel("classifier"), "models without a fallback keep serving")

	source.set("error_rate", 0.9)
	ctrl.Tick(ctx)
	assert.Equal(t, "detector-tiny", ctrl.FallbackModel("detector"))
}

func TestRuleValidation(t *testing.T) {
	_, err := NewController(healthySource(), []Rule{{Name: "bad", Query: "q", Operator: "between", Threshold: 1, Level: LevelDegraded}}, ControllerConfig{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewController(healthySource(), []Rule{
		{Name: "dup", Query: "q", Operator: OpGreaterThan, Threshold: 1, Level: LevelDegraded},
		{Name: "dup", Query: "q", Operator: OpGreaterThan, Threshold: 2, Level: LevelCritical},
	}, ControllerConfig{}, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewController(nil, testRules(), ControllerConfig{}, nil, nil, nil)
	assert.Error(t, err)
}

func TestRuleMatches(t *testing.T) {
	gt := Rule{Operator: OpGreaterThan, Threshold: 0.5}
	assert.True(t, gt.Matches(0.6))
	assert.False(t, gt.Matches(0.5))

	lt := Rule{Operator: OpLessThan, Threshold: 0.5}
	assert.True(t, lt.Matches(0.4))
	assert.False(t, lt.Matches(0.5))
}
