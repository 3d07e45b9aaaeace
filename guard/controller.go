package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/insightops/modelgate/metricsource"
)

const (
	// DefaultPollInterval is how often rules are evaluated.
	DefaultPollInterval = 30 * time.Second

	// DefaultCooldown is the minimum time the system stays at an
	// elevated level before de-escalation is allowed. Escalation is
	// never delayed.
	DefaultCooldown = 5 * time.Minute

	// DefaultMaxPollFailures is how many consecutive failed evaluation
	// cycles are tolerated before the guard fails safe to NORMAL.
	DefaultMaxPollFailures = 3
)

// Sink persists and announces adaptation state changes.
type Sink interface {
	Save(ctx context.Context, state State) error
}

// ControllerConfig tunes the guard loop.
type ControllerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval" json:"poll_interval"`
	Cooldown        time.Duration `yaml:"cooldown" json:"cooldown"`
	MaxPollFailures int           `yaml:"max_poll_failures" json:"max_poll_failures"`

	// Fallbacks maps a level to per-model fallback model names the
	// router serves while that level is active.
	Fallbacks map[Level]map[string]string `yaml:"fallbacks" json:"fallbacks"`
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultCooldown
	}
	if c.MaxPollFailures <= 0 {
		c.MaxPollFailures = DefaultMaxPollFailures
	}
	return c
}

// Controller evaluates safety rules against live metrics and moves the
// system between adaptation levels. Escalation applies immediately;
// de-escalation waits out the cooldown so a flapping metric cannot
// bounce the system between levels.
type Controller struct {
	source  metricsource.Source
	rules   []Rule
	cfg     ControllerConfig
	sink    Sink
	journal *Journal
	logger  *slog.Logger
	now     func() time.Time

	mu           sync.Mutex
	state        State
	lastChange   time.Time
	pollFailures int
}

// NewController creates a controller. sink and journal may be nil;
// state changes are then kept in memory only.
func NewController(source metricsource.Source, rules []Rule, cfg ControllerConfig, sink Sink, journal *Journal, logger *slog.Logger) (*Controller, error) {
	if source == nil {
		return nil, fmt.Errorf("metric source is required")
	}
	if err := validateRules(rules); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		source:  source,
		rules:   orderRules(rules),
		cfg:     cfg.withDefaults(),
		sink:    sink,
		journal: journal,
		logger:  logger,
		now:     time.Now,
		state:   State{Level: LevelNormal},
	}, nil
}

// Run evaluates rules on a ticker until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick runs one evaluation cycle.
func (c *Controller) Tick(ctx context.Context) {
	target, trigger, err := c.evaluate(ctx)
	if err != nil {
		c.handlePollFailure(ctx, err)
		return
	}

	c.mu.Lock()
	c.pollFailures = 0
	c.mu.Unlock()

	reason := "all rules clear"
	if trigger != "" {
		reason = fmt.Sprintf("rule %s breached", trigger)
	}
	c.apply(ctx, target, reason, trigger)
}

// evaluate queries every rule most severe first and returns the level
// of the first breach, or NORMAL when nothing breaches. Any query
// failure aborts the cycle; acting on a partial rule set could mask a
// CRITICAL breach behind a failed query.
func (c *Controller) evaluate(ctx context.Context) (Level, string, error) {
	for _, rule := range c.rules {
		value, err := c.source.QueryScalar(ctx, rule.Query)
		if err != nil {
			return LevelNormal, "", fmt.Errorf("query rule %s: %w", rule.Name, err)
		}
		if rule.Matches(value) {
			return rule.Level, rule.Name, nil
		}
	}
	return LevelNormal, "", nil
}

func (c *Controller) handlePollFailure(ctx context.Context, err error) {
	c.mu.Lock()
	c.pollFailures++
	failures := c.pollFailures
	c.mu.Unlock()

	c.logger.Warn("Guard evaluation failed",
		"consecutive_failures", failures,
		"error", err)

	if failures < c.cfg.MaxPollFailures {
		return
	}

	// Without metrics the guard cannot justify keeping fallback models
	// in service, so it fails safe to NORMAL rather than acting blind.
	c.forceTransition(ctx, LevelNormal, "metric source unavailable, failing safe", "")
}

// apply moves to the target level, enforcing cooldown on de-escalation.
func (c *Controller) apply(ctx context.Context, target Level, reason, trigger string) {
	c.mu.Lock()
	current := c.state.Level
	sinceChange := c.now().Sub(c.lastChange)
	c.mu.Unlock()

	if target == current {
		return
	}
	if target.rank() < current.rank() && sinceChange < c.cfg.Cooldown {
		c.logger.Debug("De-escalation held by cooldown",
			"current", current,
			"target", target,
			"since_change", sinceChange)
		return
	}

	c.forceTransition(ctx, target, reason, trigger)
}

// forceTransition changes level without cooldown checks.
func (c *Controller) forceTransition(ctx context.Context, target Level, reason, trigger string) {
	c.mu.Lock()
	from := c.state.Level
	if from == target {
		c.mu.Unlock()
		return
	}
	now := c.now().UTC()
	c.state = State{Level: target, Reason: reason, TriggeredBy: trigger, Since: now}
	if target != LevelNormal {
		c.state.ActiveUntil = now.Add(c.cfg.Cooldown)
	}
	c.lastChange = now
	state := c.state
	c.mu.Unlock()

	c.logger.Info("Adaptation level changed",
		"from", from,
		"to", target,
		"reason", reason,
		"triggered_by", trigger)

	if c.journal != nil {
		if err := c.journal.Append(ctx, Transition{From: from, To: target, Reason: reason, TriggeredBy: trigger, At: now}); err != nil {
			c.logger.Error("Failed to journal adaptation transition", "error", err)
		}
	}
	if c.sink != nil {
		if err := c.sink.Save(ctx, state); err != nil {
			c.logger.Error("Failed to persist adaptation state", "error", err)
		}
	}
}

// State returns the current adaptation state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// FallbackModel reports the model the router should serve instead of
// modelName at the current level, or "" when no fallback applies.
func (c *Controller) FallbackModel(modelName string) string {
	c.mu.Lock()
	level := c.state.Level
	c.mu.Unlock()

	if level == LevelNormal {
		return ""
	}
	return c.cfg.Fallbacks[level][modelName]
}
