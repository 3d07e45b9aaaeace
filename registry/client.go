package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DefaultRetryAttempts bounds automatic retries on lost CAS races.
const DefaultRetryAttempts = 3

// Client wraps a Service with the caller-side retry policy: a mutation that
// loses a compare-and-swap race is retried a bounded number of times with the
// record re-read in between, then the error is surfaced to the caller.
type Client struct {
	service  *Service
	attempts int
	logger   *slog.Logger
}

// NewClient returns a retrying client around service. attempts <= 0 selects
// DefaultRetryAttempts.
func NewClient(service *Service, attempts int, logger *slog.Logger) *Client {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{service: service, attempts: attempts, logger: logger}
}

// Register registers a new version, retrying on concurrent modification.
func (c *Client) Register(ctx context.Context, name, artifactRef string, version int, metrics map[string]float64) (*ModelVersion, error) {
	var mv *ModelVersion
	err := c.retry(ctx, "register", name, func() error {
		var err error
		mv, err = c.service.Register(ctx, name, artifactRef, version, metrics)
		return err
	})
	return mv, err
}

// Transition moves a version to targetState, retrying on concurrent
// modification. Validation and invalid-transition errors are surfaced
// immediately without retry.
func (c *Client) Transition(ctx context.Context, name string, version int, targetState State, reason string) (*ModelVersion, error) {
	var mv *ModelVersion
	err := c.retry(ctx, "transition", name, func() error {
		var err error
		mv, err = c.service.Transition(ctx, name, version, targetState, reason)
		return err
	})
	return mv, err
}

// SetCanaryWeight sets a canary weight, retrying on concurrent modification.
func (c *Client) SetCanaryWeight(ctx context.Context, name string, version, weight int) (*ModelVersion, error) {
	var mv *ModelVersion
	err := c.retry(ctx, "set_canary_weight", name, func() error {
		var err error
		mv, err = c.service.SetCanaryWeight(ctx, name, version, weight)
		return err
	})
	return mv, err
}

// Get returns a specific model version.
func (c *Client) Get(ctx context.Context, name string, version int) (*ModelVersion, error) {
	return c.service.Get(ctx, name, version)
}

// GetProduction returns the PRODUCTION version of a model.
func (c *Client) GetProduction(ctx context.Context, name string) (*ModelVersion, error) {
	return c.service.GetProduction(ctx, name)
}

// List returns versions of one model, or all models when name is "".
func (c *Client) List(ctx context.Context, name string) ([]*ModelVersion, error) {
	return c.service.List(ctx, name)
}

func (c *Client) retry(ctx context.Context, op, name string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		c.logger.Debug("Registry write lost CAS race, retrying",
			"op", op,
			"model_name", name,
			"attempt", attempt)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s %s after %d attempts: %w", op, name, c.attempts, err)
}
