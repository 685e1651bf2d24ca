package session

import (
	"log/slog"
	"time"
)

const (
	// DefaultPollInterval is the controller clock.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultRenderInterval is how often progress is sampled for rendering.
	DefaultRenderInterval = time.Second
)

// Option defines a functional option for configuring the Controller.
type Option func(*Controller)

// WithLogger configures the structured logger.
// If not set, the logger carried by the Run context is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithRenderer configures where progress samples are drawn.
// Without a renderer the session runs quiet and never samples progress.
func WithRenderer(r Renderer) Option {
	return func(c *Controller) {
		c.renderer = r
	}
}

// WithPollInterval sets the fixed clock driving engine ticks.
func WithPollInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithRenderInterval sets how often progress is rendered. It is rounded to a
// whole number of ticks, at least one.
func WithRenderInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.renderInterval = d
		}
	}
}

// WithShutdownBudget bounds the wait for the engine to acknowledge a stop.
// Zero keeps the default of twice the poll interval.
func WithShutdownBudget(d time.Duration) Option {
	return func(c *Controller) {
		c.budget = d
	}
}

// WithTransitionHook registers a callback invoked after every state change.
// It runs on the controller goroutine and must not block.
func WithTransitionHook(hook TransitionHook) Option {
	return func(c *Controller) {
		c.hook = hook
	}
}
