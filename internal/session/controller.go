// Package session drives one torrent download through its lifecycle.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/kusitorrent/kusitorrent/internal/environment"
	"github.com/kusitorrent/kusitorrent/internal/logging"
	"github.com/kusitorrent/kusitorrent/internal/progress"
	"github.com/kusitorrent/kusitorrent/internal/utils"
)

// ErrAlreadyRun is returned when Run is called on a used Controller.
var ErrAlreadyRun = errors.New("session: controller already run")

// Renderer draws progress samples.
type Renderer interface {
	Render(progress.Sample) error
	// Break terminates a partially drawn line.
	Break() error
}

// TransitionHook observes a state change caused by an event.
type TransitionHook func(from, to State, on Event)

// Result describes how a session ended.
type Result struct {
	Reason   Event         // Event that moved the session into Stopping
	Forced   bool          // The engine did not acknowledge the stop within budget
	Shutdown time.Duration // Time spent in Stopping
	Stats    Stats         // Engine snapshot taken when stopping began
}

// Controller owns the engine for the lifetime of one session. All state
// changes, engine calls and rendering happen on the goroutine running Run.
type Controller struct {
	engine   Engine
	logger   *slog.Logger
	renderer Renderer
	hook     TransitionHook

	pollInterval   time.Duration
	renderInterval time.Duration
	renderEvery    uint64
	budget         time.Duration

	state    atomic.Int32
	used     atomic.Bool
	requests chan Event

	ticks   uint64
	reason  Event
	stopAt  time.Time
	stopped bool
	forced  bool
	last    Stats
}

// New creates a Controller around engine.
func New(engine Engine, opts ...Option) *Controller {
	c := &Controller{
		engine:         engine,
		pollInterval:   DefaultPollInterval,
		renderInterval: DefaultRenderInterval,
		requests:       make(chan Event, 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.budget <= 0 {
		c.budget = 2 * c.pollInterval
	}
	c.renderEvery = renderEvery(c.pollInterval, c.renderInterval)

	return c
}

// renderEvery converts the render interval into a tick count, rounding to
// the nearest whole tick.
func renderEvery(poll, render time.Duration) uint64 {
	return uint64(max(1, (render+poll/2)/poll))
}

// State returns the current lifecycle state. Safe for concurrent use.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Budget returns the effective shutdown budget.
func (c *Controller) Budget() time.Duration {
	return c.budget
}

// Interrupt asks the session to shut down through the normal Stopping
// sequence. It never blocks and may be called from any goroutine; extra
// requests while one is pending or after stopping began are dropped.
func (c *Controller) Interrupt() {
	select {
	case c.requests <- EventInterrupt:
	default:
	}
}

// Run starts the engine with cfg and drives it until the session terminates.
// Cancelling ctx is treated as an interrupt. An error is returned only when
// the session could not start; the engine transports are released in every
// case.
func (c *Controller) Run(ctx context.Context, cfg environment.RunConfig) (Result, error) {
	if !c.used.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRun
	}
	if c.logger == nil {
		c.logger = logging.FromContext(ctx)
	}

	ectx := context.WithoutCancel(ctx)
	if err := c.start(ectx, cfg); err != nil {
		return Result{}, err
	}

	return c.loop(ctx, ectx), nil
}

func (c *Controller) start(ctx context.Context, cfg environment.RunConfig) error {
	c.fire(EventStart)
	c.logger.Info("session starting",
		"port", cfg.ListenPort,
		"file", cfg.InputFile,
		"download_dir", cfg.DownloadDir,
		"staging_dir", cfg.StagingDir,
	)

	if err := c.engine.Listen(cfg.ListenPort); err != nil {
		c.fire(EventFailed)
		return &PortBindError{Port: cfg.ListenPort, Err: err}
	}

	if err := c.initialize(ctx, cfg); err != nil {
		if cerr := c.engine.Close(); cerr != nil {
			c.logger.Warn("failed to release transports", "err", cerr)
		}
		c.fire(EventFailed)
		return err
	}

	c.fire(EventStarted)
	c.logger.Info("session running",
		"poll_interval", c.pollInterval.String(),
		"shutdown_budget", c.budget.String(),
		"quiet", c.renderer == nil,
	)

	return nil
}

func (c *Controller) initialize(ctx context.Context, cfg environment.RunConfig) error {
	data, err := os.ReadFile(cfg.InputFile)
	if err != nil {
		return &InitError{Op: "read descriptor", Err: err}
	}

	d := Descriptor{
		Data:        data,
		StagingDir:  cfg.StagingDir,
		DownloadDir: cfg.DownloadDir,
		Origin:      originURL(cfg.InputFile),
	}
	if err := c.engine.Initialize(ctx, d); err != nil {
		return &InitError{Op: "load descriptor", Err: err}
	}

	if err := c.engine.CreateFiles(); err != nil {
		return &InitError{Op: "create files", Err: err}
	}

	if err := c.engine.Start(); err != nil {
		return &InitError{Op: "start transfer", Err: err}
	}

	return nil
}

func originURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

func (c *Controller) loop(ctx, ectx context.Context) Result {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	var (
		tick      = ticker.C
		completed = c.engine.Completed()
		done      = ctx.Done()
		acked     <-chan struct{}
		budget    *time.Timer
		expired   <-chan time.Time
	)
	defer func() {
		if budget != nil {
			budget.Stop()
		}
	}()

	for c.State() != Terminated {
		select {
		case <-tick:
			c.tick(ectx)
		case <-completed:
			completed = nil
			c.fire(EventComplete)
		case <-done:
			done = nil
			c.fire(EventInterrupt)
		case ev := <-c.requests:
			c.fire(ev)
		case <-acked:
			acked = nil
			// An acknowledgment landing on the deadline counts as forced.
			if time.Since(c.stopAt) >= c.budget {
				c.fire(EventBudgetElapsed)
			} else {
				c.fire(EventStopped)
			}
		case <-expired:
			expired = nil
			c.fire(EventBudgetElapsed)
		}

		if c.State() == Stopping && !c.stopped {
			ticker.Stop()
			tick = nil
			acked = c.requestStop()
			budget = time.NewTimer(c.budget)
			expired = budget.C
		}
	}

	return c.finish()
}

func (c *Controller) tick(ctx context.Context) {
	if c.State() != Running {
		return
	}
	c.ticks++

	if err := c.engine.Tick(ctx); err != nil {
		if errors.Is(err, ErrEngineFatal) {
			c.logger.Error("engine failed", "err", err)
			c.fire(EventFatal)
			return
		}
		c.logger.Warn("engine tick failed", "err", err)
	}

	if c.renderer == nil || c.ticks%c.renderEvery != 0 {
		return
	}

	stats := c.engine.Stats()
	c.logger.Debug("progress",
		"downloaded", stats.Downloaded,
		"total", stats.Total,
		"rate", utils.HumanBytes(stats.Rate)+"/s",
		"peers", stats.Peers,
		"seeders", stats.Seeders,
	)
	c.render(stats)
}

func (c *Controller) render(stats Stats) {
	if err := c.renderer.Render(stats.Sample()); err != nil {
		c.logger.Warn("failed to render progress", "err", err)
	}
}

// requestStop runs once on entering Stopping.
func (c *Controller) requestStop() <-chan struct{} {
	c.stopped = true
	c.stopAt = time.Now()
	c.last = c.engine.Stats()

	c.logger.Info("session stopping", "reason", c.reason.String(), "budget", c.budget.String())

	if c.reason == EventComplete && c.renderer != nil {
		c.render(c.last)
	}

	return c.engine.Stop()
}

func (c *Controller) finish() Result {
	shutdown := time.Since(c.stopAt)
	if c.forced {
		c.logger.Warn("engine did not stop within budget", "budget", c.budget.String())
	}

	if err := c.engine.Close(); err != nil {
		c.logger.Warn("failed to release transports", "err", err)
	}

	if c.renderer != nil {
		if err := c.renderer.Break(); err != nil {
			c.logger.Warn("failed to render progress", "err", err)
		}
	}

	c.logger.Info("session terminated",
		"reason", c.reason.String(),
		"forced", c.forced,
		"shutdown", shutdown.String(),
		"downloaded", utils.HumanBytes(c.last.Downloaded),
		"total", utils.HumanBytes(c.last.Total),
	)

	return Result{
		Reason:   c.reason,
		Forced:   c.forced,
		Shutdown: shutdown,
		Stats:    c.last,
	}
}

// fire applies e to the current state and reports whether it caused a
// transition.
func (c *Controller) fire(e Event) bool {
	from := c.State()
	to, ok := Transition(from, e)
	if !ok {
		c.logger.Debug("event ignored", "state", from.String(), "event", e.String())
		return false
	}

	c.state.Store(int32(to))
	switch {
	case to == Stopping:
		c.reason = e
	case e == EventBudgetElapsed:
		c.forced = true
	}

	c.logger.Debug("state changed", "from", from.String(), "to", to.String(), "event", e.String())
	if c.hook != nil {
		c.hook(from, to, e)
	}

	return true
}
