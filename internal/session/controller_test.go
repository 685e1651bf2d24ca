package session_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kusitorrent/kusitorrent/internal/environment"
	"github.com/kusitorrent/kusitorrent/internal/logging"
	"github.com/kusitorrent/kusitorrent/internal/progress"
	"github.com/kusitorrent/kusitorrent/internal/session"
	"github.com/kusitorrent/kusitorrent/internal/session/sessiontest"
)

const (
	testPoll       = 2 * time.Millisecond
	runTimeout     = 5 * time.Second
	descriptorData = "d8:announce0:4:infod4:name4:testee"
)

type transition struct {
	from, to session.State
	on       session.Event
}

type recorder struct {
	transitions []transition
}

func (r *recorder) hook(from, to session.State, on session.Event) {
	r.transitions = append(r.transitions, transition{from, to, on})
}

func (r *recorder) visited(s session.State) bool {
	for _, tr := range r.transitions {
		if tr.to == s {
			return true
		}
	}
	return false
}

type recordingRenderer struct {
	samples []progress.Sample
	breaks  int
}

func (r *recordingRenderer) Render(s progress.Sample) error {
	r.samples = append(r.samples, s)
	return nil
}

func (r *recordingRenderer) Break() error {
	r.breaks++
	return nil
}

func newRunConfig(t *testing.T) environment.RunConfig {
	t.Helper()

	src := t.TempDir()
	path := filepath.Join(src, "test.torrent")
	require.NoError(t, os.WriteFile(path, []byte(descriptorData), 0o644))

	return environment.RunConfig{
		ListenPort:  6881,
		DownloadDir: t.TempDir(),
		StagingDir:  t.TempDir(),
		InputFile:   path,
	}
}

type outcome struct {
	res session.Result
	err error
}

// run drives c to termination, failing the test if it takes too long.
func run(t *testing.T, ctx context.Context, c *session.Controller, cfg environment.RunConfig) (session.Result, error) {
	t.Helper()

	done := make(chan outcome, 1)
	go func() {
		res, err := c.Run(logging.WithLogger(ctx, logging.NewNop()), cfg)
		done <- outcome{res, err}
	}()

	select {
	case o := <-done:
		return o.res, o.err
	case <-time.After(runTimeout):
		t.Fatalf("controller did not terminate within %s (state %s)", runTimeout, c.State())
		return session.Result{}, nil
	}
}

func TestRun_CompletesAndTerminates(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(1000, 100)
	rec := &recorder{}
	bar := &recordingRenderer{}

	c := session.New(eng,
		session.WithPollInterval(testPoll),
		session.WithRenderInterval(testPoll),
		session.WithShutdownBudget(time.Second),
		session.WithRenderer(bar),
		session.WithTransitionHook(rec.hook),
	)

	res, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	assert.Equal(t, session.Terminated, c.State())
	assert.Equal(t, session.EventComplete, res.Reason)
	assert.False(t, res.Forced)
	assert.Equal(t, int64(1000), res.Stats.Downloaded)

	assert.Equal(t, []transition{
		{session.Idle, session.Starting, session.EventStart},
		{session.Starting, session.Running, session.EventStarted},
		{session.Running, session.Stopping, session.EventComplete},
		{session.Stopping, session.Terminated, session.EventStopped},
	}, rec.transitions)

	assert.Equal(t, []string{"listen", "initialize", "create_files", "start", "stop", "close"}, eng.Calls())
	assert.Equal(t, 1, eng.StopCalls())
	assert.Equal(t, 1, eng.CloseCalls())
	assert.Equal(t, uint16(6881), eng.Port())

	require.NotEmpty(t, bar.samples)
	for _, s := range bar.samples {
		assert.Equal(t, int64(1000), s.Total)
	}
	assert.True(t, bar.samples[len(bar.samples)-1].Complete(), "final render shows a finished bar")
	assert.Equal(t, 1, bar.breaks)
}

func TestRun_PassesDescriptor(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(10, 10)

	_, err := run(t, context.Background(), session.New(eng, session.WithPollInterval(testPoll)), cfg)
	require.NoError(t, err)

	d := eng.Descriptor()
	assert.Equal(t, []byte(descriptorData), d.Data)
	assert.Equal(t, cfg.DownloadDir, d.DownloadDir)
	assert.Equal(t, cfg.StagingDir, d.StagingDir)
	assert.Equal(t, "file://"+filepath.ToSlash(cfg.InputFile), d.Origin)
}

func TestRun_RepeatedStopTriggersAreIgnored(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(1000, 1)
	eng.AutoComplete = false
	eng.StopDelay = 30 * time.Millisecond
	rec := &recorder{}

	var c *session.Controller
	c = session.New(eng,
		session.WithPollInterval(testPoll),
		session.WithShutdownBudget(time.Second),
		session.WithTransitionHook(func(from, to session.State, on session.Event) {
			rec.hook(from, to, on)
			if to == session.Stopping {
				// Both triggers arrive again while the engine is stopping.
				c.Interrupt()
				eng.Complete()
				c.Interrupt()
			}
		}),
	)

	go func() {
		<-eng.Started()
		c.Interrupt()
	}()

	res, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	assert.Equal(t, session.EventInterrupt, res.Reason)
	assert.False(t, res.Forced)
	assert.Equal(t, 1, eng.StopCalls())
	assert.Equal(t, 1, eng.CloseCalls())
	assert.Len(t, rec.transitions, 4)
	assert.Equal(t, transition{session.Stopping, session.Terminated, session.EventStopped}, rec.transitions[3])
}

func TestRun_CompletionWinsOverLaterInterrupt(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(100, 100)

	var c *session.Controller
	c = session.New(eng,
		session.WithPollInterval(testPoll),
		session.WithShutdownBudget(time.Second),
		session.WithTransitionHook(func(from, to session.State, on session.Event) {
			if to == session.Stopping {
				c.Interrupt()
			}
		}),
	)

	res, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)
	assert.Equal(t, session.EventComplete, res.Reason)
	assert.Equal(t, 1, eng.StopCalls())
}

func TestRun_ContextCancelInterrupts(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(1000, 1)
	eng.AutoComplete = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-eng.Started()
		cancel()
	}()

	c := session.New(eng, session.WithPollInterval(testPoll), session.WithShutdownBudget(time.Second))
	res, err := run(t, ctx, c, cfg)
	require.NoError(t, err)

	assert.Equal(t, session.EventInterrupt, res.Reason)
	assert.Equal(t, session.Terminated, c.State())
	assert.Equal(t, 1, eng.CloseCalls())
}

func TestRun_InterruptBeforeRunning(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(1000, 1)
	eng.AutoComplete = false
	rec := &recorder{}

	c := session.New(eng, session.WithPollInterval(testPoll), session.WithTransitionHook(rec.hook))
	c.Interrupt()
	c.Interrupt()

	res, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	assert.Equal(t, session.EventInterrupt, res.Reason)
	assert.True(t, rec.visited(session.Running))
	assert.Equal(t, 1, eng.StopCalls())
}

func TestRun_BoundedShutdown(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(100, 100)
	eng.StopBlocks = true
	rec := &recorder{}

	const budget = 30 * time.Millisecond
	c := session.New(eng,
		session.WithPollInterval(testPoll),
		session.WithShutdownBudget(budget),
		session.WithTransitionHook(rec.hook),
	)

	res, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	assert.True(t, res.Forced)
	assert.GreaterOrEqual(t, res.Shutdown, budget)
	assert.Less(t, res.Shutdown, budget+time.Second)
	assert.Equal(t, session.Terminated, c.State())
	assert.Equal(t, transition{session.Stopping, session.Terminated, session.EventBudgetElapsed}, rec.transitions[len(rec.transitions)-1])
	assert.Equal(t, 1, eng.CloseCalls(), "transports are released even when the engine never stops")
}

func TestRun_SlowStopWithinBudget(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(100, 100)
	eng.StopDelay = 10 * time.Millisecond

	c := session.New(eng, session.WithPollInterval(testPoll), session.WithShutdownBudget(time.Second))
	res, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	assert.False(t, res.Forced)
	assert.GreaterOrEqual(t, res.Shutdown, 10*time.Millisecond)
	assert.Less(t, res.Shutdown, time.Second)
}

func TestRun_PortBindFailure(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(100, 100)
	eng.ListenErr = errors.New("address already in use")
	rec := &recorder{}

	c := session.New(eng, session.WithPollInterval(testPoll), session.WithTransitionHook(rec.hook))
	_, err := run(t, context.Background(), c, cfg)

	var perr *session.PortBindError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, uint16(6881), perr.Port)
	assert.ErrorIs(t, err, session.ErrEngineInit)
	assert.EqualError(t, err, "failed to use port '6881'")

	assert.Equal(t, session.Terminated, c.State())
	assert.False(t, rec.visited(session.Running))
	assert.Equal(t, []string{"listen"}, eng.Calls())
}

func TestRun_InitFailures(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		script func(e *sessiontest.Engine, cfg *environment.RunConfig)
		op     string
		calls  []string
	}{
		{
			name:   "descriptor unreadable",
			script: func(e *sessiontest.Engine, cfg *environment.RunConfig) { cfg.InputFile = filepath.Join(cfg.StagingDir, "gone.torrent") },
			op:     "read descriptor",
			calls:  []string{"listen", "close"},
		},
		{
			name:   "malformed descriptor",
			script: func(e *sessiontest.Engine, cfg *environment.RunConfig) { e.InitErr = boom },
			op:     "load descriptor",
			calls:  []string{"listen", "initialize", "close"},
		},
		{
			name:   "create files",
			script: func(e *sessiontest.Engine, cfg *environment.RunConfig) { e.CreateErr = boom },
			op:     "create files",
			calls:  []string{"listen", "initialize", "create_files", "close"},
		},
		{
			name:   "start",
			script: func(e *sessiontest.Engine, cfg *environment.RunConfig) { e.StartErr = boom },
			op:     "start transfer",
			calls:  []string{"listen", "initialize", "create_files", "start", "close"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := newRunConfig(t)
			eng := sessiontest.New(100, 100)
			tt.script(eng, &cfg)
			rec := &recorder{}

			c := session.New(eng, session.WithPollInterval(testPoll), session.WithTransitionHook(rec.hook))
			_, err := run(t, context.Background(), c, cfg)

			var ierr *session.InitError
			require.ErrorAs(t, err, &ierr)
			assert.Equal(t, tt.op, ierr.Op)
			assert.ErrorIs(t, err, session.ErrEngineInit)

			assert.Equal(t, session.Terminated, c.State())
			assert.False(t, rec.visited(session.Running))
			assert.Equal(t, tt.calls, eng.Calls())
		})
	}
}

func TestRun_FatalTickErrorStops(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(1000, 1)
	eng.AutoComplete = false
	eng.TickErr = func(tick int) error {
		if tick == 3 {
			return fmt.Errorf("storage vanished: %w", session.ErrEngineFatal)
		}
		return nil
	}

	c := session.New(eng, session.WithPollInterval(testPoll), session.WithShutdownBudget(time.Second))
	res, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	assert.Equal(t, session.EventFatal, res.Reason)
	assert.Equal(t, 3, eng.Ticks())
	assert.Equal(t, 1, eng.StopCalls())
}

func TestRun_RuntimeErrorsAreTolerated(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(50, 10)
	eng.TickErr = func(int) error { return errors.New("peer reset") }

	c := session.New(eng, session.WithPollInterval(testPoll), session.WithShutdownBudget(time.Second))
	res, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	assert.Equal(t, session.EventComplete, res.Reason)
	assert.GreaterOrEqual(t, eng.Ticks(), 5)
}

func TestRun_QuietNeverSamplesWhileRunning(t *testing.T) {
	cfg := newRunConfig(t)
	cfg.Quiet = true
	eng := sessiontest.New(100, 10)

	c := session.New(eng, session.WithPollInterval(testPoll), session.WithRenderInterval(testPoll))
	_, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, eng.Ticks(), 10)
	assert.Equal(t, 1, eng.StatsCalls(), "only the shutdown snapshot reads stats")
}

func TestRun_RendersEveryNthTick(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(1000, 1)
	eng.AutoComplete = false
	bar := &recordingRenderer{}

	c := session.New(eng,
		session.WithPollInterval(testPoll),
		session.WithRenderInterval(4*testPoll),
		session.WithRenderer(bar),
		session.WithShutdownBudget(time.Second),
	)

	go func() {
		<-eng.Started()
		for eng.Ticks() < 20 {
			time.Sleep(testPoll)
		}
		c.Interrupt()
	}()

	_, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	ticks := eng.Ticks()
	assert.Equal(t, ticks/4, len(bar.samples))
	for i, s := range bar.samples {
		assert.Equal(t, int64(4*(i+1)), s.Downloaded, "sample %d reflects the latest tick", i)
	}
	assert.Equal(t, 1, bar.breaks)
}

func TestRun_CloseErrorIsNotFatal(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(10, 10)
	eng.CloseErr = errors.New("utp socket already closed")

	c := session.New(eng, session.WithPollInterval(testPoll))
	_, err := run(t, context.Background(), c, cfg)
	assert.NoError(t, err)
}

func TestRun_OnlyOnce(t *testing.T) {
	cfg := newRunConfig(t)
	eng := sessiontest.New(10, 10)

	c := session.New(eng, session.WithPollInterval(testPoll))
	_, err := run(t, context.Background(), c, cfg)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), cfg)
	assert.ErrorIs(t, err, session.ErrAlreadyRun)
}
