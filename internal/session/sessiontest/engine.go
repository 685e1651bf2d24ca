// Package sessiontest provides a scriptable in-memory session.Engine.
package sessiontest

import (
	"context"
	"sync"
	"time"

	"github.com/kusitorrent/kusitorrent/internal/session"
)

// Engine is a fake session.Engine. Configure the exported fields before the
// controller runs; read results through the accessor methods.
type Engine struct {
	ListenErr error
	InitErr   error
	CreateErr error
	StartErr  error
	CloseErr  error
	// TickErr, when set, is consulted on every tick with the 1-based tick number.
	TickErr func(tick int) error

	// Total and Step script progress: each tick adds Step bytes up to Total.
	Total int64
	Step  int64
	// AutoComplete closes Completed once Total is reached.
	AutoComplete bool

	// StopDelay delays the stop acknowledgment.
	StopDelay time.Duration
	// StopBlocks makes Stop never acknowledge.
	StopBlocks bool

	mu         sync.Mutex
	port       uint16
	desc       session.Descriptor
	downloaded int64
	ticks      int
	statsCalls int
	stopCalls  int
	closeCalls int
	calls      []string

	started      chan struct{}
	startOnce    sync.Once
	completed    chan struct{}
	completeOnce sync.Once
}

// New creates an engine whose transfer of total bytes advances step bytes per
// tick and completes on its own.
func New(total, step int64) *Engine {
	return &Engine{
		Total:        total,
		Step:         step,
		AutoComplete: true,
		started:      make(chan struct{}),
		completed:    make(chan struct{}),
	}
}

var _ session.Engine = (*Engine)(nil)

func (e *Engine) record(call string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, call)
}

func (e *Engine) Listen(port uint16) error {
	e.record("listen")
	if e.ListenErr != nil {
		return e.ListenErr
	}

	e.mu.Lock()
	e.port = port
	e.mu.Unlock()
	return nil
}

func (e *Engine) Initialize(ctx context.Context, d session.Descriptor) error {
	e.record("initialize")
	if e.InitErr != nil {
		return e.InitErr
	}

	e.mu.Lock()
	e.desc = d
	e.mu.Unlock()
	return nil
}

func (e *Engine) CreateFiles() error {
	e.record("create_files")
	return e.CreateErr
}

func (e *Engine) Start() error {
	e.record("start")
	if e.StartErr != nil {
		return e.StartErr
	}

	e.startOnce.Do(func() { close(e.started) })
	return nil
}

func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	e.ticks++
	tick := e.ticks
	e.downloaded = min(e.Total, e.downloaded+e.Step)
	done := e.AutoComplete && e.Total > 0 && e.downloaded >= e.Total
	e.mu.Unlock()

	if done {
		e.Complete()
	}

	if e.TickErr != nil {
		return e.TickErr(tick)
	}
	return nil
}

func (e *Engine) Stats() session.Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.statsCalls++
	return session.Stats{
		Name:       "fake",
		Total:      e.Total,
		Downloaded: e.downloaded,
		Peers:      1,
	}
}

func (e *Engine) Completed() <-chan struct{} {
	return e.completed
}

func (e *Engine) Stop() <-chan struct{} {
	e.record("stop")

	e.mu.Lock()
	e.stopCalls++
	e.mu.Unlock()

	ack := make(chan struct{})
	switch {
	case e.StopBlocks:
	case e.StopDelay > 0:
		time.AfterFunc(e.StopDelay, func() { close(ack) })
	default:
		close(ack)
	}
	return ack
}

func (e *Engine) Close() error {
	e.record("close")

	e.mu.Lock()
	e.closeCalls++
	e.mu.Unlock()
	return e.CloseErr
}

// Complete signals transfer completion. Extra calls are no-ops.
func (e *Engine) Complete() {
	e.completeOnce.Do(func() { close(e.completed) })
}

// Started is closed once Start succeeded.
func (e *Engine) Started() <-chan struct{} {
	return e.started
}

// Port returns the port passed to Listen.
func (e *Engine) Port() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.port
}

// Descriptor returns what Initialize received.
func (e *Engine) Descriptor() session.Descriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.desc
}

// Calls returns the engine methods invoked so far, in order, excluding Tick
// and Stats.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *Engine) Ticks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

func (e *Engine) StatsCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsCalls
}

func (e *Engine) StopCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopCalls
}

func (e *Engine) CloseCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closeCalls
}
