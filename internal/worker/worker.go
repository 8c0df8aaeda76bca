// Package worker implements one (channel, cpu) grid cell: a pinned OS
// thread that blocks inside the relay waiting for an operation, hands
// it to the dispatcher, and writes the result back, following the
// lifecycle state machine spec.md §4.3 defines.
package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/relay"
	"github.com/wubo009/zufs-zus/internal/threadprim"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

// State is one stage of a worker's lifecycle.
type State int32

const (
	StateCreated State = iota
	StateOpening
	StateRegistered
	StateMapped
	StateReady
	StateDraining
	StateExited
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateOpening:
		return "opening"
	case StateRegistered:
		return "registered"
	case StateMapped:
		return "mapped"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Dispatcher is the narrow surface worker needs from internal/dispatch,
// kept as an interface here to avoid an import cycle (dispatch depends
// on nothing in worker, but mount wires both together).
type Dispatcher interface {
	Dispatch(ctx context.Context, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader
}

// Worker owns exactly one (channel, cpu) cell of the grid.
type Worker struct {
	Channel int
	CPU     int

	state    atomic.Int32
	stop     atomic.Bool // single-writer (Stop), single-reader (loop) cooperative cancel
	thread   *threadprim.Thread
	relay    relay.Relay
	dispatch Dispatcher
	logger   interfaces.Logger
	observer interfaces.Observer

	onReady func()
	onExit  func(err error)
}

// Config parameterizes New.
type Config struct {
	Channel  int
	CPU      int
	Relay    relay.Relay
	Dispatch Dispatcher
	Logger   interfaces.Logger
	Observer interfaces.Observer
	// OnReady is invoked once the worker reaches StateReady; pool.Grid
	// uses it to Done() the startup barrier.
	OnReady func()
	// OnExit is invoked exactly once when the loop returns, nil error
	// on a clean drain.
	OnExit func(err error)
}

// New constructs a worker in StateCreated; call Start to spawn its
// pinned thread and begin the loop.
func New(cfg Config) *Worker {
	w := &Worker{
		Channel:  cfg.Channel,
		CPU:      cfg.CPU,
		relay:    cfg.Relay,
		dispatch: cfg.Dispatch,
		logger:   cfg.Logger,
		observer: cfg.Observer,
		onReady:  cfg.OnReady,
		onExit:   cfg.OnExit,
	}
	w.state.Store(int32(StateCreated))
	return w
}

// State returns the worker's current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// Start spawns the pinned OS thread and begins the CREATED -> OPENING
// -> REGISTERED -> MAPPED -> READY transition, then runs the blocking
// loop until Stop is called or the relay reports the channel broken.
func (w *Worker) Start(ctx context.Context) {
	w.thread = threadprim.Spawn(threadprim.Params{
		CPU:    w.CPU,
		Policy: threadprim.PolicyNormal,
		Name:   fmt.Sprintf("zus-worker-c%d-cpu%d", w.Channel, w.CPU),
	}, func() {
		w.run(ctx)
	})
	// On a thread-setup failure the body never runs, so report it here.
	go func(th *threadprim.Thread) {
		if err := th.Err(); err != nil {
			w.fail(err)
		}
	}(w.thread)
}

// Stop requests the loop exit at its next safe point. It does not
// block; the caller should rely on OnExit or wait for the worker's
// containing barrier to clear.
func (w *Worker) Stop() {
	w.stop.Store(true)
}

func (w *Worker) run(ctx context.Context) {
	w.setState(StateOpening)

	if err := w.thread.Err(); err != nil {
		w.fail(err)
		return
	}

	w.setState(StateRegistered)

	if _, err := w.relay.ZTInit(w.CPU, w.Channel); err != nil {
		w.fail(fmt.Errorf("worker: zt_init: %w", err))
		return
	}

	w.setState(StateMapped)
	w.setState(StateReady)
	if w.onReady != nil {
		w.onReady()
	}

	var exitErr error
	for {
		if w.stop.Load() {
			break
		}

		hdr, payload, err := w.relay.WaitForOp(ctx, w.CPU, w.Channel)
		if err != nil {
			if ctx.Err() != nil || isBreak(err) {
				break
			}
			if w.logger != nil {
				w.logger.Printf("worker channel=%d cpu=%d wait_for_op: %v", w.Channel, w.CPU, err)
			}
			continue
		}

		start := time.Now()
		result := w.dispatch.Dispatch(ctx, hdr, payload)
		if w.observer != nil {
			w.observer.ObserveOp(uint32(result.Code), uint64(time.Since(start).Nanoseconds()), result.Err == 0)
		}

		if err := w.relay.CompleteOp(w.CPU, w.Channel, result); err != nil {
			exitErr = fmt.Errorf("worker: complete_op: %w", err)
			break
		}
	}

	w.setState(StateDraining)
	if exitErr != nil {
		w.fail(exitErr)
		return
	}
	w.setState(StateExited)
	if w.onExit != nil {
		w.onExit(nil)
	}
}

func (w *Worker) fail(err error) {
	w.setState(StateFailed)
	if w.logger != nil {
		w.logger.Printf("worker channel=%d cpu=%d failed: %v", w.Channel, w.CPU, err)
	}
	if w.onExit != nil {
		w.onExit(err)
	}
}

// isBreak recognizes the sentinel relay.FakeRelay (and the real relay's
// BreakAll path) use to signal a cooperative wakeup rather than a real
// I/O failure.
func isBreak(err error) bool {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if err.Error() == "relay: channel broken" {
			return true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
