// Package pool owns the two-dimensional worker grid: one Worker per
// (channel, cpu) pair, started together and drained together, as
// spec.md §4.4 describes for "the worker pool the mount controller
// brings up on first mount."
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/wubo009/zufs-zus/internal/barrier"
	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/relay"
	"github.com/wubo009/zufs-zus/internal/topology"
	"github.com/wubo009/zufs-zus/internal/worker"
)

// Grid owns every worker for every (channel, cpu) cell currently
// started. Channels are not tied to one mounted filesystem instance:
// the mount controller starts channels 0..NumChannels-1 once, on the
// first mount, and every later mount is served by that same set.
type Grid struct {
	mu      sync.Mutex
	workers map[gridKey]*worker.Worker
	cancel  map[int]context.CancelFunc // per channel

	relay    relay.Relay
	topo     *topology.Snapshot
	dispatch worker.Dispatcher
	logger   interfaces.Logger
	observer interfaces.Observer
}

type gridKey struct {
	channel int
	cpu     int
}

// New constructs an empty grid. Workers are added via StartChannel.
func New(r relay.Relay, topo *topology.Snapshot, dispatch worker.Dispatcher, logger interfaces.Logger, observer interfaces.Observer) *Grid {
	return &Grid{
		workers:  make(map[gridKey]*worker.Worker),
		cancel:   make(map[int]context.CancelFunc),
		relay:    r,
		topo:     topo,
		dispatch: dispatch,
		logger:   logger,
		observer: observer,
	}
}

// StartChannel spawns one worker per online CPU for channel and blocks
// until every one of them has reached worker.StateReady (or one fails,
// in which case it tears down the partial set and returns the error).
// This is the wait-for-zero barrier spec.md §4.2 names as the startup
// synchronization primitive.
func (g *Grid) StartChannel(ctx context.Context, channel int) error {
	cpus := g.topo.OnlineCPUs()
	if len(cpus) == 0 {
		return fmt.Errorf("pool: no online cpus to start channel %d on", channel)
	}

	chCtx, cancel := context.WithCancel(ctx)

	wfz := barrier.New()
	if err := wfz.Arm(len(cpus)); err != nil {
		cancel()
		return err
	}

	var failMu sync.Mutex
	var firstErr error

	g.mu.Lock()
	g.cancel[channel] = cancel
	for _, cpu := range cpus {
		cpu := cpu
		w := worker.New(worker.Config{
			Channel:  channel,
			CPU:      cpu,
			Relay:    g.relay,
			Dispatch: g.dispatch,
			Logger:   g.logger,
			Observer: g.observer,
			OnReady:  wfz.Done,
			OnExit: func(err error) {
				if err != nil {
					failMu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					failMu.Unlock()
					wfz.Done() // don't let a failed worker hang the barrier
				}
			},
		})
		g.workers[gridKey{channel, cpu}] = w
		w.Start(chCtx)
	}
	g.mu.Unlock()

	if err := wfz.Wait(ctx); err != nil {
		cancel()
		return fmt.Errorf("pool: channel %d failed to come up: %w", channel, err)
	}

	failMu.Lock()
	err := firstErr
	failMu.Unlock()
	if err != nil {
		g.StopChannel(channel)
		return fmt.Errorf("pool: channel %d worker failed during startup: %w", channel, err)
	}

	return nil
}

// StopChannel requests every worker on channel stop, issues BreakAll
// so blocked workers wake immediately, and releases the channel's
// context.
func (g *Grid) StopChannel(channel int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for key, w := range g.workers {
		if key.channel == channel {
			w.Stop()
		}
	}
	if err := g.relay.BreakAll(channel); err != nil && g.logger != nil {
		g.logger.Printf("pool: break_all channel=%d: %v", channel, err)
	}
	if cancel, ok := g.cancel[channel]; ok {
		cancel()
		delete(g.cancel, channel)
	}
	for key := range g.workers {
		if key.channel == channel {
			delete(g.workers, key)
		}
	}
}

// StopAll tears down every channel currently running.
func (g *Grid) StopAll() {
	g.mu.Lock()
	channels := make([]int, 0, len(g.cancel))
	for ch := range g.cancel {
		channels = append(channels, ch)
	}
	g.mu.Unlock()

	for _, ch := range channels {
		g.StopChannel(ch)
	}
}

// WorkerState reports the lifecycle state of one grid cell, for tests
// and diagnostics.
func (g *Grid) WorkerState(channel, cpu int) (worker.State, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	w, ok := g.workers[gridKey{channel, cpu}]
	if !ok {
		return 0, false
	}
	return w.State(), true
}

// Len reports how many worker cells are currently tracked, across all
// channels.
func (g *Grid) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.workers)
}
