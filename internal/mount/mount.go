// Package mount implements the mount controller: it brings up the
// topology snapshot once, registers filesystem back-ends by name, and
// then services RECEIVE_MOUNT_EVENT in a loop, starting the worker
// grid on the first mount and tearing channels down on unmount, per
// spec.md §4.6.
package mount

import (
	"context"
	"fmt"
	"sync"

	"github.com/wubo009/zufs-zus/internal/dispatch"
	"github.com/wubo009/zufs-zus/internal/handle"
	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/pool"
	"github.com/wubo009/zufs-zus/internal/relay"
	"github.com/wubo009/zufs-zus/internal/sdnotify"
	"github.com/wubo009/zufs-zus/internal/topology"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

// Controller owns the topology snapshot, the registered filesystem
// table, the live mount table, and the worker grid.
type Controller struct {
	relay  relay.Relay
	topo   *topology.Snapshot
	dsp    *dispatch.Dispatcher
	grid   *pool.Grid
	logger interfaces.Logger

	mu  sync.Mutex
	fs  map[string]interfaces.Filesystem
	sbi *handle.Table[*dispatch.Mount]

	started bool
}

// New constructs a controller over a not-yet-opened relay. Call Init
// before Run.
func New(r relay.Relay, logger interfaces.Logger) *Controller {
	sbi := handle.NewTable[*dispatch.Mount]()
	topo := topology.New(logger)
	dsp := dispatch.New(sbi, logger)
	return &Controller{
		relay:  r,
		topo:   topo,
		dsp:    dsp,
		grid:   pool.New(r, topo, dsp, logger, nil),
		logger: logger,
		fs:     make(map[string]interfaces.Filesystem),
		sbi:    sbi,
	}
}

// Register adds a filesystem back-end the controller will construct on
// a matching mount event. Registering the same name twice is an error.
func (c *Controller) Register(fs interfaces.Filesystem) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.fs[fs.Name()]; exists {
		return fmt.Errorf("mount: filesystem %q already registered", fs.Name())
	}
	c.fs[fs.Name()] = fs
	return nil
}

// Init opens the relay and snapshots topology; it must complete before
// Run starts servicing mount events.
func (c *Controller) Init(ctx context.Context) error {
	if err := c.relay.OpenAnon(ctx); err != nil {
		return fmt.Errorf("mount: open anon device: %w", err)
	}
	if err := c.topo.Init(c.relay); err != nil {
		return fmt.Errorf("mount: topology init: %w", err)
	}
	if c.logger != nil {
		c.logger.Printf("mount: topology initialized, %d online cpus across %d nodes", c.topo.OnlineCount(), c.topo.PossibleNodes)
	}
	return nil
}

// Run services mount events until ctx is canceled.
func (c *Controller) Run(ctx context.Context) error {
	for {
		ev, err := c.relay.ReceiveMount(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("mount: receive_mount: %w", err)
		}
		errno := c.handleEvent(ctx, ev)
		if err := c.relay.AckMount(ev, errno); err != nil && c.logger != nil {
			c.logger.Printf("mount: ack_mount failed: %v", err)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev relay.MountEvent) int32 {
	switch ev.Event {
	case uapi.EventMount:
		return c.handleMount(ctx, ev)
	case uapi.EventUmount:
		return c.handleUnmount(ctx, ev)
	case uapi.EventRemount:
		// A remount never changes the worker grid or the registered
		// vtables in this core's simplified model (spec.md §4.6's
		// "remount only ever toggles read-only/other superblock
		// flags"); the back-end sees it as an ordinary Setattr-style
		// call if it cares, so there is nothing for the controller to
		// do besides acknowledge it.
		return 0
	case uapi.EventDebugRead, uapi.EventDebugWrite:
		return EIODebugfs
	default:
		return ENOTSUPMount
	}
}

const (
	EIODebugfs   = -5
	ENOTSUPMount = -95
)

func (c *Controller) handleMount(ctx context.Context, ev relay.MountEvent) int32 {
	c.mu.Lock()
	fs, ok := c.fs[ev.FSName]
	c.mu.Unlock()
	if !ok {
		if c.logger != nil {
			c.logger.Printf("mount: no filesystem registered for %q", ev.FSName)
		}
		return ENOTSUPMount
	}

	sbID := ev.Hdr.SBID
	sbi, sb, inode, err := fs.Mount(ctx, sbID, noopTranslator{})
	if err != nil {
		if c.logger != nil {
			c.logger.Printf("mount: %s.Mount failed: %v", ev.FSName, err)
		}
		return EIODebugfs
	}

	c.sbi.Issue(&dispatch.Mount{SBI: sbi, SB: sb, Inode: inode})

	c.mu.Lock()
	needsGrid := !c.started
	c.started = true
	c.mu.Unlock()

	if needsGrid {
		for ch := 0; ch < int(ev.NumChannels); ch++ {
			if err := c.grid.StartChannel(ctx, ch); err != nil {
				if c.logger != nil {
					c.logger.Printf("mount: worker grid failed to start channel %d: %v", ch, err)
				}
				return EIODebugfs
			}
		}
		if err := sdnotify.Ready(); err != nil && c.logger != nil {
			c.logger.Printf("mount: sdnotify ready: %v", err)
		}
	}

	return 0
}

func (c *Controller) handleUnmount(ctx context.Context, ev relay.MountEvent) int32 {
	c.mu.Lock()
	fs, ok := c.fs[ev.FSName]
	c.mu.Unlock()
	if !ok {
		return ENOTSUPMount
	}

	mnt, found := c.sbi.Lookup(ev.Hdr.SBID)
	if !found {
		return ENOTSUPMount
	}
	if err := fs.Unmount(ctx, mnt.SBI); err != nil {
		if c.logger != nil {
			c.logger.Printf("mount: %s.Unmount failed: %v", ev.FSName, err)
		}
		return EIODebugfs
	}
	c.sbi.Release(ev.Hdr.SBID)

	if c.sbi.Len() == 0 {
		c.grid.StopAll()
		c.mu.Lock()
		c.started = false
		c.mu.Unlock()
	}

	return 0
}

// noopTranslator is the zero-value PmemTranslator handed to a
// filesystem back-end that never calls Translate (e.g. the in-memory
// sample back-end); a real deployment supplies one backed by the
// relay's grab_pmem result instead.
type noopTranslator struct{}

func (noopTranslator) Translate(zOffset uint64) (uint64, error) {
	return zOffset, nil
}
