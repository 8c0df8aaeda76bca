// Package zus is the user-space core of the zufs filesystem runtime:
// it brings up CPU/NUMA topology, registers filesystem back-ends, and
// services the kernel shim's mount/unmount events and blocking
// operation requests over the anonymous relay device.
package zus

import (
	"context"
	"fmt"

	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/logging"
	"github.com/wubo009/zufs-zus/internal/mount"
	"github.com/wubo009/zufs-zus/internal/relay"
)

// Re-export the capability-vtable types from internal/interfaces so
// filesystem back-ends outside this module can implement them without
// importing an internal package directly.
type (
	Attrs             = interfaces.Attrs
	DirEntry          = interfaces.DirEntry
	StatfsResult      = interfaces.StatfsResult
	SuperblockOps     = interfaces.SuperblockOps
	InodeOps          = interfaces.InodeOps
	Filesystem        = interfaces.Filesystem
	PmemTranslator    = interfaces.PmemTranslator
	BlockMapping      = interfaces.BlockMapping
	Logger            = interfaces.Logger
	Observer          = interfaces.Observer
	StatfsCapable     = interfaces.StatfsCapable
	RenameCapable     = interfaces.RenameCapable
	FreeInodeCapable  = interfaces.FreeInodeCapable
	EvictInodeCapable = interfaces.EvictInodeCapable
	DentryCapable     = interfaces.DentryCapable
	ReaddirCapable    = interfaces.ReaddirCapable
	CloneCapable      = interfaces.CloneCapable
	CopyCapable       = interfaces.CopyCapable
	IOCapable         = interfaces.IOCapable
	PreReadCapable    = interfaces.PreReadCapable
	GetBlockCapable   = interfaces.GetBlockCapable
	PutBlockCapable   = interfaces.PutBlockCapable
	MmapCloseCapable  = interfaces.MmapCloseCapable
	SymlinkCapable    = interfaces.SymlinkCapable
	SetattrCapable    = interfaces.SetattrCapable
	SyncCapable       = interfaces.SyncCapable
	FallocateCapable  = interfaces.FallocateCapable
	LlseekCapable     = interfaces.LlseekCapable
	IoctlCapable      = interfaces.IoctlCapable
	XattrCapable      = interfaces.XattrCapable
)

// Runtime is the running core: one topology snapshot, one mount
// controller, and the worker grid it owns. It is the equivalent of the
// teacher's Device, but scoped to the whole daemon rather than one
// block device, since this protocol multiplexes every mounted
// filesystem instance over the same relay connection.
type Runtime struct {
	relay   relay.Relay
	ctrl    *mount.Controller
	metrics *Metrics

	ctx    context.Context
	cancel context.CancelFunc
}

// Options configures a Runtime.
type Options struct {
	// Context for cancellation (if nil, uses context.Background())
	Context context.Context

	// Logger for debug/info messages (if nil, uses the package default)
	Logger Logger

	// RootPath overrides constants.DefaultRootPath / ZUS_ROOT_PATH.
	RootPath string

	// Relay overrides the production relay implementation, mainly for
	// tests that want to pass an *relay.FakeRelay in directly.
	Relay relay.Relay
}

// New constructs a Runtime and registers every filesystem in fs. Call
// Serve to open the relay, bring up topology, and start servicing
// mount events.
func New(options *Options, filesystems ...Filesystem) (*Runtime, error) {
	if options == nil {
		options = &Options{}
	}

	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}

	r := options.Relay
	if r == nil {
		r = relay.New(options.RootPath)
	}

	var logger Logger = options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	ctrl := mount.New(r, logger)
	for _, fs := range filesystems {
		if err := ctrl.Register(fs); err != nil {
			return nil, fmt.Errorf("zus: %w", err)
		}
	}

	rt := &Runtime{
		relay:   r,
		ctrl:    ctrl,
		metrics: NewMetrics(),
	}
	rt.ctx, rt.cancel = context.WithCancel(ctx)
	return rt, nil
}

// Serve opens the relay, snapshots topology, and blocks servicing
// mount events until the Runtime's context is canceled or Stop is
// called. It is the equivalent of the teacher's CreateAndServe, merged
// with the long-running I/O loop rather than returning immediately,
// since this protocol has no separate "device created" moment before
// the first mount arrives.
func (rt *Runtime) Serve() error {
	if err := rt.ctrl.Init(rt.ctx); err != nil {
		return fmt.Errorf("zus: %w", err)
	}
	defer rt.relay.Close()

	err := rt.ctrl.Run(rt.ctx)
	rt.metrics.Stop()
	return err
}

// Stop cancels the Runtime's context, causing Serve to return once the
// in-flight mount event (if any) has been acknowledged.
func (rt *Runtime) Stop() {
	rt.cancel()
}

// Metrics returns the runtime's metrics collector.
func (rt *Runtime) Metrics() *Metrics {
	return rt.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of runtime metrics.
func (rt *Runtime) MetricsSnapshot() MetricsSnapshot {
	return rt.metrics.Snapshot()
}
