// Package relay is the runtime's only point of contact with the kernel
// shim. Every ioctl/URING_CMD the core issues against the anonymous
// control device and its per-channel character devices funnels through
// the Relay interface, so the rest of the runtime (topology, worker,
// mount) never touches a file descriptor directly and can be driven
// against FakeRelay in tests.
package relay

import (
	"context"
	"time"

	"github.com/wubo009/zufs-zus/internal/uapi"
)

// MountEvent is a RECEIVE_MOUNT_EVENT result: either a lifecycle
// transition (mount/unmount/remount) or a pass-through debugfs
// read/write request the core must service via the registered
// filesystem's own entries.
type MountEvent struct {
	uapi.MountEventWire
}

// Relay is the full control-plane + data-plane surface the core needs
// from the kernel shim (spec.md §6). A concrete implementation wraps
// one open anonymous-device file descriptor plus one io_uring ring per
// channel; FakeRelay backs it with in-process channels for tests.
type Relay interface {
	// OpenAnon opens the anonymous control device; subsequent calls are
	// implicitly scoped to that session. It returns only an error.
	OpenAnon(ctx context.Context) error

	// NumaMap issues the one-shot topology query.
	NumaMap() (possibleCPUs, possibleNodes int, cpuMaskPerNode [][]uint64, err error)

	// ZTInit registers one worker thread for (cpu, channel) and returns
	// the mmap'd shared-memory region size to use for that channel.
	ZTInit(cpu, channel int) (regionBytes uint64, err error)

	// GrabPmem asks the kernel to hand back the pmem region descriptor
	// backing this mount so the core can mmap it directly.
	GrabPmem(sbID uint64) (uapi.PmemInfo, error)

	// AllocBuffer asks the kernel to reserve a scratch buffer of size
	// bytes and returns a file descriptor mappable by the caller.
	AllocBuffer(size uint64) (fd int, err error)

	// WaitForOp blocks the calling (already-affinitized) OS thread
	// inside the kernel until an operation arrives on (cpu, channel),
	// or ctx is canceled / BreakAll is called for this channel. The
	// returned header and payload slice alias the channel's mmap'd op
	// buffer and app region respectively; both are only valid until
	// the matching CompleteOp.
	WaitForOp(ctx context.Context, cpu, channel int) (hdr *uapi.OpHeader, payload []byte, err error)

	// CompleteOp writes the result header back for the operation most
	// recently returned by WaitForOp on (cpu, channel) and releases the
	// worker to block again.
	CompleteOp(cpu, channel int, hdr *uapi.OpHeader) error

	// ReceiveMount blocks until a mount lifecycle event (or a
	// debugfs passthrough request) arrives, or ctx is done.
	ReceiveMount(ctx context.Context) (MountEvent, error)

	// AckMount acknowledges a mount event with a result code, unblocking
	// the kernel side of the handshake.
	AckMount(event MountEvent, errno int32) error

	// BreakAll wakes every worker thread blocked in WaitForOp on
	// channel without requiring a matching operation; used for drain
	// and shutdown.
	BreakAll(channel int) error

	// Close tears down the control-device connection and every
	// per-channel mapping still open.
	Close() error
}

// DialTimeout is an exported bound for OpenAnon and the initial handshake
// reads. No Relay implementation in this package applies it: OpenAnon
// returns when the underlying open does.
const DialTimeout = 30 * time.Second
