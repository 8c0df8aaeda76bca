// Package dispatch implements the operation demultiplexer: a dense
// op-code -> handler table applying the default ENOTSUP/ENOTTY/EIO/0 policy
// from spec.md §4.7 whenever a back-end doesn't implement an optional
// capability, the same "optional vtable member" pattern the teacher
// applies to DiscardBackend.
package dispatch

import (
	"context"

	"github.com/wubo009/zufs-zus/internal/handle"
	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

// Errno is the set of normalized error codes the dispatcher writes into
// OpHeader.Err. Positive kernel-style errno values are never written;
// normalize() below maps everything to <= 0.
const (
	ENOTSUP = 95
	EIO     = 5
	EINVAL  = 22
	ENOENT  = 2
	ENOTTY  = 25
)

// Handler processes one operation and returns the result header to send
// back to the kernel. hdr.Err is left at 0 (success) unless the
// handler sets it.
type Handler func(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader

// Mount is what one registered filesystem instance looks like to the
// dispatcher: its sbi handle plus the op-vtables Mount() returned.
type Mount struct {
	SBI   any
	SB    interfaces.SuperblockOps
	Inode interfaces.InodeOps
}

// Dispatcher holds the dense op-code table plus the live mount set it
// resolves SBID against.
type Dispatcher struct {
	table  [opCodeTableSize]Handler
	mounts *handle.Table[*Mount]
	inodes *handle.Table[uint64] // ino token -> raw on-medium ino, if back-ends want indirection
	logger interfaces.Logger
}

const opCodeTableSize = 32

// New builds a Dispatcher with every defined op code wired to its
// handler and every unused slot defaulting to the "not supported"
// policy.
func New(mounts *handle.Table[*Mount], logger interfaces.Logger) *Dispatcher {
	d := &Dispatcher{mounts: mounts, inodes: handle.NewTable[uint64](), logger: logger}
	for i := range d.table {
		d.table[i] = handleUnsupported
	}

	d.table[uapi.OpStatfs] = handleStatfs
	d.table[uapi.OpNewInode] = handleNewInode
	d.table[uapi.OpFreeInode] = handleFreeInode
	d.table[uapi.OpEvictInode] = handleEvictInode
	d.table[uapi.OpLookup] = handleLookup
	d.table[uapi.OpAddDentry] = handleAddDentry
	d.table[uapi.OpRemoveDentry] = handleRemoveDentry
	d.table[uapi.OpRename] = handleRename
	d.table[uapi.OpReaddir] = handleReaddir
	d.table[uapi.OpClone] = handleClone
	d.table[uapi.OpCopy] = handleCopy
	d.table[uapi.OpRead] = handleIOZero
	d.table[uapi.OpWrite] = handleIOZero
	d.table[uapi.OpPreRead] = handlePreRead
	d.table[uapi.OpGetBlock] = handleGetBlock
	d.table[uapi.OpPutBlock] = handlePutBlock
	d.table[uapi.OpMmapClose] = handleMmapClose
	d.table[uapi.OpGetSymlink] = handleGetSymlink
	d.table[uapi.OpSetattr] = handleSetattr
	d.table[uapi.OpSync] = handleSync
	d.table[uapi.OpFallocate] = handleFallocate
	d.table[uapi.OpLlseek] = handleLlseek
	d.table[uapi.OpIoctl] = handleIoctl
	d.table[uapi.OpXattrGet] = handleXattrGet
	d.table[uapi.OpXattrSet] = handleXattrSet
	d.table[uapi.OpXattrList] = handleXattrList
	d.table[uapi.OpNull] = handleNull
	d.table[uapi.OpBreak] = handleNull

	return d
}

// Dispatch looks up hdr.Code in the table and invokes its handler,
// recovering from a handler panic into EIO so one misbehaving back-end
// call can never take an entire worker thread down (spec.md §4.7's
// "a back-end fault must degrade to EIO on the one operation, not
// crash the worker").
func (d *Dispatcher) Dispatch(ctx context.Context, hdr *uapi.OpHeader, payload []byte) (result *uapi.OpHeader) {
	defer func() {
		if r := recover(); r != nil {
			if d.logger != nil {
				d.logger.Printf("dispatch: handler panic op=%s: %v", hdr.Code, r)
			}
			out := *hdr
			out.Err = normalize(EIO)
			result = &out
		}
	}()

	idx := int(hdr.Code)
	if idx < 0 || idx >= len(d.table) || d.table[idx] == nil {
		return handleUnsupported(ctx, d, hdr, payload)
	}
	return d.table[idx](ctx, d, hdr, payload)
}

// normalize maps a positive kernel-style errno to the negative form the
// wire protocol uses, and passes 0 and already-negative values through
// unchanged. It is idempotent: normalize(normalize(e)) == normalize(e).
func normalize(errno int32) int32 {
	if errno > 0 {
		return -errno
	}
	return errno
}

func (d *Dispatcher) lookupMount(sbID uint64) (*Mount, bool) {
	return d.mounts.Lookup(sbID)
}

func replyErr(hdr *uapi.OpHeader, errno int32) *uapi.OpHeader {
	out := *hdr
	out.Err = normalize(errno)
	return &out
}

func replyOK(hdr *uapi.OpHeader) *uapi.OpHeader {
	out := *hdr
	out.Err = 0
	return &out
}

func handleUnsupported(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	return replyErr(hdr, ENOTSUP)
}

func handleNull(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	return replyOK(hdr)
}

// handleIOZero is the default policy for READ/WRITE when a back-end
// does not implement IOCapable: spec.md §4.7 calls
// for a zero-length success rather than ENOTSUP here, since a
// filesystem with no data plane (e.g. a metadata-only test back-end)
// should not fail ordinary I/O, just perform none.
func handleIOZero(ctx context.Context, d *Dispatcher, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	mnt, ok := d.lookupMount(hdr.SBID)
	if !ok {
		return replyErr(hdr, EINVAL)
	}
	io, ok := mnt.Inode.(interfaces.IOCapable)
	if !ok {
		out := replyOK(hdr)
		out.Len = 0
		return out
	}
	var n int
	var err error
	if hdr.Code == uapi.OpRead {
		n, err = io.ReadAt(ctx, mnt.SBI, hdr.InoID, payload, uint64(hdr.Offset))
	} else {
		n, err = io.WriteAt(ctx, mnt.SBI, hdr.InoID, payload, uint64(hdr.Offset))
	}
	if err != nil {
		return replyErr(hdr, EIO)
	}
	out := replyOK(hdr)
	out.Len = uint32(n)
	return out
}
