// Package interfaces holds the internal capability-vtable definitions the
// dispatcher consumes. These are separate from the public re-exports in the
// root package to avoid an import cycle between it and the packages that
// only need the vtable shapes (dispatch, mount, worker).
package interfaces

import "context"

// Attrs is the subset of inode attributes the dispatcher needs to pass
// across NEW_INODE/SETATTR without depending on a concrete back-end type.
type Attrs struct {
	Mode  uint32
	UID   uint32
	GID   uint32
	Size  uint64
	Rdev  uint32
}

// DirEntry is one entry a back-end's Readdir appends to the app buffer.
type DirEntry struct {
	Name string
	Ino  uint64
	Type uint8
}

// StatfsResult mirrors the handful of statfs fields a filesystem back-end
// actually owns; block/device geometry beyond this is out of the core's
// scope (spec.md §1).
type StatfsResult struct {
	BlockSize   uint32
	TotalBlocks uint64
	FreeBlocks  uint64
	TotalInodes uint64
	FreeInodes  uint64
}

// SuperblockOps is the per-filesystem-instance vtable. Every method is
// optional; the dispatcher applies the default policy from spec.md §4.7
// when a method is nil by type-asserting against the narrower
// single-method interfaces below (the same "optional capability" pattern
// the teacher uses for DiscardBackend).
type SuperblockOps interface {
	// Lookup resolves name under parent, returning 0 if not found.
	Lookup(ctx context.Context, sbi any, parentIno uint64, name string) (ino uint64, err error)
}

type StatfsCapable interface {
	Statfs(ctx context.Context, sbi any) (StatfsResult, error)
}

type RenameCapable interface {
	Rename(ctx context.Context, sbi any, oldDirIno, newDirIno uint64, oldName, newName string, flags uint32) error
}

// ParentCapable resolves LOOKUP "..": a back-end that models a directory
// tree exposes the stored parent of ino so the dispatcher never has to
// track tree structure itself.
type ParentCapable interface {
	Parent(ctx context.Context, sbi any, ino uint64) (parentIno uint64, err error)
}

// InodeOps is the per-inode vtable. As with SuperblockOps, every
// capability beyond the always-present NewInode/FreeInode/Lookup core is
// an optional single-method interface the back-end's inode handle may or
// may not implement.
type InodeOps interface {
	// NewInode allocates a fresh on-medium inode under parent and returns
	// its handle and on-medium offset. tmpfile suppresses the directory
	// link (ADD_DENTRY) spec.md §4.7 describes.
	NewInode(ctx context.Context, sbi any, parentIno uint64, name string, attrs Attrs, tmpfile bool) (ino uint64, zOffset uint64, err error)
}

type FreeInodeCapable interface {
	FreeInode(ctx context.Context, sbi any, ino uint64) error
}

type EvictInodeCapable interface {
	EvictInode(ctx context.Context, sbi any, ino uint64) error
}

type DentryCapable interface {
	AddDentry(ctx context.Context, sbi any, parentIno, childIno uint64, name string) error
	RemoveDentry(ctx context.Context, sbi any, parentIno, childIno uint64, name string) error
}

type ReaddirCapable interface {
	Readdir(ctx context.Context, sbi any, dirIno uint64, cookie uint64, emit func(DirEntry) bool) (nextCookie uint64, err error)
}

type CloneCapable interface {
	Clone(ctx context.Context, sbi any, srcIno, dstIno uint64, srcOff, dstOff, length uint64) error
}

type CopyCapable interface {
	Copy(ctx context.Context, sbi any, srcIno, dstIno uint64, srcOff, dstOff, length uint64) (uint64, error)
}

type IOCapable interface {
	ReadAt(ctx context.Context, sbi any, ino uint64, p []byte, off uint64) (int, error)
	WriteAt(ctx context.Context, sbi any, ino uint64, p []byte, off uint64) (int, error)
}

type PreReadCapable interface {
	PreRead(ctx context.Context, sbi any, ino uint64, off, length uint64) error
}

// BlockMapping is what GET_BLOCK returns: a physical (pmem-relative)
// mapping for a logical I/O range.
type BlockMapping struct {
	PhysOffset uint64
	Length     uint64
}

type GetBlockCapable interface {
	GetBlock(ctx context.Context, sbi any, ino uint64, off, length uint64) (BlockMapping, error)
}

type PutBlockCapable interface {
	PutBlock(ctx context.Context, sbi any, ino uint64, mapping BlockMapping) error
}

type MmapCloseCapable interface {
	MmapClose(ctx context.Context, sbi any, ino uint64) error
}

type SymlinkCapable interface {
	GetSymlink(ctx context.Context, sbi any, ino uint64) (zOffset uint64, err error)
}

type SetattrCapable interface {
	Setattr(ctx context.Context, sbi any, ino uint64, mask uint32, truncateSize uint64) error
}

type SyncCapable interface {
	Sync(ctx context.Context, sbi any, ino uint64, off, length uint64) error
}

type FallocateCapable interface {
	Fallocate(ctx context.Context, sbi any, ino uint64, off, length uint64) error
}

type LlseekCapable interface {
	Llseek(ctx context.Context, sbi any, ino uint64, off uint64, whence int) (uint64, error)
}

type IoctlCapable interface {
	Ioctl(ctx context.Context, sbi any, ino uint64, cmd uint32, argp uint64) error
}

type XattrCapable interface {
	GetXattr(ctx context.Context, sbi any, ino uint64, name string) ([]byte, error)
	SetXattr(ctx context.Context, sbi any, ino uint64, name string, value []byte) error
	ListXattr(ctx context.Context, sbi any, ino uint64) ([]string, error)
}

// Filesystem is what a back-end registers with the mount controller: a
// name plus a factory that produces a fresh SuperblockOps/InodeOps pair
// and an opaque sbi handle for each mount.
type Filesystem interface {
	Name() string
	Mount(ctx context.Context, sbID uint64, pmem PmemTranslator) (sbi any, sb SuperblockOps, ino InodeOps, err error)
	Unmount(ctx context.Context, sbi any) error
}

// PmemTranslator is the narrow surface the pmem/block-device multiplexing
// library exposes; the core only ever calls through it, never implements
// it (spec.md §1's explicit out-of-scope boundary).
type PmemTranslator interface {
	// Translate converts an on-medium offset into a pointer-stable
	// region token the kernel can dereference.
	Translate(zOffset uint64) (regionToken uint64, err error)
}

// Logger is the narrow logging surface internal packages depend on,
// satisfied by internal/logging.Logger.
type Logger interface {
	Debugf(format string, args ...any)
	Printf(format string, args ...any)
}

// Observer receives per-operation metrics from the dispatcher.
type Observer interface {
	ObserveOp(code uint32, latencyNs uint64, success bool)
	ObserveQueueDepth(depth uint32)
}
