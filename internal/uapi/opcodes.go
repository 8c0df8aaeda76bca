// Package uapi defines the wire-level structures and operation codes
// exchanged with the kernel shim over the relay device. Layouts are kept
// byte-stable (explicit integer widths, no padding-sensitive fields) since
// they cross the kernel/user boundary.
package uapi

// OpCode identifies a VFS operation relayed from the kernel to a worker, or
// a control event relayed to the mount controller.
type OpCode uint32

const (
	OpNull OpCode = iota
	OpStatfs
	OpNewInode
	OpFreeInode
	OpEvictInode
	OpLookup
	OpAddDentry
	OpRemoveDentry
	OpRename
	OpReaddir
	OpClone
	OpCopy
	OpRead
	OpWrite
	OpPreRead
	OpGetBlock
	OpPutBlock
	OpMmapClose
	OpGetSymlink
	OpSetattr
	OpSync
	OpFallocate
	OpLlseek
	OpIoctl
	OpXattrGet
	OpXattrSet
	OpXattrList
	OpBreak
	opCodeCount // sentinel, not a valid wire value
)

func (c OpCode) String() string {
	if int(c) < len(opCodeNames) {
		return opCodeNames[c]
	}
	return "UNKNOWN"
}

var opCodeNames = [...]string{
	OpNull:         "NULL",
	OpStatfs:       "STATFS",
	OpNewInode:     "NEW_INODE",
	OpFreeInode:    "FREE_INODE",
	OpEvictInode:   "EVICT_INODE",
	OpLookup:       "LOOKUP",
	OpAddDentry:    "ADD_DENTRY",
	OpRemoveDentry: "REMOVE_DENTRY",
	OpRename:       "RENAME",
	OpReaddir:      "READDIR",
	OpClone:        "CLONE",
	OpCopy:         "COPY",
	OpRead:         "READ",
	OpWrite:        "WRITE",
	OpPreRead:      "PRE_READ",
	OpGetBlock:     "GET_BLOCK",
	OpPutBlock:     "PUT_BLOCK",
	OpMmapClose:    "MMAP_CLOSE",
	OpGetSymlink:   "GET_SYMLINK",
	OpSetattr:      "SETATTR",
	OpSync:         "SYNC",
	OpFallocate:    "FALLOCATE",
	OpLlseek:       "LLSEEK",
	OpIoctl:        "IOCTL",
	OpXattrGet:     "XATTR_GET",
	OpXattrSet:     "XATTR_SET",
	OpXattrList:    "XATTR_LIST",
	OpBreak:        "BREAK",
}

// AllOpCodes returns every valid OpCode, used by dispatch's exhaustiveness
// test.
func AllOpCodes() []OpCode {
	out := make([]OpCode, 0, opCodeCount)
	for c := OpCode(0); c < opCodeCount; c++ {
		out = append(out, c)
	}
	return out
}

// MountEvent identifies the kind of event the mount controller receives
// from receive_mount.
type MountEvent uint32

const (
	EventMount MountEvent = iota
	EventUmount
	EventRemount
	EventDebugRead
	EventDebugWrite
)

// FlagTmpfile / FlagLookupRace carry the per-op boolean flags spec.md §4.7
// calls out by name.
const (
	FlagTmpfile    uint32 = 1 << 0 // NEW_INODE: do not link into the directory
	FlagLookupRace uint32 = 1 << 1 // EVICT_INODE: eviction raced a lookup
)
