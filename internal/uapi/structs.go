package uapi

import "unsafe"

// OpHeader is the fixed-size prefix every relayed VFS operation begins
// with. Handlers receive the operation-specific payload beside it as a
// separate slice; Offset does not index into a mapped app region.
//
// Layout mirrors the kernel shim's struct zufs_ioc_hdr: explicit widths,
// no implicit padding relied upon.
type OpHeader struct {
	Code    OpCode // operation being requested
	Err     int32  // filled in by the worker; kernel sign convention
	Offset  uint32 // per-op position: file offset for I/O, READDIR cookie, returned offset in replies
	Len     uint32 // per-op byte count (I/O length, SETATTR size), or result length in replies
	Flags   uint32 // IntrBit and per-op flags (FlagTmpfile, ...)
	SBID    uint64 // superblock token
	InoID   uint64 // primary inode token (parent, or the inode itself)
	Ino2ID  uint64 // secondary inode token (child, dst, ...)
}

var _ = [5*4 + 3*8]byte{} // documents the encoded field width (MarshalHeader); not enforced

// HeaderSize is the number of bytes of OpHeader placed at the front of the
// op buffer.
const HeaderSize = int(unsafe.Sizeof(OpHeader{}))

// IODescriptor is a byte range {Off, Len}. The dispatch handlers do not
// use it: READ/WRITE/FALLOCATE take their range from OpHeader.Offset/Len,
// and CLONE/COPY pass source and destination offsets of 0 with
// OpHeader.Len as the length.
type IODescriptor struct {
	Off uint64
	Len uint64
}

// NumaMapWire is the page-aligned buffer numa_map fills in.
type NumaMapWire struct {
	PossibleCPUs  uint32
	PossibleNodes uint32
	// CPUSetPerNode[n] is a little-endian bitmask of the CPUs belonging
	// to node n, one uint64 word per 64 CPUs.
	CPUSetPerNode [][]uint64
}

// ZTInitRequest registers a relay fd for a specific (cpu, channel) slot.
type ZTInitRequest struct {
	CPU           uint32
	Channel       uint32
	OpBufferBytes uint32
}

// PmemInfo describes a pmem region bound to a superblock via grab_pmem.
type PmemInfo struct {
	RegionID uint64
	Size     uint64
	// BaseOffset is the byte offset, inside the bound fd, at which the
	// pmem region is mapped.
	BaseOffset uint64
}

// AllocBufferRequest/Result implement the buffer-allocator ioctl: carve a
// kernel-shared buffer and return a dedicated fd for it.
type AllocBufferRequest struct {
	Size uint64
}

type AllocBufferResult struct {
	FD   int
	Size uint64
}

// MountEventWire is what receive_mount fills in.
type MountEventWire struct {
	Event       MountEvent
	NumChannels uint32
	FSName      string
	MountPath   string
	Hdr         OpHeader
}
