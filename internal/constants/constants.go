// Package constants holds protocol-level sizing and sentinel values shared
// across the runtime's internal packages.
package constants

import "time"

const (
	// DefaultRootPath is the default location of the anonymous control
	// device exposed by the kernel shim.
	DefaultRootPath = "/sys/fs/zuf"

	// RootPathEnv overrides DefaultRootPath when set.
	RootPathEnv = "ZUS_ROOT_PATH"
)

const (
	// AppRegionBytes is the size of the per-worker "application" mapping
	// that holds operation payload data (read/write buffers, readdir
	// pages, ...), addressed by header.Offset.
	AppRegionBytes = 2 << 20 // 2MB

	// OpBufferBytes is the size of the per-worker op-header/request
	// mapping, placed immediately after the app region in the same fd.
	OpBufferBytes = 4096 // one page
)

const (
	// AnyCPU is the thread-record sentinel meaning "no single CPU pin".
	AnyCPU = -1
	// NoNode is the thread-record sentinel meaning "no NUMA pin".
	NoNode = -1
)

const (
	// MountEventPollBackoff is an exported pacing interval for retrying
	// receive_mount after a transient transport error. The mount
	// controller does not use it and does not retry: Run returns the error.
	MountEventPollBackoff = 5 * time.Millisecond
)

// IntrBit marks that the kernel has asked to interrupt the op currently
// assigned to a worker (see OpHeader.Flags).
const IntrBit uint32 = 1 << 0
