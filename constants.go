package zus

import "github.com/wubo009/zufs-zus/internal/constants"

// Re-export the runtime's sizing and sentinel constants for public API.
const (
	DefaultRootPath       = constants.DefaultRootPath
	RootPathEnv           = constants.RootPathEnv
	AppRegionBytes        = constants.AppRegionBytes
	OpBufferBytes         = constants.OpBufferBytes
	AnyCPU                = constants.AnyCPU
	NoNode                = constants.NoNode
	MountEventPollBackoff = constants.MountEventPollBackoff
	IntrBit               = constants.IntrBit
)
