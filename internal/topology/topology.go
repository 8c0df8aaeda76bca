// Package topology caches the CPU/NUMA map the kernel reports once at
// startup (spec.md §4.1). Affinity decisions throughout the runtime fan out
// over this fixed map, so the cost of caching it in full is trivial next to
// an ioctl per lookup.
package topology

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bitset"

	"github.com/wubo009/zufs-zus/internal/interfaces"
	"github.com/wubo009/zufs-zus/internal/logging"
)

// NumaMapSource is the narrow relay surface topology needs; satisfied by
// relay.Relay.
type NumaMapSource interface {
	NumaMap() (possibleCPUs, possibleNodes int, cpuMaskPerNode [][]uint64, err error)
}

// Snapshot is the immutable-after-init CPU/NUMA map.
type Snapshot struct {
	PossibleCPUs  int
	PossibleNodes int

	cpuMaskPerNode []*bitset.BitSet // index: node
	possibleMask   *bitset.BitSet
	onlineMask     *bitset.BitSet
	cpuToNode      []int32 // -1 if the CPU has no owning node

	logger   interfaces.Logger
	warnOnce sync.Once
	inited   atomic.Bool
}

// New constructs an empty snapshot. Init must be called exactly once
// before any query is meaningful.
func New(logger interfaces.Logger) *Snapshot {
	if logger == nil {
		logger = logging.Default()
	}
	return &Snapshot{logger: logger}
}

// Init issues the NUMA-map query once, derives PossibleMask/OnlineMask, and
// fills cpuToNode. A second call is a programmer error (spec.md §4.1).
func (s *Snapshot) Init(src NumaMapSource) error {
	if !s.inited.CompareAndSwap(false, true) {
		return fmt.Errorf("topology: Init called more than once")
	}

	possibleCPUs, possibleNodes, masks, err := src.NumaMap()
	if err != nil {
		return fmt.Errorf("topology: numa_map failed: %w", err)
	}
	if len(masks) != possibleNodes {
		return fmt.Errorf("topology: numa_map returned %d node masks for %d nodes", len(masks), possibleNodes)
	}

	s.PossibleCPUs = possibleCPUs
	s.PossibleNodes = possibleNodes
	s.cpuMaskPerNode = make([]*bitset.BitSet, possibleNodes)
	s.possibleMask = bitset.New(uint(possibleCPUs))
	s.onlineMask = bitset.New(uint(possibleCPUs))
	s.cpuToNode = make([]int32, possibleCPUs)
	for i := range s.cpuToNode {
		s.cpuToNode[i] = -1
	}

	for node, words := range masks {
		bs := bitset.New(uint(possibleCPUs))
		for cpu := 0; cpu < possibleCPUs; cpu++ {
			word := words[cpu/64]
			if word&(1<<(uint(cpu)%64)) != 0 {
				bs.Set(uint(cpu))
				s.onlineMask.Set(uint(cpu))
				s.cpuToNode[cpu] = int32(node)
			}
		}
		s.cpuMaskPerNode[node] = bs
		s.possibleMask.InPlaceUnion(bs)
	}

	return nil
}

// CPUToNode returns the NUMA node owning cpu. An out-of-range or offline
// CPU degrades to node 0 with a one-time warning rather than aborting
// (spec.md §4.1: "it must not abort ... a misprogrammed handler should
// degrade to node 0 rather than crash a worker").
func (s *Snapshot) CPUToNode(cpu int) int {
	if cpu < 0 || cpu >= len(s.cpuToNode) || s.cpuToNode[cpu] < 0 {
		s.warnOnce.Do(func() {
			s.logger.Printf("topology: cpu_to_node(%d) out of range or offline, defaulting to node 0", cpu)
		})
		return 0
	}
	return int(s.cpuToNode[cpu])
}

// IsOnline reports whether cpu is a member of OnlineMask.
func (s *Snapshot) IsOnline(cpu int) bool {
	if cpu < 0 || s.onlineMask == nil || uint(cpu) >= s.onlineMask.Len() {
		return false
	}
	return s.onlineMask.Test(uint(cpu))
}

// NextOnline returns the smallest online CPU >= from, or -1 if none.
func (s *Snapshot) NextOnline(from int) int {
	if from < 0 {
		from = 0
	}
	if s.onlineMask == nil {
		return -1
	}
	idx, ok := s.onlineMask.NextSet(uint(from))
	if !ok {
		return -1
	}
	return int(idx)
}

// OnlineCPUs returns every online CPU in ascending order.
func (s *Snapshot) OnlineCPUs() []int {
	var out []int
	for cpu := s.NextOnline(0); cpu >= 0; cpu = s.NextOnline(cpu + 1) {
		out = append(out, cpu)
	}
	return out
}

// OnlineCount is len(OnlineCPUs()), computed without allocating the slice.
func (s *Snapshot) OnlineCount() int {
	if s.onlineMask == nil {
		return 0
	}
	return int(s.onlineMask.Count())
}

// NodeMask returns the CPU bitmask owned by node, or nil if out of range.
func (s *Snapshot) NodeMask(node int) *bitset.BitSet {
	if node < 0 || node >= len(s.cpuMaskPerNode) {
		return nil
	}
	return s.cpuMaskPerNode[node]
}
