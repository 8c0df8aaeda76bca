package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/wubo009/zufs-zus/internal/uapi"
)

// FakeRelay backs Relay with in-process channels so the worker grid,
// dispatcher, and mount controller can be driven end to end in tests
// without a kernel shim, mirroring the teacher's control_test.go fake
// file-descriptor pattern.
type FakeRelay struct {
	mu sync.Mutex

	possibleCPUs  int
	possibleNodes int
	cpuMasks      [][]uint64

	opQueues   map[int]chan fakeOp // key: channel
	breakChans map[int]chan struct{}
	mountCh    chan MountEvent
	ackCh      chan fakeAck

	pmemByID map[uint64]uapi.PmemInfo
	closed   bool

	pendingMu sync.Mutex
	pending   map[int]map[int]chan *uapi.OpHeader // channel -> cpu -> result
}

type fakeOp struct {
	hdr     *uapi.OpHeader
	payload []byte
	resultC chan *uapi.OpHeader
}

type fakeAck struct {
	Event MountEvent
	Errno int32
}

// NewFake constructs an empty FakeRelay. Tests call SetTopology and
// SubmitMountEvent/SubmitOp to drive scenarios.
func NewFake() *FakeRelay {
	return &FakeRelay{
		opQueues:   make(map[int]chan fakeOp),
		breakChans: make(map[int]chan struct{}),
		mountCh:    make(chan MountEvent, 16),
		ackCh:      make(chan fakeAck, 16),
		pmemByID:   make(map[uint64]uapi.PmemInfo),
		pending:    make(map[int]map[int]chan *uapi.OpHeader),
	}
}

// SetTopology configures the NUMA map NumaMap() returns.
func (f *FakeRelay) SetTopology(possibleCPUs, possibleNodes int, masks [][]uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.possibleCPUs = possibleCPUs
	f.possibleNodes = possibleNodes
	f.cpuMasks = masks
}

// SetPmem registers the PmemInfo GrabPmem(sbID) should return.
func (f *FakeRelay) SetPmem(sbID uint64, info uapi.PmemInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pmemByID[sbID] = info
}

func (f *FakeRelay) OpenAnon(ctx context.Context) error { return nil }

func (f *FakeRelay) NumaMap() (int, int, [][]uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.possibleCPUs, f.possibleNodes, f.cpuMasks, nil
}

func (f *FakeRelay) ZTInit(cpu, channel int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, fmt.Errorf("relay: fake relay closed")
	}
	if _, ok := f.opQueues[channel]; !ok {
		f.opQueues[channel] = make(chan fakeOp, 64)
		f.breakChans[channel] = make(chan struct{}, 16)
	}
	return 1 << 12, nil
}

func (f *FakeRelay) GrabPmem(sbID uint64) (uapi.PmemInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.pmemByID[sbID]
	if !ok {
		return uapi.PmemInfo{}, fmt.Errorf("relay: no pmem registered for sb %d", sbID)
	}
	return info, nil
}

func (f *FakeRelay) AllocBuffer(size uint64) (int, error) {
	return -1, nil
}

// SubmitOp is the test-side half of wait_for_op: it enqueues an
// operation for channel and returns a function that blocks for the
// worker's completion.
func (f *FakeRelay) SubmitOp(channel int, hdr *uapi.OpHeader, payload []byte) (wait func() *uapi.OpHeader) {
	f.mu.Lock()
	q, ok := f.opQueues[channel]
	f.mu.Unlock()
	if !ok {
		panic(fmt.Sprintf("relay: SubmitOp on uninitialized channel %d", channel))
	}
	resultC := make(chan *uapi.OpHeader, 1)
	q <- fakeOp{hdr: hdr, payload: payload, resultC: resultC}
	return func() *uapi.OpHeader { return <-resultC }
}

func (f *FakeRelay) WaitForOp(ctx context.Context, cpu, channel int) (*uapi.OpHeader, []byte, error) {
	f.mu.Lock()
	q, ok := f.opQueues[channel]
	brk := f.breakChans[channel]
	f.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("relay: channel %d not initialized", channel)
	}

	select {
	case op := <-q:
		f.mu.Lock()
		f.pendingByChannel(channel)[cpu] = op.resultC
		f.mu.Unlock()
		return op.hdr, op.payload, nil
	case <-brk:
		return nil, nil, errBreak
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

var errBreak = fmt.Errorf("relay: channel broken")

// pendingByChannel tracks, per channel, which result channel each cpu's
// last WaitForOp pulled so CompleteOp can route the answer back.
func (f *FakeRelay) pendingByChannel(channel int) map[int]chan *uapi.OpHeader {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	m, ok := f.pending[channel]
	if !ok {
		m = make(map[int]chan *uapi.OpHeader)
		f.pending[channel] = m
	}
	return m
}

func (f *FakeRelay) CompleteOp(cpu, channel int, hdr *uapi.OpHeader) error {
	m := f.pendingByChannel(channel)
	f.pendingMu.Lock()
	resultC, ok := m[cpu]
	delete(m, cpu)
	f.pendingMu.Unlock()
	if !ok {
		return fmt.Errorf("relay: CompleteOp with no pending op for cpu %d channel %d", cpu, channel)
	}
	resultC <- hdr
	return nil
}

// SubmitMountEvent is the test-side trigger for ReceiveMount.
func (f *FakeRelay) SubmitMountEvent(ev MountEvent) {
	f.mountCh <- ev
}

func (f *FakeRelay) ReceiveMount(ctx context.Context) (MountEvent, error) {
	select {
	case ev := <-f.mountCh:
		return ev, nil
	case <-ctx.Done():
		return MountEvent{}, ctx.Err()
	}
}

// Acks drains the acknowledgements AckMount has sent, for assertions.
func (f *FakeRelay) Acks() []fakeAck {
	var out []fakeAck
	for {
		select {
		case a := <-f.ackCh:
			out = append(out, a)
		default:
			return out
		}
	}
}

func (f *FakeRelay) AckMount(event MountEvent, errno int32) error {
	f.ackCh <- fakeAck{Event: event, Errno: errno}
	return nil
}

func (f *FakeRelay) BreakAll(channel int) error {
	f.mu.Lock()
	brk, ok := f.breakChans[channel]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	close(brk)
	return nil
}

func (f *FakeRelay) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
