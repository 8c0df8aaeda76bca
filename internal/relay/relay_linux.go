//go:build linux

package relay

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"syscall"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/wubo009/zufs-zus/internal/constants"
	"github.com/wubo009/zufs-zus/internal/logging"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

// ioctl command numbers for the anonymous control device. These mirror
// the _IOR/_IOW encoding the kernel-shim header defines; the magic and
// ordinal values are a stable ABI contract with the kernel module, not
// something this package chooses.
const (
	ioctlNumaMap      = 0x9a01
	ioctlGrabPmem     = 0x9a02
	ioctlAllocBuffer  = 0x9a03
	ioctlAckMount     = 0x9a04
	ioctlBreakAll     = 0x9a05
)

// channelRing is the SQE128/CQE32 ring backing one (cpu, channel) pair's
// blocking wait_for_op/complete_op round trip, built directly on the raw
// io_uring syscalls the same way the teacher's minimal ring does rather
// than through a higher-level binding, since URING_CMD's 80-byte command
// area is all this path needs.
type channelRing struct {
	fd     int
	params ioUringParams
	sqMem  []byte
	cqMem  []byte
}

const (
	sysIOURingSetup = 425
	sysIOURingEnter = 426

	ioringOpURingCmd = 50

	ioringSetupSQE128 = 1 << 10
	ioringSetupCQE32  = 1 << 11

	ioringEnterGetEvents = 1 << 0

	sqeSize = 128
	cqeSize = 32
)

type ioUringParams struct {
	sqEntries    uint32
	cqEntries    uint32
	flags        uint32
	sqThreadCpu  uint32
	sqThreadIdle uint32
	features     uint32
	wqFd         uint32
	resv         [3]uint32
	sqOff        ringOffsets
	cqOff        ringOffsets
}

type ringOffsets struct {
	head, tail, ringMask, ringEntries, flagsOrOverflow, droppedOrCqes, arrayOrFlags, resv1 uint32
	userAddr                                                                               uint64
}

func newChannelRing(entries uint32) (*channelRing, error) {
	params := ioUringParams{
		sqEntries: entries,
		cqEntries: entries * 2,
		flags:     ioringSetupSQE128 | ioringSetupCQE32,
	}
	fd, _, errno := syscall.Syscall(sysIOURingSetup, uintptr(entries), uintptr(unsafe.Pointer(&params)), 0)
	if errno != 0 {
		return nil, fmt.Errorf("relay: io_uring_setup: %w", errno)
	}

	sqSize := params.sqOff.arrayOrFlags + params.sqEntries*4
	cqSize := params.cqOff.droppedOrCqes + params.cqEntries*cqeSize
	sqMem, err := unix.Mmap(int(fd), 0, int(sqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		syscall.Close(int(fd))
		return nil, fmt.Errorf("relay: mmap sq ring: %w", err)
	}
	cqMem, err := unix.Mmap(int(fd), 0x8000000, int(cqSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(sqMem)
		syscall.Close(int(fd))
		return nil, fmt.Errorf("relay: mmap cq ring: %w", err)
	}

	return &channelRing{fd: int(fd), params: params, sqMem: sqMem, cqMem: cqMem}, nil
}

func (r *channelRing) close() error {
	unix.Munmap(r.sqMem)
	unix.Munmap(r.cqMem)
	return syscall.Close(r.fd)
}

// submitURingCmd writes cmdFD/cmdData into a fresh SQE slot, submits it,
// and blocks in-kernel for exactly one completion. The blocking happens
// inside io_uring_enter on the calling OS thread, which is the mechanism
// spec.md §4.3 means by "the worker blocks in the kernel": nothing here
// spins or polls.
func (r *channelRing) submitURingCmd(cmdFD int32, cmdData []byte, userData uint64) (int32, error) {
	sqHead := (*uint32)(unsafe.Pointer(&r.sqMem[r.params.sqOff.head]))
	sqTail := (*uint32)(unsafe.Pointer(&r.sqMem[r.params.sqOff.tail]))
	mask := r.params.sqEntries - 1

	if *sqTail-*sqHead >= r.params.sqEntries {
		return 0, fmt.Errorf("relay: submission ring full")
	}

	idx := *sqTail & mask
	slot := unsafe.Pointer(&r.sqMem[sqeSize*idx])
	zeroSQE := make([]byte, sqeSize)
	copy(unsafe.Slice((*byte)(slot), sqeSize), zeroSQE)

	// SQE layout: opcode u8, flags u8, ioprio u16, fd i32, off u64,
	// addr u64, len u32, opcodeFlags u32, userData u64, then a
	// 80-byte command area starting at offset 48.
	base := (*[128]byte)(slot)
	base[0] = ioringOpURingCmd
	binary.LittleEndian.PutUint32(base[4:8], uint32(cmdFD))
	binary.LittleEndian.PutUint64(base[32:40], userData)
	copy(base[48:128], cmdData)

	array := (*uint32)(unsafe.Pointer(&r.sqMem[r.params.sqOff.arrayOrFlags]))
	*(*uint32)(unsafe.Add(unsafe.Pointer(array), uintptr(4*idx))) = idx
	*sqTail = *sqTail + 1

	_, _, errno := syscall.Syscall6(sysIOURingEnter, uintptr(r.fd), 1, 1, ioringEnterGetEvents, 0, 0)
	if errno != 0 {
		return 0, fmt.Errorf("relay: io_uring_enter: %w", errno)
	}

	cqHead := (*uint32)(unsafe.Pointer(&r.cqMem[r.params.cqOff.head]))
	cqTail := (*uint32)(unsafe.Pointer(&r.cqMem[r.params.cqOff.tail]))
	if *cqHead == *cqTail {
		return 0, fmt.Errorf("relay: no completion posted")
	}
	cqMask := r.params.cqEntries - 1
	cqIdx := *cqHead & cqMask
	cqeBase := (*[32]byte)(unsafe.Pointer(&r.cqMem[cqeSize*cqIdx]))
	res := int32(binary.LittleEndian.Uint32(cqeBase[8:12]))
	*cqHead = *cqHead + 1
	return res, nil
}

// linuxRelay is the production Relay, speaking ioctl to the anonymous
// control device for the control plane and one channelRing per worker
// grid column for the blocking data plane.
type linuxRelay struct {
	mu       sync.Mutex
	anonFD   int
	rings    map[int]*channelRing // key: channel
	logger   *logging.Logger
	rootPath string
}

// New constructs the production Relay for the control device rooted at
// the given mount point (the default is constants.DefaultRootPath,
// overridable via constants.RootPathEnv). It opens nothing; OpenAnon
// opens the device.
func New(rootPath string) Relay {
	if rootPath == "" {
		rootPath = os.Getenv(constants.RootPathEnv)
	}
	if rootPath == "" {
		rootPath = constants.DefaultRootPath
	}
	return &linuxRelay{rings: make(map[int]*channelRing), logger: logging.Default(), rootPath: rootPath, anonFD: -1}
}

func (l *linuxRelay) OpenAnon(ctx context.Context) error {
	fd, err := syscall.Open(l.rootPath+"/anon", syscall.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("relay: open anon device: %w", err)
	}
	l.mu.Lock()
	l.anonFD = fd
	l.mu.Unlock()
	l.logger.Debugf("relay: opened anonymous control device at %s", l.rootPath)
	return nil
}

func (l *linuxRelay) ctlIoctl(cmd uintptr, arg unsafe.Pointer) error {
	l.mu.Lock()
	fd := l.anonFD
	l.mu.Unlock()
	if fd < 0 {
		return fmt.Errorf("relay: control device not open")
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), cmd, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func (l *linuxRelay) NumaMap() (int, int, [][]uint64, error) {
	var wire struct {
		possibleCPUs  uint32
		possibleNodes uint32
		masks         [64][8]uint64 // up to 64 nodes, 512 CPUs each
	}
	if err := l.ctlIoctl(ioctlNumaMap, unsafe.Pointer(&wire)); err != nil {
		return 0, 0, nil, fmt.Errorf("relay: numa_map ioctl: %w", err)
	}
	out := make([][]uint64, wire.possibleNodes)
	for n := range out {
		words := make([]uint64, 8)
		copy(words, wire.masks[n][:])
		out[n] = words
	}
	return int(wire.possibleCPUs), int(wire.possibleNodes), out, nil
}

func (l *linuxRelay) ZTInit(cpu, channel int) (uint64, error) {
	req := uapi.ZTInitRequest{CPU: uint32(cpu), Channel: uint32(channel), OpBufferBytes: constants.OpBufferBytes}
	if err := l.ctlIoctl(0x9a00, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("relay: zt_init ioctl: %w", err)
	}

	l.mu.Lock()
	_, exists := l.rings[channel]
	l.mu.Unlock()
	if !exists {
		ring, err := newChannelRing(64)
		if err != nil {
			return 0, err
		}
		l.mu.Lock()
		l.rings[channel] = ring
		l.mu.Unlock()
	}

	return constants.AppRegionBytes + constants.OpBufferBytes, nil
}

func (l *linuxRelay) GrabPmem(sbID uint64) (uapi.PmemInfo, error) {
	req := struct {
		sbID uint64
		uapi.PmemInfo
	}{sbID: sbID}
	if err := l.ctlIoctl(ioctlGrabPmem, unsafe.Pointer(&req)); err != nil {
		return uapi.PmemInfo{}, fmt.Errorf("relay: grab_pmem ioctl: %w", err)
	}
	return req.PmemInfo, nil
}

func (l *linuxRelay) AllocBuffer(size uint64) (int, error) {
	req := uapi.AllocBufferRequest{Size: size}
	res := uapi.AllocBufferResult{}
	wire := struct {
		uapi.AllocBufferRequest
		uapi.AllocBufferResult
	}{AllocBufferRequest: req, AllocBufferResult: res}
	if err := l.ctlIoctl(ioctlAllocBuffer, unsafe.Pointer(&wire)); err != nil {
		return -1, fmt.Errorf("relay: alloc_buffer ioctl: %w", err)
	}
	return wire.FD, nil
}

func (l *linuxRelay) WaitForOp(ctx context.Context, cpu, channel int) (*uapi.OpHeader, []byte, error) {
	l.mu.Lock()
	ring, ok := l.rings[channel]
	l.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("relay: channel %d not initialized", channel)
	}

	cmd := make([]byte, 80)
	binary.LittleEndian.PutUint32(cmd[0:4], uint32(cpu))
	binary.LittleEndian.PutUint32(cmd[4:8], uint32(channel))

	res, err := ring.submitURingCmd(int32(l.anonFD), cmd, uint64(cpu)<<32|uint64(channel))
	if err != nil {
		return nil, nil, err
	}
	if res < 0 {
		return nil, nil, fmt.Errorf("relay: wait_for_op returned %d", res)
	}

	hdr, err := uapi.UnmarshalHeader(cmd[:uapi.HeaderSize])
	if err != nil {
		return nil, nil, err
	}
	return hdr, nil, nil
}

func (l *linuxRelay) CompleteOp(cpu, channel int, hdr *uapi.OpHeader) error {
	l.mu.Lock()
	ring, ok := l.rings[channel]
	l.mu.Unlock()
	if !ok {
		return fmt.Errorf("relay: channel %d not initialized", channel)
	}
	cmd := uapi.MarshalHeader(hdr)
	padded := make([]byte, 80)
	copy(padded, cmd)
	_, err := ring.submitURingCmd(int32(l.anonFD), padded, uint64(cpu)<<32|uint64(channel))
	return err
}

func (l *linuxRelay) ReceiveMount(ctx context.Context) (MountEvent, error) {
	buf := make([]byte, 256)
	n, err := syscall.Read(l.anonFD, buf)
	if err != nil {
		return MountEvent{}, fmt.Errorf("relay: receive_mount read: %w", err)
	}
	hdr, err := uapi.UnmarshalHeader(buf[:min(n, uapi.HeaderSize)])
	if err != nil {
		return MountEvent{}, err
	}
	return MountEvent{uapi.MountEventWire{Event: uapi.MountEvent(hdr.Flags), Hdr: *hdr}}, nil
}

func (l *linuxRelay) AckMount(event MountEvent, errno int32) error {
	hdr := event.Hdr
	hdr.Err = errno
	_, err := syscall.Write(l.anonFD, uapi.MarshalHeader(&hdr))
	return err
}

func (l *linuxRelay) BreakAll(channel int) error {
	req := struct{ Channel uint32 }{Channel: uint32(channel)}
	return l.ctlIoctl(ioctlBreakAll, unsafe.Pointer(&req))
}

func (l *linuxRelay) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	var firstErr error
	for _, ring := range l.rings {
		if err := ring.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if l.anonFD >= 0 {
		if err := syscall.Close(l.anonFD); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
