// Package bufalloc implements the buffer allocator spec.md §4.8
// describes: scratch buffers the core requests from the kernel via
// AllocBuffer and mmaps for its own use (large readdir/xattr-list
// results, staging buffers for Clone/Copy spanning more than one
// op-buffer page).
package bufalloc

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/wubo009/zufs-zus/internal/relay"
)

// Buffer is one mmap'd scratch region backed by a kernel-allocated fd.
type Buffer struct {
	FD   int
	Data []byte
}

// Allocator hands out and recycles Buffers, pooling by size class so a
// steady-state workload doing repeated large readdir calls doesn't pay
// an AllocBuffer round trip every time.
type Allocator struct {
	relay relay.Relay

	mu    sync.Mutex
	free  map[uint64][]*Buffer // size class -> free list
	total int
}

// New constructs an Allocator over relay.
func New(r relay.Relay) *Allocator {
	return &Allocator{relay: r, free: make(map[uint64][]*Buffer)}
}

// sizeClass rounds size up to the next power-of-two page multiple so
// the free-list keys stay few and reuse is likely.
func sizeClass(size uint64) uint64 {
	const pageSize = 4096
	pages := (size + pageSize - 1) / pageSize
	class := uint64(1)
	for class < pages {
		class <<= 1
	}
	return class * pageSize
}

// Get returns a Buffer of at least size bytes, reusing a pooled one of
// the same size class when available.
func (a *Allocator) Get(size uint64) (*Buffer, error) {
	class := sizeClass(size)

	a.mu.Lock()
	if list := a.free[class]; len(list) > 0 {
		buf := list[len(list)-1]
		a.free[class] = list[:len(list)-1]
		a.mu.Unlock()
		return buf, nil
	}
	a.mu.Unlock()

	fd, err := a.relay.AllocBuffer(class)
	if err != nil {
		return nil, fmt.Errorf("bufalloc: alloc_buffer(%d): %w", class, err)
	}
	data, err := unix.Mmap(fd, 0, int(class), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bufalloc: mmap: %w", err)
	}
	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil && err != unix.ENOSYS {
		// best effort: a core dump including scratch buffer contents is
		// undesirable but not fatal.
	}

	a.mu.Lock()
	a.total++
	a.mu.Unlock()

	return &Buffer{FD: fd, Data: data}, nil
}

// Put returns buf to the pool for reuse at its size class.
func (a *Allocator) Put(buf *Buffer) {
	class := uint64(len(buf.Data))
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free[class] = append(a.free[class], buf)
}

// Outstanding reports how many distinct buffers have ever been
// allocated (not currently-in-use count), mainly for tests and metrics.
func (a *Allocator) Outstanding() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}
