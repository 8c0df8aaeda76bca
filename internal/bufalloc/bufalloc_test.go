package bufalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/wubo009/zufs-zus/internal/relay"
)

// memfdRelay backs AllocBuffer with a real memfd so Get's mmap call has a
// genuine file descriptor to map, without needing the kernel shim. Every
// other Relay method is unused by bufalloc and left to the embedded nil
// interface.
type memfdRelay struct {
	relay.Relay
}

func (memfdRelay) AllocBuffer(size uint64) (int, error) {
	fd, err := unix.MemfdCreate("bufalloc-test", 0)
	if err != nil {
		return -1, err
	}
	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func TestGetReturnsBufferOfRequestedSizeClass(t *testing.T) {
	a := New(memfdRelay{})
	buf, err := a.Get(100)
	require.NoError(t, err)
	require.Equal(t, 4096, len(buf.Data))
	require.Equal(t, 1, a.Outstanding())
}

func TestGetRoundsUpToPowerOfTwoPages(t *testing.T) {
	a := New(memfdRelay{})
	buf, err := a.Get(5000) // > 1 page, <= 2 pages
	require.NoError(t, err)
	require.Equal(t, 8192, len(buf.Data))
}

func TestPutThenGetReusesBuffer(t *testing.T) {
	a := New(memfdRelay{})
	buf, err := a.Get(4096)
	require.NoError(t, err)
	require.Equal(t, 1, a.Outstanding())

	a.Put(buf)

	reused, err := a.Get(4096)
	require.NoError(t, err)
	require.Same(t, buf, reused)
	require.Equal(t, 1, a.Outstanding(), "reuse from the free list must not bump Outstanding")
}

func TestGetDifferentSizeClassesDoNotShareFreeList(t *testing.T) {
	a := New(memfdRelay{})
	small, err := a.Get(4096)
	require.NoError(t, err)
	a.Put(small)

	large, err := a.Get(8192)
	require.NoError(t, err)
	require.NotSame(t, small, large)
	require.Equal(t, 2, a.Outstanding())
}
