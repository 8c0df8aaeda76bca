package topology

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeNumaSource struct {
	possibleCPUs  int
	possibleNodes int
	masks         [][]uint64
	err           error
}

func (f fakeNumaSource) NumaMap() (int, int, [][]uint64, error) {
	return f.possibleCPUs, f.possibleNodes, f.masks, f.err
}

func twoNodeFourCPU() fakeNumaSource {
	return fakeNumaSource{
		possibleCPUs:  4,
		possibleNodes: 2,
		masks: [][]uint64{
			{0x3}, // node 0: cpu 0,1
			{0xc}, // node 1: cpu 2,3
		},
	}
}

func TestInitPopulatesMap(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Init(twoNodeFourCPU()))

	require.Equal(t, 4, s.PossibleCPUs)
	require.Equal(t, 2, s.PossibleNodes)
	require.Equal(t, 0, s.CPUToNode(0))
	require.Equal(t, 0, s.CPUToNode(1))
	require.Equal(t, 1, s.CPUToNode(2))
	require.Equal(t, 1, s.CPUToNode(3))
	require.Equal(t, []int{0, 1, 2, 3}, s.OnlineCPUs())
	require.Equal(t, 4, s.OnlineCount())
}

func TestInitTwiceErrors(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Init(twoNodeFourCPU()))
	require.Error(t, s.Init(twoNodeFourCPU()))
}

func TestInitPropagatesSourceError(t *testing.T) {
	s := New(nil)
	boom := errors.New("boom")
	err := s.Init(fakeNumaSource{err: boom})
	require.Error(t, err)
	require.ErrorIs(t, err, boom)
}

func TestInitRejectsMismatchedMaskCount(t *testing.T) {
	s := New(nil)
	err := s.Init(fakeNumaSource{possibleCPUs: 4, possibleNodes: 2, masks: [][]uint64{{0x3}}})
	require.Error(t, err)
}

func TestCPUToNodeOutOfRangeDegradesToZero(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Init(twoNodeFourCPU()))

	require.Equal(t, 0, s.CPUToNode(99))
	require.Equal(t, 0, s.CPUToNode(-1))
}

func TestIsOnlineAndNextOnline(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Init(fakeNumaSource{
		possibleCPUs:  4,
		possibleNodes: 1,
		masks:         [][]uint64{{0x5}}, // cpu 0 and 2 online, 1 and 3 offline
	}))

	require.True(t, s.IsOnline(0))
	require.False(t, s.IsOnline(1))
	require.True(t, s.IsOnline(2))
	require.False(t, s.IsOnline(3))
	require.False(t, s.IsOnline(-1))
	require.False(t, s.IsOnline(50))

	require.Equal(t, 0, s.NextOnline(0))
	require.Equal(t, 2, s.NextOnline(1))
	require.Equal(t, -1, s.NextOnline(3))
}

func TestNodeMaskOutOfRange(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Init(twoNodeFourCPU()))

	require.NotNil(t, s.NodeMask(0))
	require.NotNil(t, s.NodeMask(1))
	require.Nil(t, s.NodeMask(2))
	require.Nil(t, s.NodeMask(-1))
}

func TestQueriesBeforeInitDoNotPanic(t *testing.T) {
	s := New(nil)
	require.Equal(t, 0, s.CPUToNode(0))
	require.False(t, s.IsOnline(0))
	require.Equal(t, -1, s.NextOnline(0))
	require.Equal(t, 0, s.OnlineCount())
	require.Nil(t, s.NodeMask(0))
}
