package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wubo009/zufs-zus/internal/relay"
	"github.com/wubo009/zufs-zus/internal/topology"
	"github.com/wubo009/zufs-zus/internal/uapi"
	"github.com/wubo009/zufs-zus/internal/worker"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	out := *hdr
	out.Err = 0
	return &out
}

func singleCPUTopo(t *testing.T, fake *relay.FakeRelay) *topology.Snapshot {
	t.Helper()
	topo := topology.New(nil)
	require.NoError(t, topo.Init(fake))
	return topo
}

func TestStartChannelBringsUpOneWorkerPerCPU(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})
	topo := singleCPUTopo(t, fake)

	g := New(fake, topo, echoDispatcher{}, nil, nil)
	require.NoError(t, g.StartChannel(context.Background(), 0))
	require.Equal(t, 1, g.Len())

	state, ok := g.WorkerState(0, 0)
	require.True(t, ok)
	require.Equal(t, worker.StateReady, state)

	g.StopAll()
	require.Eventually(t, func() bool { return g.Len() == 0 }, 2*time.Second, time.Millisecond)
}

func TestStartChannelNoOnlineCPUsErrors(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(0, 0, nil)
	topo := singleCPUTopo(t, fake)

	g := New(fake, topo, echoDispatcher{}, nil, nil)
	err := g.StartChannel(context.Background(), 0)
	require.Error(t, err)
	require.Zero(t, g.Len())
}

func TestStopChannelOnlyStopsThatChannel(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})
	topo := singleCPUTopo(t, fake)

	g := New(fake, topo, echoDispatcher{}, nil, nil)
	require.NoError(t, g.StartChannel(context.Background(), 0))
	require.NoError(t, g.StartChannel(context.Background(), 1))
	require.Equal(t, 2, g.Len())

	g.StopChannel(0)
	require.Eventually(t, func() bool { return g.Len() == 1 }, 2*time.Second, time.Millisecond)

	_, ok := g.WorkerState(1, 0)
	require.True(t, ok)

	g.StopAll()
}
