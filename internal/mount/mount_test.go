package mount

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wubo009/zufs-zus/backend/pmemsim"
	"github.com/wubo009/zufs-zus/internal/relay"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

func TestRegisterDuplicateNameErrors(t *testing.T) {
	fake := relay.NewFake()
	c := New(fake, nil)

	require.NoError(t, c.Register(pmemsim.New("memfs")))
	require.Error(t, c.Register(pmemsim.New("memfs")))
}

func TestInitOpensRelayAndSnapshotsTopology(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})
	c := New(fake, nil)

	require.NoError(t, c.Init(context.Background()))
	require.Equal(t, 1, c.topo.OnlineCount())
}

func TestRunServicesMountAndUnmountEvents(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})
	c := New(fake, nil)
	require.NoError(t, c.Register(pmemsim.New("memfs")))
	require.NoError(t, c.Init(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErrC := make(chan error, 1)
	go func() { runErrC <- c.Run(ctx) }()

	fake.SubmitMountEvent(relay.MountEvent{MountEventWire: uapi.MountEventWire{
		Event:       uapi.EventMount,
		NumChannels: 1,
		FSName:      "memfs",
		Hdr:         uapi.OpHeader{SBID: 1},
	}})

	require.Eventually(t, func() bool {
		acks := fake.Acks()
		return len(acks) >= 1
	}, 2*time.Second, time.Millisecond)

	acks := fake.Acks()
	require.Zero(t, acks[len(acks)-1].Errno)
	require.True(t, c.started)
	require.Equal(t, 1, c.grid.Len())

	fake.SubmitMountEvent(relay.MountEvent{MountEventWire: uapi.MountEventWire{
		Event:     uapi.EventUmount,
		FSName:    "memfs",
		Hdr:       uapi.OpHeader{SBID: 1},
	}})

	require.Eventually(t, func() bool { return !c.started }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.grid.Len() == 0 }, 2*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-runErrC:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestHandleMountUnknownFilesystemReturnsNotSupported(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})
	c := New(fake, nil)

	errno := c.handleMount(context.Background(), relay.MountEvent{MountEventWire: uapi.MountEventWire{
		FSName: "nope",
	}})
	require.Equal(t, int32(ENOTSUPMount), errno)
}

func TestHandleEventRemountAcksSuccess(t *testing.T) {
	fake := relay.NewFake()
	c := New(fake, nil)

	errno := c.handleEvent(context.Background(), relay.MountEvent{MountEventWire: uapi.MountEventWire{
		Event: uapi.EventRemount,
	}})
	require.Zero(t, errno)
}

func TestHandleEventDebugfsReturnsEIO(t *testing.T) {
	fake := relay.NewFake()
	c := New(fake, nil)

	errno := c.handleEvent(context.Background(), relay.MountEvent{MountEventWire: uapi.MountEventWire{
		Event: uapi.EventDebugRead,
	}})
	require.Equal(t, int32(EIODebugfs), errno)
}

func TestMultiChannelMountStartsAllChannels(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})
	c := New(fake, nil)
	require.NoError(t, c.Register(pmemsim.New("memfs")))
	require.NoError(t, c.Init(context.Background()))

	errno := c.handleMount(context.Background(), relay.MountEvent{MountEventWire: uapi.MountEventWire{
		NumChannels: 3,
		FSName:      "memfs",
		Hdr:         uapi.OpHeader{SBID: 1},
	}})
	require.Zero(t, errno)

	for ch := 0; ch < 3; ch++ {
		_, ok := c.grid.WorkerState(ch, 0)
		require.True(t, ok, "channel %d was never started", ch)
	}

	c.grid.StopAll()
}
