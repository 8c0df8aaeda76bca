package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wubo009/zufs-zus/internal/uapi"
)

func TestFakeRelayNumaMapReturnsConfiguredTopology(t *testing.T) {
	f := NewFake()
	f.SetTopology(4, 2, [][]uint64{{0x3}, {0xc}})

	cpus, nodes, masks, err := f.NumaMap()
	require.NoError(t, err)
	require.Equal(t, 4, cpus)
	require.Equal(t, 2, nodes)
	require.Equal(t, [][]uint64{{0x3}, {0xc}}, masks)
}

func TestFakeRelaySubmitOpAndCompleteOpRoundTrip(t *testing.T) {
	f := NewFake()
	_, err := f.ZTInit(0, 0)
	require.NoError(t, err)

	hdr := &uapi.OpHeader{Code: uapi.OpStatfs}
	wait := f.SubmitOp(0, hdr, []byte("payload"))

	gotHdr, payload, err := f.WaitForOp(context.Background(), 0, 0)
	require.NoError(t, err)
	require.Equal(t, hdr, gotHdr)
	require.Equal(t, []byte("payload"), payload)

	result := &uapi.OpHeader{Code: uapi.OpStatfs, Err: 0}
	require.NoError(t, f.CompleteOp(0, 0, result))

	got := wait()
	require.Same(t, result, got)
}

func TestFakeRelayBreakAllUnblocksWaitForOp(t *testing.T) {
	f := NewFake()
	_, err := f.ZTInit(0, 3)
	require.NoError(t, err)

	errC := make(chan error, 1)
	go func() {
		_, _, err := f.WaitForOp(context.Background(), 0, 3)
		errC <- err
	}()

	require.NoError(t, f.BreakAll(3))

	select {
	case err := <-errC:
		require.Error(t, err)
		require.True(t, isBreakErr(err))
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForOp did not unblock after BreakAll")
	}
}

func isBreakErr(err error) bool {
	return err != nil && err.Error() == "relay: channel broken"
}

func TestFakeRelayWaitForOpCanceledByContext(t *testing.T) {
	f := NewFake()
	_, err := f.ZTInit(0, 0)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = f.WaitForOp(ctx, 0, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFakeRelayWaitForOpUninitializedChannelErrors(t *testing.T) {
	f := NewFake()
	_, _, err := f.WaitForOp(context.Background(), 0, 99)
	require.Error(t, err)
}

func TestFakeRelayMountEventRoundTrip(t *testing.T) {
	f := NewFake()
	ev := MountEvent{MountEventWire: uapi.MountEventWire{Event: uapi.EventMount, FSName: "memfs"}}
	f.SubmitMountEvent(ev)

	got, err := f.ReceiveMount(context.Background())
	require.NoError(t, err)
	require.Equal(t, ev, got)

	require.NoError(t, f.AckMount(ev, 0))
	acks := f.Acks()
	require.Len(t, acks, 1)
	require.Equal(t, ev, acks[0].Event)
	require.Zero(t, acks[0].Errno)
}

func TestFakeRelayPmemRoundTrip(t *testing.T) {
	f := NewFake()
	info := uapi.PmemInfo{RegionID: 7, Size: 4096, BaseOffset: 0}
	f.SetPmem(1, info)

	got, err := f.GrabPmem(1)
	require.NoError(t, err)
	require.Equal(t, info, got)

	_, err = f.GrabPmem(2)
	require.Error(t, err)
}

func TestFakeRelayZTInitAfterCloseErrors(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.Close())

	_, err := f.ZTInit(0, 0)
	require.Error(t, err)
}

func TestFakeRelaySubmitOpOnUninitializedChannelPanics(t *testing.T) {
	f := NewFake()
	require.Panics(t, func() {
		f.SubmitOp(5, &uapi.OpHeader{}, nil)
	})
}
