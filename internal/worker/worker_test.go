package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wubo009/zufs-zus/internal/relay"
	"github.com/wubo009/zufs-zus/internal/uapi"
)

type echoDispatcher struct{}

func (echoDispatcher) Dispatch(ctx context.Context, hdr *uapi.OpHeader, payload []byte) *uapi.OpHeader {
	out := *hdr
	out.Err = 0
	return &out
}

func TestWorkerReachesReadyAndServicesOp(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})

	ready := make(chan struct{})
	var exitErr error
	exited := make(chan struct{})

	w := New(Config{
		Channel:  0,
		CPU:      -1,
		Relay:    fake,
		Dispatch: echoDispatcher{},
		OnReady:  func() { close(ready) },
		OnExit:   func(err error) { exitErr = err; close(exited) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.Equal(t, StateCreated, w.State())
	w.Start(ctx)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never became ready")
	}
	require.Equal(t, StateReady, w.State())

	hdr := &uapi.OpHeader{Code: uapi.OpCode(1)}
	wait := fake.SubmitOp(0, hdr, nil)

	var result *uapi.OpHeader
	require.Eventually(t, func() bool {
		result = wait()
		return result != nil
	}, 2*time.Second, time.Millisecond)
	require.Zero(t, result.Err)

	w.Stop()
	fake.BreakAll(0)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never exited")
	}
	require.NoError(t, exitErr)
	require.Equal(t, StateExited, w.State())
}

func TestWorkerFailsWhenZTInitErrors(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})
	fake.Close() // ZTInit returns an error once closed

	var exitErr error
	exited := make(chan struct{})

	w := New(Config{
		Channel:  0,
		CPU:      -1,
		Relay:    fake,
		Dispatch: echoDispatcher{},
		OnExit:   func(err error) { exitErr = err; close(exited) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never reported failure")
	}
	require.Error(t, exitErr)
	require.Equal(t, StateFailed, w.State())
}

func TestWorkerStopBeforeAnyOpExitsCleanly(t *testing.T) {
	fake := relay.NewFake()
	fake.SetTopology(1, 1, [][]uint64{{0x1}})

	ready := make(chan struct{})
	exited := make(chan struct{})
	var exitErr error

	w := New(Config{
		Channel:  0,
		CPU:      -1,
		Relay:    fake,
		Dispatch: echoDispatcher{},
		OnReady:  func() { close(ready) },
		OnExit:   func(err error) { exitErr = err; close(exited) },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	<-ready
	w.Stop()
	fake.BreakAll(0)

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("worker never exited")
	}
	require.NoError(t, exitErr)
}

func TestStateStringCoversAllStates(t *testing.T) {
	for s := StateCreated; s <= StateFailed; s++ {
		require.NotEqual(t, "unknown", s.String())
	}
	require.Equal(t, "unknown", State(99).String())
}
