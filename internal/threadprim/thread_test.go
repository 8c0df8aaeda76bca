package threadprim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSpawnAnyCPURuns(t *testing.T) {
	ran := make(chan struct{})
	th := Spawn(Params{CPU: -1, Name: "any-cpu"}, func() { close(ran) })

	require.NoError(t, th.Err())
	require.NotZero(t, th.TID())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("thread body did not run")
	}
}

func TestSpawnPinnedToCPUZero(t *testing.T) {
	ran := make(chan struct{})
	th := Spawn(Params{CPU: 0, Name: "pinned"}, func() { close(ran) })

	require.NoError(t, th.Err())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("thread body did not run")
	}
}

func TestErrBlocksUntilStartupCompletes(t *testing.T) {
	started := make(chan struct{})
	th := Spawn(Params{CPU: -1, Name: "blocking"}, func() {
		close(started)
		time.Sleep(50 * time.Millisecond)
	})

	require.NoError(t, th.Err())
	// Err must return once affinity/policy setup finishes, before body
	// necessarily completes; body may still be sleeping.
	select {
	case <-started:
	default:
	}
}
