//go:build linux && giouring

package relay

import (
	"fmt"
	"unsafe"

	"github.com/pawelgaczynski/giouring"
)

func uintptrOf(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	return uint64(uintptr(unsafe.Pointer(&b[0])))
}

// giouringBackend offers the same submitURingCmd/close surface as the
// hand-rolled channelRing on top of a real binding, and is compiled only
// with -tags giouring. linuxRelay does not construct it: under either
// build the relay submits through channelRing.
type giouringBackend struct {
	ring *giouring.Ring
}

func newGiouringBackend(entries uint32) (*giouringBackend, error) {
	ring, err := giouring.CreateRing(entries)
	if err != nil {
		return nil, fmt.Errorf("relay: giouring.CreateRing: %w", err)
	}
	return &giouringBackend{ring: ring}, nil
}

func (g *giouringBackend) submitURingCmd(cmdFD int32, cmdData []byte, userData uint64) (int32, error) {
	sqe := g.ring.GetSQE()
	if sqe == nil {
		return 0, fmt.Errorf("relay: giouring submission queue full")
	}
	sqe.PrepareRW(giouring.OpUringCmd, int(cmdFD), uintptrOf(cmdData), uint32(len(cmdData)), 0)
	sqe.UserData = userData

	if _, err := g.ring.SubmitAndWait(1); err != nil {
		return 0, fmt.Errorf("relay: giouring submit_and_wait: %w", err)
	}

	cqe, err := g.ring.WaitCQE()
	if err != nil {
		return 0, fmt.Errorf("relay: giouring wait_cqe: %w", err)
	}
	res := cqe.Res
	g.ring.CQESeen(cqe)
	return res, nil
}

func (g *giouringBackend) close() error {
	g.ring.QueueExit()
	return nil
}
