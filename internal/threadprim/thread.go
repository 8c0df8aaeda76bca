// Package threadprim wraps the OS-thread primitive spec.md §4.2
// describes: a goroutine that locks itself to one OS thread and then
// applies affinity, scheduling policy, and priority to that thread
// before doing anything else, the same order the teacher's queue
// runner pins and affinitizes its I/O loop in.
package threadprim

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Policy selects the Linux scheduling class to request for the thread.
type Policy int

const (
	// PolicyNormal leaves the default CFS scheduler in place.
	PolicyNormal Policy = iota
	// PolicyFIFO requests SCHED_FIFO, for workers that must never be
	// preempted by lower-priority normal-policy tasks.
	PolicyFIFO
	// PolicyRR requests SCHED_RR.
	PolicyRR
)

// Params configures one Thread before its body runs.
type Params struct {
	// CPU pins the thread to exactly one logical CPU. A negative value
	// (constants.AnyCPU) leaves affinity untouched.
	CPU int
	// Policy selects the scheduling class.
	Policy Policy
	// Priority is the SCHED_FIFO/SCHED_RR priority (1-99); ignored
	// under PolicyNormal.
	Priority int
	// Name is used only for logging/diagnostics.
	Name string
}

// Thread represents one pinned OS thread running a single Go goroutine
// for its entire lifetime. The zero value is not usable; construct via
// Spawn.
type Thread struct {
	params Params
	done   chan error
	tid    int
}

// Spawn locks a fresh goroutine to its OS thread, applies params, and
// then runs body. Spawn returns immediately; the caller observes
// startup failure (an affinity or scheduling call that errored) via
// Err(). On such a failure body does not run.
func Spawn(params Params, body func()) *Thread {
	t := &Thread{params: params, done: make(chan error, 1)}
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		t.tid = unix.Gettid()

		if err := applyAffinity(params); err != nil {
			t.done <- fmt.Errorf("threadprim: %s: affinity: %w", params.Name, err)
			return
		}
		if err := applyPolicy(params); err != nil {
			t.done <- fmt.Errorf("threadprim: %s: policy: %w", params.Name, err)
			return
		}

		close(t.done)
		body()
	}()
	return t
}

// Err blocks until thread startup (affinity + policy application) has
// completed, returning any error encountered. Call this before relying
// on the thread's affinity having taken effect.
func (t *Thread) Err() error {
	return <-t.done
}

// TID returns the kernel thread id once startup has completed. Calling
// it before Err returns is a race; callers that need it immediately
// should call Err first.
func (t *Thread) TID() int {
	return t.tid
}

func applyAffinity(p Params) error {
	if p.CPU < 0 {
		return nil
	}
	var mask unix.CPUSet
	mask.Set(p.CPU)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		return fmt.Errorf("sched_setaffinity cpu=%d: %w", p.CPU, err)
	}
	return nil
}

func applyPolicy(p Params) error {
	switch p.Policy {
	case PolicyNormal:
		return nil
	case PolicyFIFO, PolicyRR:
		schedPolicy := unix.SCHED_FIFO
		if p.Policy == PolicyRR {
			schedPolicy = unix.SCHED_RR
		}
		sp := &unix.SchedParam{Priority: int32(p.Priority)}
		if err := unix.SchedSetscheduler(0, schedPolicy, sp); err != nil {
			return fmt.Errorf("sched_setscheduler policy=%d priority=%d: %w", schedPolicy, p.Priority, err)
		}
		return nil
	default:
		return fmt.Errorf("unknown policy %d", p.Policy)
	}
}
