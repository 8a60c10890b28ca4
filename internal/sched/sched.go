// Package sched applies a scheduling policy to the calling OS thread:
// the default time-sharing class, SCHED_FIFO, or SCHED_DEADLINE, plus an
// optional CPU affinity mask.
package sched

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/lrtsys/streamrouter/internal/logging"
	"github.com/lrtsys/streamrouter/internal/routererr"
)

// Policy selects a scheduling class for Apply.
type Policy interface {
	isPolicy()
}

// Normal is the default time-sharing scheduler; Apply is a no-op.
type Normal struct{}

func (Normal) isPolicy() {}

// Fifo requests SCHED_FIFO at the given real-time priority (1-99).
type Fifo struct {
	Priority int
}

func (Fifo) isPolicy() {}

// Deadline requests SCHED_DEADLINE with the given runtime/period/deadline,
// each in microseconds.
type Deadline struct {
	RuntimeUS  int64
	PeriodUS   int64
	DeadlineUS int64
}

func (Deadline) isPolicy() {}

// Scheduler applies a Policy and, optionally, a CPU affinity mask to the
// calling OS thread. Callers must invoke Apply from the goroutine that
// has already called runtime.LockOSThread, matching
// internal/queue/runner.go's per-queue thread-pinning discipline.
type Scheduler struct{}

// Apply sets the calling thread's scheduling policy and CPU affinity.
// Deadline combined with a non-empty affinity mask is logged as a
// warning: pinning a SCHED_DEADLINE thread to a single CPU can starve it
// if that CPU's deadline bandwidth is already committed elsewhere.
func (Scheduler) Apply(policy Policy, affinity []int) error {
	if len(affinity) > 0 {
		if _, ok := policy.(Deadline); ok {
			logging.Default().Named("sched").Warn("CPU affinity requested together with SCHED_DEADLINE; deadline bandwidth admission may starve this thread")
		}
		var mask unix.CPUSet
		for _, cpu := range affinity {
			mask.Set(cpu)
		}
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			return routererr.New(routererr.Fatal, "Scheduler.Apply", fmt.Errorf("set affinity: %w", err))
		}
	}

	switch p := policy.(type) {
	case Normal, nil:
		return nil
	case Fifo:
		param := &unix.SchedParam{Priority: int32(p.Priority)}
		if err := unix.SchedSetscheduler(0, unix.SCHED_FIFO, param); err != nil {
			return routererr.New(routererr.Fatal, "Scheduler.Apply", fmt.Errorf("SCHED_FIFO: %w", err))
		}
		return nil
	case Deadline:
		if err := setAttrDeadline(p); err != nil {
			return routererr.New(routererr.Fatal, "Scheduler.Apply", fmt.Errorf("SCHED_DEADLINE: %w", err))
		}
		return nil
	default:
		return routererr.New(routererr.InvalidArgument, "Scheduler.Apply", fmt.Errorf("unknown policy %T", policy))
	}
}
