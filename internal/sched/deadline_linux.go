package sched

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sysSchedAttr mirrors struct sched_attr from linux/sched/types.h.
// x/sys/unix has no binding for SCHED_DEADLINE's sched_setattr(2), so
// this module issues the raw syscall directly.
type sysSchedAttr struct {
	Size          uint32
	SchedPolicy   uint32
	SchedFlags    uint64
	SchedNice     int32
	SchedPriority uint32
	SchedRuntime  uint64
	SchedDeadline uint64
	SchedPeriod   uint64
}

const schedDeadlinePolicy = 6 // SCHED_DEADLINE

func setAttrDeadline(d Deadline) error {
	attr := sysSchedAttr{
		Size:          uint32(unsafe.Sizeof(sysSchedAttr{})),
		SchedPolicy:   schedDeadlinePolicy,
		SchedRuntime:  uint64(d.RuntimeUS) * 1000,
		SchedDeadline: uint64(d.DeadlineUS) * 1000,
		SchedPeriod:   uint64(d.PeriodUS) * 1000,
	}
	_, _, errno := unix.Syscall(unix.SYS_SCHED_SETATTR, 0, uintptr(unsafe.Pointer(&attr)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
