package reqtable

import (
	"runtime"
	"sync/atomic"
)

// spinlock is a compare-and-swap spinlock guarding RequestTable
// structural mutation (insert/remove of a pattern), matching the
// ck_spinlock writer-side exclusion in the table this package replaces.
// Readers (the single router dispatch goroutine) never take this lock —
// they only ever load the current *bitset.Set via an atomic pointer, so
// lookups never contend with it.
type spinlock struct {
	held atomic.Bool
}

func (l *spinlock) Lock() {
	for !l.held.CompareAndSwap(false, true) {
		runtime.Gosched()
	}
}

func (l *spinlock) Unlock() {
	l.held.Store(false)
}
