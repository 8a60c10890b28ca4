// Package mempool implements the fixed-capacity entry pool and the
// single-producer/single-consumer ring buffer each application uses to
// move DataEntry values between the router and its worker goroutine.
//
// Entries come from a preallocated array via a lock-free free list;
// deallocation can happen from any thread (the app goroutine returns an
// entry after it finishes reading it), allocation always happens from the
// router goroutine alone. That MP(multi-producer-dealloc)/SP(alloc) split
// maps directly onto a lock-free Treiber stack: CAS-push on Put from any
// goroutine, CAS-pop on Get from the single allocating goroutine. This
// package uses that same free-list discipline over a plain Go slice arena
// instead of reaching for a generic sync.Pool, because sync.Pool makes no
// capacity guarantee — the GC can drain it at any time — and the channel
// the router feeds from must never allocate on the hot path, even under
// memory pressure.
package mempool

import (
	"sync/atomic"
	"unsafe"
)

type node[T any] struct {
	next  atomic.Pointer[node[T]]
	value T
	inUse atomic.Bool
}

// Pool is a wait-free-on-the-fast-path, fixed-capacity free list of *T.
// Get returns false once every slot is checked out; callers must treat
// that as backpressure, never allocate a substitute.
type Pool[T any] struct {
	arena []node[T]
	free  atomic.Pointer[node[T]]
	size  atomic.Int64
	cap   int
}

// NewPool preallocates capacity entries and chains them onto the free
// list.
func NewPool[T any](capacity int) *Pool[T] {
	p := &Pool[T]{arena: make([]node[T], capacity), cap: capacity}
	for i := range p.arena {
		if i+1 < len(p.arena) {
			p.arena[i].next.Store(&p.arena[i+1])
		}
	}
	if capacity > 0 {
		p.free.Store(&p.arena[0])
	}
	p.size.Store(int64(capacity))
	return p
}

// Cap returns the pool's fixed capacity.
func (p *Pool[T]) Cap() int { return p.cap }

// Len reports the number of entries currently available.
func (p *Pool[T]) Len() int { return int(p.size.Load()) }

// Get checks out an entry, or reports ok=false if the pool is exhausted.
func (p *Pool[T]) Get() (entry *T, ok bool) {
	for {
		head := p.free.Load()
		if head == nil {
			return nil, false
		}
		next := head.next.Load()
		if p.free.CompareAndSwap(head, next) {
			head.inUse.Store(true)
			p.size.Add(-1)
			return &head.value, true
		}
	}
}

// Put returns an entry previously obtained from Get. Safe to call from
// any goroutine concurrently with Get and with other Puts.
func (p *Pool[T]) Put(entry *T) {
	n := entryNode(p.arena, entry)
	if n == nil || !n.inUse.CompareAndSwap(true, false) {
		return
	}
	var zero T
	n.value = zero
	for {
		head := p.free.Load()
		n.next.Store(head)
		if p.free.CompareAndSwap(head, n) {
			p.size.Add(1)
			return
		}
	}
}

// entryNode recovers the owning *node[T] from a *T handed back to Put, by
// subtracting the value field's offset within node[T]: the returned
// pointer is treated as "the payload field of some slot in a known
// array" rather than tracking slot identity separately.
func entryNode[T any](arena []node[T], entry *T) *node[T] {
	if len(arena) == 0 || entry == nil {
		return nil
	}
	var zero node[T]
	valueOffset := uintptr(unsafe.Pointer(&zero.value)) - uintptr(unsafe.Pointer(&zero))

	nodeAddr := uintptr(unsafe.Pointer(entry)) - valueOffset
	baseAddr := uintptr(unsafe.Pointer(&arena[0]))
	nodeSize := unsafe.Sizeof(zero)

	if nodeAddr < baseAddr {
		return nil
	}
	idx := (nodeAddr - baseAddr) / nodeSize
	if idx >= uintptr(len(arena)) {
		return nil
	}
	return &arena[idx]
}
