// Package reqtable implements the subscription table: a hash table from
// pattern StreamID to the bitmap of subscribed applications, with a
// spinlock for writers and epoch-style protection for the single reader.
//
// Concurrency model. A C router of this shape would typically back this
// table with a lock-free-read hash table plus epoch-based reclamation of
// removed entries so readers never see a freed record. Go's runtime makes
// the reclamation half of that unnecessary — the garbage collector already
// defers freeing a removed record until the last reader's reference drops
// — so that half is replaced here by an EpochSection that is purely
// documentary (it marks the reader-side critical region for callers and
// tests that want to reason about it, without doing manual memory
// reclamation). The hash table half is replaced by sync.Map, which is
// purpose-built for exactly this read-mostly, single-writer-at-a-time
// access pattern and gives lock-free
// reads concurrent with a locked writer for free.
//
// Whether the reader can observe a bitmap mid-mutation is resolved here
// as copy-on-write: every Subscribe/Unsubscribe clones the current
// bitmap, mutates the clone, and atomically swaps it in, so LookupUnion
// only ever observes a complete, unmodified-in-place snapshot.
package reqtable

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lrtsys/streamrouter/internal/bitset"
	"github.com/lrtsys/streamrouter/internal/routererr"
	"github.com/lrtsys/streamrouter/internal/streamid"
)

type record struct {
	pattern streamid.StreamID
	subs    atomic.Pointer[bitset.Set]
}

// Table is the concurrent stream-id pattern -> subscriber-bitmap map.
type Table struct {
	reqs    sync.Map // streamid.StreamID -> *record
	lock    spinlock
	maxApps int
}

// New returns an empty Table sized for maxApps application indices.
func New(maxApps int) *Table {
	return &Table{maxApps: maxApps}
}

// Subscribe sets bit appID in the bitmap for pattern, creating the record
// if this is the first subscription to see this exact pattern. Idempotent:
// subscribing the same (appID, pattern) twice leaves exactly one record
// with the bit set once.
func (t *Table) Subscribe(appID int, pattern streamid.StreamID) error {
	if appID < 0 || appID >= t.maxApps {
		return routererr.New(routererr.InvalidArgument, "Subscribe", fmt.Errorf("app id %d out of range", appID))
	}

	t.lock.Lock()
	defer t.lock.Unlock()

	rec := t.getOrCreateRecordLocked(pattern)
	cur := rec.subs.Load()
	if cur.Test(appID) {
		return nil
	}
	next := cur.Clone()
	next.Set(appID)
	rec.subs.Store(next)
	return nil
}

// Unsubscribe clears bit appID in pattern's bitmap. If the bitmap becomes
// empty the record is removed entirely. Unsubscribing a pattern with no
// record is a NotFound error.
func (t *Table) Unsubscribe(appID int, pattern streamid.StreamID) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	v, ok := t.reqs.Load(pattern)
	if !ok {
		return routererr.New(routererr.NotFound, "Unsubscribe", fmt.Errorf("pattern %s not subscribed", pattern))
	}
	rec := v.(*record)
	cur := rec.subs.Load()
	if !cur.Test(appID) {
		return routererr.New(routererr.NotFound, "Unsubscribe", fmt.Errorf("app %d not subscribed to %s", appID, pattern))
	}

	next := cur.Clone()
	next.Clear(appID)
	if next.Empty() {
		t.reqs.Delete(pattern)
		return nil
	}
	rec.subs.Store(next)
	return nil
}

// UnsubscribeAll removes appID from every pattern it is subscribed to.
// Used by the application registry on Unload, so a released slot stops
// receiving deliveries immediately.
func (t *Table) UnsubscribeAll(appID int) {
	t.reqs.Range(func(key, value any) bool {
		pattern := key.(streamid.StreamID)
		_ = t.Unsubscribe(appID, pattern)
		return true
	})
}

func (t *Table) getOrCreateRecordLocked(pattern streamid.StreamID) *record {
	if v, ok := t.reqs.Load(pattern); ok {
		return v.(*record)
	}
	rec := &record{pattern: pattern}
	rec.subs.Store(bitset.New(t.maxApps))
	actual, _ := t.reqs.LoadOrStore(pattern, rec)
	return actual.(*record)
}

// EpochSection brackets the reader-side critical region around a lookup.
// It carries no state — see the package doc comment for why Go's GC makes
// a real epoch reclaimer unnecessary here — but gives the router a single
// place to begin/end that critical section, and a seam tests can use to
// assert no writer starves the reader.
type EpochSection struct{}

// Begin opens an epoch section. Call End when done probing.
func (t *Table) Begin() EpochSection { return EpochSection{} }

// End closes an epoch section.
func (EpochSection) End() {}

// LookupUnion performs the 16 masked probes against sid and returns the
// union of every matching pattern's subscriber bitmap. The whole
// operation runs inside one epoch section.
func (t *Table) LookupUnion(sid streamid.StreamID) *bitset.Set {
	sec := t.Begin()
	defer sec.End()

	union := bitset.New(t.maxApps)
	masks := Probes(sid)
	for _, p := range masks {
		if v, ok := t.reqs.Load(p); ok {
			rec := v.(*record)
			union.UnionInto(rec.subs.Load())
		}
	}
	return union
}

// Has reports whether any record exists for pattern (test/diagnostic use).
func (t *Table) Has(pattern streamid.StreamID) bool {
	_, ok := t.reqs.Load(pattern)
	return ok
}
