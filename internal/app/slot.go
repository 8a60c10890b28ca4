package app

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/lrtsys/streamrouter/internal/channel"
	"github.com/lrtsys/streamrouter/internal/mempool"
	"github.com/lrtsys/streamrouter/internal/pluginloader"
	"github.com/lrtsys/streamrouter/internal/sched"
	"github.com/lrtsys/streamrouter/internal/streamid"
)

// Slot is one reserved application-registry entry: its inbox ring and
// entry pool, its per-stream-id channels, the loaded plugin handle, and
// its lifecycle state.
type Slot struct {
	ID   int
	Name string

	// Ring holds pointers borrowed from Pool: the router pushes a filled
	// entry's address, the app copies out of it on Receive and returns it
	// to Pool immediately after, so a token is live exactly as long as a
	// message is in flight between the two goroutines.
	Ring *mempool.Ring[*channel.DataEntry]
	Pool *mempool.Pool[channel.DataEntry]

	mu      sync.Mutex
	Outputs map[streamid.StreamID]*channel.Output

	Handle pluginloader.Handle
	Sched  sched.Policy

	state atomic.Int32

	cancel context.CancelFunc
	done   chan struct{}
}

func newSlot(id int, queueSize int) *Slot {
	s := &Slot{
		ID:      id,
		Ring:    mempool.NewRing[*channel.DataEntry](queueSize),
		Pool:    mempool.NewPool[channel.DataEntry](mempool.NextPow2(queueSize)),
		Outputs: make(map[streamid.StreamID]*channel.Output),
		done:    make(chan struct{}),
	}
	s.state.Store(int32(Reserved))
	return s
}

// State returns the slot's current lifecycle state.
func (s *Slot) State() State { return State(s.state.Load()) }

func (s *Slot) setState(st State) { s.state.Store(int32(st)) }

// Deliver attempts to push a pool-borrowed entry into the slot's inbox
// ring. It never blocks: a full ring, or a slot that isn't Running,
// reports false, leaving the entry owned by the caller so it can return
// it to Pool.
func (s *Slot) Deliver(e *channel.DataEntry) bool {
	if s.State() != Running {
		return false
	}
	return s.Ring.Push(e)
}

func (s *Slot) output(sid streamid.StreamID) *channel.Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Outputs[sid]
}

func (s *Slot) setOutput(sid streamid.StreamID, out *channel.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outputs[sid] = out
}

func (s *Slot) clearChannels() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Outputs = make(map[streamid.StreamID]*channel.Output)
}
