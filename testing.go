package streamrouter

import (
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/lrtsys/streamrouter/internal/channel"
	"github.com/lrtsys/streamrouter/internal/streamid"
)

// MockIPC is an in-memory channel.IPC for tests: Submit appends to an
// inbound queue that Drain pops from, and Reserve hands back a plain
// heap buffer instead of a shared-memory region. It tracks call counts
// the way a mock backend tracks read/write/flush calls, so integration
// tests can assert on traffic shape without a real transport.
//
// It also honors the real share-counting contract of channel.IPC: every
// buffer Drain hands out starts at one share, keyed by the address of
// its first byte (content can repeat across distinct buffers, addresses
// can't), Retain adds a share, and Release drops one, freeing the
// bookkeeping entry and recording the buffer as fully released once the
// count reaches zero.
type MockIPC struct {
	mu       sync.Mutex
	queue    []channel.DataEntry
	closed   bool
	reserve  int
	submit   int
	drain    int
	retain   int
	release  int
	shares   map[uintptr]int
	freed    map[uintptr]bool
}

// NewMockIPC creates an empty mock transport.
func NewMockIPC() *MockIPC {
	return &MockIPC{
		shares: make(map[uintptr]int),
		freed:  make(map[uintptr]bool),
	}
}

func bufKey(buf []byte) uintptr {
	if len(buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&buf[0]))
}

// Reserve implements channel.IPC.
func (m *MockIPC) Reserve(sid streamid.StreamID, n int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reserve++
	if m.closed {
		return nil, fmt.Errorf("mockipc: closed")
	}
	return make([]byte, n), nil
}

// Submit implements channel.IPC, queuing buf for a later Drain.
func (m *MockIPC) Submit(sid streamid.StreamID, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submit++
	if m.closed {
		return fmt.Errorf("mockipc: closed")
	}
	m.queue = append(m.queue, channel.DataEntry{StreamID: sid, Data: buf})
	return nil
}

// Drain implements channel.IPC, returning up to max queued entries
// without blocking.
func (m *MockIPC) Drain(ctx context.Context, max int) ([]channel.DataEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drain++
	if m.closed {
		return nil, fmt.Errorf("mockipc: closed")
	}
	if len(m.queue) == 0 {
		return nil, nil
	}
	n := max
	if n > len(m.queue) {
		n = len(m.queue)
	}
	out := m.queue[:n]
	m.queue = m.queue[n:]
	for _, e := range out {
		m.shares[bufKey(e.Data)] = 1
	}
	return out, nil
}

// Retain implements channel.IPC, adding one share to buf.
func (m *MockIPC) Retain(buf []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retain++
	m.shares[bufKey(buf)]++
}

// Release implements channel.IPC, dropping one share of buf. Once the
// share count reaches zero the buffer is recorded as freed and its
// bookkeeping entry is dropped.
func (m *MockIPC) Release(buf []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.release++
	key := bufKey(buf)
	n, ok := m.shares[key]
	if !ok {
		return
	}
	n--
	if n <= 0 {
		delete(m.shares, key)
		m.freed[key] = true
		return
	}
	m.shares[key] = n
}

// Freed reports whether buf's share count has dropped to zero, for tests
// asserting on the full retain/release lifecycle of a dispatched buffer.
func (m *MockIPC) Freed(buf []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freed[bufKey(buf)]
}

// ShareCount reports buf's current outstanding share count.
func (m *MockIPC) ShareCount(buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shares[bufKey(buf)]
}

// Inject pushes an entry directly onto the drain queue, bypassing
// Submit, for tests that want to simulate an inbound agent message
// without going through an Output.
func (m *MockIPC) Inject(e channel.DataEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, e)
}

// Close marks the transport closed; subsequent calls return errors.
func (m *MockIPC) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// CallCounts reports how many times each method has been invoked, for
// assertions that care about traffic shape rather than exact payloads.
func (m *MockIPC) CallCounts() map[string]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]int{
		"reserve": m.reserve,
		"submit":  m.submit,
		"drain":   m.drain,
		"retain":  m.retain,
		"release": m.release,
	}
}

// Pending returns the number of entries still queued for Drain.
func (m *MockIPC) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

var _ channel.IPC = (*MockIPC)(nil)
