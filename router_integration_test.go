package streamrouter

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lrtsys/streamrouter/app/api"
	"github.com/lrtsys/streamrouter/examples/echoapp"
	"github.com/lrtsys/streamrouter/internal/app"
	"github.com/lrtsys/streamrouter/internal/channel"
	"github.com/lrtsys/streamrouter/internal/metrics"
	"github.com/lrtsys/streamrouter/internal/pluginloader"
	"github.com/lrtsys/streamrouter/internal/reqtable"
	"github.com/lrtsys/streamrouter/internal/sched"
	"github.com/lrtsys/streamrouter/internal/streamid"
)

// stubLoader resolves straight to a queue of pre-built api.Plugin
// instances, one per LoadApp call, instead of materializing a real
// memfd-backed image — the same substitution internal/app/registry_test.go
// makes for unit tests. An integration test can't link a real
// plugin.Open target without the Go toolchain.
type stubLoader struct {
	mu      sync.Mutex
	plugins []api.Plugin
	next    int
}

func (s *stubLoader) Load(image []byte) (pluginloader.Handle, error) {
	return pluginloader.Handle{}, nil
}

func (s *stubLoader) Resolve(h pluginloader.Handle) (api.Plugin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next >= len(s.plugins) {
		return nil, fmt.Errorf("stubLoader: no plugin queued for load %d", s.next)
	}
	p := s.plugins[s.next]
	s.next++
	return p, nil
}

func (s *stubLoader) Close(h pluginloader.Handle) error { return nil }

// newTestRouter wires a Router against a MockIPC and a stub loader that
// resolves each successive LoadApp call to the next plugin in plugs, in
// order, bypassing NewRouter's hardcoded pluginloader.Memfd so example and
// test plugins can run against the mock transport end to end.
func newTestRouter(t *testing.T, ipc *MockIPC, plugs ...api.Plugin) *Router {
	t.Helper()
	return newTestRouterObs(t, ipc, NoOpObserver{}, plugs...)
}

// newTestRouterObs is newTestRouter with an explicit Observer, for tests
// that need to assert on drop counts rather than just traffic shape.
func newTestRouterObs(t *testing.T, ipc *MockIPC, obs Observer, plugs ...api.Plugin) *Router {
	t.Helper()
	reqs := reqtable.New(64)
	apps := app.NewRegistry(64, reqs, &stubLoader{plugins: plugs}, ipc, nil)

	return &Router{
		reqs:      reqs,
		apps:      apps,
		ipc:       ipc,
		obs:       obs,
		scheduler: sched.Scheduler{},
		policy:    sched.Normal{},
		batchSize: 32,
	}
}

// countingObserver is an Observer double that tallies drops by reason,
// for tests asserting on the router's pool/ring exhaustion behavior
// without a Prometheus registry.
type countingObserver struct {
	mu      sync.Mutex
	drops   map[string]int
	dFanOut []int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{drops: make(map[string]int)}
}

func (c *countingObserver) ObserveDispatch(latency time.Duration, fanOut int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dFanOut = append(c.dFanOut, fanOut)
}

func (c *countingObserver) ObserveDrop(appID int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.drops[reason]++
}

func (c *countingObserver) ObserveSubscriptionCount(n int) {}

func (c *countingObserver) dropCount(reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.drops[reason]
}

var _ Observer = (*countingObserver)(nil)

// doneCtx adapts api.Context's Done channel into a context.Context, the
// same pattern examples/echoapp uses internally, so test plugins in this
// package can pass a cancellation-aware context to Receive.
type doneCtx struct {
	done <-chan struct{}
}

func (d doneCtx) Deadline() (time.Time, bool) { return time.Time{}, false }
func (d doneCtx) Done() <-chan struct{}       { return d.done }
func (d doneCtx) Err() error {
	select {
	case <-d.done:
		return context.Canceled
	default:
		return nil
	}
}
func (d doneCtx) Value(any) any { return nil }

// capturedEntries is a concurrency-safe log of received DataEntry values,
// shared between a test and the capturePlugin(s) it drives.
type capturedEntries struct {
	mu      sync.Mutex
	entries []channel.DataEntry
}

func (c *capturedEntries) add(e channel.DataEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, e)
}

func (c *capturedEntries) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *capturedEntries) snapshot() []channel.DataEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]channel.DataEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// capturePlugin subscribes to one or more patterns and appends every
// entry it receives, in delivery order, to a shared capturedEntries log,
// releasing each buffer's share once it has read it.
type capturePlugin struct {
	patterns []streamid.StreamID
	received *capturedEntries
}

func (p capturePlugin) Start(ctx api.Context) error {
	for _, pat := range p.patterns {
		if err := ctx.Subscribe(pat); err != nil {
			return err
		}
	}
	recvCtx := doneCtx{done: ctx.Done()}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		entries, err := ctx.Receive(recvCtx, 32)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			p.received.add(e)
			_ = ctx.ReleaseBuf(e)
		}
	}
}

var _ api.Plugin = capturePlugin{}

// unsubscribeAfterOnePlugin receives until it has seen exactly one entry
// matching pattern, unsubscribes from it, then keeps receiving (and
// logging whatever still arrives) until cancelled — used to prove that
// no further delivery happens once an application unsubscribes.
type unsubscribeAfterOnePlugin struct {
	pattern  streamid.StreamID
	received *capturedEntries
}

func (p unsubscribeAfterOnePlugin) Start(ctx api.Context) error {
	if err := ctx.Subscribe(p.pattern); err != nil {
		return err
	}
	recvCtx := doneCtx{done: ctx.Done()}
	unsubscribed := false
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		entries, err := ctx.Receive(recvCtx, 32)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			p.received.add(e)
			_ = ctx.ReleaseBuf(e)
		}
		if !unsubscribed && p.received.count() >= 1 {
			if err := ctx.Unsubscribe(p.pattern); err != nil {
				return err
			}
			unsubscribed = true
		}
	}
}

var _ api.Plugin = unsubscribeAfterOnePlugin{}

func genStreamID(t *testing.T, name string) streamid.StreamID {
	t.Helper()
	sid, err := streamid.Generate(0, 0, nil, &name)
	require.NoError(t, err)
	return sid
}

// TestRouterEndToEndEchoApp loads examples/echoapp against a mock
// transport, injects five matching messages, and asserts the app
// publishes one aggregate back out, driven entirely through the public
// Router API.
func TestRouterEndToEndEchoApp(t *testing.T) {
	ipc := NewMockIPC()
	in := genStreamID(t, "echo-in")
	out := genStreamID(t, "echo-out")

	r := newTestRouter(t, ipc, echoapp.App{In: in, Out: out, EveryN: 5})

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(context.Background()) }()

	appID, err := r.LoadApp(ctx, LoadAppRequest{Name: "echo", QueueSize: 16})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, appID, 0)

	submittedBefore := ipc.CallCounts()["submit"]

	for i := 0; i < 5; i++ {
		ipc.Inject(channel.DataEntry{StreamID: in, Data: []byte{byte(i)}})
	}

	deadline := time.Now().Add(2 * time.Second)
	for ipc.CallCounts()["submit"] == submittedBefore && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	assert.Greater(t, ipc.CallCounts()["submit"], submittedBefore,
		"echoapp should have published an aggregate back onto the mock transport")
}

// TestRouterLoadUnloadRoundTrip exercises LoadApp/UnloadApp without
// requiring the app to receive any traffic.
func TestRouterLoadUnloadRoundTrip(t *testing.T) {
	ipc := NewMockIPC()
	in := genStreamID(t, "unload-test")

	r := newTestRouter(t, ipc, echoapp.App{In: in, Out: in})

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(context.Background()) }()

	appID, err := r.LoadApp(ctx, LoadAppRequest{Name: "echo", QueueSize: 8})
	require.NoError(t, err)

	require.NoError(t, r.UnloadApp(ctx, appID))

	err = r.UnloadApp(ctx, appID)
	assert.True(t, IsKind(err, NotFound), "unloading an already-unloaded app should report NotFound, got %v", err)
}

// waitUntil polls cond every millisecond until it returns true or the
// deadline elapses, returning whether cond was ever observed true.
func waitUntil(deadline time.Time, cond func() bool) bool {
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}

// TestRouterSelectiveDeliveryTwoApps loads two real applications
// subscribed to disjoint patterns and asserts each receives only the
// traffic addressed to it, never the other's.
func TestRouterSelectiveDeliveryTwoApps(t *testing.T) {
	ipc := NewMockIPC()
	sidA := genStreamID(t, "selective-a")
	sidB := genStreamID(t, "selective-b")

	recvA := &capturedEntries{}
	recvB := &capturedEntries{}

	r := newTestRouter(t, ipc,
		capturePlugin{patterns: []streamid.StreamID{sidA}, received: recvA},
		capturePlugin{patterns: []streamid.StreamID{sidB}, received: recvB},
	)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(context.Background()) }()

	_, err := r.LoadApp(ctx, LoadAppRequest{Name: "a", QueueSize: 16})
	require.NoError(t, err)
	_, err = r.LoadApp(ctx, LoadAppRequest{Name: "b", QueueSize: 16})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		ipc.Inject(channel.DataEntry{StreamID: sidA, Data: []byte{byte(i)}})
	}
	for i := 0; i < 2; i++ {
		ipc.Inject(channel.DataEntry{StreamID: sidB, Data: []byte{byte(i)}})
	}

	deadline := time.Now().Add(2 * time.Second)
	require.True(t, waitUntil(deadline, func() bool { return recvA.count() >= 3 && recvB.count() >= 2 }))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 3, recvA.count(), "app A should only see the 3 messages addressed to its pattern")
	assert.Equal(t, 2, recvB.count(), "app B should only see the 2 messages addressed to its pattern")
	for _, e := range recvA.snapshot() {
		assert.Equal(t, sidA, e.StreamID)
	}
	for _, e := range recvB.snapshot() {
		assert.Equal(t, sidB, e.StreamID)
	}
}

// TestRouterUnsubscribeStopsDelivery loads one application that
// unsubscribes after its first received message, then keeps injecting
// matching traffic and asserts no further message ever reaches it.
func TestRouterUnsubscribeStopsDelivery(t *testing.T) {
	ipc := NewMockIPC()
	sid := genStreamID(t, "unsub-test")
	recv := &capturedEntries{}

	r := newTestRouter(t, ipc, unsubscribeAfterOnePlugin{pattern: sid, received: recv})

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(context.Background()) }()

	appID, err := r.LoadApp(ctx, LoadAppRequest{Name: "unsub", QueueSize: 16})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, appID, 0)

	ipc.Inject(channel.DataEntry{StreamID: sid, Data: []byte{0x01}})

	deadline := time.Now().Add(2 * time.Second)
	require.True(t, waitUntil(deadline, func() bool { return recv.count() >= 1 }))

	// Give the plugin time to act on its own unsubscribe before more
	// traffic arrives.
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 5; i++ {
		ipc.Inject(channel.DataEntry{StreamID: sid, Data: []byte{byte(0x10 + i)}})
	}
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 1, recv.count(), "no message should be delivered after the application unsubscribed")
}

// TestRouterFourAppAscendingFanOut loads four applications all
// subscribed to the same pattern and asserts a single inbound message
// fans out to all four, recorded in ascending application-index order.
func TestRouterFourAppAscendingFanOut(t *testing.T) {
	ipc := NewMockIPC()
	sid := genStreamID(t, "fanout-test")

	var order []int
	var mu sync.Mutex
	recvs := make([]*capturedEntries, 4)
	plugins := make([]api.Plugin, 4)
	for i := range recvs {
		recvs[i] = &capturedEntries{}
		idx := i
		plugins[i] = recordingOrderPlugin{
			pattern: sid,
			index:   idx,
			recv:    recvs[i],
			order:   &order,
			mu:      &mu,
		}
	}

	r := newTestRouter(t, ipc, plugins...)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(context.Background()) }()

	ids := make([]int, 4)
	for i := range ids {
		id, err := r.LoadApp(ctx, LoadAppRequest{Name: fmt.Sprintf("fanout-%d", i), QueueSize: 16})
		require.NoError(t, err)
		ids[i] = id
	}

	ipc.Inject(channel.DataEntry{StreamID: sid, Data: []byte{0x42}})

	deadline := time.Now().Add(2 * time.Second)
	require.True(t, waitUntil(deadline, func() bool {
		for _, rv := range recvs {
			if rv.count() < 1 {
				return false
			}
		}
		return true
	}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 4, "the message should fan out to all four applications exactly once each")
	assert.Equal(t, ids, order, "fan-out must visit applications in ascending application-index order")
}

// recordingOrderPlugin receives exactly one matching entry, appends its
// own index to the shared order slice under mu (capturing delivery
// order across applications), and then idles until cancelled.
type recordingOrderPlugin struct {
	pattern streamid.StreamID
	index   int
	recv    *capturedEntries
	order   *[]int
	mu      *sync.Mutex
}

func (p recordingOrderPlugin) Start(ctx api.Context) error {
	if err := ctx.Subscribe(p.pattern); err != nil {
		return err
	}
	recvCtx := doneCtx{done: ctx.Done()}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		entries, err := ctx.Receive(recvCtx, 32)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			p.recv.add(e)
			p.mu.Lock()
			*p.order = append(*p.order, p.index)
			p.mu.Unlock()
			_ = ctx.ReleaseBuf(e)
		}
	}
}

var _ api.Plugin = recordingOrderPlugin{}

// blockingPlugin subscribes to its pattern and then idles without ever
// calling Receive, so its slot's ring and pool never drain — used to
// force deterministic pool exhaustion in TestRouterRingOverflowBounded.
type blockingPlugin struct {
	pattern streamid.StreamID
}

func (p blockingPlugin) Start(ctx api.Context) error {
	if err := ctx.Subscribe(p.pattern); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

var _ api.Plugin = blockingPlugin{}

// TestRouterRingOverflowBounded loads one application with a
// QueueSize-4 ring/pool that never calls Receive, injects 20 matching
// messages, and asserts: at most 4 are ever delivered (the ring/pool
// capacity), the remaining at least 16 are dropped as pool-exhausted,
// and the producer itself (Submit/Inject through the transport) never
// fails because of the backpressure on that one application.
func TestRouterRingOverflowBounded(t *testing.T) {
	ipc := NewMockIPC()
	sid := genStreamID(t, "overflow-test")
	obs := newCountingObserver()

	r := newTestRouterObs(t, ipc, obs, blockingPlugin{pattern: sid})

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(context.Background()) }()

	appID, err := r.LoadApp(ctx, LoadAppRequest{Name: "overflow", QueueSize: 4})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, appID, 0)

	for i := 0; i < 20; i++ {
		ipc.Inject(channel.DataEntry{StreamID: sid, Data: []byte{byte(i)}})
	}

	deadline := time.Now().Add(2 * time.Second)
	require.True(t, waitUntil(deadline, func() bool { return ipc.Pending() == 0 }),
		"the router should drain all 20 injected messages even though one application can't keep up")

	dropped := obs.dropCount(metrics.ReasonPoolExhausted)
	assert.Equal(t, 16, dropped, "an application that never drains should drop every message past its 4-entry capacity")
}

// TestRouterUnloadWhileProducerKeepsFlowing loads one application,
// confirms it is receiving live traffic, unloads it while a producer is
// still injecting messages on its pattern, and asserts the router keeps
// draining the transport (no deadlock, no panic) and the application
// stops receiving once unloaded.
func TestRouterUnloadWhileProducerKeepsFlowing(t *testing.T) {
	ipc := NewMockIPC()
	sid := genStreamID(t, "unload-flowing")
	recv := &capturedEntries{}

	r := newTestRouter(t, ipc, capturePlugin{patterns: []streamid.StreamID{sid}, received: recv})

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer func() { _ = r.Stop(context.Background()) }()

	appID, err := r.LoadApp(ctx, LoadAppRequest{Name: "unload-flowing", QueueSize: 16})
	require.NoError(t, err)

	stopProducer := make(chan struct{})
	producerDone := make(chan struct{})
	go func() {
		defer close(producerDone)
		i := 0
		for {
			select {
			case <-stopProducer:
				return
			default:
			}
			ipc.Inject(channel.DataEntry{StreamID: sid, Data: []byte{byte(i)}})
			i++
			time.Sleep(time.Millisecond)
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	require.True(t, waitUntil(deadline, func() bool { return recv.count() >= 1 }),
		"application should receive live traffic before it is unloaded")

	require.NoError(t, r.UnloadApp(ctx, appID))

	countAtUnload := recv.count()
	time.Sleep(50 * time.Millisecond)

	close(stopProducer)
	<-producerDone

	assert.Equal(t, countAtUnload, recv.count(),
		"an unloaded application must not receive any message injected after it was unloaded")
}
