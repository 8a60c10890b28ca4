// Package streamrouter implements an in-process router that multiplexes
// typed data streams between external agent processes, reached through a
// black-box shared-memory IPC transport, and in-process application
// plugins subscribed via wildcard stream-id patterns.
package streamrouter

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/lrtsys/streamrouter/internal/app"
	"github.com/lrtsys/streamrouter/internal/channel"
	"github.com/lrtsys/streamrouter/internal/config"
	"github.com/lrtsys/streamrouter/internal/constants"
	"github.com/lrtsys/streamrouter/internal/logging"
	"github.com/lrtsys/streamrouter/internal/metrics"
	"github.com/lrtsys/streamrouter/internal/pluginloader"
	"github.com/lrtsys/streamrouter/internal/reqtable"
	"github.com/lrtsys/streamrouter/internal/sched"
	"github.com/lrtsys/streamrouter/internal/streamid"
)

// SchedConfig requests a scheduling class for one loaded application's
// worker: a positive DeadlineUS wins, otherwise a positive Priority
// requests SCHED_FIFO, otherwise the default time-sharing class applies.
type SchedConfig struct {
	Priority   int
	RuntimeUS  int64
	PeriodUS   int64
	DeadlineUS int64
}

// LoadAppRequest is the public control-plane request to load one
// application image.
type LoadAppRequest struct {
	Image     []byte
	Name      string
	QueueSize int
	Sched     SchedConfig
	Params    map[string]string
	Modules   []string
}

// Router ties the subscription table, the application registry, and the
// external IPC transport together and runs the single cooperative
// dispatch thread.
type Router struct {
	reqs *reqtable.Table
	apps *app.Registry
	ipc  channel.IPC
	obs  Observer

	scheduler sched.Scheduler
	policy    sched.Policy
	affinity  []int
	batchSize int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewRouter constructs a Router from configuration, a concrete IPC
// transport, and an optional metrics sink (nil means NoOpObserver).
func NewRouter(cfg *config.Config, ipc channel.IPC, obs Observer) *Router {
	if cfg == nil {
		cfg = config.Default()
	}
	if obs == nil {
		obs = metrics.NoOp{}
	}

	reqs := reqtable.New(constants.MaxApplications)
	loader := pluginloader.Memfd{}
	affinity := cfg.AffinityCPUs()
	apps := app.NewRegistry(constants.MaxApplications, reqs, loader, ipc, affinity)

	return &Router{
		reqs:      reqs,
		apps:      apps,
		ipc:       ipc,
		obs:       obs,
		affinity:  affinity,
		policy:    routerPolicyFrom(cfg.Router.Sched),
		batchSize: constants.DefaultBatchSize,
	}
}

func routerPolicyFrom(s config.SchedConfig) sched.Policy {
	switch s.Policy {
	case "fifo":
		return sched.Fifo{Priority: s.Priority}
	case "deadline":
		return sched.Deadline{RuntimeUS: s.RuntimeUS, PeriodUS: s.PeriodUS, DeadlineUS: s.DeadlineUS}
	default:
		return sched.Normal{}
	}
}

// LoadApp materializes req.Image as a plugin and spawns its worker,
// returning the application id it was assigned.
func (r *Router) LoadApp(ctx context.Context, req LoadAppRequest) (int, error) {
	cfg := app.Config{
		Name:          req.Name,
		QueueSize:     req.QueueSize,
		SchedPriority: req.Sched.Priority,
		DeadlineUS:    req.Sched.DeadlineUS,
		RuntimeUS:     req.Sched.RuntimeUS,
		PeriodUS:      req.Sched.PeriodUS,
		Params:        req.Params,
	}
	id, err := r.apps.Load(ctx, req.Image, cfg)
	if err != nil {
		return -1, wrapInternal(err, -1, "")
	}
	return id, nil
}

// UnloadApp cancels and tears down the application running under appID.
func (r *Router) UnloadApp(ctx context.Context, appID int) error {
	if err := r.apps.Unload(ctx, appID); err != nil {
		return wrapInternal(err, appID, "")
	}
	return nil
}

// Subscribe registers appID's interest in pattern directly against the
// router's subscription table — the path a loaded application's
// app/api.Context.Subscribe takes internally, exposed here for control
// planes that manage subscriptions out of band from the plugin itself.
func (r *Router) Subscribe(appID int, pattern streamid.StreamID) error {
	if err := r.reqs.Subscribe(appID, pattern); err != nil {
		return wrapInternal(err, appID, pattern.String())
	}
	return nil
}

// Unsubscribe withdraws appID's interest in pattern directly against the
// router's subscription table, mirroring Subscribe for control planes
// that manage subscriptions out of band from the plugin itself.
func (r *Router) Unsubscribe(appID int, pattern streamid.StreamID) error {
	if err := r.reqs.Unsubscribe(appID, pattern); err != nil {
		return wrapInternal(err, appID, pattern.String())
	}
	return nil
}

// Start launches the dispatch goroutine. The goroutine runs until ctx is
// cancelled or Stop is called.
func (r *Router) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(runCtx)
	return nil
}

// run is the single cooperative dispatch thread: drain the IPC inbound
// queue, perform the masked lookup, fan out, yield. runtime.LockOSThread
// pins it to one OS thread for the duration so the scheduling/affinity
// syscalls below apply to the thread that actually runs this loop,
// matching internal/queue/runner.go's single-goroutine-per-queue
// discipline.
func (r *Router) run(ctx context.Context) {
	defer close(r.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := r.scheduler.Apply(r.policy, r.affinity); err != nil {
		logging.Default().Named("router").Warn("scheduling policy not applied", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entries, err := r.ipc.Drain(ctx, r.batchSize)
		if err != nil {
			logging.Default().Named("router").Error("drain failed", "error", err)
			time.Sleep(constants.RouterIdleYield)
			continue
		}
		if len(entries) == 0 {
			time.Sleep(constants.RouterIdleYield)
			continue
		}
		for _, e := range entries {
			r.dispatchOne(e)
		}
	}
}

// dispatchOne performs the 16-mask lookup for one inbound entry and fans
// it out to every matching application's ring, in ascending app-index
// order (the order bitset.Set.Iterate guarantees). A full ring or
// exhausted pool drops the message for that one application only; it
// never blocks or retries.
//
// e.Data aliases a shared IPC buffer rather than being copied: Drain
// hands the router one implicit share, dispatchOne takes one additional
// share per matching application via Retain before handing that
// application its own DataEntry, and drops the router's own share with a
// single Release once fan-out is done — matching exactly once, zero
// matches included. Each application drops its own share later, through
// api.Context.ReleaseBuf.
func (r *Router) dispatchOne(e channel.DataEntry) {
	start := time.Now()
	union := r.reqs.LookupUnion(e.StreamID)

	fanOut := 0
	union.Iterate(func(appID int) {
		slot := r.apps.Slot(appID)
		if slot == nil {
			return
		}

		entry, ok := slot.Pool.Get()
		if !ok {
			r.obs.ObserveDrop(appID, metrics.ReasonPoolExhausted)
			return
		}

		entry.StreamID = e.StreamID
		entry.Data = e.Data
		r.ipc.Retain(e.Data)

		if !slot.Deliver(entry) {
			r.obs.ObserveDrop(appID, metrics.ReasonRingFull)
			r.ipc.Release(entry.Data)
			slot.Pool.Put(entry)
			return
		}
		fanOut++
	})

	r.ipc.Release(e.Data)
	r.obs.ObserveDispatch(time.Since(start), fanOut)
}

// Stop cancels the dispatch loop, waits (bounded by ctx) for it to exit,
// then unloads every running application.
func (r *Router) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}
	if r.done != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return wrapInternal(fmt.Errorf("router: dispatch loop did not stop before context deadline"), -1, "")
		}
	}
	return r.apps.UnloadAll(ctx)
}
