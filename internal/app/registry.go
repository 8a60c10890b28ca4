// Package app implements the bounded application registry: slot
// reservation, plugin materialization, worker spawn, and the
// Reserved -> Running -> Draining -> Released lifecycle: one worker
// goroutine per logical application, a context/cancel pair standing in
// for a C-style atomic exit flag, CPU affinity carried through as a
// config knob. Slot reservation is a linear scan of a fixed-size table
// from a rolling cursor.
package app

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/lrtsys/streamrouter/app/api"
	"github.com/lrtsys/streamrouter/internal/channel"
	"github.com/lrtsys/streamrouter/internal/constants"
	"github.com/lrtsys/streamrouter/internal/logging"
	"github.com/lrtsys/streamrouter/internal/pluginloader"
	"github.com/lrtsys/streamrouter/internal/reqtable"
	"github.com/lrtsys/streamrouter/internal/routererr"
	"github.com/lrtsys/streamrouter/internal/sched"
)

// Registry is the bounded, fixed-capacity table of loaded applications.
type Registry struct {
	mu      sync.Mutex
	slots   []*Slot // nil entry means the slot index is free
	cursor  int
	maxApps int

	reqs      *reqtable.Table
	loader    pluginloader.Loader
	scheduler sched.Scheduler
	ipc       channel.IPC
	affinity  []int
}

// NewRegistry returns an empty Registry with room for maxApps concurrent
// applications.
func NewRegistry(maxApps int, reqs *reqtable.Table, loader pluginloader.Loader, ipc channel.IPC, affinity []int) *Registry {
	return &Registry{
		slots:     make([]*Slot, maxApps),
		maxApps:   maxApps,
		reqs:      reqs,
		loader:    loader,
		ipc:       ipc,
		affinity:  affinity,
	}
}

// Slot returns the slot registered under id, or nil if none is loaded
// there.
func (r *Registry) Slot(id int) *Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id < 0 || id >= len(r.slots) {
		return nil
	}
	return r.slots[id]
}

// reserve finds a free slot index starting from the rolling cursor and
// installs a freshly constructed Slot there.
func (r *Registry) reserve(queueSize int) (*Slot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := 0; i < r.maxApps; i++ {
		idx := (r.cursor + i) % r.maxApps
		if r.slots[idx] == nil {
			slot := newSlot(idx, queueSize)
			r.slots[idx] = slot
			r.cursor = (idx + 1) % r.maxApps
			return slot, nil
		}
	}
	return nil, routererr.New(routererr.Capacity, "Registry.Load", fmt.Errorf("no free application slot (max %d)", r.maxApps))
}

func (r *Registry) release(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id >= 0 && id < len(r.slots) {
		r.slots[id] = nil
	}
}

// Load materializes img as a plugin, spawns its dedicated worker
// goroutine, and registers it under a freshly reserved slot id: reserve
// slot, materialize plugin, allocate ring/pool, spawn worker (with the
// Deadline/Fifo/Normal three-way scheduling branch), register.
func (r *Registry) Load(ctx context.Context, img []byte, cfg Config) (int, error) {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = constants.DefaultQueueSize
	}

	slot, err := r.reserve(queueSize)
	if err != nil {
		return -1, err
	}
	slot.Name = cfg.Name

	handle, err := r.loader.Load(img)
	if err != nil {
		r.release(slot.ID)
		return -1, err
	}

	plug, err := r.loader.Resolve(handle)
	if err != nil {
		_ = r.loader.Close(handle)
		r.release(slot.ID)
		return -1, err
	}
	slot.Handle = handle

	slot.Sched = policyFor(cfg)

	workerCtx, cancel := context.WithCancel(ctx)
	slot.cancel = cancel

	ready := make(chan struct{})
	go r.runWorker(workerCtx, slot, plug, ready)

	select {
	case <-ready:
	case <-time.After(constants.WorkerReadyTimeout):
		logging.Default().Named("app").Warn("worker did not report ready in time", "app_id", slot.ID, "timeout", constants.WorkerReadyTimeout)
	}

	slot.setState(Running)
	return slot.ID, nil
}

// policyFor implements the three-way scheduling branch: a positive
// deadline wins over a configured priority, which wins over the default
// time-sharing class.
func policyFor(cfg Config) sched.Policy {
	switch {
	case cfg.DeadlineUS > 0:
		return sched.Deadline{RuntimeUS: cfg.RuntimeUS, PeriodUS: cfg.PeriodUS, DeadlineUS: cfg.DeadlineUS}
	case cfg.SchedPriority > 0:
		return sched.Fifo{Priority: cfg.SchedPriority}
	default:
		return sched.Normal{}
	}
}

func (r *Registry) runWorker(ctx context.Context, slot *Slot, plug api.Plugin, ready chan<- struct{}) {
	defer close(slot.done)
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := r.scheduler.Apply(slot.Sched, r.affinity); err != nil {
		logging.Default().Named("app").Warn("scheduling policy not applied", "app_id", slot.ID, "error", err)
	}
	close(ready)

	appCtx := &appContext{slot: slot, reqs: r.reqs, ipc: r.ipc, ctx: ctx}
	if err := plug.Start(appCtx); err != nil {
		logging.Default().Named("app").Error("plugin returned error", "app_id", slot.ID, "name", slot.Name, "error", err)
	}

	<-ctx.Done()
}

// Unload cancels the application's worker, waits (bounded by ctx) for it
// to exit, closes its plugin handle, tears down its channels, and frees
// its slot. A worker that fails to exit in time is Fatal: the process
// must be considered corrupted rather than leaking a slot the router
// still believes is live.
func (r *Registry) Unload(ctx context.Context, id int) error {
	slot := r.Slot(id)
	if slot == nil {
		return routererr.New(routererr.NotFound, "Registry.Unload", fmt.Errorf("no application loaded at id %d", id))
	}

	slot.setState(Draining)
	if slot.cancel != nil {
		slot.cancel()
	}

	deadline := constants.DefaultUnloadTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < deadline {
			deadline = remaining
		}
	}

	select {
	case <-slot.done:
	case <-time.After(deadline):
		return routererr.New(routererr.Fatal, "Registry.Unload", fmt.Errorf("app %d: worker did not join within %s", id, deadline))
	}

	if err := r.loader.Close(slot.Handle); err != nil {
		return err
	}

	r.reqs.UnsubscribeAll(id)
	slot.clearChannels()
	slot.setState(Released)
	r.release(id)
	return nil
}

// UnloadAll unloads every currently live slot, best-effort, collecting
// and returning the first error encountered. Used by the top-level stop
// sequence.
func (r *Registry) UnloadAll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]int, 0, r.maxApps)
	for i, s := range r.slots {
		if s != nil {
			ids = append(ids, i)
		}
	}
	r.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := r.Unload(ctx, id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
