package app

import (
	"context"
	"time"

	"github.com/lrtsys/streamrouter/internal/channel"
	"github.com/lrtsys/streamrouter/internal/constants"
	"github.com/lrtsys/streamrouter/internal/reqtable"
	"github.com/lrtsys/streamrouter/internal/routererr"
	"github.com/lrtsys/streamrouter/internal/streamid"
)

// appContext implements app/api.Context for one running slot, bound to
// the registry's shared RequestTable and IPC transport.
type appContext struct {
	slot *Slot
	reqs *reqtable.Table
	ipc  channel.IPC
	ctx  context.Context
}

func (c *appContext) Subscribe(pattern streamid.StreamID) error {
	return c.reqs.Subscribe(c.slot.ID, pattern)
}

func (c *appContext) Unsubscribe(pattern streamid.StreamID) error {
	return c.reqs.Unsubscribe(c.slot.ID, pattern)
}

// Receive pops up to batch entries that the router has already delivered
// into this slot's inbox ring, polling briefly when the ring is empty
// rather than blocking indefinitely — the same bounded-suspension rule
// the router's own dispatch loop follows. Each popped entry is copied out
// and its pool token returned immediately, so the router never waits on
// an application to finish reading before reusing that token.
func (c *appContext) Receive(ctx context.Context, batch int) ([]channel.DataEntry, error) {
	out := make([]channel.DataEntry, 0, batch)
	for len(out) < batch {
		e, ok := c.slot.Ring.Pop()
		if ok {
			out = append(out, *e)
			c.slot.Pool.Put(e)
			continue
		}
		if len(out) > 0 {
			return out, nil
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(constants.RouterIdleYield):
		}
	}
	return out, nil
}

// Done reports the worker's cancellation signal, the Go analogue of the
// sample apps' atomic app_exit flag.
func (c *appContext) Done() <-chan struct{} {
	return c.ctx.Done()
}

func (c *appContext) Output(sid streamid.StreamID) (*channel.Output, error) {
	if out := c.slot.output(sid); out != nil {
		return out, nil
	}
	if c.ipc == nil {
		return nil, routererr.New(routererr.IpcUnavailable, "appContext.Output", nil)
	}
	out := channel.NewOutput(sid, c.ipc, nil)
	c.slot.setOutput(sid, out)
	return out, nil
}

// ReleaseBuf drops this application's share of e.Data. The router took
// one share per matching application when it fanned e out; Receive
// hands the entry to the plugin still holding that share, and the
// plugin releases it exactly once, whenever it is finished reading the
// bytes, via this method.
func (c *appContext) ReleaseBuf(e channel.DataEntry) error {
	if c.ipc == nil {
		return routererr.New(routererr.IpcUnavailable, "appContext.ReleaseBuf", nil)
	}
	c.ipc.Release(e.Data)
	return nil
}
