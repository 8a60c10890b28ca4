// Package api is the surface an application plugin is compiled against.
// A loaded image resolves one entry symbol and receives an opaque
// per-app context to call back into the router for subscribe, send, and
// receive; Context and Plugin formalize that as Go interfaces.
package api

import (
	"context"

	"github.com/lrtsys/streamrouter/internal/channel"
	"github.com/lrtsys/streamrouter/internal/streamid"
)

// Context is the callback surface a loaded Plugin uses to talk to the
// router: subscribe to patterns, receive matched messages, publish under
// a stream id, and observe shutdown. Done is the Go idiom for the C
// sample apps' "while (!atomic_load(&env_ctx->app_exit))" loop guard: a
// well-behaved Plugin.Start selects on it every iteration instead of
// polling a flag.
type Context interface {
	Subscribe(pattern streamid.StreamID) error
	Unsubscribe(pattern streamid.StreamID) error
	Receive(ctx context.Context, batch int) ([]channel.DataEntry, error)
	Output(sid streamid.StreamID) (*channel.Output, error)
	// ReleaseBuf drops this application's share of a DataEntry.Data
	// handed back by Receive. The router holds one share per matching
	// application from the moment it fans a message out; a well-behaved
	// Plugin calls this once per received entry when it is done reading
	// it, so the underlying shared buffer can be reclaimed.
	ReleaseBuf(e channel.DataEntry) error
	Done() <-chan struct{}
}

// Plugin is the single symbol a loaded application image must export,
// named "Start" — the Go analogue of a dlsym lookup against a fixed
// entry-point name.
type Plugin interface {
	Start(ctx Context) error
}
