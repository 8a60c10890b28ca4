// Package channel wraps the externally supplied shared-memory IPC fabric
// in the one narrow shape an application actually publishes through: an
// Output it reserves-fills-submits into. It never interprets message
// bytes; that is the Codec's job, and a nil Codec is valid.
//
// Grounded on internal/interfaces.Backend: a small, black-boxed
// collaborator interface with no implementation living in this module.
// IPC plays that role here.
package channel

import (
	"context"
	"fmt"

	"github.com/lrtsys/streamrouter/internal/routererr"
	"github.com/lrtsys/streamrouter/internal/streamid"
)

// DataEntry is a single routed message: a stream id and a view into the
// IPC layer's buffer. Data aliases shared memory; nothing in this module
// copies it.
type DataEntry struct {
	StreamID streamid.StreamID
	Data     []byte
}

// IPC is the black-box shared-memory transport. A concrete implementation
// lives outside this module; streamrouter only ever calls through this
// interface.
//
// Buf returned by Drain starts with a single implicit share, held by the
// router. Retain/Release model the transport's own reference count on
// that shared buffer, not a copy: the router calls Retain once per
// matching application before handing that application's DataEntry off,
// then Release once itself to drop the share it picked up from Drain;
// each application calls Release exactly once, through its own
// api.Context, when it is done reading the buffer it was handed.
type IPC interface {
	// Reserve returns a writable buffer of at least n bytes for sid.
	Reserve(sid streamid.StreamID, n int) ([]byte, error)
	// Submit hands a previously reserved buffer to the transport for
	// delivery; after Submit the caller must not touch buf again.
	Submit(sid streamid.StreamID, buf []byte) error
	// Drain returns the next batch of inbound entries addressed to the
	// router, up to max entries, without blocking past ctx. Each
	// returned DataEntry's Data carries one implicit share.
	Drain(ctx context.Context, max int) ([]DataEntry, error)
	// Retain adds one share to buf, for each additional application the
	// router is about to fan buf out to.
	Retain(buf []byte)
	// Release drops one share of buf. The underlying buffer returns to
	// the transport once its share count reaches zero.
	Release(buf []byte)
}

// Codec optionally serializes/deserializes payloads for network egress.
// The channel never inspects payload bytes itself;
// a nil Codec means the payload is passed through unmodified.
type Codec interface {
	Encode(payload []byte) ([]byte, error)
	Decode(wire []byte) (streamid.StreamID, []byte, error)
}

// Output lets an application publish under one stream id.
type Output struct {
	sid   streamid.StreamID
	ipc   IPC
	codec Codec
}

// NewOutput constructs an Output bound to sid over ipc. codec may be nil.
func NewOutput(sid streamid.StreamID, ipc IPC, codec Codec) *Output {
	return &Output{sid: sid, ipc: ipc, codec: codec}
}

// Reserve obtains a writable buffer of at least n bytes.
func (o *Output) Reserve(n int) ([]byte, error) {
	buf, err := o.ipc.Reserve(o.sid, n)
	if err != nil {
		return nil, routererr.New(routererr.IpcUnavailable, "Output.Reserve", err)
	}
	return buf, nil
}

// Submit hands buf to the transport, optionally passing it through the
// output's codec first.
func (o *Output) Submit(buf []byte) error {
	if o.codec != nil {
		encoded, err := o.codec.Encode(buf)
		if err != nil {
			return routererr.New(routererr.InvalidArgument, "Output.Submit", fmt.Errorf("encode: %w", err))
		}
		buf = encoded
	}
	if err := o.ipc.Submit(o.sid, buf); err != nil {
		return routererr.New(routererr.IpcUnavailable, "Output.Submit", err)
	}
	return nil
}

