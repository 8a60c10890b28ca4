// Package codec provides a concrete channel.Codec: a msgpack framing of
// {StreamID, payload} pairs suitable for the network-egress leg of an
// Output channel. Nothing in this module requires it — channel.IPC and
// channel.Codec stay generic — but a router that actually egresses bytes
// over the wire needs one concrete implementation, and this is it.
package codec

import (
	"bytes"
	"fmt"

	"github.com/tinylib/msgp/msgp"

	"github.com/lrtsys/streamrouter/internal/streamid"
)

// LengthDelimited frames a stream id and payload as a two-element
// msgpack array: [streamIDBytes, payloadBytes]. It uses msgp's raw
// Writer/Reader primitives rather than generated Encode/DecodeMsg
// methods, since StreamID and the payload are both plain byte slices
// with no structure msgp's codegen would add value to.
type LengthDelimited struct{}

// Encode satisfies channel.Codec, whose Encode hook only ever sees a
// payload (the stream id is implicit in the Output it was called
// through). It frames payload alone as a one-element array; callers that
// want the stream id to round-trip through Decode should call
// EncodeEntry directly instead of going through the Codec interface.
func (LengthDelimited) Encode(payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteArrayHeader(1); err != nil {
		return nil, fmt.Errorf("codec: write array header: %w", err)
	}
	if err := w.WriteBytes(payload); err != nil {
		return nil, fmt.Errorf("codec: write payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("codec: flush: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reads back a frame produced by Encode or EncodeEntry. If the
// frame was written by EncodeEntry, the returned stream id is populated;
// otherwise it is the zero value.
func (LengthDelimited) Decode(wire []byte) (streamid.StreamID, []byte, error) {
	r := msgp.NewReader(bytes.NewReader(wire))
	n, err := r.ReadArrayHeader()
	if err != nil {
		return streamid.StreamID{}, nil, fmt.Errorf("codec: read array header: %w", err)
	}

	var sid streamid.StreamID
	if n == 2 {
		sidBytes, err := r.ReadBytes(nil)
		if err != nil {
			return streamid.StreamID{}, nil, fmt.Errorf("codec: read stream id: %w", err)
		}
		if len(sidBytes) != len(sid) {
			return streamid.StreamID{}, nil, fmt.Errorf("codec: stream id frame is %d bytes, want %d", len(sidBytes), len(sid))
		}
		copy(sid[:], sidBytes)
	} else if n != 1 {
		return streamid.StreamID{}, nil, fmt.Errorf("codec: frame has %d elements, want 1 or 2", n)
	}

	payload, err := r.ReadBytes(nil)
	if err != nil {
		return streamid.StreamID{}, nil, fmt.Errorf("codec: read payload: %w", err)
	}
	return sid, payload, nil
}

// EncodeEntry frames sid and payload together, for callers that want the
// stream id to survive the round trip through Decode.
func (LengthDelimited) EncodeEntry(sid streamid.StreamID, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := msgp.NewWriter(&buf)
	if err := w.WriteArrayHeader(2); err != nil {
		return nil, fmt.Errorf("codec: write array header: %w", err)
	}
	if err := w.WriteBytes(sid[:]); err != nil {
		return nil, fmt.Errorf("codec: write stream id: %w", err)
	}
	if err := w.WriteBytes(payload); err != nil {
		return nil, fmt.Errorf("codec: write payload: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("codec: flush: %w", err)
	}
	return buf.Bytes(), nil
}
