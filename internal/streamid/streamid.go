// Package streamid implements the 128-bit stream identifier: its
// bit-packed field layout, bloom-filter string hashing, and the masked
// wildcard-match predicate used by the subscription engine.
package streamid

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// StreamID is the 16-byte, big-endian-packed routing key.
type StreamID [16]byte

// Wildcard field values: all-ones of each field's width, matching any
// concrete value in that field.
const (
	FwdDstAny     uint8  = 0x7F
	DeviceIDAny   uint8  = 0x7F
	StreamPathAny uint64 = 0x3FFFFFFFFFFFFF
	StreamNameAny uint64 = 0x3FFFFFFFFFFFFF
)

// fwd_dst bitmask values.
const (
	FwdDstNone      uint8 = 0x01
	FwdDstUDP       uint8 = 0x02
	FwdDstReserved1 uint8 = 0x04
	FwdDstReserved2 uint8 = 0x08
	FwdDstReserved3 uint8 = 0x10
	FwdDstReserved4 uint8 = 0x20
)

var (
	// ErrFieldRange is returned when a field value does not fit its
	// declared bit width.
	ErrFieldRange = errors.New("streamid: field value out of range")

	// ErrReservedHash is returned when a bloom hash evaluates to zero,
	// which is reserved and never assigned to a real path/name component.
	ErrReservedHash = errors.New("streamid: hash evaluated to reserved value zero")
)

// Version returns the fixed version field (always 0 on the wire in v1).
func (s StreamID) Version() uint8 {
	return (s[0] >> 2) & 0x3F
}

// FwdDst returns the forwarding-destination bitmask field.
func (s StreamID) FwdDst() uint8 {
	return ((s[0] & 0x03) << 5) | ((s[1] >> 3) & 0x1F)
}

// DeviceID returns the originating-device field.
func (s StreamID) DeviceID() uint8 {
	return ((s[1] & 0x07) << 4) | ((s[2] >> 4) & 0x0F)
}

// StreamPath returns the 54-bit bloom hash of the logical path.
func (s StreamID) StreamPath() uint64 {
	return (uint64(s[2]&0x0F) << 50) |
		(uint64(s[3]) << 42) |
		(uint64(s[4]) << 34) |
		(uint64(s[5]) << 26) |
		(uint64(s[6]) << 18) |
		(uint64(s[7]) << 10) |
		(uint64(s[8]) << 2) |
		(uint64(s[9]&0xC0) >> 6)
}

// StreamName returns the 54-bit bloom hash of the logical name.
func (s StreamID) StreamName() uint64 {
	return (uint64(s[9]&0x3F) << 48) |
		(uint64(s[10]) << 40) |
		(uint64(s[11]) << 32) |
		(uint64(s[12]) << 24) |
		(uint64(s[13]) << 16) |
		(uint64(s[14]) << 8) |
		uint64(s[15])
}

// WithVersion returns a copy of s with the version field set.
func (s StreamID) WithVersion(ver uint8) StreamID {
	s[0] = (ver << 2) | (s[0] & 0x03)
	return s
}

// WithFwdDst returns a copy of s with the fwd_dst field set.
func (s StreamID) WithFwdDst(fwdDst uint8) StreamID {
	s[0] = (s[0] & 0xFC) | ((fwdDst & 0x7F) >> 5)
	s[1] = ((fwdDst & 0x1F) << 3) | (s[1] & 0x07)
	return s
}

// WithDeviceID returns a copy of s with the device_id field set.
func (s StreamID) WithDeviceID(deviceID uint8) StreamID {
	s[1] = (s[1] & 0xF8) | ((deviceID >> 4) & 0x07)
	s[2] = ((deviceID & 0x0F) << 4) | (s[2] & 0x0F)
	return s
}

// WithStreamPath returns a copy of s with the stream_path field set.
func (s StreamID) WithStreamPath(path uint64) StreamID {
	s[2] = (s[2] & 0xF0) | byte((path>>50)&0x0F)
	s[3] = byte((path >> 42) & 0xFF)
	s[4] = byte((path >> 34) & 0xFF)
	s[5] = byte((path >> 26) & 0xFF)
	s[6] = byte((path >> 18) & 0xFF)
	s[7] = byte((path >> 10) & 0xFF)
	s[8] = byte((path >> 2) & 0xFF)
	s[9] = byte((path&0x03)<<6) | (s[9] & 0x3F)
	return s
}

// WithStreamName returns a copy of s with the stream_name field set.
func (s StreamID) WithStreamName(name uint64) StreamID {
	s[9] = (s[9] & 0xC0) | byte((name>>48)&0x3F)
	s[10] = byte((name >> 40) & 0xFF)
	s[11] = byte((name >> 32) & 0xFF)
	s[12] = byte((name >> 24) & 0xFF)
	s[13] = byte((name >> 16) & 0xFF)
	s[14] = byte((name >> 8) & 0xFF)
	s[15] = byte(name & 0xFF)
	return s
}

// Generate builds a concrete (or partially wildcarded) stream id. A nil
// path or name yields the ANY mask for that field; otherwise the field is
// set to the bloom hash of the string.
func Generate(fwdDst, deviceID uint8, path, name *string) (StreamID, error) {
	if fwdDst > 0x7F {
		return StreamID{}, fmt.Errorf("streamid: fwd_dst %#x: %w", fwdDst, ErrFieldRange)
	}
	if deviceID > 0x7F {
		return StreamID{}, fmt.Errorf("streamid: device_id %#x: %w", deviceID, ErrFieldRange)
	}

	pathHash := StreamPathAny
	if path != nil {
		h, err := Hash(*path)
		if err != nil {
			return StreamID{}, fmt.Errorf("streamid: hashing stream_path %q: %w", *path, err)
		}
		pathHash = h
	}

	nameHash := StreamNameAny
	if name != nil {
		h, err := Hash(*name)
		if err != nil {
			return StreamID{}, fmt.Errorf("streamid: hashing stream_name %q: %w", *name, err)
		}
		nameHash = h
	}

	var sid StreamID
	sid = sid.WithVersion(0)
	sid = sid.WithFwdDst(fwdDst)
	sid = sid.WithDeviceID(deviceID)
	sid = sid.WithStreamPath(pathHash)
	sid = sid.WithStreamName(nameHash)
	return sid, nil
}

// Matches reports whether the concrete stream id sid satisfies the
// pattern req: for every 32-bit word, (sid[w] & req[w]) == sid[w]. Every
// wildcard (all-ones) field in req matches any concrete field in sid.
func Matches(sid, req StreamID) bool {
	for w := 0; w < 16; w += 4 {
		sidWord := binary.BigEndian.Uint32(sid[w : w+4])
		reqWord := binary.BigEndian.Uint32(req[w : w+4])
		if sidWord&reqWord != sidWord {
			return false
		}
	}
	return true
}

// AnyPattern is the all-wildcard pattern: it matches every stream id.
var AnyPattern = StreamID{}.
	WithVersion(0).
	WithFwdDst(FwdDstAny).
	WithDeviceID(DeviceIDAny).
	WithStreamPath(StreamPathAny).
	WithStreamName(StreamNameAny)

// String renders the id as a hex string for logging.
func (s StreamID) String() string {
	return fmt.Sprintf("%032x", [16]byte(s))
}
