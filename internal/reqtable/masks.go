package reqtable

import "github.com/lrtsys/streamrouter/internal/streamid"

// lookupMasks enumerates the full lattice over {fwd_dst, device_id,
// stream_path, stream_name}, each either left untouched or forced to its
// ANY value, for NumMaskedLookups (16) = 2^4 combinations. Each entry sets
// the fields that should be wildcarded in the probe; applying mask[i] to a
// concrete sid and looking that up in the table finds every subscription
// pattern with exactly that set of wildcards that the sid would satisfy.
var lookupMasks = buildLookupMasks()

func buildLookupMasks() [16]streamid.StreamID {
	var masks [16]streamid.StreamID
	for i := 0; i < 16; i++ {
		wildcardFwdDst := i&1 != 0
		wildcardDeviceID := i&2 != 0
		wildcardStreamPath := i&4 != 0
		wildcardStreamName := i&8 != 0

		m := streamid.StreamID{}
		if wildcardFwdDst {
			m = m.WithFwdDst(streamid.FwdDstAny)
		}
		if wildcardDeviceID {
			m = m.WithDeviceID(streamid.DeviceIDAny)
		}
		if wildcardStreamPath {
			m = m.WithStreamPath(streamid.StreamPathAny)
		}
		if wildcardStreamName {
			m = m.WithStreamName(streamid.StreamNameAny)
		}
		masks[i] = m
	}
	return masks
}

// probe returns the i-th masked variant of sid: sid with the fields that
// mask[i] wildcards overwritten to ANY, left untouched otherwise.
func probe(sid streamid.StreamID, i int) streamid.StreamID {
	mask := lookupMasks[i]
	out := sid
	if mask.FwdDst() == streamid.FwdDstAny {
		out = out.WithFwdDst(streamid.FwdDstAny)
	}
	if mask.DeviceID() == streamid.DeviceIDAny {
		out = out.WithDeviceID(streamid.DeviceIDAny)
	}
	if mask.StreamPath() == streamid.StreamPathAny {
		out = out.WithStreamPath(streamid.StreamPathAny)
	}
	if mask.StreamName() == streamid.StreamNameAny {
		out = out.WithStreamName(streamid.StreamNameAny)
	}
	return out
}

// Probes returns all 16 masked variants of sid (exported for property
// tests of masked-lookup completeness).
func Probes(sid streamid.StreamID) [16]streamid.StreamID {
	var out [16]streamid.StreamID
	for i := range out {
		out[i] = probe(sid, i)
	}
	return out
}
