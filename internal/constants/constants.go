// Package constants collects the numeric limits and defaults fixed by the
// stream-id wire layout and the router's resource model.
package constants

import "time"

// Stream-id bit-field widths.
const (
	VersionBits     = 6
	FwdDstBits      = 7
	DeviceIDBits    = 7
	StreamPathBits  = 54
	StreamNameBits  = 54
	StreamIDVersion = 0
)

// Wildcard ("ANY") values, all-ones of their respective width.
const (
	FwdDstAny     = (1 << FwdDstBits) - 1
	DeviceIDAny   = (1 << DeviceIDBits) - 1
	StreamPathAny = (uint64(1) << StreamPathBits) - 1
	StreamNameAny = (uint64(1) << StreamNameBits) - 1
)

// fwd_dst bitmask values.
const (
	FwdDstNone      = 0x01
	FwdDstUDP       = 0x02
	FwdDstReserved1 = 0x04
	FwdDstReserved2 = 0x08
	FwdDstReserved3 = 0x10
	FwdDstReserved4 = 0x20
)

// Bloom filter parameters used to hash string path/name components into
// fixed-width stream-id fields.
const (
	HashNumberBits   = 54
	NumHashFunctions = 38
)

// RequestTableSeed seeds the hash-table hash function over the 16-byte
// stream-id key.
const RequestTableSeed = 6602834

// NumMaskedLookups is the size of the wildcard lattice the router probes
// per inbound message: 2^4 combinations over {fwd_dst, device_id,
// stream_path, stream_name}.
const NumMaskedLookups = 16

// MaxApplications bounds the number of concurrently loaded applications.
const MaxApplications = 64

// Defaults for application queues, sized for this router's
// message-oriented workload rather than bulk block I/O.
const (
	DefaultQueueSize  = 128
	DefaultBatchSize  = 32
	MaxQueueSize      = 1 << 16
	DefaultMaxNameLen = 64
)

// AutoAssignAppID tells the registry to pick the next free slot rather
// than require a caller-specified id.
const AutoAssignAppID = -1

// Router loop pacing and shutdown timing.
const (
	// RouterIdleYield is how long the dispatch loop sleeps between sweeps
	// of the IPC out-queue when nothing is pending.
	RouterIdleYield = 5 * time.Microsecond

	// DefaultUnloadTimeout bounds how long Unload waits for a worker to
	// observe its exit signal and join.
	DefaultUnloadTimeout = 5 * time.Second

	// WorkerReadyPollInterval paces polling for a freshly spawned worker
	// to report itself running.
	WorkerReadyPollInterval = 10 * time.Millisecond

	// WorkerReadyTimeout is the default wait for that same signal,
	// generous enough to tolerate a slow-starting plugin.
	WorkerReadyTimeout = 10 * time.Second
)
