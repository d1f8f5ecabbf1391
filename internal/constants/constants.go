package constants

import "time"

// Default configuration constants
const (
	// DefaultQuantumSize is the quantum (frames per cycle) used when no node
	// declares NODE_LATENCY.
	DefaultQuantumSize = 1024

	// DefaultSampleRate is the reference rate flp2(num*48000/denom) is
	// computed against.
	DefaultSampleRate = 48000

	// DefaultMaxBuffers is the default buffer-slot capacity of a port.
	DefaultMaxBuffers = 8

	// DefaultNumMixSlots is the default mix_list capacity of a port before
	// it must grow.
	DefaultNumMixSlots = 8
)

// Timing constants for the cycle protocol.
//
// These govern the STARTING handshake and the driver's wake discipline.
// The cycle protocol requires strict ordering:
//  1. set_active + start condition allow start() to run.
//  2. command=START arms sync_left and moves STOPPED -> STARTING.
//  3. Every follower acks (pending_sync=false) or sync_timeout elapses.
//  4. The graph forcibly transitions to RUNNING either way.
const (
	// DefaultSyncTimeout is the STARTING->RUNNING handshake deadline (§4.1).
	DefaultSyncTimeout = 5 * time.Second

	// DriverPollTimeout bounds how long a driver's outer poll/epoll wait can
	// block before it re-checks for a pending command.
	DriverPollTimeout = 100 * time.Millisecond
)

// Memory allocation constants
const (
	// ActivationRecordSize is the minimum size of the shared activation
	// mapping (§6). activation.NewShared sizes the mapping from
	// proto.ActivationRecord's actual layout when that is larger.
	ActivationRecordSize = 256

	// DefaultIOBufferSize is the default shared-memory IO buffer block size
	// allocated per port buffer slot.
	DefaultIOBufferSize = 64 * 1024
)
