package mediagraph

import "github.com/ehrlich-b/go-mediagraph/internal/constants"

// Re-export the scheduler's tuning constants for the public API (§3, §6).
const (
	DefaultQuantumSize = constants.DefaultQuantumSize
	DefaultSampleRate  = constants.DefaultSampleRate
	DefaultMaxBuffers  = constants.DefaultMaxBuffers
	DefaultNumMixSlots = constants.DefaultNumMixSlots

	DefaultSyncTimeout   = constants.DefaultSyncTimeout
	DriverPollTimeout    = constants.DriverPollTimeout
	ActivationRecordSize = constants.ActivationRecordSize
	DefaultIOBufferSize  = constants.DefaultIOBufferSize
)
