package proto

import "unsafe"

// IOClock is the read-only transport clock a driver exposes to every node
// (§4.3). Consumers only ever read it; the driver is the sole writer.
type IOClock struct {
	Nsec      uint64  // absolute monotonic time of the last cycle start
	Rate      uint32  // clock rate numerator base (denom is RateDenom)
	RateDenom uint32
	Position  uint64 // running sample/frame count since the clock started
	Duration  uint64 // frames in the current cycle
	Delay     int64  // estimated driver output delay, in Rate units
	RateDiff  float64 // RateMatch-applied resampling ratio, 1.0 if none
}

// IOSegment describes one playback segment: a start position, a duration
// (0 means "unbounded"), and a rate, the unit a driver's Position area
// advances through (§4.3, §4.4).
type IOSegment struct {
	Version  uint32
	Flags    uint32
	Start    uint64
	Duration uint64
	RateNum  uint32
	RateDenom uint32
	// Bar/BeatsPerMinute are populated only when the segment carries a
	// musical timeline; zero otherwise.
	Bar             uint32
	BeatsPerMinute  float64
}

// IOPosition is the read-only Position IO area a driver attaches so every
// node can see where in the timeline the current cycle sits (§4.3, §4.4).
// Only the driver writes it; everyone else only ever reads.
type IOPosition struct {
	Clock        IOClock
	State        PositionState
	Offset       int64
	Size         uint32 // frames/samples in this cycle (the quantum)
	SegmentCount uint32
	Segment      IOSegment
}

// IOBuffers is the single-writer-per-side handshake area a port exchanges
// a buffer id through each cycle (§4.3). An output port writes BufferID
// and sets Status to HaveData; the connected input port consumes it and
// resets Status to NeedData.
type IOBuffers struct {
	Status   BufferStatus
	BufferID uint32
}

// BuffersView casts a port's raw Buffers IO-area bytes into a typed
// *IOBuffers so Process() can read/write Status and BufferID directly
// instead of hand-rolling byte offsets, mirroring the activation
// package's pointerFromMmap convention for viewing a shared byte slice
// as its real struct layout.
func BuffersView(b []byte) *IOBuffers {
	return (*IOBuffers)(unsafe.Pointer(&b[0]))
}

// controlEntry is one timed value inside an IOControl/IONotify pod
// sequence (§4.3): a byte offset into the cycle (in Rate units) paired
// with a parameter pod to apply at that point. Used for in-band control
// streams (e.g. MIDI-like event ports).
type controlEntry struct {
	Offset uint32
	Value  Pod
}

// IOControl carries a time-stamped sequence of parameter pods an input
// control port consumes over the course of one cycle (§4.3).
type IOControl struct {
	Entries []controlEntry
}

// IONotify mirrors IOControl but for values an output control port
// produces during a cycle (§4.3).
type IONotify struct {
	Entries []controlEntry
}

// IORateMatch lets a driver request resampling from a node whose native
// rate differs from the driver's quantum rate (§4.3).
type IORateMatch struct {
	Delay      int32
	RateDiff   float64
	SizeNeeded uint32
}
