package proto

import (
	"math"
	"sync/atomic"
)

// ActivationStatus is the per-cycle lifecycle of one node's activation
// (§3, §4.1): NotTriggered -> Triggered -> Awake -> Finished, reset back
// to NotTriggered once every target has consumed the result.
type ActivationStatus uint32

const (
	StatusNotTriggered ActivationStatus = iota
	StatusTriggered
	StatusAwake
	StatusFinished
)

func (s ActivationStatus) String() string {
	switch s {
	case StatusNotTriggered:
		return "NotTriggered"
	case StatusTriggered:
		return "Triggered"
	case StatusAwake:
		return "Awake"
	case StatusFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

// ActivationCommand is the out-of-band start/stop signal a node reads and
// clears at the top of its run loop (§4.1 step 1).
type ActivationCommand uint32

const (
	ActivationCommandNone ActivationCommand = iota
	ActivationCommandStart
	ActivationCommandStop
)

// ActivationState holds one of the activation record's two required/
// pending counter slots (§3): slot 0 counts down predecessors for the
// current cycle. Slot 1 is part of the record layout but is not read or
// written by the cycle runner.
type ActivationState struct {
	required atomic.Uint32
	pending  atomic.Uint32
}

// Reset arms the slot for a fresh cycle: pending is set equal to
// required, matching §4.1's armNextCycle step.
func (s *ActivationState) Reset(required uint32) {
	s.required.Store(required)
	s.pending.Store(required)
}

func (s *ActivationState) Required() uint32 { return s.required.Load() }
func (s *ActivationState) Pending() uint32  { return s.pending.Load() }

// Decrement counts down one satisfied predecessor, returning the new
// pending value. The caller triggers the node when this returns 0 (§5).
func (s *ActivationState) Decrement() uint32 {
	for {
		old := s.pending.Load()
		if old == 0 {
			return 0
		}
		if s.pending.CompareAndSwap(old, old-1) {
			return old - 1
		}
	}
}

// ActivationRecord is the fixed-layout shared activation block of §6.
// Field order below is the stable ABI; do not reorder without bumping
// constants.ActivationRecordSize and every participant's offset table:
//
//	status(u32), pending_sync(u8), pending_new_pos(u8), pad,
//	state[2] x {required(u32), pending(u32)}, command(u32),
//	reposition_owner(u32), signal_time(u64), awake_time(u64),
//	finish_time(u64), prev_signal_time(u64), sync_timeout(u64),
//	sync_left(u64), cpu_load[3](f32), xrun_count(u32), xrun_time(u64),
//	xrun_delay(u64), max_delay(u64), segment_owner[2](u32),
//	position(io_position), reposition(io_segment), segment(io_segment)
//
// Every field that can be touched from more than one goroutine/process is
// an atomic type except Position/Reposition/Segment, which are plain
// structs: the driver writes Position, while Reposition and Segment are
// written by whichever node wins the matching owner CAS (node.Node's
// Reposition/ClaimSegment) and read by the driver at its next cycle. This
// follows the teacher's loadDescriptor convention of only atomic-gating
// the fields multiple sides race on.
type ActivationRecord struct {
	status        atomic.Uint32
	pendingSync   atomic.Bool
	pendingNewPos atomic.Bool

	State [2]ActivationState

	command         atomic.Uint32
	repositionOwner atomic.Uint32

	signalTime     atomic.Int64
	awakeTime      atomic.Int64
	finishTime     atomic.Int64
	prevSignalTime atomic.Int64

	syncTimeoutNs atomic.Int64
	syncLeft      atomic.Int64

	cpuLoad [3]atomic.Uint32 // float32 bits

	xrunCount atomic.Uint32
	xrunTime  atomic.Int64
	xrunDelay atomic.Int64
	maxDelay  atomic.Int64

	SegmentOwner [2]atomic.Uint32

	Position   IOPosition
	Reposition IOSegment
	Segment    IOSegment
}

func (a *ActivationRecord) Status() ActivationStatus {
	return ActivationStatus(a.status.Load())
}

func (a *ActivationRecord) SetStatus(s ActivationStatus) {
	a.status.Store(uint32(s))
}

// CompareAndSwapStatus performs the single atomic transition the cycle
// protocol relies on to avoid double-triggering a node (§5).
func (a *ActivationRecord) CompareAndSwapStatus(old, new ActivationStatus) bool {
	return a.status.CompareAndSwap(uint32(old), uint32(new))
}

func (a *ActivationRecord) PendingSync() bool      { return a.pendingSync.Load() }
func (a *ActivationRecord) SetPendingSync(v bool)  { a.pendingSync.Store(v) }
func (a *ActivationRecord) PendingNewPos() bool     { return a.pendingNewPos.Load() }
func (a *ActivationRecord) SetPendingNewPos(v bool) { a.pendingNewPos.Store(v) }

func (a *ActivationRecord) Command() ActivationCommand {
	return ActivationCommand(a.command.Load())
}

// SwapCommand atomically installs cmd and returns the previous command,
// matching §4.1's "read and clear" start/stop handshake.
func (a *ActivationRecord) SwapCommand(cmd ActivationCommand) ActivationCommand {
	return ActivationCommand(a.command.Swap(uint32(cmd)))
}

func (a *ActivationRecord) RepositionOwner() uint32 { return a.repositionOwner.Load() }

// ClaimReposition attempts to become the reposition_owner for seq via
// CompareAndSwap; last successful CAS wins per the Open Question
// decision recorded in the grounding ledger.
func (a *ActivationRecord) ClaimReposition(old, seq uint32) bool {
	return a.repositionOwner.CompareAndSwap(old, seq)
}

func (a *ActivationRecord) SignalTime() int64     { return a.signalTime.Load() }
func (a *ActivationRecord) SetSignalTime(v int64) { a.prevSignalTime.Store(a.signalTime.Swap(v)) }
func (a *ActivationRecord) PrevSignalTime() int64 { return a.prevSignalTime.Load() }
func (a *ActivationRecord) AwakeTime() int64      { return a.awakeTime.Load() }
func (a *ActivationRecord) SetAwakeTime(v int64)  { a.awakeTime.Store(v) }
func (a *ActivationRecord) FinishTime() int64     { return a.finishTime.Load() }
func (a *ActivationRecord) SetFinishTime(v int64) { a.finishTime.Store(v) }

func (a *ActivationRecord) SyncTimeoutNs() int64     { return a.syncTimeoutNs.Load() }
func (a *ActivationRecord) SetSyncTimeoutNs(v int64) { a.syncTimeoutNs.Store(v) }
func (a *ActivationRecord) SyncLeft() int64          { return a.syncLeft.Load() }
func (a *ActivationRecord) SetSyncLeft(v int64)      { a.syncLeft.Store(v) }

// DecrementSyncLeft counts down the STARTING->RUNNING handshake deadline
// by elapsedNs, returning the remaining budget (never below 0).
func (a *ActivationRecord) DecrementSyncLeft(elapsedNs int64) int64 {
	for {
		old := a.syncLeft.Load()
		next := old - elapsedNs
		if next < 0 {
			next = 0
		}
		if a.syncLeft.CompareAndSwap(old, next) {
			return next
		}
	}
}

func (a *ActivationRecord) CPULoad() [3]float32 {
	var out [3]float32
	for i := range out {
		out[i] = math.Float32frombits(a.cpuLoad[i].Load())
	}
	return out
}

func (a *ActivationRecord) SetCPULoad(load [3]float32) {
	for i, v := range load {
		a.cpuLoad[i].Store(math.Float32bits(v))
	}
}

func (a *ActivationRecord) XrunCount() uint32 { return a.xrunCount.Load() }
func (a *ActivationRecord) XrunTime() int64   { return a.xrunTime.Load() }
func (a *ActivationRecord) XrunDelay() int64  { return a.xrunDelay.Load() }
func (a *ActivationRecord) MaxDelay() int64   { return a.maxDelay.Load() }

// ApplyStagedSegment copies the owner-staged Segment into Position's
// segment fields, matching §4.1 step 2's "copies owner-authoritative
// bar/video fields into its position"; called by the driver's cycle
// runner at the top of every cycle.
func (a *ActivationRecord) ApplyStagedSegment() {
	a.Position.Segment = a.Segment
}

// RecordXrun increments the xrun counter and records timing, matching
// §3's "Load stats" bookkeeping. The cycle runner calls it when a target
// is signalled again more than one cycle after its previous signal, when
// a driver's wait on its predecessors times out, and when the STARTING
// sync countdown expires.
func (a *ActivationRecord) RecordXrun(now, delay int64) {
	a.xrunCount.Add(1)
	a.xrunTime.Store(now)
	a.xrunDelay.Store(delay)
	for {
		old := a.maxDelay.Load()
		if delay <= old {
			return
		}
		if a.maxDelay.CompareAndSwap(old, delay) {
			return
		}
	}
}
