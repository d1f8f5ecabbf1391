// Package cycle drives one node's participation in the cycle protocol
// (§4.1, §5): arm the activation record for the next cycle, wait to be
// woken, run Process exactly once, then decrement every target's pending
// counter and wake whichever ones just reached zero. Direct
// generalization of the teacher's internal/queue.Runner: ioLoop becomes
// runLoop, processRequests becomes processCycle, handleCompletion
// becomes onWake, and the TagState state machine
// (InFlightFetch/Owned/InFlightCommit) becomes the activation status
// state machine (NotTriggered/Triggered/Awake/Finished).
package cycle

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-mediagraph/internal/activation"
	"github.com/ehrlich-b/go-mediagraph/internal/constants"
	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/logging"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
	"github.com/ehrlich-b/go-mediagraph/internal/walk"
)

// Config configures one NodeRunner.
type Config struct {
	NodeID      uint32
	Impl        interfaces.NodeImpl
	Mapping     *activation.Mapping
	IsDriver    bool
	QuantumSize uint32
	SampleRate  uint32
	CPUAffinity []int
	Logger      *logging.Logger
	Observer    interfaces.Observer
}

// NodeRunner is the generalized queue.Runner: one goroutine (pinned to
// an OS thread, matching the teacher's ublk thread-affinity requirement)
// driving a single node through repeated cycles.
type NodeRunner struct {
	nodeID    uint32
	impl      interfaces.NodeImpl
	mapping   *activation.Mapping
	// isDriver is read every iteration of runLoop rather than captured
	// once at construction, since Graph.recomputeLocked can hand the
	// driver role to a different node in this runner's component after
	// it's already running (§4.5 re-election, §8 S6).
	isDriver    atomic.Bool
	cycleTime   time.Duration
	quantumSize uint32
	sampleRate  uint32
	cpuAffinity []int
	logger      *logging.Logger
	observer    interfaces.Observer

	ctx    context.Context
	cancel context.CancelFunc

	// targets is this node's target_list (§4.5): the successors to
	// decrement-and-maybe-wake when this node finishes a cycle.
	targets []walk.Target
	// targetMappings holds the wake-fd/activation mapping for each
	// target id, populated by SetTargets alongside the plan.
	targetMappings map[uint32]*activation.Mapping

	// roots and rootMappings are populated only on a driver's runner:
	// the follower node ids in its component with no real predecessor
	// (§4.1 step 2), directly triggered at the top of every cycle since
	// nothing decrements their pending counter to zero on its own.
	roots        []uint32
	rootMappings map[uint32]*activation.Mapping
}

// New creates a NodeRunner. The caller arms required/targets separately
// via SetTargets once the graph walk (internal/walk) has run.
func New(ctx context.Context, cfg Config) *NodeRunner {
	ctx, cancel := context.WithCancel(ctx)
	rate := cfg.SampleRate
	if rate == 0 {
		rate = constants.DefaultSampleRate
	}
	quantum := cfg.QuantumSize
	if quantum == 0 {
		quantum = constants.DefaultQuantumSize
	}
	r := &NodeRunner{
		nodeID:         cfg.NodeID,
		impl:           cfg.Impl,
		mapping:        cfg.Mapping,
		cycleTime:      time.Duration(float64(quantum) / float64(rate) * float64(time.Second)),
		quantumSize:    quantum,
		sampleRate:     rate,
		cpuAffinity:    cfg.CPUAffinity,
		logger:         cfg.Logger,
		observer:       cfg.Observer,
		ctx:            ctx,
		cancel:         cancel,
		targetMappings: make(map[uint32]*activation.Mapping),
	}
	r.isDriver.Store(cfg.IsDriver)
	return r
}

// SetDriver updates whether this runner currently acts as its component's
// elected driver, called by the graph's main loop after every re-election
// (§4.5). A runner already blocked in the follower wait picks this up
// within one cycle rather than staying frozen in whatever role it had at
// Start (§8 S6).
func (r *NodeRunner) SetDriver(isDriver bool) {
	r.isDriver.Store(isDriver)
}

// IsDriver reports this runner's current role.
func (r *NodeRunner) IsDriver() bool {
	return r.isDriver.Load()
}

// SetTargets installs this node's target_list, its own required (in-
// degree) count, and the wake mappings for each target, replacing
// whatever the previous graph walk computed (§4.5's "rebuilt on any
// add/remove node, add/remove link, or active-changed").
func (r *NodeRunner) SetTargets(required uint32, targets []walk.Target, mappings map[uint32]*activation.Mapping) {
	r.targets = targets
	r.targetMappings = mappings
	r.mapping.Record().State[0].Reset(required)
}

// SetRoots installs the set of follower nodes this driver must directly
// trigger at the top of every cycle because they have no real
// predecessor to decrement their pending counter (§4.1 step 2).
func (r *NodeRunner) SetRoots(roots []uint32, mappings map[uint32]*activation.Mapping) {
	r.roots = roots
	r.rootMappings = mappings
}

// Start begins the run loop in its own goroutine and blocks until the
// first prime step (arming the initial cycle) completes, matching the
// teacher's Start()/ioLoop()/startErr handshake.
func (r *NodeRunner) Start() error {
	startErr := make(chan error, 1)
	go r.runLoop(startErr)
	return <-startErr
}

// Stop cancels the run loop; Close additionally releases the mapping.
func (r *NodeRunner) Stop() error {
	r.cancel()
	return nil
}

func (r *NodeRunner) Close() error {
	_ = r.Stop()
	return r.mapping.Close()
}

func (r *NodeRunner) runLoop(started chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if len(r.cpuAffinity) > 0 {
		cpuIdx := r.cpuAffinity[int(r.nodeID)%len(r.cpuAffinity)]
		var mask unix.CPUSet
		mask.Set(cpuIdx)
		if err := unix.SchedSetaffinity(0, &mask); err != nil && r.logger != nil {
			r.logger.Warnf("node %d: failed to set CPU affinity to %d: %v", r.nodeID, cpuIdx, err)
		}
	}

	if err := r.armNextCycle(); err != nil {
		started <- err
		return
	}
	started <- nil

	ticker := time.NewTicker(r.cycleTime)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}
		if r.IsDriver() {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
			}
			if err := r.driverCycle(); err != nil && r.logger != nil {
				r.logger.Errorf("node %d: cycle error: %v", r.nodeID, err)
			}
			continue
		}

		// Follower path. Bound the wait by one cycle so a driver handoff
		// (SetDriver, §4.5 re-election) is noticed within a cycle instead
		// of leaving the runner parked on a wake-fd nothing signals
		// anymore once this node stops being a follower of anyone.
		waitCtx, cancel := context.WithTimeout(r.ctx, r.cycleTime)
		err := r.mapping.Wait(waitCtx)
		cancel()
		if err != nil {
			if r.ctx.Err() != nil {
				return
			}
			if err != context.DeadlineExceeded && r.logger != nil {
				r.logger.Errorf("node %d: wait error: %v", r.nodeID, err)
			}
			continue
		}
		if err := r.onWake(); err != nil && r.logger != nil {
			r.logger.Errorf("node %d: cycle error: %v", r.nodeID, err)
		}
	}
}

// armNextCycle resets this node's own pending counter back to its
// required value and its status to NotTriggered, matching the teacher's
// submitInitialFetchReq priming step. Called once before the run loop
// starts (priming) and again at the end of every processCycle, so a
// target_list predecessor's Decrement() sees a fresh counter every
// cycle instead of the stale zero left over from the previous one.
func (r *NodeRunner) armNextCycle() error {
	rec := r.mapping.Record()
	rec.State[0].Reset(rec.State[0].Required())
	rec.SetStatus(proto.StatusNotTriggered)
	return nil
}

// onWake is the follower path: it was signalled, so its pending reached
// zero and it's now eligible to run. Direct generalization of
// handleCompletion's per-tag state transition.
func (r *NodeRunner) onWake() error {
	rec := r.mapping.Record()
	if !rec.CompareAndSwapStatus(proto.StatusTriggered, proto.StatusAwake) {
		// Already running or finished; a spurious wake, matching the
		// teacher's "ignore completion for a tag in the wrong state".
		return nil
	}
	rec.SetAwakeTime(time.Now().UnixNano())
	return r.processCycle()
}

// processCycle runs Process exactly once, records timing/xrun stats,
// and signals every target whose pending counter just reached zero.
// Generalized from processRequests/handleCompletion's batched-submission
// pattern: here the "batch" is the set of targets signalled together in
// one SignalAll call on the sequential signaller.
func (r *NodeRunner) processCycle() error {
	rec := r.mapping.Record()
	start := time.Now()

	status, err := r.impl.Process()
	if err != nil {
		_ = r.armNextCycle()
		return fmt.Errorf("node %d: process: %w", r.nodeID, err)
	}

	finish := time.Now()
	rec.SetFinishTime(finish.UnixNano())
	if r.observer != nil {
		r.observer.ObserveProcess(r.nodeID, uint64(finish.Sub(start).Nanoseconds()), status)
	}

	rec.SetStatus(proto.StatusFinished)

	if r.IsDriver() {
		r.advanceClock(rec)
	}

	sigErr := r.signalTargets()
	if err := r.armNextCycle(); err != nil {
		return err
	}
	return sigErr
}

// driverCycle is the driver path (§4.1 steps 1-2): read and clear the
// command slot, trigger the component's root nodes directly since
// nothing decrements their pending counter on its own, then -- if the
// driver itself has real predecessors (Required > 0, e.g. it sits
// downstream of some of those roots) -- wait for its own pending to
// reach zero before running Process, preserving the A.finish_time <=
// B.awake_time ordering for every real edge A->B.
func (r *NodeRunner) driverCycle() error {
	rec := r.mapping.Record()
	r.handleCommand(rec)
	rec.ApplyStagedSegment()
	r.applyPendingReposition(rec)
	r.triggerRoots()

	if rec.State[0].Required() > 0 {
		waitCtx, cancel := context.WithTimeout(r.ctx, r.cycleTime*4)
		err := r.mapping.Wait(waitCtx)
		cancel()
		if err != nil {
			if r.ctx.Err() != nil {
				return err
			}
			// Predecessors never caught up within the cycle budget; record
			// an xrun and run anyway rather than stalling the driver's
			// ticker indefinitely.
			now := time.Now().UnixNano()
			rec.RecordXrun(now, r.cycleTime.Nanoseconds())
		} else {
			rec.CompareAndSwapStatus(proto.StatusTriggered, proto.StatusAwake)
			rec.SetAwakeTime(time.Now().UnixNano())
		}
	}

	return r.processCycle()
}

// triggerRoots directly triggers every root follower of this driver's
// component (§4.1 step 2): nodes with no real predecessor have nothing
// to decrement their pending counter to zero, so the driver signals
// them at the top of every cycle the same way signalTargets wakes a
// cascade successor.
func (r *NodeRunner) triggerRoots() {
	if len(r.roots) == 0 {
		return
	}
	now := time.Now().UnixNano()
	var wakeFds []int
	for _, id := range r.roots {
		m, ok := r.rootMappings[id]
		if !ok {
			continue
		}
		rootRec := m.Record()
		rootRec.SetSignalTime(now)
		if !rootRec.CompareAndSwapStatus(proto.StatusNotTriggered, proto.StatusTriggered) {
			rootRec.CompareAndSwapStatus(proto.StatusFinished, proto.StatusTriggered)
		}
		wakeFds = append(wakeFds, m.WakeFd())
	}
	if len(wakeFds) == 0 {
		return
	}
	if err := activation.NewSequentialSignaller().SignalAll(wakeFds); err != nil && r.logger != nil {
		r.logger.Errorf("node %d: trigger roots: %v", r.nodeID, err)
	}
}

// handleCommand reads and clears the driver's command slot (§4.1 step
// 1): START arms the STOPPED->STARTING transition and the sync_timeout
// countdown, STOP returns the position to STOPPED.
func (r *NodeRunner) handleCommand(rec *proto.ActivationRecord) {
	switch rec.SwapCommand(proto.ActivationCommandNone) {
	case proto.ActivationCommandStart:
		if rec.Position.State == proto.PositionStopped {
			rec.Position.State = proto.PositionStarting
			timeout := rec.SyncTimeoutNs()
			if timeout == 0 {
				timeout = constants.DefaultSyncTimeout.Nanoseconds()
				rec.SetSyncTimeoutNs(timeout)
			}
			rec.SetSyncLeft(timeout)
			rec.SetPendingSync(true)
			rec.SetPendingNewPos(true)
		}
	case proto.ActivationCommandStop:
		rec.Position.State = proto.PositionStopped
	}
}

// applyPendingReposition consumes a staged Reposition request (§3, §8 S4):
// a follower's Graph.Reposition call wins the reposition_owner CAS and sets
// PendingNewPos, then the driver jumps its own Position to the requested
// segment at the top of its next cycle and increments SegmentCount, matching
// original_source's pw_impl_node_set_position applying a reposition at the
// start of the next graph cycle rather than mid-cycle.
func (r *NodeRunner) applyPendingReposition(rec *proto.ActivationRecord) {
	if !rec.PendingNewPos() {
		return
	}
	rec.Position.Segment = rec.Reposition
	rec.Position.Clock.Position = rec.Reposition.Start
	rec.Position.Offset = 0
	rec.Position.SegmentCount++
	rec.SetPendingNewPos(false)
}

// advanceClock closes out the driver's own cycle (§4.1 step 6): advance
// position.clock.position/offset by one quantum, and -- if the position
// is STARTING and every follower has cleared pending_sync -- transition
// to RUNNING. Only the driver calls this; Position is single-writer.
func (r *NodeRunner) advanceClock(rec *proto.ActivationRecord) {
	now := time.Now().UnixNano()
	rec.Position.Clock.Nsec = uint64(now)
	rec.Position.Clock.Rate = r.sampleRate
	rec.Position.Clock.RateDenom = 1
	rec.Position.Clock.Position += uint64(r.quantumSize)
	rec.Position.Clock.Duration = uint64(r.quantumSize)
	rec.Position.Offset += int64(r.quantumSize)
	rec.Position.Size = r.quantumSize

	if rec.Position.State == proto.PositionStarting {
		if !rec.PendingSync() {
			rec.Position.State = proto.PositionRunning
			return
		}
		left := rec.DecrementSyncLeft(r.cycleTime.Nanoseconds())
		if left <= 0 {
			rec.Position.State = proto.PositionRunning
			rec.RecordXrun(now, 0)
		}
	}
}

// signalTargets decrements every target's pending counter and wakes
// whichever ones just reached zero (§5's "pending-counter
// decrement-and-signal discipline").
func (r *NodeRunner) signalTargets() error {
	rec := r.mapping.Record()
	var wakeFds []int
	for _, t := range r.targets {
		targetMapping, ok := r.targetMappings[t.NodeID]
		if !ok {
			continue
		}
		targetRec := targetMapping.Record()
		if targetRec.State[0].Decrement() != 0 {
			continue
		}
		now := time.Now().UnixNano()
		prevSignal := targetRec.SignalTime()
		if prevSignal != 0 && targetRec.Status() == proto.StatusFinished {
			delay := now - prevSignal - r.cycleTime.Nanoseconds()
			if delay > 0 {
				targetRec.RecordXrun(now, delay)
			}
		}
		targetRec.SetSignalTime(now)
		if !targetRec.CompareAndSwapStatus(proto.StatusNotTriggered, proto.StatusTriggered) {
			targetRec.CompareAndSwapStatus(proto.StatusFinished, proto.StatusTriggered)
		}
		wakeFds = append(wakeFds, targetMapping.WakeFd())
	}
	if len(wakeFds) == 0 {
		return nil
	}
	_ = rec // rec kept for symmetry/future self-signal use (§4.5's driver return edge)
	return activation.NewSequentialSignaller().SignalAll(wakeFds)
}
