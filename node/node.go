// Package node implements the §4.4 node lifecycle and state machine:
// CREATING -> SUSPENDED -> IDLE <-> RUNNING, plus ERROR. A Node owns its
// ports, its activation mapping, and the link-readiness bookkeeping
// (n_ready_*/n_used_* counters) that gates the start condition.
// Grounded on the teacher's Device/CreateAndServe lifecycle
// (DeviceStateCreated/Running/Stopped) generalized to the five-state
// machine, and on Runner's TagState transitions generalized to the
// register/set_active/pause/suspend/start sequence below.
package node

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-mediagraph/internal/activation"
	"github.com/ehrlich-b/go-mediagraph/internal/constants"
	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
	"github.com/ehrlich-b/go-mediagraph/internal/walk"
)

// State is the node's §4.4 lifecycle state.
type State uint32

const (
	StateCreating State = iota
	StateSuspended
	StateIdle
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreating:
		return "CREATING"
	case StateSuspended:
		return "SUSPENDED"
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// linkCounts tracks n_ready_*/n_used_* for one direction (§4.4's start
// condition: ready must equal used on both input and output before
// start() is allowed).
type linkCounts struct {
	ready uint32
	used  uint32
}

// Node is one scheduler participant: its lifecycle state, its ports, its
// activation mapping, and (for followers) a pointer into the driver's
// record for the reposition/segment staging handshake (§3's "position:
// pointer to driver's io_position (shared)").
type Node struct {
	ID uint32

	CanDrive   bool
	WantDriver bool
	Active     bool

	mu    sync.Mutex
	state State
	err   error

	ports map[uint32]*port.Port

	mapping *activation.Mapping

	// driverMapping is this node's own activation mapping when it is
	// itself the driver, or the elected driver's mapping when it is a
	// follower. Followers stage reposition/segment writes here, gated by
	// the CAS ownership fields on the target record (§4.1 step 2, §8 S4).
	driverMapping *activation.Mapping
	isDriver      bool

	quantumSize uint32

	in  linkCounts
	out linkCounts

	listeners []func(interfaces.Event)
}

// New creates a node in CREATING state with an allocated activation
// record and wake-fd, matching §3's "new allocates the activation record
// and wake-fd, state=CREATING".
func New(id uint32, canDrive, wantDriver bool) (*Node, error) {
	m, err := activation.NewLocal()
	if err != nil {
		return nil, fmt.Errorf("node: new: %w", err)
	}
	return &Node{
		ID:         id,
		CanDrive:   canDrive,
		WantDriver: wantDriver,
		state:      StateCreating,
		ports:      make(map[uint32]*port.Port),
		mapping:    m,
	}, nil
}

// Mapping returns this node's activation mapping.
func (n *Node) Mapping() *activation.Mapping { return n.mapping }

// State returns the node's current lifecycle state.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Err returns the last error recorded while transitioning to ERROR.
func (n *Node) Err() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.err
}

// AddListener registers a main-loop-only event subscriber (§9).
func (n *Node) AddListener(fn func(interfaces.Event)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
	idx := len(n.listeners) - 1
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if idx < len(n.listeners) {
			n.listeners[idx] = nil
		}
	}
}

func (n *Node) emit(ev interfaces.Event) {
	ev.NodeID = n.ID
	for _, l := range n.listeners {
		if l != nil {
			l(ev)
		}
	}
}

// AddPort attaches a port to the node, mirroring §4.4's "register ...
// declares initial port set"; it is rejected only while the node is
// RUNNING.
func (n *Node) AddPort(p *port.Port) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == StateRunning {
		return fmt.Errorf("node: AddPort: node %d is RUNNING", n.ID)
	}
	n.ports[p.ID] = p
	if p.Direction == port.DirectionInput {
		n.in.used++
	} else {
		n.out.used++
	}
	n.emit(interfaces.Event{Kind: "port_info", PortID: p.ID})
	return nil
}

// RemovePort detaches a port.
func (n *Node) RemovePort(portID uint32) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.ports[portID]
	if !ok {
		return fmt.Errorf("node: RemovePort: port %d not found on node %d", portID, n.ID)
	}
	delete(n.ports, portID)
	if p.Direction == port.DirectionInput {
		if n.in.used > 0 {
			n.in.used--
		}
	} else if n.out.used > 0 {
		n.out.used--
	}
	n.emit(interfaces.Event{Kind: "port_info", PortID: portID})
	return nil
}

// Port looks up an attached port by id.
func (n *Node) Port(portID uint32) (*port.Port, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.ports[portID]
	return p, ok
}

// Ports returns a snapshot of every attached port.
func (n *Node) Ports() []*port.Port {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]*port.Port, 0, len(n.ports))
	for _, p := range n.ports {
		out = append(out, p)
	}
	return out
}

// MarkLinkReady records that one of this node's ports just gained (or
// lost, via delta=-1) a ready, connected link, feeding the n_ready_*
// counters the start condition checks.
func (n *Node) MarkLinkReady(dir port.Direction, delta int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	lc := &n.in
	if dir == port.DirectionOutput {
		lc = &n.out
	}
	if delta < 0 {
		if lc.ready > 0 {
			lc.ready--
		}
		return
	}
	lc.ready++
}

// Register transitions CREATING -> SUSPENDED: publishes the node (the
// caller's registry.AddNode), declares its initial port set (already
// done via AddPort), and installs a Position IO from its driver.
func (n *Node) Register(driverMapping *activation.Mapping) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateCreating {
		return fmt.Errorf("node: Register: node %d not in CREATING (is %s)", n.ID, n.state)
	}
	n.driverMapping = driverMapping
	n.state = StateSuspended
	n.emit(interfaces.Event{Kind: "info"})
	return nil
}

// SetActive records the operator's set_active(true/false) request. It
// only stores the flag the start condition reads; it does not change the
// node's lifecycle state, so set_active(false) leaves a RUNNING node
// running until Pause is called.
func (n *Node) SetActive(active bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Active = active
}

// startConditionMet reports whether §4.4's "all ports configured +
// n_ready == n_used on both directions" holds. Caller must hold n.mu.
func (n *Node) startConditionMet() bool {
	if !n.Active {
		return false
	}
	if n.in.ready != n.in.used || n.out.ready != n.out.used {
		return false
	}
	for _, p := range n.ports {
		if len(p.Buffers()) == 0 {
			return false
		}
	}
	return true
}

// StartConditionMet exposes startConditionMet for callers deciding
// whether Start will succeed (e.g. the graph's main loop, before it
// bothers building a target_list).
func (n *Node) StartConditionMet() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.startConditionMet()
}

// Start transitions IDLE -> RUNNING if the start condition holds,
// sending proto.CommandStart to the underlying implementation. The
// caller (the graph) is responsible for adding the node to the driver's
// target list and incrementing required counts on both endpoints
// (internal/walk owns that bookkeeping).
func (n *Node) Start(impl interfaces.NodeImpl) error {
	n.mu.Lock()
	if n.state != StateIdle {
		n.mu.Unlock()
		return fmt.Errorf("node: Start: node %d not in IDLE (is %s)", n.ID, n.state)
	}
	if !n.startConditionMet() {
		n.mu.Unlock()
		return fmt.Errorf("node: Start: node %d: start condition not met", n.ID)
	}
	n.state = StateRunning
	n.mu.Unlock()

	if err := impl.SendCommand(proto.CommandStart); err != nil {
		n.fail(err)
		return err
	}
	n.emit(interfaces.Event{Kind: "info"})
	return nil
}

// Pause transitions RUNNING -> IDLE: the caller removes the node from
// its driver's scheduling graph, then this sends proto.CommandPause.
func (n *Node) Pause(impl interfaces.NodeImpl) error {
	n.mu.Lock()
	if n.state != StateRunning {
		n.mu.Unlock()
		return fmt.Errorf("node: Pause: node %d not RUNNING (is %s)", n.ID, n.state)
	}
	n.state = StateIdle
	n.mu.Unlock()

	if err := impl.SendCommand(proto.CommandPause); err != nil {
		n.fail(err)
		return err
	}
	n.emit(interfaces.Event{Kind: "info"})
	return nil
}

// ReadyForIdle transitions SUSPENDED -> IDLE once ports are configured,
// a step §4.4 leaves implicit between register and the start condition.
func (n *Node) ReadyForIdle() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateSuspended {
		return fmt.Errorf("node: ReadyForIdle: node %d not SUSPENDED (is %s)", n.ID, n.state)
	}
	n.state = StateIdle
	n.emit(interfaces.Event{Kind: "info"})
	return nil
}

// Suspend transitions IDLE -> SUSPENDED: pauses (a no-op if already
// IDLE) then clears formats on all ports.
func (n *Node) Suspend() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != StateIdle {
		return fmt.Errorf("node: Suspend: node %d not IDLE (is %s)", n.ID, n.state)
	}
	for _, p := range n.ports {
		_ = p.SetParam(proto.ParamFormat, proto.Pod{})
	}
	n.state = StateSuspended
	n.emit(interfaces.Event{Kind: "info"})
	return nil
}

// fail transitions the node to ERROR with a recorded reason; the
// scheduler keeps draining peers so the cycle does not stall (§4.4).
func (n *Node) fail(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.state = StateError
	n.err = err
	n.emit(interfaces.Event{Kind: "error", Message: err.Error()})
}

// Fail is the exported form of fail, for callers outside this package
// that need to move the node to ERROR.
func (n *Node) Fail(err error) { n.fail(err) }

// SetLatency derives quantum_size = flp2(num*48000/denom) from a
// NODE_LATENCY property and records it, matching §3's quantum_size
// derivation; denom of 0 leaves the node with no quantum preference.
func (n *Node) SetLatency(num, denom uint32) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if denom == 0 {
		n.quantumSize = 0
		return
	}
	n.quantumSize = walk.FLP2(num * constants.DefaultSampleRate / denom)
}

// QuantumSize returns the node's declared quantum preference, or 0 if
// none (§4.5's "min over non-zero quantum_size declarations").
func (n *Node) QuantumSize() uint32 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.quantumSize
}

// ApplyDriverInfo records the node's election outcome, called by the
// graph's main loop after every internal/walk.Compute run (§4.5).
func (n *Node) ApplyDriverInfo(isDriver bool, driverMapping *activation.Mapping) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isDriver = isDriver
	n.driverMapping = driverMapping
}

// IsDriver reports whether this node is the elected master for its
// component this epoch (§4.5's "master = true").
func (n *Node) IsDriver() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.isDriver
}

// ClaimSegment attempts to stage a new Segment into the driver's
// activation record under slot's ownership CAS, matching the
// reposition/segment_owner handshake of §3/§4.1 supplemented from
// original_source's pw_impl_node_set_position: the owner check happens
// before the copy, and the last successful CAS wins (no retry), per the
// Open Question decision recorded in the grounding ledger.
func (n *Node) ClaimSegment(slot int, owner uint32, seg proto.IOSegment) bool {
	n.mu.Lock()
	dm := n.driverMapping
	n.mu.Unlock()
	if dm == nil || slot < 0 || slot > 1 {
		return false
	}
	rec := dm.Record()
	old := rec.SegmentOwner[slot].Load()
	if !rec.SegmentOwner[slot].CompareAndSwap(old, owner) {
		return false
	}
	rec.Segment = seg
	return true
}

// Reposition stages a new Reposition segment on the driver's record
// under the reposition_owner CAS, matching pw_impl_node_set_position's
// owner-check-then-copy for the transport reposition request (supplement
// from original_source, §3's reposition_owner field).
func (n *Node) Reposition(owner uint32, seg proto.IOSegment) bool {
	n.mu.Lock()
	dm := n.driverMapping
	n.mu.Unlock()
	if dm == nil {
		return false
	}
	rec := dm.Record()
	if !rec.ClaimReposition(rec.RepositionOwner(), owner) {
		return false
	}
	rec.Reposition = seg
	rec.SetPendingNewPos(true)
	return true
}
