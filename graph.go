// Package mediagraph implements a multimedia processing graph runtime: a
// node/port model scheduled over a shared-memory activation protocol
// (§3, §4), with driver election and a single-writer-per-field cycle
// state machine pacing every node's hot loop. Generalized from the
// teacher's (go-ublk) Device/CreateAndServe device lifecycle: where the
// teacher owned exactly one block device and its queue runners, Graph
// owns an arbitrary node/port/link topology and a NodeRunner per node.
package mediagraph

import (
	"context"
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-mediagraph/internal/activation"
	"github.com/ehrlich-b/go-mediagraph/internal/constants"
	"github.com/ehrlich-b/go-mediagraph/internal/control"
	"github.com/ehrlich-b/go-mediagraph/internal/cycle"
	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/link"
	"github.com/ehrlich-b/go-mediagraph/internal/logging"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
	"github.com/ehrlich-b/go-mediagraph/internal/registry"
	"github.com/ehrlich-b/go-mediagraph/internal/walk"

	graphnode "github.com/ehrlich-b/go-mediagraph/node"
	graphport "github.com/ehrlich-b/go-mediagraph/internal/port"
)

// GraphParams configures a Graph, matching the teacher's
// DeviceParams/DefaultParams plain-struct-plus-defaults style (§6's
// NODE_NAME/NODE_PAUSE_ON_IDLE/NODE_DRIVER/NODE_LATENCY configuration
// surface, at the graph scope rather than per-node).
type GraphParams struct {
	SampleRate  uint32
	QuantumSize uint32
	CPUAffinity []int
	Logger      *logging.Logger
	Observer    interfaces.Observer
}

// DefaultGraphParams mirrors the teacher's DefaultParams: sensible
// defaults a caller can override individual fields of.
func DefaultGraphParams() GraphParams {
	return GraphParams{
		SampleRate:  constants.DefaultSampleRate,
		QuantumSize: constants.DefaultQuantumSize,
	}
}

// NodeParams configures one node at AddNode time (§6's per-node
// configuration properties).
type NodeParams struct {
	Name         string
	CanDrive     bool
	WantDriver   bool
	PauseOnIdle  bool
	LatencyNum   uint32
	LatencyDenom uint32
}

// Graph is one scheduled node/port/link topology: the public entry point
// replacing the teacher's Device. AddNode/AddPort/Connect build the
// topology; Start elects drivers, computes target lists, and launches one
// NodeRunner per node; Stop/Close tear it back down.
type Graph struct {
	mu     sync.Mutex
	params GraphParams
	logger *logging.Logger

	reg     *registry.Registry
	ctrl    *control.Controller
	metrics *Metrics

	nodes   map[uint32]*graphnode.Node
	runners map[uint32]*cycle.NodeRunner
	links   map[uint32]*link.Link

	nextNodeID uint32
	nextPortID uint32
	nextLinkID uint32

	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// NewGraph creates an empty Graph, applying GraphParams defaults the same
// way the teacher's CreateAndServe applies DeviceParams defaults before
// touching the kernel.
func NewGraph(params GraphParams) *Graph {
	if params.SampleRate == 0 {
		params.SampleRate = constants.DefaultSampleRate
	}
	if params.QuantumSize == 0 {
		params.QuantumSize = constants.DefaultQuantumSize
	}
	if params.Logger == nil {
		params.Logger = logging.Default()
	}
	metrics := NewMetrics()
	if params.Observer == nil {
		params.Observer = NewMetricsObserver(metrics)
	}
	reg := registry.New()
	return &Graph{
		params:  params,
		logger:  params.Logger,
		reg:     reg,
		ctrl:    control.NewController(reg, params.Logger),
		metrics: metrics,
		nodes:   make(map[uint32]*graphnode.Node),
		runners: make(map[uint32]*cycle.NodeRunner),
		links:   make(map[uint32]*link.Link),
	}
}

// AddNode registers a new node backed by impl, returning its id.
func (g *Graph) AddNode(impl interfaces.NodeImpl, np NodeParams) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := g.nextNodeID
	g.nextNodeID++

	n, err := graphnode.New(id, np.CanDrive, np.WantDriver)
	if err != nil {
		return 0, NewNodeError("AddNode", id, ErrCodeFatal, err.Error())
	}
	if np.LatencyDenom != 0 {
		n.SetLatency(np.LatencyNum, np.LatencyDenom)
	}
	g.nodes[id] = n
	g.reg.AddNode(&registry.NodeEntry{ID: id, Impl: impl, Ports: make(map[uint32]*graphport.Port)})
	g.logger.Infof("graph: node %d added (can_drive=%v want_driver=%v)", id, np.CanDrive, np.WantDriver)
	return id, nil
}

// AddPort attaches p to nodeID, assigning it the graph's next port id. p
// must be the same *port.Port the caller's NodeImpl was built around
// (e.g. the port passed into nodes.NewTestSrc): AddPort does not fabricate
// a separate bookkeeping port, because a NodeImpl reads and writes its
// format/buffers/ready-queue through its own port object, and a second,
// disconnected one would never see any of that traffic.
func (g *Graph) AddPort(nodeID uint32, p *graphport.Port) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[nodeID]
	if !ok {
		return 0, NewNodeError("AddPort", nodeID, ErrCodeState, ErrNodeNotFound.Error())
	}
	pid := g.nextPortID
	g.nextPortID++
	p.ID = pid
	p.NodeID = nodeID
	if err := n.AddPort(p); err != nil {
		return 0, NewPortError("AddPort", nodeID, pid, ErrCodeState, err.Error())
	}
	if err := g.ctrl.AddPort(nodeID, p); err != nil {
		return 0, NewPortError("AddPort", nodeID, pid, ErrCodeState, err.Error())
	}
	return pid, nil
}

// SetPortFormatOffers installs the EnumFormat candidate list a port
// answers with, a thin pass-through needed before Connect can negotiate
// (§4.2 step 1).
func (g *Graph) SetPortFormatOffers(nodeID, portID uint32, offers []proto.Pod) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, err := g.portLocked(nodeID, portID)
	if err != nil {
		return err
	}
	p.SetFormatOffers(offers)
	return nil
}

func (g *Graph) portLocked(nodeID, portID uint32) (*graphport.Port, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil, NewNodeError("portLookup", nodeID, ErrCodeState, ErrNodeNotFound.Error())
	}
	p, ok := n.Port(portID)
	if !ok {
		return nil, NewPortError("portLookup", nodeID, portID, ErrCodeState, ErrPortNotFound.Error())
	}
	return p, nil
}

// Connect negotiates a format between outPort and inPort, allocates
// bufferCount buffers of bufferSize bytes each, and binds the two ports
// via the §4.6 four-step protocol, returning the new link's id.
func (g *Graph) Connect(outNodeID, outPortID, inNodeID, inPortID uint32, bufferCount, bufferSize int) (uint32, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	outPort, err := g.portLocked(outNodeID, outPortID)
	if err != nil {
		return 0, err
	}
	inPort, err := g.portLocked(inNodeID, inPortID)
	if err != nil {
		return 0, err
	}

	format, err := graphport.Negotiate(outPort, inPort)
	if err != nil {
		return 0, NewError("Connect", ErrCodeProtocol, err.Error())
	}

	buffers := allocateBuffers(bufferCount, bufferSize)
	id := g.nextLinkID
	g.nextLinkID++

	l, err := link.Connect(id, outPort, inPort, format, buffers)
	if err != nil {
		return 0, NewError("Connect", ErrCodeProtocol, err.Error())
	}

	// Drive the same decisions through the control channel so each
	// endpoint's NodeImpl actually observes them (§4.7), not just its
	// bookkeeping *port.Port -- a real pw_client_node transport would
	// deliver exactly these as SetParam/SetIO/PortBuffers control
	// messages rather than let a remote client poke the port directly.
	if err := g.ctrl.SetParam(outNodeID, proto.ParamFormat, 0, &format, nil); err != nil {
		return 0, NewError("Connect", ErrCodeProtocol, err.Error())
	}
	if err := g.ctrl.SetParam(inNodeID, proto.ParamFormat, 0, &format, nil); err != nil {
		return 0, NewError("Connect", ErrCodeProtocol, err.Error())
	}
	if err := g.ctrl.SetIO(outNodeID, proto.IOAreaBuffers, l.IOBuffers()); err != nil {
		return 0, NewError("Connect", ErrCodeProtocol, err.Error())
	}
	if err := g.ctrl.SetIO(inNodeID, proto.IOAreaBuffers, l.IOBuffers()); err != nil {
		return 0, NewError("Connect", ErrCodeProtocol, err.Error())
	}
	if err := g.ctrl.PortBuffers(outNodeID, 0, buffers); err != nil {
		return 0, NewError("Connect", ErrCodeProtocol, err.Error())
	}
	if err := g.ctrl.PortBuffers(inNodeID, 0, buffers); err != nil {
		return 0, NewError("Connect", ErrCodeProtocol, err.Error())
	}

	g.links[id] = l
	g.reg.AddLink(l)

	g.nodes[outNodeID].MarkLinkReady(graphport.DirectionOutput, 1)
	g.nodes[inNodeID].MarkLinkReady(graphport.DirectionInput, 1)

	g.recomputeLocked()
	return id, nil
}

// ClaimSegment stages a new IOSegment onto the elected driver's activation
// record on behalf of nodeID, under the §3/§4.1 segment_owner CAS for the
// given slot. The driver's own next cycle picks the staged value up via
// ActivationRecord.ApplyStagedSegment; a rejected claim (lost CAS race, or
// nodeID has no elected driver yet) is reported back rather than silently
// dropped.
func (g *Graph) ClaimSegment(nodeID uint32, slot int, seg proto.IOSegment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return NewNodeError("ClaimSegment", nodeID, ErrCodeState, ErrNodeNotFound.Error())
	}
	if !n.ClaimSegment(slot, nodeID, seg) {
		return NewNodeError("ClaimSegment", nodeID, ErrCodeProtocol, ErrSegmentClaimRejected.Error())
	}
	return nil
}

// Reposition requests a transport reposition on behalf of nodeID, staged
// onto the elected driver's record under the reposition_owner CAS (§3,
// §8 S4). The driver applies it at the top of its next cycle.
func (g *Graph) Reposition(nodeID uint32, seg proto.IOSegment) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return NewNodeError("Reposition", nodeID, ErrCodeState, ErrNodeNotFound.Error())
	}
	if !n.Reposition(nodeID, seg) {
		return NewNodeError("Reposition", nodeID, ErrCodeProtocol, ErrRepositionRejected.Error())
	}
	return nil
}

// Disconnect tears down a link and triggers the graph recalculation §4.6
// requires afterward.
func (g *Graph) Disconnect(linkID uint32) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.links[linkID]
	if !ok {
		return NewError("Disconnect", ErrCodeState, ErrLinkNotFound.Error())
	}
	if err := l.Disconnect(); err != nil {
		return NewError("Disconnect", ErrCodeState, err.Error())
	}
	g.nodes[l.Out.NodeID].MarkLinkReady(graphport.DirectionOutput, -1)
	g.nodes[l.In.NodeID].MarkLinkReady(graphport.DirectionInput, -1)
	delete(g.links, linkID)
	g.reg.RemoveLink(linkID)

	g.recomputeLocked()
	return nil
}

// allocateBuffers builds count BufferDesc entries, each one MemPtr-backed
// data block of size bytes, matching the teacher's backend.NewMemory
// preallocation style (one fixed arena, no per-cycle allocation).
func allocateBuffers(count, size int) []proto.BufferDesc {
	bufs := make([]proto.BufferDesc, count)
	for i := 0; i < count; i++ {
		bufs[i] = proto.BufferDesc{
			ID: uint32(i),
			Blocks: []proto.DataBlock{{
				Type:   proto.DataTypeMemPtr,
				Flags:  proto.BufferFlagReadable | proto.BufferFlagWritable,
				Size:   uint32(size),
				MemPtr: make([]byte, size),
			}},
		}
	}
	return bufs
}

// recomputeLocked reruns the §4.5 graph walk and applies its outcome to
// every node and (if Start has already run) every live NodeRunner. Caller
// must hold g.mu.
func (g *Graph) recomputeLocked() walk.Plan {
	infos := make([]walk.NodeInfo, 0, len(g.nodes))
	for id, n := range g.nodes {
		infos = append(infos, walk.NodeInfo{
			ID:          id,
			CanDrive:    n.CanDrive,
			WantDriver:  n.WantDriver,
			QuantumSize: n.QuantumSize(),
		})
	}
	links := make([]*link.Link, 0, len(g.links))
	for _, l := range g.links {
		links = append(links, l)
	}
	plan := walk.Compute(infos, links)

	for id, n := range g.nodes {
		driverID, hasDriver := plan.DriverOf[id]
		var driverMapping *activation.Mapping
		if hasDriver {
			if dn, ok := g.nodes[driverID]; ok {
				driverMapping = dn.Mapping()
			}
		}
		isDriver := hasDriver && driverID == id
		n.ApplyDriverInfo(isDriver, driverMapping)
		if r, ok := g.runners[id]; ok {
			r.SetDriver(isDriver)
			r.SetTargets(plan.Required[id], plan.TargetLists[id], g.mappingsForLocked(plan.TargetLists[id]))
			if isDriver {
				r.SetRoots(plan.Roots[id], g.mappingsForIDsLocked(plan.Roots[id]))
			}
		}
	}
	return plan
}

func (g *Graph) mappingsForLocked(targets []walk.Target) map[uint32]*activation.Mapping {
	out := make(map[uint32]*activation.Mapping, len(targets))
	for _, t := range targets {
		if n, ok := g.nodes[t.NodeID]; ok {
			out[t.NodeID] = n.Mapping()
		}
	}
	return out
}

func (g *Graph) mappingsForIDsLocked(ids []uint32) map[uint32]*activation.Mapping {
	out := make(map[uint32]*activation.Mapping, len(ids))
	for _, id := range ids {
		if n, ok := g.nodes[id]; ok {
			out[id] = n.Mapping()
		}
	}
	return out
}

// Start elects drivers, computes every node's target list, transitions
// every node through register/ready/active, and launches one NodeRunner
// per node (§4.1, §4.4, §4.5).
func (g *Graph) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return NewError("Start", ErrCodeState, ErrAlreadyRunning.Error())
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())

	plan := g.recomputeLocked()

	for id, n := range g.nodes {
		driverID, hasDriver := plan.DriverOf[id]
		var driverMapping *activation.Mapping
		if hasDriver {
			if dn, ok := g.nodes[driverID]; ok {
				driverMapping = dn.Mapping()
			}
		}
		if err := n.Register(driverMapping); err != nil {
			g.cancel()
			return NewNodeError("Start", id, ErrCodeState, err.Error())
		}
		if err := n.ReadyForIdle(); err != nil {
			g.cancel()
			return NewNodeError("Start", id, ErrCodeState, err.Error())
		}
		n.SetActive(true)
		n.ApplyDriverInfo(hasDriver && driverID == id, driverMapping)
		g.ctrl.SetActivation(id, n.Mapping())

		entry, ok := g.reg.Node(id)
		if !ok {
			g.cancel()
			return NewNodeError("Start", id, ErrCodeFatal, fmt.Sprintf("node %d missing registry entry", id))
		}
		r := cycle.New(g.ctx, cycle.Config{
			NodeID:      id,
			Impl:        entry.Impl,
			Mapping:     n.Mapping(),
			IsDriver:    hasDriver && driverID == id,
			QuantumSize: plan.QuantumSize,
			SampleRate:  g.params.SampleRate,
			CPUAffinity: g.params.CPUAffinity,
			Logger:      g.logger,
			Observer:    g.params.Observer,
		})
		r.SetTargets(plan.Required[id], plan.TargetLists[id], g.mappingsForLocked(plan.TargetLists[id]))
		if hasDriver && driverID == id {
			r.SetRoots(plan.Roots[id], g.mappingsForIDsLocked(plan.Roots[id]))
		}
		g.runners[id] = r
	}

	for id, n := range g.nodes {
		if !n.StartConditionMet() {
			continue
		}
		entry, _ := g.reg.Node(id)
		if err := n.Start(entry.Impl); err != nil {
			g.cancel()
			return NewNodeError("Start", id, ErrCodeScheduling, err.Error())
		}
		if n.IsDriver() {
			// Arms the STOPPED->STARTING transition this driver reads
			// at the top of its next cycle (§4.1 step 1).
			n.Mapping().Record().SwapCommand(proto.ActivationCommandStart)
		}
	}
	for id, r := range g.runners {
		if err := r.Start(); err != nil {
			g.cancel()
			return NewNodeError("Start", id, ErrCodeScheduling, err.Error())
		}
	}

	g.running = true
	return nil
}

// Stop pauses every node and halts its NodeRunner, leaving the topology
// intact so Start can resume it later.
func (g *Graph) Stop() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.running {
		return nil
	}
	for _, r := range g.runners {
		_ = r.Stop()
	}
	for id, n := range g.nodes {
		if n.State() != graphnode.StateRunning {
			continue
		}
		entry, ok := g.reg.Node(id)
		if !ok {
			continue
		}
		if err := n.Pause(entry.Impl); err != nil {
			g.logger.Warnf("graph: stop: node %d: %v", id, err)
		}
	}
	if g.cancel != nil {
		g.cancel()
	}
	g.running = false
	return nil
}

// Close stops the graph and releases every node's activation mapping.
func (g *Graph) Close() error {
	_ = g.Stop()
	g.mu.Lock()
	defer g.mu.Unlock()
	var firstErr error
	for _, r := range g.runners {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Metrics returns a point-in-time snapshot of per-node cycle metrics.
func (g *Graph) Metrics() MetricsSnapshot {
	return g.metrics.Snapshot()
}

// NodeState returns the lifecycle state of nodeID.
func (g *Graph) NodeState(nodeID uint32) (graphnode.State, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[nodeID]
	if !ok {
		return 0, NewNodeError("NodeState", nodeID, ErrCodeState, ErrNodeNotFound.Error())
	}
	return n.State(), nil
}
