// Package control implements the §4.7 control channel: every
// operator-facing mutation against a running graph -- adding/removing a
// port, fixing a param, attaching an IO area, delivering a command,
// installing a buffer set, staging which activation mapping a node uses
// -- goes through a Controller rather than being poked directly at a
// node. Direct rename/generalization of the teacher's ctrl.Controller
// (AddDevice/SetParams/StartDevice/StopDevice/DeleteDevice against one
// block device) to the same verbs against the graph's node/port tables,
// plus the client->server message shapes (Update/PortUpdate/PortBuffers)
// the teacher never needed -- block devices have no remote client side --
// but which the original PipeWire core's pw_client_node protocol defines;
// supplemented per "read original_source/ and add dropped features".
package control

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-mediagraph/internal/activation"
	"github.com/ehrlich-b/go-mediagraph/internal/async"
	"github.com/ehrlich-b/go-mediagraph/internal/logging"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
	"github.com/ehrlich-b/go-mediagraph/internal/registry"
)

// Controller is the graph's control channel.
type Controller struct {
	reg     *registry.Registry
	pending *async.Pending
	logger  *logging.Logger

	mu          sync.Mutex
	activations map[uint32]*activation.Mapping
}

// NewController creates a Controller bound to reg.
func NewController(reg *registry.Registry, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{
		reg:         reg,
		pending:     async.New(),
		logger:      logger,
		activations: make(map[uint32]*activation.Mapping),
	}
}

// AddPort registers a port under nodeID, mirroring the teacher's
// AddDevice "publish a new managed object" shape.
func (c *Controller) AddPort(nodeID uint32, p *port.Port) error {
	entry, ok := c.reg.Node(nodeID)
	if !ok {
		return fmt.Errorf("control: AddPort: node %d not found", nodeID)
	}
	entry.Ports[p.ID] = p
	c.logger.Debugf("control: port %d added to node %d", p.ID, nodeID)
	return nil
}

// RemovePort unregisters a port.
func (c *Controller) RemovePort(nodeID, portID uint32) error {
	entry, ok := c.reg.Node(nodeID)
	if !ok {
		return fmt.Errorf("control: RemovePort: node %d not found", nodeID)
	}
	delete(entry.Ports, portID)
	c.logger.Debugf("control: port %d removed from node %d", portID, nodeID)
	return nil
}

// SetParam applies param to a node's implementation (§4.4, §7). A
// negative seq returned by the implementation means the change completes
// asynchronously; done is registered against that seq and invoked later
// via Complete rather than being called inline, matching the teacher's
// AsyncStartHandle pattern generalized from "one op, one handle" to "any
// seq, one pending table".
func (c *Controller) SetParam(nodeID uint32, id proto.ParamID, flags uint32, param *proto.Pod, done func(result int32, err error)) error {
	entry, ok := c.reg.Node(nodeID)
	if !ok {
		return fmt.Errorf("control: SetParam: node %d not found", nodeID)
	}
	seq, err := entry.Impl.SetParam(id, flags, param)
	if err != nil {
		return err
	}
	if seq >= 0 {
		if done != nil {
			done(seq, nil)
		}
		return nil
	}
	if done != nil {
		c.pending.RegisterAt(seq, done)
	}
	return nil
}

// Complete resolves a previously issued async SetParam, called when a
// node's result(seq, res) event arrives off the event bus (§7, §9).
func (c *Controller) Complete(seq int32, result int32, err error) {
	c.pending.Complete(seq, result, err)
}

// SetIO installs or clears an IO area on a node's implementation (§4.3).
func (c *Controller) SetIO(nodeID uint32, kind proto.IOAreaKind, ptr []byte) error {
	entry, ok := c.reg.Node(nodeID)
	if !ok {
		return fmt.Errorf("control: SetIO: node %d not found", nodeID)
	}
	return entry.Impl.SetIO(kind, ptr)
}

// Command delivers a Start/Pause/Suspend/Flush/... command (§6).
func (c *Controller) Command(nodeID uint32, cmd proto.Command) error {
	entry, ok := c.reg.Node(nodeID)
	if !ok {
		return fmt.Errorf("control: Command: node %d not found", nodeID)
	}
	return entry.Impl.SendCommand(cmd)
}

// PortBuffers installs a buffer set on a node's implementation. Named
// separately from the raw UseBuffers call on NodeImpl because, over a
// real transport, this is also the entry point for the client->server
// PortBuffersMsg below (§4.7 supplement: pw_client_node's "PortBuffers").
func (c *Controller) PortBuffers(nodeID uint32, flags uint32, buffers []proto.BufferDesc) error {
	entry, ok := c.reg.Node(nodeID)
	if !ok {
		return fmt.Errorf("control: PortBuffers: node %d not found", nodeID)
	}
	return entry.Impl.UseBuffers(flags, buffers)
}

// SetActivation installs the activation mapping a node uses. Over a real
// transport this is the step that passes the mapping's memfd to a remote
// node across SCM_RIGHTS (§4.7); in this single-process runtime it's a
// plain assignment recorded so tests and the main loop can look it up.
func (c *Controller) SetActivation(nodeID uint32, m *activation.Mapping) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activations[nodeID] = m
}

// Activation returns the activation mapping installed for nodeID, if any.
func (c *Controller) Activation(nodeID uint32) (*activation.Mapping, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.activations[nodeID]
	return m, ok
}

// Update is the client->server message a remote node's client side sends
// to report node-level info changes, pw_client_node's "Update" method
// (§4.7 supplement -- the teacher never needed this, block devices have
// no remote client side).
type Update struct {
	NodeID     uint32
	State      uint32
	ChangeMask uint32
	Props      proto.Pod
}

// PortUpdate reports a single port's current format/params from the
// client side, pw_client_node's "PortUpdate" analogue.
type PortUpdate struct {
	NodeID     uint32
	PortID     uint32
	Direction  port.Direction
	ChangeMask uint32
	Params     []proto.Pod
}

// PortBuffersMsg is the wire-level shape of a PortBuffers control
// message; the PortBuffers method above is what applies one once
// received via Transport.
type PortBuffersMsg struct {
	NodeID  uint32
	PortID  uint32
	Flags   uint32
	Buffers []proto.BufferDesc
}

// Transport applies one control message received from a remote client.
// Unrecognized message types are rejected rather than silently dropped;
// the control channel's own wire marshalling (turning these structs into
// bytes) is a documented Non-goal, so Transport only covers the
// already-decoded Go-level dispatch.
func (c *Controller) Transport(msg any) error {
	switch m := msg.(type) {
	case Update:
		c.logger.Debugf("control: update node=%d state=%d", m.NodeID, m.State)
		return nil
	case PortUpdate:
		c.logger.Debugf("control: port_update node=%d port=%d", m.NodeID, m.PortID)
		return nil
	case PortBuffersMsg:
		return c.PortBuffers(m.NodeID, m.Flags, m.Buffers)
	default:
		return fmt.Errorf("control: Transport: unrecognized message %T", msg)
	}
}
