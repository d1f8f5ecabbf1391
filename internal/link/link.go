// Package link implements the 4-step connect/disconnect bind of §4.6:
// allocate a mix slot on each side, install a shared IOBuffers area,
// install the negotiated format and buffers, then mark the link active.
// Adding the pair to the driver's graph (the walk recompute) is left to
// the caller. Grounded on §4.6 directly; the ready/"n_ready" counting
// mirrors the activation bookkeeping implicit in the teacher's
// Device.runners lifecycle (backend.go's CreateAndServe/StopAndDelete
// start/stop symmetry becomes Connect/Disconnect's mirrored steps here).
package link

import (
	"fmt"

	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

// Link is a directed connection from an output port to an input port.
type Link struct {
	ID  uint32
	Out *port.Port
	In  *port.Port

	ioBuffers []byte
	active    bool
}

// Connect runs the §4.6 bind sequence and returns the live Link. format
// is the already-negotiated ParamFormat pod (callers typically obtain it
// via port.Negotiate immediately before calling Connect).
func Connect(id uint32, out, in *port.Port, format proto.Pod, buffers []proto.BufferDesc) (*Link, error) {
	if out.Direction != port.DirectionOutput {
		return nil, fmt.Errorf("link: Connect: port %d is not an output port", out.ID)
	}
	if in.Direction != port.DirectionInput {
		return nil, fmt.Errorf("link: Connect: port %d is not an input port", in.ID)
	}

	// Step 0: bind the input side onto the output's own ready-queue.
	// Each port.New() allocates an independent SPSC queue; without this,
	// an output's PushReady and its connected input's PopReady would
	// operate on two queues that never talk to each other.
	in.AttachReadyQueue(out.ReadyQueue())

	// Step 1: allocate a mix slot on each side. The output side never
	// needs fan-in; only an input port that accepts more than one link
	// (MULTI) needs its MPSC mix queue enabled.
	in.EnableMixing()

	// Step 2: shared io_buffers installed with the same backing region
	// on both sides.
	ioBuffers := make([]byte, 8) // BufferStatus(u32) + BufferID(u32)
	if err := out.SetIO(proto.IOAreaBuffers, ioBuffers); err != nil {
		return nil, fmt.Errorf("link: Connect: set_io(out): %w", err)
	}
	if err := in.SetIO(proto.IOAreaBuffers, ioBuffers); err != nil {
		out.SetIO(proto.IOAreaBuffers, nil)
		return nil, fmt.Errorf("link: Connect: set_io(in): %w", err)
	}

	// Step 3: format is already negotiated by the caller; fixate
	// buffers. The output port is the allocator in this implementation
	// (it owns the data produced); the input side installs the same
	// descriptor slice unchanged, with no read-only marking.
	if err := out.SetParam(proto.ParamFormat, format); err != nil {
		return nil, err
	}
	if err := in.SetParam(proto.ParamFormat, format); err != nil {
		return nil, err
	}
	if err := out.UseBuffers(buffers); err != nil {
		return nil, fmt.Errorf("link: Connect: use_buffers(out): %w", err)
	}
	if err := in.UseBuffers(buffers); err != nil {
		return nil, fmt.Errorf("link: Connect: use_buffers(in): %w", err)
	}

	l := &Link{ID: id, Out: out, In: in, ioBuffers: ioBuffers, active: true}
	return l, nil
}

// Disconnect is the mirror of Connect: clear buffers, clear the shared
// IO area, and mark the link inactive. The caller is responsible for
// triggering the main-loop graph recalculation afterward (§4.6, §4.5).
func (l *Link) Disconnect() error {
	if !l.active {
		return nil
	}
	var firstErr error
	if err := l.Out.UseBuffers(nil); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.In.UseBuffers(nil); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.Out.SetIO(proto.IOAreaBuffers, nil); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := l.In.SetIO(proto.IOAreaBuffers, nil); err != nil && firstErr == nil {
		firstErr = err
	}
	l.active = false
	return firstErr
}

// Active reports whether this link is currently installed.
func (l *Link) Active() bool { return l.active }

// IOBuffers returns the shared Buffers IO-area bytes installed on both
// endpoints during Connect, so a caller driving the control channel
// (internal/control.Controller) can hand the identical slice to each
// side's NodeImpl.SetIO.
func (l *Link) IOBuffers() []byte { return l.ioBuffers }
