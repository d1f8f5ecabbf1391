// Package port implements a node's ports: the format-negotiation state
// machine, the IO areas a port exposes to its driver, and the
// ready-queue a link moves buffer ids through every cycle (§3, §4.2,
// §4.3). Ready-queues and mix-slot fan-in use code.hybscloud.com/lfq's
// bounded lock-free SPSC/MPSC queues, grounded on
// other_examples/hayabusa-cloud-lfq (pitched explicitly at "Stage 1 ->
// Queue -> Stage 2" pipelines, which is exactly what a port's
// ready-queue is).
package port

import (
	"fmt"
	"sync"

	"code.hybscloud.com/lfq"

	"github.com/ehrlich-b/go-mediagraph/internal/constants"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

// Direction is whether a port produces (Output) or consumes (Input)
// data.
type Direction int

const (
	DirectionInput Direction = iota
	DirectionOutput
)

// Port is one node's connection point: a format, a buffer set, a set of
// attached IO areas, and the ready-queue a connected link moves buffer
// ids across (§3).
type Port struct {
	ID        uint32
	NodeID    uint32
	Direction Direction

	mu             sync.Mutex
	formatOffers   []proto.Pod // EnumFormat candidates, most to least preferred
	currentFormat  *proto.Pod
	buffers        []proto.BufferDesc
	ioAreas        map[proto.IOAreaKind][]byte

	// ready is the single-link ready-queue (one upstream, one
	// downstream): an output port's produced buffer ids queue here for
	// its single connected input. SPSC because §4.6 links are 1:1.
	ready *lfq.SPSC[uint32]

	// mix is populated only on an input port that is the fan-in side of
	// more than one link (a "mix_list" port, §3); multiple producers
	// push buffer ids concurrently so it needs MPSC.
	mix *lfq.MPSC[uint32]
}

// New creates a port with the default single-link ready-queue capacity.
func New(id, nodeID uint32, dir Direction) *Port {
	return &Port{
		ID:        id,
		NodeID:    nodeID,
		Direction: dir,
		ioAreas:   make(map[proto.IOAreaKind][]byte),
		ready:     lfq.NewSPSC[uint32](constants.DefaultMaxBuffers),
	}
}

// EnableMixing allocates the MPSC fan-in queue a multi-link input port
// needs, sized for up to constants.DefaultNumMixSlots concurrent
// producers in flight.
func (p *Port) EnableMixing() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mix == nil {
		p.mix = lfq.NewMPSC[uint32](constants.DefaultMaxBuffers * constants.DefaultNumMixSlots)
	}
}

// SetFormatOffers installs the EnumFormat candidate list a node answers
// with, most-preferred first (§4.2 step 1).
func (p *Port) SetFormatOffers(offers []proto.Pod) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.formatOffers = offers
}

// EnumParams answers a ParamEnumFormat or ParamFormat query against this
// port's state, restartable from index and capped at max results,
// matching the NodeImpl.EnumParams contract (§9). Any other param id,
// ParamIO and ParamBuffers included, returns an error.
func (p *Port) EnumParams(id proto.ParamID, index, max uint32) ([]proto.Pod, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch id {
	case proto.ParamEnumFormat:
		return sliceWindow(p.formatOffers, index, max), nil
	case proto.ParamFormat:
		if p.currentFormat == nil {
			return nil, nil
		}
		return []proto.Pod{*p.currentFormat}, nil
	default:
		return nil, fmt.Errorf("port: EnumParams: unsupported param %s", id)
	}
}

// SetParam fixates this port's format (or another negotiable param).
// Returning a negative seq isn't needed here: port-level format fixation
// completes synchronously once both sides have already intersected
// their EnumFormat offers (§4.2 step 2), unlike node-wide param changes
// which may complete asynchronously (§7).
func (p *Port) SetParam(id proto.ParamID, param proto.Pod) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch id {
	case proto.ParamFormat:
		if param.Type == proto.PodNone {
			// set_param(Format, NULL) clears the format and drops
			// buffers, transitioning the port back to CONFIGURE (§4.2).
			p.currentFormat = nil
			p.buffers = nil
			return nil
		}
		fixated := param
		p.currentFormat = &fixated
		return nil
	default:
		return fmt.Errorf("port: SetParam: unsupported param %s", id)
	}
}

// SetIO installs or clears (ptr == nil) an IO area by kind (§4.3).
func (p *Port) SetIO(kind proto.IOAreaKind, ptr []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ptr == nil {
		delete(p.ioAreas, kind)
		return nil
	}
	p.ioAreas[kind] = ptr
	return nil
}

// IOArea returns the raw bytes backing an attached IO area, or nil if
// none is attached.
func (p *Port) IOArea(kind proto.IOAreaKind) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ioAreas[kind]
}

// UseBuffers installs the buffer set this port will exchange (§4.2 step
// 3). Called after format negotiation settles; a non-empty set is
// rejected without a current format (§4.2's "a port rejects use_buffers
// without a current format"). Clearing buffers (an empty/nil set) is
// always allowed so Link.Disconnect can drop buffers before the format
// itself is cleared.
func (p *Port) UseBuffers(buffers []proto.BufferDesc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(buffers) > 0 && p.currentFormat == nil {
		return fmt.Errorf("port: UseBuffers: port %d has no current format", p.ID)
	}
	if len(buffers) > constants.DefaultMaxBuffers {
		return fmt.Errorf("port: UseBuffers: %d exceeds max buffers %d", len(buffers), constants.DefaultMaxBuffers)
	}
	p.buffers = buffers
	return nil
}

// Buffers returns the currently installed buffer set.
func (p *Port) Buffers() []proto.BufferDesc {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffers
}

// PushReady enqueues a produced buffer id for the connected link to pick
// up (§4.2 step 4, output side). Returns lfq's would-block error
// unchanged if the ready-queue is momentarily full; the caller (the
// cycle runner) treats that as backpressure, not a protocol error.
func (p *Port) PushReady(bufferID uint32) error {
	return p.ready.Enqueue(&bufferID)
}

// ReadyQueue exposes the port's underlying SPSC ready-queue so
// link.Connect can bind a connected input port onto the very same
// object its output produces into, rather than leave each side with its
// own independent (and therefore never-written) queue.
func (p *Port) ReadyQueue() *lfq.SPSC[uint32] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// AttachReadyQueue installs q as this port's ready-queue, replacing the
// one allocated in New. Used by link.Connect to make an input port share
// its single connected output's queue (§4.6).
func (p *Port) AttachReadyQueue(q *lfq.SPSC[uint32]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ready = q
}

// PopReady dequeues the next ready buffer id (§4.2 step 4, input side).
func (p *Port) PopReady() (uint32, error) {
	v, err := p.ready.Dequeue()
	if err != nil {
		return 0, err
	}
	return *v, nil
}

// PushMixed enqueues a buffer id on the multi-producer fan-in queue; the
// caller must have called EnableMixing first.
func (p *Port) PushMixed(bufferID uint32) error {
	if p.mix == nil {
		return fmt.Errorf("port: PushMixed: mixing not enabled on port %d", p.ID)
	}
	return p.mix.Enqueue(&bufferID)
}

// PopMixed dequeues the next buffer id from the fan-in queue.
func (p *Port) PopMixed() (uint32, error) {
	if p.mix == nil {
		return 0, fmt.Errorf("port: PopMixed: mixing not enabled on port %d", p.ID)
	}
	v, err := p.mix.Dequeue()
	if err != nil {
		return 0, err
	}
	return *v, nil
}

// ReuseBuffer returns a consumed buffer id back to circulation (inputs
// only, §4.2). Every id returned this way must belong to the port's
// current buffer set or the call errors rather than silently accepting
// a stale or foreign id (§8's "every B returned to P's ready-queue via
// reuse_buffer is either in buffers[] or the call returns an error").
// On success the id is pushed back onto the ready-queue exactly like
// PushReady, so the id actually recirculates instead of disappearing.
func (p *Port) ReuseBuffer(bufferID uint32) error {
	p.mu.Lock()
	found := false
	for _, b := range p.buffers {
		if b.ID == bufferID {
			found = true
			break
		}
	}
	p.mu.Unlock()
	if !found {
		return fmt.Errorf("port: ReuseBuffer: buffer %d not in port %d's buffer set", bufferID, p.ID)
	}
	return p.ready.Enqueue(&bufferID)
}

// IsWouldBlock reports whether err is lfq's transient full/empty signal,
// re-exported so callers don't need to import code.hybscloud.com/lfq
// directly just to check it.
func IsWouldBlock(err error) bool {
	return lfq.IsWouldBlock(err)
}

func sliceWindow(pods []proto.Pod, index, max uint32) []proto.Pod {
	if index >= uint32(len(pods)) {
		return nil
	}
	end := index + max
	if end > uint32(len(pods)) || max == 0 {
		end = uint32(len(pods))
	}
	return pods[index:end]
}
