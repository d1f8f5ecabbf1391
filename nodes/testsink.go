package nodes

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

// TestSink is a single-input-port signal drain: every cycle it pops
// whatever buffer the connected link's ready-queue has available and
// appends its contents to a fixed-capacity capture buffer, so tests can
// assert on exactly what a source produced (§4.2 step 4, input side).
type TestSink struct {
	port          *port.Port
	captureFrames int64

	mu      sync.Mutex
	buffers map[uint32]proto.BufferDesc

	capture *captureBuffer

	framesReceived atomic.Uint64
	cyclesConsumed atomic.Uint64
	underruns      atomic.Uint64

	listeners []func(interfaces.Event)
}

// NewTestSink creates a TestSink bound to the given input port, with a
// capture buffer sized to hold captureFrames mono float32 samples.
func NewTestSink(p *port.Port, captureFrames int64) *TestSink {
	return &TestSink{
		port:          p,
		captureFrames: captureFrames,
		buffers:       make(map[uint32]proto.BufferDesc),
		capture:       newCaptureBuffer(captureFrames * 4),
	}
}

func (k *TestSink) EnumParams(id proto.ParamID, index, max uint32, filter *proto.Pod) ([]proto.Pod, error) {
	switch id {
	case proto.ParamEnumFormat:
		if index > 0 {
			return nil, nil
		}
		return []proto.Pod{toneFormat(48000)}, nil
	case proto.ParamFormat:
		return k.port.EnumParams(id, index, max)
	default:
		return nil, fmt.Errorf("nodes: TestSink.EnumParams: unsupported param %s", id)
	}
}

func (k *TestSink) SetParam(id proto.ParamID, flags uint32, param *proto.Pod) (int32, error) {
	if param == nil {
		return 0, fmt.Errorf("nodes: TestSink.SetParam: nil param for %s", id)
	}
	if err := k.port.SetParam(id, *param); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *TestSink) SetIO(id proto.IOAreaKind, ptr []byte) error {
	return k.port.SetIO(id, ptr)
}

func (k *TestSink) UseBuffers(flags uint32, buffers []proto.BufferDesc) error {
	if err := k.port.UseBuffers(buffers); err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.buffers = make(map[uint32]proto.BufferDesc, len(buffers))
	for _, b := range buffers {
		k.buffers[b.ID] = b
	}
	return nil
}

func (k *TestSink) SendCommand(cmd proto.Command) error {
	return nil
}

// Process drains the next ready buffer id and appends its data to the
// capture buffer; an empty ready-queue is reported as NeedData rather
// than an error, matching an upstream stall (§8 S3's "follower xrun")
// rather than a protocol violation.
func (k *TestSink) Process() (uint32, error) {
	bufID, err := k.port.PopReady()
	if err != nil {
		if port.IsWouldBlock(err) {
			k.underruns.Add(1)
			return uint32(proto.StatusNeedData), nil
		}
		return 0, fmt.Errorf("nodes: TestSink.Process: pop ready: %w", err)
	}

	k.mu.Lock()
	buf, ok := k.buffers[bufID]
	k.mu.Unlock()
	if !ok || len(buf.Blocks) == 0 {
		return 0, fmt.Errorf("nodes: TestSink.Process: unknown buffer %d", bufID)
	}

	block := buf.Blocks[0]
	offset := int64(k.framesReceived.Load()) * 4
	if _, err := k.capture.WriteAt(block.MemPtr, offset); err != nil {
		return 0, fmt.Errorf("nodes: TestSink.Process: capture: %w", err)
	}
	k.framesReceived.Add(uint64(len(block.MemPtr) / 4))
	k.cyclesConsumed.Add(1)

	if area := k.port.IOArea(proto.IOAreaBuffers); area != nil {
		view := proto.BuffersView(area)
		view.BufferID = bufID
		view.Status = proto.BufferStatusNeedData
	}
	return uint32(proto.StatusNeedData), nil
}

func (k *TestSink) AddListener(fn func(interfaces.Event)) func() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.listeners = append(k.listeners, fn)
	idx := len(k.listeners) - 1
	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		if idx < len(k.listeners) {
			k.listeners[idx] = nil
		}
	}
}

func (k *TestSink) ReuseBuffer(portID, bufferID uint32) error {
	return k.port.ReuseBuffer(bufferID)
}

// FramesReceived reports the running sample count consumed, for tests.
func (k *TestSink) FramesReceived() uint64 { return k.framesReceived.Load() }

// CyclesConsumed reports how many Process calls actually drained a buffer.
func (k *TestSink) CyclesConsumed() uint64 { return k.cyclesConsumed.Load() }

// Underruns reports how many Process calls found the ready-queue empty.
func (k *TestSink) Underruns() uint64 { return k.underruns.Load() }

// Captured copies n bytes of captured PCM starting at byte offset off,
// for tests asserting on exactly what a source produced.
func (k *TestSink) Captured(off int64, n int) ([]byte, error) {
	out := make([]byte, n)
	read, err := k.capture.ReadAt(out, off)
	if err != nil {
		return nil, err
	}
	return out[:read], nil
}

var _ interfaces.NodeImpl = (*TestSink)(nil)
