package nodes

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

// toneFormat is the single fixed format TestSrc offers and TestSink
// accepts: mono, 32-bit float, interleaved.
func toneFormat(sampleRate uint32) proto.Pod {
	return proto.NewObjectBuilder(proto.ParamFormat).
		SetInt("channels", 1).
		SetInt("rate", int32(sampleRate)).
		SetString("format", "F32").
		Build()
}

// TestSrc is a single-output-port signal generator: every cycle it
// synthesizes one buffer's worth of a sine tone and hands it to its
// connected link, round-robining across whatever buffer set UseBuffers
// installed (§4.2 step 4, output side).
type TestSrc struct {
	port       *port.Port
	sampleRate uint32
	freqHz     float64

	mu      sync.Mutex
	buffers map[uint32]proto.BufferDesc
	order   []uint32
	next    int
	running bool
	phase   float64

	listeners []func(interfaces.Event)

	framesEmitted atomic.Uint64
}

// NewTestSrc creates a TestSrc bound to the given output port.
func NewTestSrc(p *port.Port, sampleRate uint32, freqHz float64) *TestSrc {
	return &TestSrc{
		port:       p,
		sampleRate: sampleRate,
		freqHz:     freqHz,
		buffers:    make(map[uint32]proto.BufferDesc),
	}
}

func (s *TestSrc) EnumParams(id proto.ParamID, index, max uint32, filter *proto.Pod) ([]proto.Pod, error) {
	switch id {
	case proto.ParamEnumFormat:
		if index > 0 {
			return nil, nil
		}
		return []proto.Pod{toneFormat(s.sampleRate)}, nil
	case proto.ParamFormat:
		return s.port.EnumParams(id, index, max)
	default:
		return nil, fmt.Errorf("nodes: TestSrc.EnumParams: unsupported param %s", id)
	}
}

func (s *TestSrc) SetParam(id proto.ParamID, flags uint32, param *proto.Pod) (int32, error) {
	if param == nil {
		return 0, fmt.Errorf("nodes: TestSrc.SetParam: nil param for %s", id)
	}
	if err := s.port.SetParam(id, *param); err != nil {
		return 0, err
	}
	return 0, nil
}

func (s *TestSrc) SetIO(id proto.IOAreaKind, ptr []byte) error {
	return s.port.SetIO(id, ptr)
}

// UseBuffers installs the buffer set and resets the round-robin cursor
// (§4.2 step 3).
func (s *TestSrc) UseBuffers(flags uint32, buffers []proto.BufferDesc) error {
	if err := s.port.UseBuffers(buffers); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffers = make(map[uint32]proto.BufferDesc, len(buffers))
	s.order = s.order[:0]
	for _, b := range buffers {
		s.buffers[b.ID] = b
		s.order = append(s.order, b.ID)
	}
	s.next = 0
	return nil
}

func (s *TestSrc) SendCommand(cmd proto.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch cmd {
	case proto.CommandStart:
		s.running = true
	case proto.CommandPause, proto.CommandSuspend:
		s.running = false
	}
	return nil
}

// Process synthesizes one cycle's worth of samples into the next buffer
// in rotation, pushes it to the connected link's ready-queue, and mirrors
// the hand-off in the shared IOBuffers area.
func (s *TestSrc) Process() (uint32, error) {
	s.mu.Lock()
	if !s.running || len(s.order) == 0 {
		s.mu.Unlock()
		return uint32(proto.StatusStopped), nil
	}
	bufID := s.order[s.next]
	s.next = (s.next + 1) % len(s.order)
	buf := s.buffers[bufID]
	phase := s.phase
	s.mu.Unlock()

	if len(buf.Blocks) == 0 {
		return 0, fmt.Errorf("nodes: TestSrc.Process: buffer %d has no data blocks", bufID)
	}
	block := buf.Blocks[0]
	samples := len(block.MemPtr) / 4
	step := 2 * math.Pi * s.freqHz / float64(s.sampleRate)
	for i := 0; i < samples; i++ {
		v := float32(math.Sin(phase) * 0.5)
		binary.LittleEndian.PutUint32(block.MemPtr[i*4:i*4+4], math.Float32bits(v))
		phase += step
		if phase > 2*math.Pi {
			phase -= 2 * math.Pi
		}
	}
	s.mu.Lock()
	s.phase = phase
	s.mu.Unlock()
	s.framesEmitted.Add(uint64(samples))

	if err := s.port.PushReady(bufID); err != nil && !port.IsWouldBlock(err) {
		return 0, fmt.Errorf("nodes: TestSrc.Process: push ready: %w", err)
	}
	if area := s.port.IOArea(proto.IOAreaBuffers); area != nil {
		view := proto.BuffersView(area)
		view.BufferID = bufID
		view.Status = proto.BufferStatusHaveData
	}
	return uint32(proto.StatusHaveData), nil
}

func (s *TestSrc) AddListener(fn func(interfaces.Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
	idx := len(s.listeners) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.listeners) {
			s.listeners[idx] = nil
		}
	}
}

func (s *TestSrc) ReuseBuffer(portID, bufferID uint32) error {
	return s.port.ReuseBuffer(bufferID)
}

// FramesEmitted reports the running sample count produced, for tests.
func (s *TestSrc) FramesEmitted() uint64 { return s.framesEmitted.Load() }

var _ interfaces.NodeImpl = (*TestSrc)(nil)
