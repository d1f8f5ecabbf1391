package mediagraph

import (
	"sync"

	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

// MockNode provides a mock implementation of interfaces.NodeImpl for
// testing graph wiring without a real codec backend (§1: ALSA/V4L2/etc.
// are out of scope; this is the in-core stand-in). It implements the
// full §9 capability set and tracks method calls for verification,
// mirroring the teacher's MockBackend (call-count tracking,
// IsClosed()-style inspection).
type MockNode struct {
	mu sync.RWMutex

	processCalls    int
	setParamCalls   int
	setIOCalls      int
	useBuffersCalls int
	commandCalls    int
	reuseCalls      int

	processFunc func() (uint32, error)
	params      map[proto.ParamID]proto.Pod
	ioAreas     map[proto.IOAreaKind][]byte
	buffers     []proto.BufferDesc
	commands    []proto.Command
	listeners   []func(interfaces.Event)

	closed bool
}

// NewMockNode creates a new mock node. processFunc, if non-nil, is
// invoked by Process(); otherwise Process() returns StatusOK
// unconditionally.
func NewMockNode(processFunc func() (uint32, error)) *MockNode {
	return &MockNode{
		processFunc: processFunc,
		params:      make(map[proto.ParamID]proto.Pod),
		ioAreas:     make(map[proto.IOAreaKind][]byte),
	}
}

func (m *MockNode) EnumParams(id proto.ParamID, index, max uint32, filter *proto.Pod) ([]proto.Pod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.params[id]; ok {
		return []proto.Pod{p}, nil
	}
	return nil, nil
}

func (m *MockNode) SetParam(id proto.ParamID, flags uint32, param *proto.Pod) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setParamCalls++
	if param == nil {
		delete(m.params, id)
		return 0, nil
	}
	m.params[id] = *param
	return 0, nil
}

func (m *MockNode) SetIO(id proto.IOAreaKind, ptr []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setIOCalls++
	if ptr == nil {
		delete(m.ioAreas, id)
		return nil
	}
	m.ioAreas[id] = ptr
	return nil
}

func (m *MockNode) UseBuffers(flags uint32, buffers []proto.BufferDesc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.useBuffersCalls++
	m.buffers = buffers
	return nil
}

func (m *MockNode) SendCommand(cmd proto.Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commandCalls++
	m.commands = append(m.commands, cmd)
	return nil
}

func (m *MockNode) Process() (uint32, error) {
	m.mu.Lock()
	m.processCalls++
	fn := m.processFunc
	closed := m.closed
	m.mu.Unlock()

	if closed {
		return uint32(proto.StatusStopped), ErrNotRunning
	}
	if fn != nil {
		return fn()
	}
	return uint32(proto.StatusOK), nil
}

func (m *MockNode) AddListener(fn func(interfaces.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
	idx := len(m.listeners) - 1
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if idx < len(m.listeners) {
			m.listeners[idx] = nil
		}
	}
}

func (m *MockNode) ReuseBuffer(portID uint32, bufferID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reuseCalls++
	return nil
}

// Close marks the node closed; subsequent Process() calls return
// ErrNotRunning, matching MockBackend's closed-after-Close() behavior.
func (m *MockNode) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

// IsClosed reports whether Close has been called.
func (m *MockNode) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// ProcessCalls returns the number of times Process was invoked.
func (m *MockNode) ProcessCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processCalls
}

// CallCounts returns a snapshot of every method's call count, matching
// the teacher's MockBackend call-count inspection helpers.
func (m *MockNode) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"Process":    m.processCalls,
		"SetParam":   m.setParamCalls,
		"SetIO":      m.setIOCalls,
		"UseBuffers": m.useBuffersCalls,
		"Command":    m.commandCalls,
		"ReuseBuffer": m.reuseCalls,
	}
}

var _ interfaces.NodeImpl = (*MockNode)(nil)
