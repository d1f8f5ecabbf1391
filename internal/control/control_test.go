package control

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-mediagraph/internal/activation"
	"github.com/ehrlich-b/go-mediagraph/internal/interfaces"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
	"github.com/ehrlich-b/go-mediagraph/internal/registry"
)

type stubImpl struct {
	setParamSeq  int32
	setParamErr  error
	lastCommand  proto.Command
	lastBuffers  []proto.BufferDesc
	lastIOKind   proto.IOAreaKind
	lastIOPtr    []byte
}

func (s *stubImpl) EnumParams(id proto.ParamID, index, max uint32, filter *proto.Pod) ([]proto.Pod, error) {
	return nil, nil
}

func (s *stubImpl) SetParam(id proto.ParamID, flags uint32, param *proto.Pod) (int32, error) {
	return s.setParamSeq, s.setParamErr
}

func (s *stubImpl) SetIO(id proto.IOAreaKind, ptr []byte) error {
	s.lastIOKind, s.lastIOPtr = id, ptr
	return nil
}

func (s *stubImpl) UseBuffers(flags uint32, buffers []proto.BufferDesc) error {
	s.lastBuffers = buffers
	return nil
}

func (s *stubImpl) SendCommand(cmd proto.Command) error {
	s.lastCommand = cmd
	return nil
}

func (s *stubImpl) Process() (uint32, error) { return 0, nil }

func (s *stubImpl) AddListener(fn func(interfaces.Event)) func() { return func() {} }

func (s *stubImpl) ReuseBuffer(portID, bufferID uint32) error { return nil }

var _ interfaces.NodeImpl = (*stubImpl)(nil)

func newTestController(t *testing.T) (*Controller, *stubImpl) {
	t.Helper()
	reg := registry.New()
	impl := &stubImpl{}
	reg.AddNode(&registry.NodeEntry{ID: 1, Impl: impl, Ports: make(map[uint32]*port.Port)})
	return NewController(reg, nil), impl
}

func TestControllerAddRemovePort(t *testing.T) {
	c, _ := newTestController(t)
	p := port.New(1, 1, port.DirectionOutput)

	require.NoError(t, c.AddPort(1, p))
	entry, ok := c.reg.Node(1)
	require.True(t, ok)
	require.Same(t, p, entry.Ports[1])

	require.NoError(t, c.RemovePort(1, 1))
	_, stillThere := entry.Ports[1]
	require.False(t, stillThere)
}

func TestControllerAddPortUnknownNode(t *testing.T) {
	c, _ := newTestController(t)
	err := c.AddPort(99, port.New(1, 99, port.DirectionOutput))
	require.Error(t, err)
}

func TestControllerSetParamSynchronous(t *testing.T) {
	c, impl := newTestController(t)
	impl.setParamSeq = 0

	var gotResult int32 = -1
	err := c.SetParam(1, proto.ParamFormat, 0, &proto.Pod{}, func(result int32, err error) {
		gotResult = result
	})
	require.NoError(t, err)
	require.Equal(t, int32(0), gotResult)
}

func TestControllerSetParamAsyncCompletesViaController(t *testing.T) {
	c, impl := newTestController(t)
	impl.setParamSeq = -1

	done := make(chan int32, 1)
	err := c.SetParam(1, proto.ParamFormat, 0, &proto.Pod{}, func(result int32, err error) {
		done <- result
	})
	require.NoError(t, err)

	select {
	case <-done:
		t.Fatal("callback fired before Complete was called")
	default:
	}

	c.Complete(-1, 42, nil)
	require.Equal(t, int32(42), <-done)
}

func TestControllerCommandAndIOAndBuffers(t *testing.T) {
	c, impl := newTestController(t)

	require.NoError(t, c.Command(1, proto.CommandStart))
	require.Equal(t, proto.CommandStart, impl.lastCommand)

	ioBytes := make([]byte, 8)
	require.NoError(t, c.SetIO(1, proto.IOAreaBuffers, ioBytes))
	require.Equal(t, proto.IOAreaBuffers, impl.lastIOKind)

	bufs := []proto.BufferDesc{{ID: 1}}
	require.NoError(t, c.PortBuffers(1, 0, bufs))
	require.Equal(t, bufs, impl.lastBuffers)
}

func TestControllerSetActivation(t *testing.T) {
	c, _ := newTestController(t)
	m, err := activation.NewLocal()
	require.NoError(t, err)
	defer m.Close()

	c.SetActivation(1, m)
	got, ok := c.Activation(1)
	require.True(t, ok)
	require.Same(t, m, got)

	_, ok = c.Activation(2)
	require.False(t, ok)
}

func TestControllerTransport(t *testing.T) {
	c, impl := newTestController(t)

	require.NoError(t, c.Transport(Update{NodeID: 1, State: 2}))
	require.NoError(t, c.Transport(PortUpdate{NodeID: 1, PortID: 1}))

	bufs := []proto.BufferDesc{{ID: 7}}
	require.NoError(t, c.Transport(PortBuffersMsg{NodeID: 1, Buffers: bufs}))
	require.Equal(t, bufs, impl.lastBuffers)

	require.Error(t, c.Transport("not a control message"))
}
