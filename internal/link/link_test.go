package link

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

func testFormat() proto.Pod {
	return proto.NewObjectBuilder(proto.ParamFormat).SetInt("channels", 2).Build()
}

func TestConnectDisconnect(t *testing.T) {
	out := port.New(0, 1, port.DirectionOutput)
	in := port.New(0, 2, port.DirectionInput)

	bufs := []proto.BufferDesc{{ID: 0}, {ID: 1}}
	l, err := Connect(1, out, in, testFormat(), bufs)
	require.NoError(t, err)
	require.True(t, l.Active())
	require.NotNil(t, out.IOArea(proto.IOAreaBuffers))
	require.NotNil(t, in.IOArea(proto.IOAreaBuffers))
	require.Len(t, out.Buffers(), 2)

	require.NoError(t, l.Disconnect())
	require.False(t, l.Active())
	require.Nil(t, out.IOArea(proto.IOAreaBuffers))
	require.Empty(t, out.Buffers())
}

func TestConnectRejectsWrongDirection(t *testing.T) {
	a := port.New(0, 1, port.DirectionOutput)
	b := port.New(0, 2, port.DirectionOutput)
	_, err := Connect(1, a, b, testFormat(), nil)
	require.Error(t, err)
}
