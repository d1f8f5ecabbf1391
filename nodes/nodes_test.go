package nodes

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-mediagraph/internal/link"
	"github.com/ehrlich-b/go-mediagraph/internal/port"
	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

const testFrameSamples = 256

func makeTestBuffers(n int) []proto.BufferDesc {
	bufs := make([]proto.BufferDesc, n)
	for i := 0; i < n; i++ {
		bufs[i] = proto.BufferDesc{
			ID: uint32(i),
			Blocks: []proto.DataBlock{{
				Type:   proto.DataTypeMemPtr,
				Flags:  proto.BufferFlagReadable | proto.BufferFlagWritable,
				Size:   uint32(testFrameSamples * 4),
				MemPtr: make([]byte, testFrameSamples*4),
			}},
		}
	}
	return bufs
}

func connectSrcSink(t *testing.T) (*TestSrc, *TestSink) {
	t.Helper()
	out := port.New(1, 1, port.DirectionOutput)
	in := port.New(2, 2, port.DirectionInput)

	buffers := makeTestBuffers(4)
	format := toneFormat(48000)
	_, err := link.Connect(1, out, in, format, buffers)
	require.NoError(t, err)

	src := NewTestSrc(out, 48000, 440)
	require.NoError(t, src.UseBuffers(0, buffers))
	require.NoError(t, src.SendCommand(proto.CommandStart))

	sink := NewTestSink(in, testFrameSamples*8)
	require.NoError(t, sink.UseBuffers(0, buffers))

	return src, sink
}

func TestTestSrcProducesAudibleSamples(t *testing.T) {
	src, _ := connectSrcSink(t)

	status, err := src.Process()
	require.NoError(t, err)
	require.Equal(t, uint32(proto.StatusHaveData), status)
	require.Equal(t, uint64(testFrameSamples), src.FramesEmitted())
}

func TestTestSrcStoppedWhenNotRunning(t *testing.T) {
	src, _ := connectSrcSink(t)
	require.NoError(t, src.SendCommand(proto.CommandPause))

	status, err := src.Process()
	require.NoError(t, err)
	require.Equal(t, uint32(proto.StatusStopped), status)
	require.Zero(t, src.FramesEmitted())
}

func TestSrcSinkRoundTrip(t *testing.T) {
	src, sink := connectSrcSink(t)

	const cycles = 4
	for i := 0; i < cycles; i++ {
		_, err := src.Process()
		require.NoError(t, err)
		_, err = sink.Process()
		require.NoError(t, err)
	}

	require.EqualValues(t, cycles*testFrameSamples, sink.FramesReceived())
	require.EqualValues(t, cycles, sink.CyclesConsumed())
	require.Zero(t, sink.Underruns())

	captured, err := sink.Captured(0, 4)
	require.NoError(t, err)
	require.Len(t, captured, 4)
}

func TestSinkUnderrunWhenStarved(t *testing.T) {
	_, sink := connectSrcSink(t)

	status, err := sink.Process()
	require.NoError(t, err)
	require.Equal(t, uint32(proto.StatusNeedData), status)
	require.EqualValues(t, 1, sink.Underruns())
	require.Zero(t, sink.FramesReceived())
}
