package port

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-mediagraph/internal/proto"
)

func audioFormat(rate uint32) proto.Pod {
	return proto.NewObjectBuilder(proto.ParamFormat).
		SetInt("channels", 2).
		SetFraction("rate", proto.Fraction{Num: rate, Denom: 1}).
		Build()
}

func TestNegotiatePicksCommonFormat(t *testing.T) {
	out := New(0, 1, DirectionOutput)
	in := New(0, 2, DirectionInput)
	out.SetFormatOffers([]proto.Pod{audioFormat(44100), audioFormat(48000)})
	in.SetFormatOffers([]proto.Pod{audioFormat(48000)})

	fixated, err := Negotiate(out, in)
	require.NoError(t, err)
	require.Equal(t, proto.ParamFormat, out.currentFormat.ObjectID) // sanity: set
	rate, _ := fixated.Field("rate")
	require.Equal(t, uint32(48000), rate.Fraction.Num)
}

func TestNegotiateFailsWithNoOverlap(t *testing.T) {
	out := New(0, 1, DirectionOutput)
	in := New(0, 2, DirectionInput)
	out.SetFormatOffers([]proto.Pod{audioFormat(44100)})
	in.SetFormatOffers([]proto.Pod{audioFormat(48000)})

	_, err := Negotiate(out, in)
	require.Error(t, err)
}

func TestReadyQueueRoundTrip(t *testing.T) {
	p := New(0, 1, DirectionOutput)
	require.NoError(t, p.PushReady(7))
	v, err := p.PopReady()
	require.NoError(t, err)
	require.Equal(t, uint32(7), v)
}

func TestMixQueueRequiresEnable(t *testing.T) {
	p := New(0, 1, DirectionInput)
	err := p.PushMixed(1)
	require.Error(t, err)

	p.EnableMixing()
	require.NoError(t, p.PushMixed(1))
	v, err := p.PopMixed()
	require.NoError(t, err)
	require.Equal(t, uint32(1), v)
}

func TestUseBuffersRejectsTooMany(t *testing.T) {
	p := New(0, 1, DirectionOutput)
	require.NoError(t, p.SetParam(proto.ParamFormat, audioFormat(48000)))
	bufs := make([]proto.BufferDesc, 100)
	err := p.UseBuffers(bufs)
	require.Error(t, err)
}

func TestReuseBufferRequeuesOntoReadyQueue(t *testing.T) {
	p := New(0, 1, DirectionInput)
	require.NoError(t, p.SetParam(proto.ParamFormat, audioFormat(48000)))
	require.NoError(t, p.UseBuffers([]proto.BufferDesc{{ID: 3}, {ID: 4}}))

	v, err := p.PopReady()
	require.Error(t, err, "ready queue starts empty")

	require.NoError(t, p.ReuseBuffer(3))
	v, err = p.PopReady()
	require.NoError(t, err)
	require.Equal(t, uint32(3), v)
}

func TestReuseBufferRejectsUnknownID(t *testing.T) {
	p := New(0, 1, DirectionInput)
	require.NoError(t, p.SetParam(proto.ParamFormat, audioFormat(48000)))
	require.NoError(t, p.UseBuffers([]proto.BufferDesc{{ID: 3}}))

	err := p.ReuseBuffer(99)
	require.Error(t, err)
}
