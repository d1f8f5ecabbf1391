package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalRoundTripScalars(t *testing.T) {
	cases := []Pod{
		{Type: PodNone},
		{Type: PodBool, Bool: true},
		{Type: PodInt, Int: -42},
		{Type: PodLong, Long: 1 << 40},
		{Type: PodFloat, Float: 3.5},
		{Type: PodDouble, Double: 2.71828},
		{Type: PodString, String: "audio/x-raw"},
		{Type: PodBytes, Bytes: []byte{1, 2, 3, 4}},
		{Type: PodRectangle, Rectangle: Rectangle{Width: 1920, Height: 1080}},
		{Type: PodFraction, Fraction: Fraction{Num: 48000, Denom: 1}},
	}
	for _, c := range cases {
		enc, err := Marshal(c)
		require.NoError(t, err)
		dec, err := Unmarshal(enc)
		require.NoError(t, err)
		require.Equal(t, c, dec)
	}
}

func TestMarshalRoundTripObject(t *testing.T) {
	pod := NewObjectBuilder(ParamFormat).
		SetInt("channels", 2).
		SetFraction("rate", Fraction{Num: 48000, Denom: 1}).
		SetRectangle("frame_size", Rectangle{Width: 640, Height: 480}).
		Build()

	enc, err := Marshal(pod)
	require.NoError(t, err)
	dec, err := Unmarshal(enc)
	require.NoError(t, err)
	require.Equal(t, ParamFormat, dec.ObjectID)

	ch, ok := dec.Field("channels")
	require.True(t, ok)
	require.Equal(t, int32(2), ch.Int)

	rate, ok := dec.Field("rate")
	require.True(t, ok)
	require.Equal(t, Fraction{Num: 48000, Denom: 1}, rate.Fraction)
}

func TestMarshalRoundTripArray(t *testing.T) {
	pod := Pod{Type: PodArray, Array: []Pod{
		{Type: PodInt, Int: 1},
		{Type: PodInt, Int: 2},
		{Type: PodInt, Int: 3},
	}}
	enc, err := Marshal(pod)
	require.NoError(t, err)
	dec, err := Unmarshal(enc)
	require.NoError(t, err)
	require.Len(t, dec.Array, 3)
	require.Equal(t, int32(2), dec.Array[1].Int)
}

func TestMarshalRoundTripChoice(t *testing.T) {
	pod := Pod{Type: PodChoice, Choice: Choice{
		Kind:       ChoiceEnum,
		Default:    int32(48000),
		Alternates: []any{int32(44100), int32(96000)},
	}}
	enc, err := Marshal(pod)
	require.NoError(t, err)
	dec, err := Unmarshal(enc)
	require.NoError(t, err)
	require.Equal(t, ChoiceEnum, dec.Choice.Kind)
	require.Equal(t, int32(48000), dec.Choice.Default)
	require.Equal(t, []any{int32(44100), int32(96000)}, dec.Choice.Alternates)
}

func TestUnmarshalTruncated(t *testing.T) {
	_, err := Unmarshal([]byte{1, 2})
	require.Error(t, err)
}
