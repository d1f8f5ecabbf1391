package async

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterAndComplete(t *testing.T) {
	p := New()
	var gotResult int32
	var gotErr error
	seq := p.Register(func(result int32, err error) {
		gotResult = result
		gotErr = err
	})
	require.Equal(t, int32(-1), seq)
	require.Equal(t, 1, p.Outstanding())

	p.Complete(seq, 42, nil)
	require.Equal(t, int32(42), gotResult)
	require.NoError(t, gotErr)
	require.Equal(t, 0, p.Outstanding())
}

func TestCompleteUnknownSeqIsNoOp(t *testing.T) {
	p := New()
	require.NotPanics(t, func() { p.Complete(-999, 0, nil) })
}

func TestSequenceNumbersCountDown(t *testing.T) {
	p := New()
	a := p.Register(func(int32, error) {})
	b := p.Register(func(int32, error) {})
	require.Equal(t, int32(-1), a)
	require.Equal(t, int32(-2), b)
}
