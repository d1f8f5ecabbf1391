package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestActivationStateDecrement(t *testing.T) {
	var s ActivationState
	s.Reset(3)
	require.Equal(t, uint32(3), s.Required())
	require.Equal(t, uint32(2), s.Decrement())
	require.Equal(t, uint32(1), s.Decrement())
	require.Equal(t, uint32(0), s.Decrement())
	// further decrements past zero must not underflow.
	require.Equal(t, uint32(0), s.Decrement())
}

func TestActivationRecordStatusTransition(t *testing.T) {
	var a ActivationRecord
	a.SetStatus(StatusNotTriggered)
	require.True(t, a.CompareAndSwapStatus(StatusNotTriggered, StatusTriggered))
	require.False(t, a.CompareAndSwapStatus(StatusNotTriggered, StatusAwake))
	require.Equal(t, StatusTriggered, a.Status())
}

func TestActivationRecordCommandSwap(t *testing.T) {
	var a ActivationRecord
	prev := a.SwapCommand(ActivationCommandStart)
	require.Equal(t, ActivationCommandNone, prev)
	require.Equal(t, ActivationCommandStart, a.Command())
}

func TestActivationRecordCPULoad(t *testing.T) {
	var a ActivationRecord
	a.SetCPULoad([3]float32{0.1, 0.2, 0.3})
	got := a.CPULoad()
	require.InDelta(t, 0.1, got[0], 1e-6)
	require.InDelta(t, 0.3, got[2], 1e-6)
}

func TestActivationRecordXrunTracksMaxDelay(t *testing.T) {
	var a ActivationRecord
	a.RecordXrun(100, 50)
	a.RecordXrun(200, 20)
	require.Equal(t, uint32(2), a.XrunCount())
	require.Equal(t, int64(50), a.MaxDelay())
}

func TestActivationRecordSyncLeftCountdown(t *testing.T) {
	var a ActivationRecord
	a.SetSyncLeft(1000)
	require.Equal(t, int64(400), a.DecrementSyncLeft(600))
	require.Equal(t, int64(0), a.DecrementSyncLeft(10000))
}
