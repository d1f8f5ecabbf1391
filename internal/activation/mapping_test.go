package activation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLocalMappingSignalWait(t *testing.T) {
	m, err := NewLocal()
	require.NoError(t, err)
	defer m.Close()

	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() {
		done <- m.Wait(ctx)
	}()

	require.NoError(t, m.Signal())
	require.NoError(t, <-done)
}

func TestLocalMappingWaitRespectsContext(t *testing.T) {
	m, err := NewLocal()
	require.NoError(t, err)
	defer m.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = m.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSequentialSignallerSignalsEveryFd(t *testing.T) {
	a, err := NewLocal()
	require.NoError(t, err)
	defer a.Close()
	b, err := NewLocal()
	require.NoError(t, err)
	defer b.Close()

	s := NewSequentialSignaller()
	require.NoError(t, s.SignalAll([]int{a.WakeFd(), b.WakeFd()}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
	require.NoError(t, b.Wait(ctx))
}
