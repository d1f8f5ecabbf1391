//go:build realring
// +build realring

// Package activation, under the realring build tag, batches wake-fd
// writes through io_uring instead of one write(2) syscall per target.
// Grounded on internal/uring/iouring.go, which already imports
// github.com/iceber/iouring-go under the teacher's giouring build tag
// (the teacher's go.mod named a different, unused module,
// pawelgaczynski/giouring, for this — this repo's go.mod requires the
// module the code actually imports).
package activation

import (
	"fmt"

	"github.com/iceber/iouring-go"
)

type realBatchSignaller struct {
	ring *iouring.IOURing
}

// NewBatchSignaller creates an io_uring-backed signaller that submits
// all wake-fd writes of one SignalAll call as a single batch. The cycle
// runner does not call it; it signals through NewSequentialSignaller.
func NewBatchSignaller() (BatchSignaller, error) {
	ring, err := iouring.New(64)
	if err != nil {
		return nil, fmt.Errorf("activation: iouring.New: %w", err)
	}
	return &realBatchSignaller{ring: ring}, nil
}

func (r *realBatchSignaller) SignalAll(fds []int) error {
	if len(fds) == 0 {
		return nil
	}
	reqs := make([]iouring.PrepRequest, len(fds))
	bufs := make([][8]byte, len(fds))
	for i, fd := range fds {
		bufs[i][0] = 1
		reqs[i] = iouring.Write(fd, bufs[i][:], 0)
	}
	ch := make(chan iouring.Result, len(fds))
	if _, err := r.ring.SubmitRequests(reqs, ch); err != nil {
		return fmt.Errorf("activation: submit batch signal: %w", err)
	}
	for range fds {
		res := <-ch
		if err := res.Err(); err != nil {
			return fmt.Errorf("activation: batch signal write: %w", err)
		}
	}
	return nil
}

func (r *realBatchSignaller) Close() error {
	return r.ring.Close()
}
