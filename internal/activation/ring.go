package activation

import "golang.org/x/sys/unix"

// BatchSignaller wakes a set of wake-fds in one call. The cycle runner
// always uses the sequential implementation below, whatever the size of
// the target_list; the io_uring-backed NewBatchSignaller (realring build)
// is not called anywhere in the runtime.
type BatchSignaller interface {
	SignalAll(fds []int) error
	Close() error
}

// sequentialSignaller is the always-available fallback: one write(2) per
// fd. Correct on every platform, just not batched.
type sequentialSignaller struct{}

func (sequentialSignaller) SignalAll(fds []int) error {
	var buf [8]byte
	buf[0] = 1
	for _, fd := range fds {
		if _, err := unix.Write(fd, buf[:]); err != nil && err != unix.EAGAIN {
			return err
		}
	}
	return nil
}

func (sequentialSignaller) Close() error { return nil }

// NewSequentialSignaller returns the portable one-syscall-per-fd
// implementation, which the cycle runner uses for every trigger and
// target signal, with or without the realring build tag.
func NewSequentialSignaller() BatchSignaller { return sequentialSignaller{} }
