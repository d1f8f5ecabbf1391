// Package nodes supplies concrete NodeImpl implementations exercised by
// the graph runtime's scenario tests and cmd/graphrt-demo: TestSrc
// generates a synthesized tone, TestSink drains and captures it. Both are
// generalized from the teacher's backend package, which supplied
// NodeImpl-shaped I/O backends for a block device rather than a graph
// node; here the same shapes drive a port's Process instead of a ublk
// queue's FETCH_REQ.
package nodes

import (
	"fmt"
	"sync"
)

// captureShardSize mirrors the teacher's backend.ShardSize, scaled down
// from a block device's 64KB shard to a sink's much smaller per-cycle
// write so a handful of cycles still span more than one shard in tests.
const captureShardSize = 4096

// captureBuffer is a fixed-size, shard-locked byte store TestSink appends
// consumed PCM data into, a direct adaptation of the teacher's
// backend.Memory: same shard-range locking for parallel writers, resized
// from an arbitrary block device down to one sink's capture window.
type captureBuffer struct {
	data   []byte
	size   int64
	shards []sync.RWMutex
}

func newCaptureBuffer(size int64) *captureBuffer {
	numShards := (size + captureShardSize - 1) / captureShardSize
	if numShards < 1 {
		numShards = 1
	}
	return &captureBuffer{
		data:   make([]byte, size),
		size:   size,
		shards: make([]sync.RWMutex, numShards),
	}
}

// shardRange returns the range of shards that cover [off, off+length).
func (c *captureBuffer) shardRange(off, length int64) (start, end int) {
	start = int(off / captureShardSize)
	end = int((off + length - 1) / captureShardSize)
	if end >= len(c.shards) {
		end = len(c.shards) - 1
	}
	return start, end
}

// WriteAt copies p into the capture buffer at off, truncating p if it
// would run past the buffer's fixed capacity (a wraparound capture isn't
// needed for the short scenario runs this feeds).
func (c *captureBuffer) WriteAt(p []byte, off int64) (int, error) {
	if off >= c.size {
		return 0, fmt.Errorf("nodes: capture buffer: offset %d beyond capacity %d", off, c.size)
	}
	available := c.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	startShard, endShard := c.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		c.shards[i].Lock()
	}
	n := copy(c.data[off:off+int64(len(p))], p)
	for i := startShard; i <= endShard; i++ {
		c.shards[i].Unlock()
	}
	return n, nil
}

// ReadAt copies out of the capture buffer starting at off, for tests that
// want to inspect what a TestSink actually received.
func (c *captureBuffer) ReadAt(p []byte, off int64) (int, error) {
	if off >= c.size {
		return 0, nil
	}
	available := c.size - off
	if int64(len(p)) > available {
		p = p[:available]
	}
	startShard, endShard := c.shardRange(off, int64(len(p)))
	for i := startShard; i <= endShard; i++ {
		c.shards[i].RLock()
	}
	n := copy(p, c.data[off:off+int64(len(p))])
	for i := startShard; i <= endShard; i++ {
		c.shards[i].RUnlock()
	}
	return n, nil
}

func (c *captureBuffer) Size() int64 { return c.size }
