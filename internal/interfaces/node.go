// Package interfaces provides internal interface definitions for
// go-mediagraph. These are separate from the public interfaces to avoid
// circular imports between the top-level package and internal packages.
package interfaces

import "github.com/ehrlich-b/go-mediagraph/internal/proto"

// NodeImpl is the capability set every node implementation must provide,
// per §9's "dynamic dispatch on node implementations" design note. A
// Local implementation runs Process in this process; a Remote one
// proxies every call across the control channel (§4.7) while the hot
// path still runs locally against the shared activation/IO mapping.
type NodeImpl interface {
	// EnumParams lazily enumerates parameter pods for id, resuming from
	// index, restartable, capped at max results.
	EnumParams(id proto.ParamID, index, max uint32, filter *proto.Pod) ([]proto.Pod, error)

	// SetParam applies a parameter pod to the node or one of its ports.
	// A negative return is an async sequence number that completes later
	// via the async-completion event pump (§4.4, §7); 0 means success.
	SetParam(id proto.ParamID, flags uint32, param *proto.Pod) (seq int32, err error)

	// SetIO installs or clears (ptr == nil) a typed IO area (§4.3).
	SetIO(id proto.IOAreaKind, ptr []byte) error

	// UseBuffers installs the buffer set Process will exchange (§4.2).
	UseBuffers(flags uint32, buffers []proto.BufferDesc) error

	// SendCommand delivers a Start/Pause/Suspend/Flush/... command (§6).
	SendCommand(cmd proto.Command) error

	// Process runs exactly once per cycle while the node is RUNNING. It
	// must not block (§5): no syscalls beyond the data loop's own poll,
	// no allocation-heavy paths, no list manipulation.
	Process() (status uint32, err error)

	// AddListener registers a main-loop-only event subscriber (§9).
	AddListener(fn func(Event)) (cancel func())

	// ReuseBuffer returns a buffer id to an input port's ready-queue.
	ReuseBuffer(portID uint32, bufferID uint32) error
}

// Event is the payload delivered to AddListener subscribers: info,
// port_info, result, and async-completion notifications (§9).
type Event struct {
	Kind    string
	NodeID  uint32
	PortID  uint32
	Seq     int32
	Result  int32
	Message string
}

// Logger interface for optional structured logging.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for metrics collection.
// Implementations must be thread-safe: ObserveProcess is called from the
// data loop.
type Observer interface {
	ObserveProcess(nodeID uint32, latencyNs uint64, status uint32)
	ObserveXrun(nodeID uint32, delayNs uint64)
	ObserveCPULoad(nodeID uint32, load [3]float32)
}
