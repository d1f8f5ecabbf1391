// Package proto defines the wire-level shapes shared between every
// participant of the cycle protocol: the activation record ABI (§6), the
// IO area PODs attached to ports (§4.3), buffer descriptors (§6), and the
// closed parameter-id / command / status-bit sets the scheduler
// interprets (§6). Everything here is a POD: no behavior beyond encoding,
// matching the teacher's internal/uapi package (manual field-by-field
// marshal, no reflection on the hot path).
package proto

// ParamID is one of the closed set of parameter ids the scheduler
// interprets (§6). Node implementations may define additional ids for
// their own private negotiation, but the scheduler only acts on these.
type ParamID uint32

const (
	ParamEnumFormat ParamID = iota
	ParamFormat
	ParamBuffers
	ParamMeta
	ParamIO
	ParamPortConfig
	ParamPropInfo
	ParamProps
	ParamLatency
	ParamRate
)

func (p ParamID) String() string {
	switch p {
	case ParamEnumFormat:
		return "EnumFormat"
	case ParamFormat:
		return "Format"
	case ParamBuffers:
		return "Buffers"
	case ParamMeta:
		return "Meta"
	case ParamIO:
		return "IO"
	case ParamPortConfig:
		return "PortConfig"
	case ParamPropInfo:
		return "PropInfo"
	case ParamProps:
		return "Props"
	case ParamLatency:
		return "Latency"
	case ParamRate:
		return "Rate"
	default:
		return "Unknown"
	}
}

// BufferFlags describe a data block's memory semantics (§6).
type BufferFlags uint32

const (
	BufferFlagDynamic  BufferFlags = 1 << iota // address may change per cycle
	BufferFlagReadable             // data may be read
	BufferFlagWritable             // data may be written
	BufferFlagMappable             // fd-backed block can be mmap'd
)

// DataType names the four block kinds a data block may carry (§6).
type DataType uint32

const (
	DataTypeMemPtr DataType = iota // already-mapped address
	DataTypeMemFd                  // fd + offset + size, requires mmap
	DataTypeDmaBuf                 // fd, not cpu-mapped
	DataTypeMemID                  // reference to a pre-registered pool entry
)

// Command is a node/port-level command delivered via the control channel
// or an activation's command slot (§6, §4.7).
type Command uint32

const (
	CommandStart Command = iota
	CommandPause
	CommandSuspend
	CommandFlush
	CommandDrain
	CommandMarker
	CommandParamBegin
	CommandParamEnd
	CommandRequestProcess
)

// StatusBits are returned from Process (§6); they compose with bitwise OR.
type StatusBits uint32

const (
	StatusOK        StatusBits = 0
	StatusNeedData  StatusBits = 1 << 0
	StatusHaveData  StatusBits = 1 << 1
	StatusStopped   StatusBits = 1 << 2
	StatusDrained   StatusBits = 1 << 3
)

// IOAreaKind identifies a shared-memory IO area kind attachable to a port
// via set_io (§4.3).
type IOAreaKind uint32

const (
	IOAreaBuffers IOAreaKind = iota
	IOAreaClock
	IOAreaPosition
	IOAreaControl
	IOAreaNotify
	IOAreaRateMatch
)

// BufferStatus is the single-writer-per-side status word of an
// IOBuffers area (§4.3).
type BufferStatus uint32

const (
	BufferStatusNone     BufferStatus = iota // no exchange pending
	BufferStatusNeedData                     // input: consumer wants more
	BufferStatusHaveData                     // output: producer has data
	BufferStatusStopped                      // end of stream signalled
)

// InvalidBufferID marks "no buffer" in an IOBuffers area.
const InvalidBufferID uint32 = 0xffffffff

// PositionState is the transport state of a driver's Position IO area
// (§4.3, §4.4).
type PositionState uint32

const (
	PositionStopped PositionState = iota
	PositionStarting
	PositionRunning
)
