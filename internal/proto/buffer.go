package proto

// DataBlock is one of the four memory kinds a buffer's data block can
// carry (§6): an already-mapped pointer, an fd to mmap, a non-mappable
// dma-buf fd, or a reference into a pre-registered memory pool. Exactly
// one of the pointer-ish fields is meaningful, selected by Type.
type DataBlock struct {
	Type  DataType
	Flags BufferFlags
	Size  uint32

	// MemPtr is valid when Type == DataTypeMemPtr.
	MemPtr []byte

	// Fd is valid when Type == DataTypeMemFd or DataTypeDmaBuf.
	Fd     int
	Offset int64

	// MemID is valid when Type == DataTypeMemID: an index into a node's
	// pre-registered buffer pool rather than a fresh mapping per buffer.
	MemID uint32
}

// Meta is a side-channel metadata block attached to a buffer (e.g. a
// video crop rectangle or a control timeline), identified by a node- or
// port-private type tag.
type Meta struct {
	Type uint32
	Data []byte
}

// BufferDesc describes one exchangeable buffer a port makes available via
// UseBuffers (§4.2): a set of data blocks plus optional metadata blocks.
// Most ports use exactly one DataBlock; a planar video format uses one
// per plane.
type BufferDesc struct {
	ID     uint32
	Blocks []DataBlock
	Metas  []Meta
}
