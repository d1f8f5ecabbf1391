package proto

import "unsafe"

// Compile-time size check - IOBuffers must stay exactly 8 bytes: it is
// copied whole every cycle on the hottest path in the protocol (§4.3).
var _ [8]byte = [unsafe.Sizeof(IOBuffers{})]byte{}
