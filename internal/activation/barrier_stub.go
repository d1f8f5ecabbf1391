//go:build !(linux && cgo)

package activation

import "sync/atomic"

// Sfence and Mfence fall back to an atomic no-op RMW on platforms without
// the cgo x86 fence intrinsics in barrier.go; sync/atomic operations are
// already full barriers on every architecture Go supports, so this is
// correct, just not as cheap as the native instruction.
var fenceVar atomic.Uint32

func Sfence() { fenceVar.Add(1) }
func Mfence() { fenceVar.Add(1) }
