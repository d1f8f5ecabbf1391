//go:build linux && cgo

package activation

/*
#include <stdint.h>

// x86-64 store fence to ensure all prior stores are globally visible
static inline void sfence_impl(void) {
    __asm__ __volatile__("sfence" ::: "memory");
}

// x86-64 full memory fence to ensure all prior memory operations are complete
static inline void mfence_impl(void) {
    __asm__ __volatile__("mfence" ::: "memory");
}
*/
import "C"

// Sfence issues a store fence (x86 SFENCE instruction): all prior stores
// to the activation mapping are globally visible before the caller signals
// a target (§4.1's armNextCycle must be visible before the wake-fd write).
func Sfence() {
	C.sfence_impl()
}

// Mfence issues a full memory fence (x86 MFENCE instruction), used by
// Mapping.Wait right after it consumes a wake so the waiter's following
// reads of the activation record are not reordered before the wake.
func Mfence() {
	C.mfence_impl()
}
