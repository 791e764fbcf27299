//go:build windows && 386

package detour

import (
	"unsafe"
)

// Pointer is a raw 32-bit address in the current process. Arithmetic
// is explicit through Add and Sub, there are no implicit conversions.
type Pointer uint32

// PointerTo converts an unsafe pointer to a Pointer.
func PointerTo(p unsafe.Pointer) Pointer {
	return Pointer(uintptr(p))
}

// Add returns the pointer advanced by n bytes.
func (p Pointer) Add(n uint32) Pointer {
	return p + Pointer(n)
}

// Sub returns the pointer moved back by n bytes.
func (p Pointer) Sub(n uint32) Pointer {
	return p - Pointer(n)
}

// IsNull reports whether the pointer is zero.
func (p Pointer) IsNull() bool {
	return p == 0
}

// Uintptr converts the pointer for use with syscall interfaces.
func (p Pointer) Uintptr() uintptr {
	return uintptr(p)
}

// bytes views n bytes of process memory at p as a slice.
func (p Pointer) bytes(n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p))), n)
}
