//go:build windows && 386

package detour

import (
	"bytes"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

// MemProt describes the page protection applied while a region is
// being accessed.
type MemProt uint32

// supported page protections.
const (
	MemReadOnly         MemProt = windows.PAGE_READONLY
	MemReadWrite        MemProt = windows.PAGE_READWRITE
	MemExecuteRead      MemProt = windows.PAGE_EXECUTE_READ
	MemExecuteReadWrite MemProt = windows.PAGE_EXECUTE_READWRITE
)

// withProtect runs fn with the page protection of [addr, addr+size)
// switched to prot, then restores the previous protection on all exit
// paths.
func withProtect(addr Pointer, size uint32, prot MemProt, fn func() error) error {
	var old uint32
	err := windows.VirtualProtect(addr.Uintptr(), uintptr(size), uint32(prot), &old)
	if err != nil {
		return fmt.Errorf("failed to unprotect memory: %s", err)
	}
	defer func() {
		_ = windows.VirtualProtect(addr.Uintptr(), uintptr(size), old, &old)
	}()
	return fn()
}

// FlushMemory flushes the instruction cache for [addr, addr+size).
func FlushMemory(addr Pointer, size uint32) error {
	proc := windows.CurrentProcess()
	return windows.FlushInstructionCache(proc, addr.Uintptr(), uintptr(size))
}

// ReadMemory reads len(data) bytes at addr into data.
func ReadMemory(addr Pointer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return withProtect(addr, uint32(len(data)), MemReadOnly, func() error {
		copy(data, addr.bytes(len(data)))
		return nil
	})
}

// WriteMemory writes data to addr and flushes the instruction cache.
func WriteMemory(addr Pointer, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	size := uint32(len(data))
	err := withProtect(addr, size, MemExecuteReadWrite, func() error {
		copy(addr.bytes(len(data)), data)
		return nil
	})
	if err != nil {
		return err
	}
	return FlushMemory(addr, size)
}

// ReadUint8 reads a single byte at addr.
func ReadUint8(addr Pointer) (byte, error) {
	buf := make([]byte, 1)
	err := ReadMemory(addr, buf)
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadUint16 reads a little-endian 16-bit value at addr.
func ReadUint16(addr Pointer) (uint16, error) {
	buf := make([]byte, 2)
	err := ReadMemory(addr, buf)
	if err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// ReadUint32 reads a little-endian 32-bit value at addr.
func ReadUint32(addr Pointer) (uint32, error) {
	buf := make([]byte, 4)
	err := ReadMemory(addr, buf)
	if err != nil {
		return 0, err
	}
	v := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return v, nil
}

// WriteUint8 writes a single byte at addr.
func WriteUint8(addr Pointer, val byte) error {
	return WriteMemory(addr, []byte{val})
}

// WriteUint16 writes a little-endian 16-bit value at addr.
func WriteUint16(addr Pointer, val uint16) error {
	return WriteMemory(addr, []byte{byte(val), byte(val >> 8)})
}

// WriteUint32 writes a little-endian 32-bit value at addr.
func WriteUint32(addr Pointer, val uint32) error {
	buf := []byte{byte(val), byte(val >> 8), byte(val >> 16), byte(val >> 24)}
	return WriteMemory(addr, buf)
}

// FillMemory writes size copies of val starting at addr.
func FillMemory(addr Pointer, val byte, size uint32) error {
	if size == 0 {
		return nil
	}
	data := bytes.Repeat([]byte{val}, int(size))
	return WriteMemory(addr, data)
}

// CopyMemory copies size bytes from src to dst, both in the current
// process, unprotecting both sides.
func CopyMemory(dst, src Pointer, size uint32) error {
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	err := ReadMemory(src, buf)
	if err != nil {
		return err
	}
	return WriteMemory(dst, buf)
}

// CompareMemory reports whether size bytes at a and b are equal.
func CompareMemory(a, b Pointer, size uint32) (bool, error) {
	if size == 0 {
		return true, nil
	}
	bufA := make([]byte, size)
	err := ReadMemory(a, bufA)
	if err != nil {
		return false, err
	}
	bufB := make([]byte, size)
	err = ReadMemory(b, bufB)
	if err != nil {
		return false, err
	}
	return bytes.Equal(bufA, bufB), nil
}

// IsExecutable reports whether addr lies in committed, accessible
// memory that can be patched and executed.
func IsExecutable(addr Pointer) bool {
	var mbi windows.MemoryBasicInformation
	err := windows.VirtualQuery(addr.Uintptr(), &mbi, unsafe.Sizeof(mbi))
	if err != nil {
		return false
	}
	return mbi.State == windows.MEM_COMMIT && mbi.Protect != windows.PAGE_NOACCESS
}
