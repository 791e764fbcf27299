//go:build windows && 386

package detour

import (
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// Register is a 32-bit general purpose register in encoding order.
type Register byte

// general purpose registers.
const (
	EAX Register = iota
	ECX
	EDX
	EBX
	ESP
	EBP
	ESI
	EDI
)

// AsmBuffer is a page-aligned executable region with an append cursor
// for emitting machine code at runtime. Emits past the end of the
// buffer are dropped silently, so a generation sequence can be written
// straight through and checked once at the end if needed.
type AsmBuffer struct {
	base   Pointer
	size   uint32
	offset uint32
}

// NewAsmBuffer commits size bytes of RWX memory rounded up to the page
// size. A size of zero allocates a single page.
func NewAsmBuffer(size uint32) (*AsmBuffer, error) {
	pageSize := uint32(os.Getpagesize())
	if size == 0 {
		size = pageSize
	} else {
		size = alignValue(size, pageSize)
	}
	addr, err := windows.VirtualAlloc(0, uintptr(size),
		windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_EXECUTE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to allocate assembly buffer: %s", err)
	}
	ab := AsmBuffer{
		base: Pointer(addr),
		size: size,
	}
	return &ab, nil
}

// DB emits a single byte at the cursor.
func (ab *AsmBuffer) DB(b byte) *AsmBuffer {
	if ab.offset >= ab.size {
		return ab
	}
	ab.base.bytes(int(ab.size))[ab.offset] = b
	ab.offset++
	return ab
}

// DBBytes emits raw bytes at the cursor.
func (ab *AsmBuffer) DBBytes(data []byte) *AsmBuffer {
	for i := 0; i < len(data); i++ {
		ab.DB(data[i])
	}
	return ab
}

// DBUint16 emits a little-endian 16-bit value.
func (ab *AsmBuffer) DBUint16(v uint16) *AsmBuffer {
	return ab.DB(byte(v)).DB(byte(v >> 8))
}

// DBUint32 emits a little-endian 32-bit value.
func (ab *AsmBuffer) DBUint32(v uint32) *AsmBuffer {
	return ab.DB(byte(v)).DB(byte(v >> 8)).DB(byte(v >> 16)).DB(byte(v >> 24))
}

// Jmp emits a near jump to the absolute address to.
func (ab *AsmBuffer) Jmp(to Pointer) *AsmBuffer {
	rel := relativeAddress(uint32(to), uint32(ab.Now()), nearJumpSize)
	return ab.DB(0xE9).DBUint32(rel)
}

// Push emits a push of a general purpose register.
func (ab *AsmBuffer) Push(reg Register) *AsmBuffer {
	return ab.DB(0x50 + byte(reg))
}

// Pop emits a pop into a general purpose register.
func (ab *AsmBuffer) Pop(reg Register) *AsmBuffer {
	return ab.DB(0x58 + byte(reg))
}

// MovRegMem emits "mov dst, [src+disp]" with an 8-bit displacement.
func (ab *AsmBuffer) MovRegMem(dst, src Register, disp int8) *AsmBuffer {
	ab.DB(0x8B)
	mod := byte(0x00)
	if disp != 0 {
		mod = 0x40
	}
	ab.DB(mod | byte(dst)<<3 | byte(src))
	if src == ESP {
		ab.DB(0x24)
	}
	if disp != 0 {
		ab.DB(byte(disp))
	}
	return ab
}

// MovMemReg emits "mov [addr], src" with a 32-bit absolute address.
func (ab *AsmBuffer) MovMemReg(addr Pointer, src Register) *AsmBuffer {
	if src == EAX {
		return ab.DB(0xA3).DBUint32(uint32(addr))
	}
	return ab.DB(0x89).DB(0x05 | byte(src)<<3).DBUint32(uint32(addr))
}

// Begin returns the first address of the buffer.
func (ab *AsmBuffer) Begin() Pointer {
	return ab.base
}

// Now returns the address the next emit will write to.
func (ab *AsmBuffer) Now() Pointer {
	return ab.base.Add(ab.offset)
}

// End returns the first address past the buffer.
func (ab *AsmBuffer) End() Pointer {
	return ab.base.Add(ab.size)
}

// Get returns the address at the given offset from the base.
func (ab *AsmBuffer) Get(offset uint32) Pointer {
	return ab.base.Add(offset)
}

// Offset returns the current cursor position.
func (ab *AsmBuffer) Offset() uint32 {
	return ab.offset
}

// SetOffset moves the cursor for back-patching already emitted code.
// Offsets outside the buffer are ignored.
func (ab *AsmBuffer) SetOffset(offset uint32) *AsmBuffer {
	if offset >= ab.size {
		return ab
	}
	ab.offset = offset
	return ab
}

// Ready flushes the instruction cache for the whole buffer. Must be
// called after the last emit and before the code runs.
func (ab *AsmBuffer) Ready() error {
	return FlushMemory(ab.base, ab.size)
}

// Free releases the region. The buffer must not be used afterwards.
func (ab *AsmBuffer) Free() error {
	return windows.VirtualFree(ab.base.Uintptr(), 0, windows.MEM_RELEASE)
}
