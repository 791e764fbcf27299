//go:build windows && 386

package detour

import (
	"errors"
	"fmt"
	"unsafe"
)

const (
	// number of bytes disassembled when measuring the prologue.
	prologueScanSize = 20

	// offset of the jump to the detour inside the generated thunk.
	thunkJmpOffset = 0x0B

	// offset of the continuation trampoline inside the code buffer.
	trampolineOffset = 0x10
)

// errors returned by Install.
var (
	ErrListingBroken = errors.New("instruction listing of target is broken")
	ErrNotExecutable = errors.New("target memory is not executable")
)

// Context holds per-call state captured by the generated thunk before
// control reaches the detour function.
type Context struct {
	// ReturnAddress is the caller return address read from the stack
	// on entry to the hooked function.
	ReturnAddress uint32
}

// Hook rewrites the entry of a function in the current process so that
// calls are redirected to a detour function. The displaced prologue is
// preserved in a trampoline so the original behavior stays reachable.
type Hook struct {
	target Pointer
	detour Pointer
	conv   Conv

	size     int
	original []byte
	code     *AsmBuffer
	stub     *AsmBuffer

	installed     bool
	listingBroken bool
	executable    bool
	isCallInst    bool
	callAbs       uint32

	context Context
}

// NewHook prepares a hook that redirects target to detour. The target
// function uses the given calling convention. The constructor never
// fails, problems with the target are reported by Install.
func NewHook(target, detour Pointer, conv Conv) *Hook {
	h := Hook{
		target: target,
		detour: detour,
		conv:   conv,
	}
	h.executable = IsExecutable(target)
	if !h.executable {
		return &h
	}
	// measure the prologue until it can carry a near jump
	buf := make([]byte, prologueScanSize)
	if ReadMemory(target, buf) != nil {
		h.executable = false
		return &h
	}
	for h.size < nearJumpSize {
		hs := decode(buf[h.size:])
		if hs.flags&flagError != 0 {
			h.listingBroken = true
			break
		}
		h.size += hs.len
	}
	return &h
}

// Install writes the entry patch and builds the trampoline. It is a
// no-op when the hook is already installed. On any failure the target
// is left untouched.
func (h *Hook) Install() error {
	if h.installed {
		return nil
	}
	if !h.executable {
		return ErrNotExecutable
	}
	if h.listingBroken {
		return ErrListingBroken
	}
	if h.code != nil {
		// the code buffer survived a removal, only the detour jump
		// needs to be refreshed
		h.code.SetOffset(thunkJmpOffset).Jmp(h.detour)
		err := h.code.Ready()
		if err != nil {
			return err
		}
		return h.patchTarget()
	}
	original := make([]byte, h.size)
	err := ReadMemory(h.target, original)
	if err != nil {
		return fmt.Errorf("failed to read target prologue: %s", err)
	}
	// a call instruction at the entry is hooked by retargeting the
	// call operand, the callee itself stays the original
	h.isCallInst = original[0] == 0xE8
	if h.isCallInst {
		hs := decode(original)
		h.callAbs = absoluteAddress(uint32(hs.imm32), uint32(h.target), hs.len)
	}
	code, err := NewAsmBuffer(0)
	if err != nil {
		return err
	}
	ctxAddr := PointerTo(unsafe.Pointer(&h.context.ReturnAddress))
	code.Push(EAX).
		MovRegMem(EAX, ESP, 4).
		MovMemReg(ctxAddr, EAX).
		Pop(EAX).
		Jmp(h.detour)
	if !h.isCallInst {
		trampoline, terr := relocateProlog(original,
			uint32(h.target), uint32(code.Get(trampolineOffset)))
		if terr != nil {
			_ = code.Free()
			return fmt.Errorf("failed to build trampoline: %s", terr)
		}
		code.SetOffset(trampolineOffset).DBBytes(trampoline)
	}
	err = code.Ready()
	if err != nil {
		_ = code.Free()
		return err
	}
	h.original = original
	h.code = code
	err = h.patchTarget()
	if err != nil {
		h.original = nil
		h.code = nil
		_ = code.Free()
		return err
	}
	return nil
}

// patchTarget rewrites the target entry with a near jump to the code
// buffer. For a call instruction only the operand changes.
func (h *Hook) patchTarget() error {
	if !h.isCallInst {
		err := WriteUint8(h.target, 0xE9)
		if err != nil {
			return err
		}
	}
	rel := relativeAddress(uint32(h.code.Begin()), uint32(h.target), nearJumpSize)
	err := WriteUint32(h.target.Add(1), rel)
	if err != nil {
		return err
	}
	if h.size > nearJumpSize {
		err = FillMemory(h.target.Add(nearJumpSize), 0x90,
			uint32(h.size-nearJumpSize))
		if err != nil {
			return err
		}
	}
	h.installed = true
	return nil
}

// Remove restores the target entry. When another hook has been layered
// on top of this one in the meantime, the target bytes are left alone
// and this hook turns itself into a pass-through instead.
func (h *Hook) Remove() error {
	if !h.installed {
		return nil
	}
	buf := make([]byte, nearJumpSize)
	err := ReadMemory(h.target, buf)
	if err != nil {
		return err
	}
	hs := decode(buf)
	unload := hs.flags&flagError != 0 ||
		hs.flags&flagRelative == 0 || hs.flags&flagImm32 == 0
	if !unload {
		destination := absoluteAddress(uint32(hs.imm32), uint32(h.target), hs.len)
		unload = destination == uint32(h.code.Begin()) ||
			(h.isCallInst && destination == h.callAbs)
	}
	if unload {
		return h.unload()
	}
	// a third party rewrote the entry after us, short-circuit our own
	// redirection and keep the buffer alive for their trampoline
	if h.isCallInst {
		h.code.SetOffset(thunkJmpOffset).Jmp(Pointer(h.callAbs))
	} else {
		err = FillMemory(h.code.Get(thunkJmpOffset), 0x90, nearJumpSize)
		if err != nil {
			return err
		}
	}
	err = h.code.Ready()
	if err != nil {
		return err
	}
	h.installed = false
	return nil
}

// unload restores the original prologue and releases the code buffer.
func (h *Hook) unload() error {
	err := WriteMemory(h.target, h.original)
	if err != nil {
		return err
	}
	err = h.code.Free()
	if err != nil {
		return err
	}
	h.code = nil
	h.original = nil
	h.freeStub()
	h.installed = false
	return nil
}

// Trampoline returns the address that reaches the original function.
// It is zero before the first successful Install.
func (h *Hook) Trampoline() Pointer {
	if h.isCallInst {
		return Pointer(h.callAbs)
	}
	if h.code == nil {
		return 0
	}
	return h.code.Get(trampolineOffset)
}

// Context returns the per-call context captured by the entry thunk.
func (h *Hook) Context() *Context {
	return &h.context
}

// Installed reports whether the target is currently patched.
func (h *Hook) Installed() bool {
	return h.installed
}

// Close removes the hook and releases all generated code.
func (h *Hook) Close() error {
	err := h.Remove()
	if err != nil {
		return err
	}
	if h.code != nil {
		err = h.code.Free()
		if err != nil {
			return err
		}
		h.code = nil
		h.original = nil
	}
	h.freeStub()
	return nil
}

func (h *Hook) freeStub() {
	if h.stub != nil {
		_ = h.stub.Free()
		h.stub = nil
	}
}
