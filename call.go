//go:build windows && 386

package detour

import (
	"errors"
	"syscall"
)

// Conv is the calling convention of a hooked function.
type Conv uint8

// supported calling conventions.
const (
	Cdecl Conv = iota
	Stdcall
	Thiscall
	Fastcall
)

// ErrNotInstalled is returned by Call before the first Install.
var ErrNotInstalled = errors.New("hook is not installed")

// Call invokes the original function through the trampoline with the
// calling convention given to NewHook. For Thiscall the first argument
// is the object pointer, for Fastcall the first two arguments travel
// in registers.
func (h *Hook) Call(args ...uintptr) (uintptr, error) {
	fn := h.Trampoline()
	if fn.IsNull() {
		return 0, ErrNotInstalled
	}
	switch h.conv {
	case Cdecl, Stdcall:
		return rawCall(fn, args), nil
	case Thiscall, Fastcall:
		if h.stub == nil {
			stub, err := newConvStub(h.conv, fn)
			if err != nil {
				return 0, err
			}
			h.stub = stub
		}
		return rawCall(h.stub.Begin(), args), nil
	default:
		return 0, errors.New("invalid calling convention")
	}
}

// newConvStub builds a conversion stub that moves the leading stack
// arguments into the registers the callee expects and tail-jumps to fn.
func newConvStub(conv Conv, fn Pointer) (*AsmBuffer, error) {
	stub, err := NewAsmBuffer(0)
	if err != nil {
		return nil, err
	}
	stub.Pop(EAX).Pop(ECX)
	if conv == Fastcall {
		stub.Pop(EDX)
	}
	stub.Push(EAX).Jmp(fn)
	err = stub.Ready()
	if err != nil {
		_ = stub.Free()
		return nil, err
	}
	return stub, nil
}

// rawCall pushes args and transfers control to fn. The stack pointer
// is restored by the runtime after the call returns, so both caller
// and callee cleanup conventions are safe.
func rawCall(fn Pointer, args []uintptr) uintptr {
	ret, _, _ := syscall.SyscallN(fn.Uintptr(), args...)
	return ret
}

// CallCdecl calls a cdecl function at fn.
func CallCdecl(fn Pointer, args ...uintptr) uintptr {
	return rawCall(fn, args)
}

// CallWinapi calls a stdcall function at fn.
func CallWinapi(fn Pointer, args ...uintptr) uintptr {
	return rawCall(fn, args)
}

// CallMethod calls a thiscall function at fn, this is the first
// argument.
func CallMethod(fn Pointer, this uintptr, args ...uintptr) (uintptr, error) {
	stub, err := newConvStub(Thiscall, fn)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stub.Free() }()
	all := append([]uintptr{this}, args...)
	return rawCall(stub.Begin(), all), nil
}

// CallFast calls a fastcall function at fn, the first two arguments
// travel in ECX and EDX.
func CallFast(fn Pointer, args ...uintptr) (uintptr, error) {
	stub, err := newConvStub(Fastcall, fn)
	if err != nil {
		return 0, err
	}
	defer func() { _ = stub.Free() }()
	return rawCall(stub.Begin(), args), nil
}
