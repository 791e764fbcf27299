package detour

import (
	"encoding/binary"

	"golang.org/x/arch/x86/x86asm"
)

// instruction flags reported by the length decoder.
const (
	flagError uint32 = 1 << iota
	flagRelative
	flagImm8
	flagImm32
)

// instruction is the result of length-decoding a single instruction.
// Only PC-relative immediates are extracted; other immediate forms are
// not needed for relocation and are left zero.
type instruction struct {
	len     int
	opcode  byte
	opcode2 byte
	imm8    int8
	imm32   int32
	flags   uint32
}

// decode length-decodes the first instruction in src in 32-bit mode.
// A decoder failure is reported through the error flag with a zero
// length instead of an error value, so callers can scan byte windows
// without unwinding.
func decode(src []byte) instruction {
	inst, err := x86asm.Decode(src, 32)
	// a truncated instruction can come back without an error but with
	// no opcode decoded
	if err != nil || inst.Op == 0 {
		return instruction{flags: flagError}
	}
	hs := instruction{len: inst.Len}
	// opcode bytes are left-justified in Inst.Opcode
	hs.opcode = byte(inst.Opcode >> 24)
	if hs.opcode == 0x0F {
		hs.opcode2 = byte(inst.Opcode >> 16)
	}
	switch inst.PCRel {
	case 1:
		hs.imm8 = int8(src[inst.PCRelOff])
		hs.flags |= flagRelative | flagImm8
	case 4:
		hs.imm32 = int32(binary.LittleEndian.Uint32(src[inst.PCRelOff:]))
		hs.flags |= flagRelative | flagImm32
	default:
		if inst.PCRel > 0 {
			hs.flags |= flagRelative
		}
	}
	return hs
}

// relativeAddress computes the rel32 operand for a control transfer of
// oplen bytes located at from and targeting to.
func relativeAddress(to, from uint32, oplen int) uint32 {
	return to - from - uint32(oplen)
}

// absoluteAddress restores the absolute target from the rel32 operand
// of a control transfer of oplen bytes located at from.
func absoluteAddress(imm, from uint32, oplen int) uint32 {
	return imm + from + uint32(oplen)
}

func alignValue(value, alignment uint32) uint32 {
	remainder := value % alignment
	if remainder == 0 {
		return value
	}
	return value - remainder + alignment
}
