//go:build windows && 386

package detour

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestReadWriteMemory(t *testing.T) {
	buf := make([]byte, 16)
	addr := PointerTo(unsafe.Pointer(&buf[0]))

	err := WriteMemory(addr, []byte{0x01, 0x02, 0x03, 0x04})
	require.NoError(t, err)
	require.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, buf[:4])

	out := make([]byte, 4)
	err = ReadMemory(addr, out)
	require.NoError(t, err)
	require.Equal(t, buf[:4], out)

	t.Run("empty", func(t *testing.T) {
		err = WriteMemory(addr, nil)
		require.NoError(t, err)
		err = ReadMemory(addr, nil)
		require.NoError(t, err)
	})
}

func TestTypedAccess(t *testing.T) {
	buf := make([]byte, 8)
	addr := PointerTo(unsafe.Pointer(&buf[0]))

	err := WriteUint32(addr, 0xDEADBEEF)
	require.NoError(t, err)
	require.Equal(t, []byte{0xEF, 0xBE, 0xAD, 0xDE}, buf[:4])

	val, err := ReadUint32(addr)
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), val)

	err = WriteUint16(addr.Add(4), 0x1234)
	require.NoError(t, err)
	require.Equal(t, []byte{0x34, 0x12}, buf[4:6])

	v16, err := ReadUint16(addr.Add(4))
	require.NoError(t, err)
	require.Equal(t, uint16(0x1234), v16)

	err = WriteUint8(addr.Add(6), 0xCC)
	require.NoError(t, err)
	require.Equal(t, byte(0xCC), buf[6])

	v8, err := ReadUint8(addr.Add(6))
	require.NoError(t, err)
	require.Equal(t, byte(0xCC), v8)
}

func TestFillCopyCompare(t *testing.T) {
	bufA := make([]byte, 8)
	bufB := make([]byte, 8)
	addrA := PointerTo(unsafe.Pointer(&bufA[0]))
	addrB := PointerTo(unsafe.Pointer(&bufB[0]))

	err := FillMemory(addrA, 0x90, 8)
	require.NoError(t, err)
	for _, b := range bufA {
		require.Equal(t, byte(0x90), b)
	}

	equal, err := CompareMemory(addrA, addrB, 8)
	require.NoError(t, err)
	require.False(t, equal)

	err = CopyMemory(addrB, addrA, 8)
	require.NoError(t, err)
	require.Equal(t, bufA, bufB)

	equal, err = CompareMemory(addrA, addrB, 8)
	require.NoError(t, err)
	require.True(t, equal)
}

func TestIsExecutable(t *testing.T) {
	ab, err := NewAsmBuffer(0)
	require.NoError(t, err)
	defer func() {
		err = ab.Free()
		require.NoError(t, err)
	}()

	require.True(t, IsExecutable(ab.Begin()))
	require.False(t, IsExecutable(Pointer(0x10)))
}

func TestPointer(t *testing.T) {
	p := Pointer(0x1000)
	require.Equal(t, Pointer(0x1010), p.Add(0x10))
	require.Equal(t, Pointer(0x0FF0), p.Sub(0x10))
	require.Equal(t, uintptr(0x1000), p.Uintptr())
	require.False(t, p.IsNull())
	require.True(t, Pointer(0).IsNull())
}
