//go:build windows && 386

package detour

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/windows"
)

func TestSearchPattern(t *testing.T) {
	t.Run("module header", func(t *testing.T) {
		ptr := SearchPattern("kernel32.dll", []byte("MZ"), "xx")
		require.False(t, ptr.IsNull())

		name, err := windows.UTF16PtrFromString("kernel32.dll")
		require.NoError(t, err)
		handle, err := windows.GetModuleHandle(name)
		require.NoError(t, err)
		require.Equal(t, Pointer(handle), ptr)
	})

	t.Run("wildcard", func(t *testing.T) {
		// PE signature "PE\0\0" with wildcarded second byte
		ptr := SearchPattern("kernel32.dll", []byte{'P', 0x00, 0x00, 0x00}, "x?xx")
		require.False(t, ptr.IsNull())
	})

	t.Run("module not loaded", func(t *testing.T) {
		ptr := SearchPattern("not_a_module_1234.dll", []byte("MZ"), "xx")
		require.True(t, ptr.IsNull())
	})

	t.Run("pattern not present", func(t *testing.T) {
		pattern := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x13, 0x37, 0xC0, 0xDE}
		ptr := SearchPattern("kernel32.dll", pattern, "xxxxxxxx")
		require.True(t, ptr.IsNull())
	})
}

func TestScanPattern(t *testing.T) {
	data := []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}

	require.Equal(t, 1, scanPattern(data, []byte{0x11, 0x22}, "xx"))
	require.Equal(t, 1, scanPattern(data, []byte{0x11, 0xFF, 0x33}, "x?x"))
	require.Equal(t, -1, scanPattern(data, []byte{0x11, 0xFF, 0x33}, "xxx"))
	require.Equal(t, -1, scanPattern(data, nil, ""))
	require.Equal(t, -1, scanPattern(data, []byte{0x11}, "xx"))

	t.Run("mask shorter than pattern", func(t *testing.T) {
		// bytes past the mask must match exactly
		require.Equal(t, 2, scanPattern(data, []byte{0x22, 0x33}, "x"))
		require.Equal(t, -1, scanPattern(data, []byte{0x22, 0xFF}, "x"))
	})
}
