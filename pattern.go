//go:build windows && 386

package detour

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

const (
	imageDOSSignature = 0x5A4D
	imageNTSignature  = 0x00004550
)

// SearchPattern scans the in-memory image of a loaded module for the
// first occurrence of pattern. Bytes whose position in mask is '?' are
// wildcards. It returns the address of the match, or zero when the
// module is not loaded or the pattern does not occur.
func SearchPattern(module string, pattern []byte, mask string) Pointer {
	name, err := windows.UTF16PtrFromString(module)
	if err != nil {
		return 0
	}
	handle, err := windows.GetModuleHandle(name)
	if err != nil {
		return 0
	}
	base := Pointer(handle)
	var mbi windows.MemoryBasicInformation
	err = windows.VirtualQuery(base.Uintptr(), &mbi, unsafe.Sizeof(mbi))
	if err != nil || mbi.State != windows.MEM_COMMIT {
		return 0
	}
	// walk the PE headers to find the mapped image size, the mapped
	// pages are readable as-is so no protection toggle is needed
	header := make([]byte, 0x1000)
	copy(header, base.bytes(len(header)))
	if readUint16LE(header, 0) != imageDOSSignature {
		return 0
	}
	ntOffset := readUint32LE(header, 0x3C)
	if int(ntOffset)+0x54 > len(header) {
		return 0
	}
	if readUint32LE(header, int(ntOffset)) != imageNTSignature {
		return 0
	}
	sizeOfImage := readUint32LE(header, int(ntOffset)+0x50)
	if sizeOfImage == 0 {
		return 0
	}
	idx := scanPattern(base.bytes(int(sizeOfImage)), pattern, mask)
	if idx < 0 {
		return 0
	}
	return base.Add(uint32(idx))
}

// scanPattern returns the index of the first masked match of pattern
// in data, or -1.
func scanPattern(data, pattern []byte, mask string) int {
	if len(pattern) == 0 || len(pattern) < len(mask) {
		return -1
	}
next:
	for i := 0; i+len(pattern) <= len(data); i++ {
		for j := 0; j < len(pattern); j++ {
			if j < len(mask) && mask[j] == '?' {
				continue
			}
			if data[i+j] != pattern[j] {
				continue next
			}
		}
		return i
	}
	return -1
}

func readUint16LE(b []byte, off int) uint16 {
	return uint16(b[off]) | uint16(b[off+1])<<8
}

func readUint32LE(b []byte, off int) uint32 {
	return uint32(b[off]) | uint32(b[off+1])<<8 |
		uint32(b[off+2])<<16 | uint32(b[off+3])<<24
}
