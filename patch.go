//go:build windows && 386

package detour

import (
	"errors"
	"fmt"

	"golang.org/x/sys/windows"
)

// ScopedWrite replaces bytes in process memory and can restore the
// previous content later.
type ScopedWrite struct {
	addr    Pointer
	backup  []byte
	applied bool
}

// NewScopedWrite writes data at addr immediately and remembers the
// bytes it replaced.
func NewScopedWrite(addr Pointer, data []byte) (*ScopedWrite, error) {
	sw := ScopedWrite{}
	err := sw.Install(addr, data)
	if err != nil {
		return nil, err
	}
	return &sw, nil
}

// Install writes data at addr, backing up the previous content first.
func (sw *ScopedWrite) Install(addr Pointer, data []byte) error {
	if sw.applied {
		return errors.New("scoped write is already applied")
	}
	backup := make([]byte, len(data))
	err := ReadMemory(addr, backup)
	if err != nil {
		return err
	}
	err = WriteMemory(addr, data)
	if err != nil {
		return err
	}
	sw.addr = addr
	sw.backup = backup
	sw.applied = true
	return nil
}

// Restore writes back the replaced bytes.
func (sw *ScopedWrite) Restore() error {
	if !sw.applied {
		return nil
	}
	err := WriteMemory(sw.addr, sw.backup)
	if err != nil {
		return err
	}
	sw.applied = false
	return nil
}

// ScopedFill fills a region with one byte value and can restore the
// previous content later.
type ScopedFill struct {
	sw ScopedWrite
}

// NewScopedFill fills size bytes at addr with val immediately.
func NewScopedFill(addr Pointer, val byte, size uint32) (*ScopedFill, error) {
	sf := ScopedFill{}
	err := sf.Install(addr, val, size)
	if err != nil {
		return nil, err
	}
	return &sf, nil
}

// Install fills size bytes at addr with val, backing up first.
func (sf *ScopedFill) Install(addr Pointer, val byte, size uint32) error {
	data := make([]byte, size)
	for i := range data {
		data[i] = val
	}
	return sf.sw.Install(addr, data)
}

// Restore writes back the replaced bytes.
func (sf *ScopedFill) Restore() error {
	return sf.sw.Restore()
}

// PatchUnit is one replacement at one address that can be applied and
// reverted independently.
type PatchUnit struct {
	addr        Pointer
	replacement []byte
	original    []byte
	applied     bool
}

// NewPatchUnit creates a unit that will write replacement at addr.
// When original is nil the bytes are snapshotted on the first Install.
func NewPatchUnit(addr Pointer, replacement, original []byte) *PatchUnit {
	return &PatchUnit{
		addr:        addr,
		replacement: replacement,
		original:    original,
	}
}

// NewModulePatchUnit creates a unit addressed as an offset from the
// base of a loaded module.
func NewModulePatchUnit(module string, offset uint32, replacement, original []byte) (*PatchUnit, error) {
	name, err := windows.UTF16PtrFromString(module)
	if err != nil {
		return nil, err
	}
	handle, err := windows.GetModuleHandle(name)
	if err != nil {
		return nil, fmt.Errorf("failed to find module %q: %s", module, err)
	}
	return NewPatchUnit(Pointer(handle).Add(offset), replacement, original), nil
}

// Install applies the replacement.
func (pu *PatchUnit) Install() error {
	if pu.applied {
		return nil
	}
	if pu.original == nil {
		original := make([]byte, len(pu.replacement))
		err := ReadMemory(pu.addr, original)
		if err != nil {
			return err
		}
		pu.original = original
	}
	err := WriteMemory(pu.addr, pu.replacement)
	if err != nil {
		return err
	}
	pu.applied = true
	return nil
}

// Remove writes back the original bytes.
func (pu *PatchUnit) Remove() error {
	if !pu.applied {
		return nil
	}
	err := WriteMemory(pu.addr, pu.original)
	if err != nil {
		return err
	}
	pu.applied = false
	return nil
}

// Address returns the patched address.
func (pu *PatchUnit) Address() Pointer {
	return pu.addr
}

// Applied reports whether the replacement is currently in place.
func (pu *PatchUnit) Applied() bool {
	return pu.applied
}

// Patch is a group of units installed and removed together.
type Patch struct {
	units []*PatchUnit
}

// NewPatch creates an empty patch group.
func NewPatch() *Patch {
	return &Patch{}
}

// Add appends a unit to the group.
func (p *Patch) Add(unit *PatchUnit) {
	p.units = append(p.units, unit)
}

// Units returns the units in the group.
func (p *Patch) Units() []*PatchUnit {
	return p.units
}

// Install applies all units. On failure the units applied so far are
// reverted.
func (p *Patch) Install() error {
	for i, unit := range p.units {
		err := unit.Install()
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				_ = p.units[j].Remove()
			}
			return err
		}
	}
	return nil
}

// Remove reverts all units.
func (p *Patch) Remove() error {
	for _, unit := range p.units {
		err := unit.Remove()
		if err != nil {
			return err
		}
	}
	return nil
}

// Toggle installs the patch when any unit is not applied, otherwise
// removes it. It reports whether the patch is applied afterwards.
func (p *Patch) Toggle() (bool, error) {
	for _, unit := range p.units {
		if !unit.Applied() {
			return true, p.Install()
		}
	}
	return false, p.Remove()
}
