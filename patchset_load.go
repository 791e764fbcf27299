//go:build windows && 386

package detour

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// LoadPatch parses a TOML patch description and resolves each unit to
// a ready-to-install Patch. Units that name a module require it to be
// loaded already.
func LoadPatch(data []byte) (*Patch, error) {
	config, err := ParsePatchConfig(data)
	if err != nil {
		return nil, err
	}
	patch := NewPatch()
	for i := 0; i < len(config.Units); i++ {
		unit := &config.Units[i]
		addr, err := resolveUnitAddress(unit)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve patch unit %d: %s", i, err)
		}
		replacement, err := unit.replacement(uint32(addr))
		if err != nil {
			return nil, fmt.Errorf("failed to build patch unit %d: %s", i, err)
		}
		original, err := unit.original()
		if err != nil {
			return nil, fmt.Errorf("failed to build patch unit %d: %s", i, err)
		}
		patch.Add(NewPatchUnit(addr, replacement, original))
	}
	return patch, nil
}

func resolveUnitAddress(unit *PatchUnitConfig) (Pointer, error) {
	if unit.Module == "" {
		return Pointer(unit.Address), nil
	}
	name, err := windows.UTF16PtrFromString(unit.Module)
	if err != nil {
		return 0, err
	}
	handle, err := windows.GetModuleHandle(name)
	if err != nil {
		return 0, fmt.Errorf("failed to find module %q: %s", unit.Module, err)
	}
	return Pointer(handle).Add(unit.Offset), nil
}
