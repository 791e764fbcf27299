package detour

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/For-ACGN/go-keystone"
	"github.com/pelletier/go-toml/v2"
)

// PatchConfig describes a set of patch units in TOML.
type PatchConfig struct {
	// patch units applied and removed together.
	Units []PatchUnitConfig `toml:"unit" json:"unit"`
}

// PatchUnitConfig describes one patch unit.
type PatchUnitConfig struct {
	// target a loaded module by name, combined with offset.
	Module string `toml:"module" json:"module"`

	// offset from the module base.
	Offset uint32 `toml:"offset" json:"offset"`

	// absolute target address, used when module is empty.
	Address uint32 `toml:"address" json:"address"`

	// replacement bytes in hex.
	Replacement string `toml:"replacement" json:"replacement"`

	// replacement as Intel syntax assembly, used when replacement
	// is empty.
	Assembly string `toml:"assembly" json:"assembly"`

	// expected original bytes in hex, optional.
	Original string `toml:"original" json:"original"`
}

// ParsePatchConfig decodes and validates a TOML patch description.
func ParsePatchConfig(data []byte) (*PatchConfig, error) {
	config := PatchConfig{}
	err := toml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to decode patch config: %s", err)
	}
	err = config.Check()
	if err != nil {
		return nil, err
	}
	return &config, nil
}

// Check is used to check patch configuration.
func (cfg *PatchConfig) Check() error {
	if len(cfg.Units) == 0 {
		return errors.New("patch config contains no unit")
	}
	for i := 0; i < len(cfg.Units); i++ {
		err := cfg.Units[i].check()
		if err != nil {
			return fmt.Errorf("invalid patch unit %d: %s", i, err)
		}
	}
	return nil
}

func (unit *PatchUnitConfig) check() error {
	if unit.Module == "" && unit.Address == 0 {
		return errors.New("no module name or absolute address")
	}
	if unit.Module != "" && unit.Address != 0 {
		return errors.New("module name and absolute address are both set")
	}
	if unit.Replacement == "" && unit.Assembly == "" {
		return errors.New("no replacement bytes or assembly")
	}
	if unit.Replacement != "" && unit.Assembly != "" {
		return errors.New("replacement bytes and assembly are both set")
	}
	if unit.Replacement != "" {
		if _, err := hex.DecodeString(unit.Replacement); err != nil {
			return errors.New("invalid replacement hex")
		}
	}
	if unit.Original != "" {
		if _, err := hex.DecodeString(unit.Original); err != nil {
			return errors.New("invalid original hex")
		}
	}
	return nil
}

// replacement returns the bytes this unit will write, assembling the
// assembly field at the given load address when needed.
func (unit *PatchUnitConfig) replacement(address uint32) ([]byte, error) {
	if unit.Replacement != "" {
		return hex.DecodeString(unit.Replacement)
	}
	engine, err := keystone.NewEngine(keystone.ARCH_X86, keystone.MODE_32)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize assembler: %s", err)
	}
	defer func() { _ = engine.Close() }()
	err = engine.Option(keystone.OPT_SYNTAX, keystone.OPT_SYNTAX_INTEL)
	if err != nil {
		return nil, err
	}
	inst, err := engine.Assemble(unit.Assembly, uint64(address))
	if err != nil {
		return nil, fmt.Errorf("failed to assemble replacement: %s", err)
	}
	if len(inst) == 0 {
		return nil, errors.New("empty assembled replacement")
	}
	return inst, nil
}

// original returns the expected original bytes, nil when not given.
func (unit *PatchUnitConfig) original() ([]byte, error) {
	if unit.Original == "" {
		return nil, nil
	}
	return hex.DecodeString(unit.Original)
}
