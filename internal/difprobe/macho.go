package difprobe

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/blacktop/go-macho"
)

var machoCPUs = map[uint32]string{
	7:          "x86",
	0x01000007: "x86_64",
	12:         "arm",
	0x0100000c: "arm64",
	0x0200000c: "arm64_32",
	18:         "ppc",
	0x01000012: "ppc64",
}

var machoKinds = map[uint32]string{
	1:   KindRelocatable,
	2:   KindExecutable,
	4:   KindDump,
	6:   KindLibrary,
	8:   KindLibrary,
	0xa: KindDebug,
}

// probeMachO reads a thin Mach-O image, or the first slice of a universal
// binary.
func probeMachO(data []byte) (*Meta, []rawSymbol, error) {
	var m *macho.File
	if binary.BigEndian.Uint32(data) == 0xcafebabe {
		fat, err := macho.NewFatFile(bytes.NewReader(data))
		if err != nil {
			return nil, nil, fmt.Errorf("difprobe: open universal mach-o: %w", err)
		}
		defer fat.Close()
		if len(fat.Arches) == 0 {
			return nil, nil, fmt.Errorf("difprobe: universal mach-o has no slices")
		}
		m = fat.Arches[0].File
	} else {
		f, err := macho.NewFile(bytes.NewReader(data))
		if err != nil {
			return nil, nil, fmt.Errorf("difprobe: open mach-o: %w", err)
		}
		defer f.Close()
		m = f
	}

	meta := &Meta{Format: FormatMachO, Kind: KindOther}
	if kind, ok := machoKinds[uint32(m.Type)]; ok {
		meta.Kind = kind
	}
	if arch, ok := machoCPUs[uint32(m.CPU)]; ok {
		meta.Arch = ptr(arch)
	}
	if u := m.UUID(); u != nil {
		id := u.UUID[:]
		meta.DebugID = ptr(guidRaw(id).String())
		meta.CodeID = ptr(hex.EncodeToString(id))
	}

	var syms []rawSymbol
	if m.Symtab != nil {
		for _, s := range m.Symtab.Syms {
			if s.Name == "" || s.Value == 0 {
				continue
			}
			syms = append(syms, rawSymbol{addr: s.Value, name: s.Name})
		}
	}
	return meta, syms, nil
}
