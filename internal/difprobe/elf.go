package difprobe

import (
	"debug/elf"
	"encoding/hex"
	"fmt"

	"github.com/olksdr/minidump-viewer/internal/elfx"
	"github.com/olksdr/minidump-viewer/internal/minidump"
)

func probeELF(data []byte) (*Meta, []rawSymbol, error) {
	im, err := elfx.New(data)
	if err != nil {
		return nil, nil, fmt.Errorf("difprobe: %w", err)
	}
	m := &Meta{
		Kind:   im.Kind(),
		Format: FormatELF,
		Arch:   ptr(im.Arch()),
	}

	// The debug id is the first 16 bytes of the build id read as a GUID,
	// so that it matches what a minidump records for the same module.
	var id [16]byte
	if buildID, ok := im.BuildID(); ok {
		copy(id[:], buildID)
		m.CodeID = ptr(hex.EncodeToString(buildID))
		m.DebugID = ptr(elfGUID(id[:], im.File.Data).String())
	} else if h, ok := im.TextHash(); ok {
		m.DebugID = ptr(elfGUID(h[:], im.File.Data).String())
	}

	var syms []rawSymbol
	for _, s := range im.Symbols() {
		syms = append(syms, rawSymbol{addr: s.Addr, name: s.Name})
	}
	return m, syms, nil
}

func elfGUID(b []byte, order elf.Data) minidump.GUID {
	if order == elf.ELFDATA2MSB {
		return guidRaw(b)
	}
	return minidump.GUIDFromBytes(b)
}
