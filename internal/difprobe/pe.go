package difprobe

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"

	"github.com/olksdr/minidump-viewer/internal/minidump"
)

const (
	peDebugDirectory    = 6
	peDebugEntrySize    = 28
	peDebugTypeCodeView = 2
	peFileDLL           = 0x2000
)

var peMachines = map[uint16]string{
	pe.IMAGE_FILE_MACHINE_I386:  "x86",
	pe.IMAGE_FILE_MACHINE_AMD64: "x86_64",
	pe.IMAGE_FILE_MACHINE_ARM:   "arm",
	pe.IMAGE_FILE_MACHINE_ARMNT: "arm",
	pe.IMAGE_FILE_MACHINE_ARM64: "arm64",
}

func probePE(data []byte) (*Meta, error) {
	f, err := pe.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("difprobe: open pe: %w", err)
	}
	defer f.Close()

	m := &Meta{Format: FormatPE, Kind: KindExecutable}
	if f.Characteristics&peFileDLL != 0 {
		m.Kind = KindLibrary
	}
	if arch, ok := peMachines[f.Machine]; ok {
		m.Arch = ptr(arch)
	}

	var (
		dirs      []pe.DataDirectory
		sizeImage uint32
	)
	switch oh := f.OptionalHeader.(type) {
	case *pe.OptionalHeader32:
		dirs, sizeImage = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, 16)], oh.SizeOfImage
	case *pe.OptionalHeader64:
		dirs, sizeImage = oh.DataDirectory[:min(oh.NumberOfRvaAndSizes, 16)], oh.SizeOfImage
	default:
		// Object files have no optional header and nothing to key them by.
		m.Kind = KindRelocatable
		return m, nil
	}
	m.CodeID = ptr(fmt.Sprintf("%08X%x", f.TimeDateStamp, sizeImage))

	if len(dirs) <= peDebugDirectory {
		return m, nil
	}
	dir := dirs[peDebugDirectory]
	entries, ok := peSlice(f, data, dir.VirtualAddress, dir.Size)
	if !ok {
		return m, nil
	}
	for len(entries) >= peDebugEntrySize {
		typ := binary.LittleEndian.Uint32(entries[12:])
		size := binary.LittleEndian.Uint32(entries[16:])
		off := binary.LittleEndian.Uint32(entries[24:])
		entries = entries[peDebugEntrySize:]
		if typ != peDebugTypeCodeView || uint64(off)+uint64(size) > uint64(len(data)) {
			continue
		}
		if cv, ok := minidump.ParseCodeView(data[off : off+size]).(*minidump.PDB70); ok {
			m.DebugID = ptr(debugID(cv.Signature, cv.Age))
			break
		}
	}
	return m, nil
}

// peSlice maps an RVA range onto the file through the section table.
func peSlice(f *pe.File, data []byte, rva, size uint32) ([]byte, bool) {
	for _, s := range f.Sections {
		if rva < s.VirtualAddress || rva >= s.VirtualAddress+max(s.VirtualSize, s.Size) {
			continue
		}
		off := uint64(s.Offset) + uint64(rva-s.VirtualAddress)
		if off+uint64(size) > uint64(len(data)) {
			return nil, false
		}
		return data[off : off+uint64(size)], true
	}
	return nil, false
}
