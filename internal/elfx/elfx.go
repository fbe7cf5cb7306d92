// Package elfx parses in-memory ELF images for their identity: machine, kind,
// build id and symbols.
package elfx

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

type Image struct {
	File    *elf.File
	All     []byte
	Loads   []Seg
	Text    Section
	Dynsyms []Sym
	Syms    []Sym
}

type Seg struct {
	Vaddr, Off, Filesz uint64
	Flags              elf.ProgFlag
}

type Section struct {
	Name          string
	VA, Off, Size uint64
	// NoBits is set for sections that occupy no file space, as .text does
	// in split debug files.
	NoBits bool
}

type Sym struct {
	Name string
	Addr uint64
	Size uint64
}

// New parses an ELF image held in memory. The image aliases data.
func New(data []byte) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open elf: %w", err)
	}
	im := &Image{File: f, All: data}
	for _, p := range f.Progs {
		if p.Type != elf.PT_LOAD {
			continue
		}
		im.Loads = append(im.Loads, Seg{
			Vaddr:  p.Vaddr,
			Off:    p.Off,
			Filesz: p.Filesz,
			Flags:  p.Flags,
		})
	}
	if s := f.Section(".text"); s != nil {
		im.Text = Section{s.Name, s.Addr, s.Offset, s.Size, s.Type == elf.SHT_NOBITS}
	} else {
		for _, l := range im.Loads {
			if l.Flags&elf.PF_X != 0 && l.Filesz > 0 {
				im.Text = Section{"LOAD(exec)", l.Vaddr, l.Off, l.Filesz, false}
				break
			}
		}
	}
	im.loadDynamicSymbols()
	im.loadStaticSymbols()
	return im, nil
}

// Arch names the machine the image was built for.
func (im *Image) Arch() string {
	switch im.File.Machine {
	case elf.EM_386:
		return "x86"
	case elf.EM_X86_64:
		return "x86_64"
	case elf.EM_ARM:
		return "arm"
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_PPC:
		return "ppc"
	case elf.EM_PPC64:
		return "ppc64"
	case elf.EM_MIPS:
		if im.File.Class == elf.ELFCLASS64 {
			return "mips64"
		}
		return "mips"
	case elf.EM_RISCV:
		if im.File.Class == elf.ELFCLASS64 {
			return "riscv64"
		}
		return "riscv32"
	}
	return "unknown"
}

// Kind classifies the image. Executables and libraries whose code was
// stripped out but which carry DWARF are split debug files.
func (im *Image) Kind() string {
	switch im.File.Type {
	case elf.ET_REL:
		return "Relocatable"
	case elf.ET_CORE:
		return "Dump"
	case elf.ET_EXEC, elf.ET_DYN:
		if (im.Text.Size == 0 || im.Text.NoBits) && im.File.Section(".debug_info") != nil {
			return "Debug"
		}
		if im.File.Type == elf.ET_EXEC || im.hasInterp() {
			return "Executable"
		}
		return "Library"
	}
	return "Other"
}

func (im *Image) hasInterp() bool {
	for _, p := range im.File.Progs {
		if p.Type == elf.PT_INTERP {
			return true
		}
	}
	return false
}

// BuildID returns the GNU build-id note, looked up in the note sections
// first and in PT_NOTE segments for images without section headers.
func (im *Image) BuildID() ([]byte, bool) {
	for _, s := range im.File.Sections {
		if s.Type != elf.SHT_NOTE {
			continue
		}
		data, err := s.Data()
		if err != nil {
			continue
		}
		if id, ok := findBuildID(data, im.File.ByteOrder); ok {
			return id, true
		}
	}
	for _, p := range im.File.Progs {
		if p.Type != elf.PT_NOTE || p.Off+p.Filesz > uint64(len(im.All)) {
			continue
		}
		if id, ok := findBuildID(im.All[p.Off:p.Off+p.Filesz], im.File.ByteOrder); ok {
			return id, true
		}
	}
	return nil, false
}

const ntGNUBuildID = 3

func findBuildID(notes []byte, order binary.ByteOrder) ([]byte, bool) {
	for len(notes) >= 12 {
		nameSize := uint64(order.Uint32(notes[0:]))
		descSize := uint64(order.Uint32(notes[4:]))
		typ := order.Uint32(notes[8:])
		notes = notes[12:]
		nameEnd := align4(nameSize)
		descEnd := nameEnd + align4(descSize)
		if descEnd > uint64(len(notes)) || nameEnd+descSize > uint64(len(notes)) {
			return nil, false
		}
		name := strings.TrimRight(string(notes[:nameSize]), "\x00")
		if typ == ntGNUBuildID && name == "GNU" && descSize > 0 {
			return notes[nameEnd : nameEnd+descSize], true
		}
		notes = notes[descEnd:]
	}
	return nil, false
}

func align4(n uint64) uint64 { return (n + 3) &^ 3 }

// TextHash folds the first page of .text into 16 bytes by XOR. It stands
// in for a build id on images linked without one.
func (im *Image) TextHash() ([16]byte, bool) {
	var h [16]byte
	if im.Text.Size == 0 || im.Text.NoBits {
		return h, false
	}
	end := im.Text.Off + min(im.Text.Size, 4096)
	if end > uint64(len(im.All)) {
		return h, false
	}
	for i, b := range im.All[im.Text.Off:end] {
		h[i%16] ^= b
	}
	return h, true
}

// Symbols returns function and object symbols from .symtab and .dynsym,
// sorted by address with duplicates removed.
func (im *Image) Symbols() []Sym {
	seen := make(map[Sym]bool)
	var out []Sym
	for _, group := range [][]Sym{im.Syms, im.Dynsyms} {
		for _, s := range group {
			if seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// loadDynamicSymbols loads defined symbols from .dynsym.
func (im *Image) loadDynamicSymbols() {
	dynsyms, err := im.File.DynamicSymbols()
	if err != nil {
		return
	}
	im.Dynsyms = definedSymbols(dynsyms)
}

// loadStaticSymbols loads defined symbols from .symtab; stripped images
// have none.
func (im *Image) loadStaticSymbols() {
	syms, err := im.File.Symbols()
	if err != nil {
		return
	}
	im.Syms = definedSymbols(syms)
}

func definedSymbols(syms []elf.Symbol) []Sym {
	var out []Sym
	for _, s := range syms {
		if s.Value == 0 || s.Name == "" || s.Section == elf.SHN_UNDEF {
			continue
		}
		switch elf.ST_TYPE(s.Info) {
		case elf.STT_FUNC, elf.STT_OBJECT:
		default:
			continue
		}
		out = append(out, Sym{Name: s.Name, Addr: s.Value, Size: s.Size})
	}
	return out
}
