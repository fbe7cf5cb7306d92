// Package difprobe reads identifying metadata from debug information files:
// ELF, PE, Mach-O, PDB and Breakpad symbol files. It shares nothing with
// minidump triage.
package difprobe

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ianlancetaylor/demangle"

	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/report"
)

// ErrUnknownFormat is returned for input none of the readers recognize.
var ErrUnknownFormat = errors.New("difprobe: unknown file format")

// Object kinds.
const (
	KindExecutable  = "Executable"
	KindLibrary     = "Library"
	KindDebug       = "Debug"
	KindRelocatable = "Relocatable"
	KindDump        = "Dump"
	KindOther       = "Other"
)

// Container formats.
const (
	FormatELF      = "elf"
	FormatPE       = "pe"
	FormatMachO    = "macho"
	FormatPDB      = "pdb"
	FormatBreakpad = "breakpad"
)

// Meta is what the probe could learn about a file. Optional fields are
// null when the format does not carry them.
type Meta struct {
	Kind    string   `json:"kind"`
	Format  string   `json:"format"`
	Arch    *string  `json:"arch"`
	DebugID *string  `json:"debug_id"`
	CodeID  *string  `json:"code_id"`
	Symbols []Symbol `json:"symbols,omitempty"`
}

type Symbol struct {
	Address report.Hex64 `json:"address"`
	Name    string       `json:"name"`
	// Mangled is the raw name when demangling changed it.
	Mangled *string `json:"mangled,omitempty"`
}

type options struct {
	symbols int
}

type Option func(*options)

// WithSymbols includes up to n symbols, lowest address first.
func WithSymbols(n int) Option {
	return func(o *options) { o.symbols = n }
}

var (
	magicELF   = []byte("\x7fELF")
	magicMSF7  = []byte("Microsoft C/C++ MSF 7.00\r\n\x1aDS\x00\x00\x00")
	magicBPMod = []byte("MODULE ")
)

// Probe identifies data and extracts its metadata.
func Probe(data []byte, opts ...Option) (*Meta, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	var (
		m    *Meta
		syms []rawSymbol
		err  error
	)
	switch {
	case bytes.HasPrefix(data, magicELF):
		m, syms, err = probeELF(data)
	case bytes.HasPrefix(data, magicMSF7):
		m, err = probePDB(data)
	case bytes.HasPrefix(data, magicBPMod):
		m, syms, err = probeBreakpad(data)
	case isMachO(data):
		m, syms, err = probeMachO(data)
	case bytes.HasPrefix(data, []byte("MZ")):
		m, err = probePE(data)
	default:
		return nil, ErrUnknownFormat
	}
	if err != nil {
		return nil, err
	}
	if o.symbols > 0 {
		m.Symbols = sample(syms, o.symbols)
	}
	return m, nil
}

func isMachO(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	switch binary.BigEndian.Uint32(data) {
	case 0xfeedface, 0xfeedfacf, 0xcefaedfe, 0xcffaedfe, 0xcafebabe:
		return true
	}
	return false
}

type rawSymbol struct {
	addr uint64
	name string
}

// sample returns the first n symbols by address with demangled names.
func sample(syms []rawSymbol, n int) []Symbol {
	sort.SliceStable(syms, func(i, j int) bool { return syms[i].addr < syms[j].addr })
	if len(syms) > n {
		syms = syms[:n]
	}
	out := make([]Symbol, 0, len(syms))
	for _, s := range syms {
		sym := Symbol{Address: report.Hex64(s.addr), Name: s.name}
		if d := demangle.Filter(s.name); d != s.name {
			mangled := s.name
			sym.Name, sym.Mangled = d, &mangled
		}
		out = append(out, sym)
	}
	return out
}

// debugID renders a GUID and age the way symbol servers key debug files:
// the age is appended in hex unless it is zero.
func debugID(g minidump.GUID, age uint32) string {
	if age == 0 {
		return g.String()
	}
	return fmt.Sprintf("%s-%x", g, age)
}

// guidRaw reads 16 bytes in network order, for identifiers that are plain
// UUIDs rather than Windows GUIDs.
func guidRaw(b []byte) minidump.GUID {
	var g minidump.GUID
	g.Data1 = binary.BigEndian.Uint32(b[0:4])
	g.Data2 = binary.BigEndian.Uint16(b[4:6])
	g.Data3 = binary.BigEndian.Uint16(b[6:8])
	copy(g.Data4[:], b[8:16])
	return g
}

func ptr(s string) *string { return &s }
