// Package bitflag decodes the bit-packed fields of minidump memory info
// records and module version blocks into labels.
//
// All decoders are pure. The lookup tables are built once on first use and
// are read-only afterwards, so concurrent callers are safe.
package bitflag

import (
	"fmt"
	"strings"
	"sync"
)

// Separator joins multiple labels.
const Separator = " | "

// Decoded keeps the raw mask next to the labels it decoded to.
type Decoded struct {
	Value  uint32
	Labels []string
}

func (d Decoded) String() string {
	return strings.Join(d.Labels, Separator)
}

type flag struct {
	mask  uint32
	label string
}

type tables struct {
	state       []flag
	protectBase map[uint32]string
	protectMods []flag
	memType     []flag
	fileFlags   []flag
	fileType    map[uint32]string
	fileOS      map[uint32]string
}

var lookup = sync.OnceValue(func() *tables {
	return &tables{
		state: []flag{
			{0x1000, "MEM_COMMIT"},
			{0x2000, "MEM_RESERVE"},
			{0x10000, "MEM_FREE"},
		},
		protectBase: map[uint32]string{
			0x01: "PAGE_NOACCESS",
			0x02: "PAGE_READONLY",
			0x04: "PAGE_READWRITE",
			0x08: "PAGE_WRITECOPY",
			0x10: "PAGE_EXECUTE",
			0x20: "PAGE_EXECUTE_READ",
			0x40: "PAGE_EXECUTE_READWRITE",
			0x80: "PAGE_EXECUTE_WRITECOPY",
		},
		protectMods: []flag{
			{0x100, "PAGE_GUARD"},
			{0x200, "PAGE_NOCACHE"},
			{0x400, "PAGE_WRITECOMBINE"},
		},
		memType: []flag{
			{0x20000, "MEM_PRIVATE"},
			{0x40000, "MEM_MAPPED"},
			{0x1000000, "MEM_IMAGE"},
		},
		fileFlags: []flag{
			{0x01, "DEBUG"},
			{0x10, "INFOINFERRED"},
			{0x04, "PATCHED"},
			{0x02, "PRERELEASE"},
			{0x08, "PRIVATEBUILD"},
			{0x20, "SPECIALBUILD"},
		},
		fileType: map[uint32]string{
			1: "APPLICATION",
			2: "DLL",
			3: "DRIVER",
			4: "FONT",
			5: "VXD",
			7: "STATIC_LIB",
		},
		fileOS: map[uint32]string{
			0x00040004: "WIN32",
			0x00040000: "WIN16",
			0x00010000: "DOS",
			0x00020000: "OS216",
			0x00030000: "OS232",
			0x00040001: "NT",
		},
	}
})

func unknown(v uint32) string {
	return fmt.Sprintf("UNKNOWN(%#x)", v)
}

func match(flags []flag, v uint32) []string {
	var out []string
	for _, f := range flags {
		if v&f.mask != 0 {
			out = append(out, f.label)
		}
	}
	return out
}

// MemoryState decodes MEM_COMMIT, MEM_RESERVE and MEM_FREE.
func MemoryState(v uint32) Decoded {
	labels := match(lookup().state, v)
	if len(labels) == 0 {
		labels = []string{unknown(v)}
	}
	return Decoded{Value: v, Labels: labels}
}

// MemoryProtection decodes the base protection in the low byte followed by
// the GUARD, NOCACHE and WRITECOMBINE modifiers.
func MemoryProtection(v uint32) Decoded {
	if v == 0 {
		return Decoded{Value: v, Labels: []string{"NONE"}}
	}
	t := lookup()
	base := v & 0xff
	label, ok := t.protectBase[base]
	if !ok {
		label = unknown(base)
	}
	labels := append([]string{label}, match(t.protectMods, v)...)
	return Decoded{Value: v, Labels: labels}
}

// MemoryType decodes MEM_PRIVATE, MEM_MAPPED and MEM_IMAGE.
func MemoryType(v uint32) Decoded {
	labels := match(lookup().memType, v)
	if len(labels) == 0 {
		labels = []string{unknown(v)}
	}
	return Decoded{Value: v, Labels: labels}
}

// FileFlags decodes VS_FF_* bits. Zero is a legitimate value and yields no
// labels.
func FileFlags(v uint32) Decoded {
	return Decoded{Value: v, Labels: match(lookup().fileFlags, v)}
}

// FileType decodes the VFT_* file type.
func FileType(v uint32) Decoded {
	label, ok := lookup().fileType[v]
	if !ok {
		label = unknown(v)
	}
	return Decoded{Value: v, Labels: []string{label}}
}

// FileOS decodes the VOS_* target operating system.
func FileOS(v uint32) Decoded {
	label, ok := lookup().fileOS[v]
	if !ok {
		label = unknown(v)
	}
	return Decoded{Value: v, Labels: []string{label}}
}
