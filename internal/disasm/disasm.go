// Package disasm defines a common instruction representation used
// across architecture-specific disassemblers.
package disasm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/olksdr/minidump-viewer/internal/minidump"

	"golang.org/x/arch/arm/armasm"
	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"
)

// ErrUnsupportedArch is returned for register families without a decoder.
var ErrUnsupportedArch = errors.New("disasm: unsupported architecture")

// Inst is a simplified decoded instruction.
type Inst struct {
	VA   uint64 // virtual address of instruction
	Text string // formatted disassembly string
	Op   string // mnemonic in lowercase
	Raw  []byte // raw encoding
}

// String formats the instruction as "address  bytes  text".
func (i Inst) String() string {
	return fmt.Sprintf("%x  %-24x %s", i.VA, i.Raw, i.Text)
}

// Len is the encoded length in bytes.
func (i Inst) Len() int { return len(i.Raw) }

// IsCall reports whether the instruction transfers control and pushes or
// records a return address.
func (i Inst) IsCall() bool {
	switch i.Op {
	case "call", "bl", "blr", "blx":
		return true
	}
	return false
}

// Stream is a linear sequence of instructions.
type Stream []Inst

// String renders one instruction per line.
func (s Stream) String() string {
	var b strings.Builder
	for _, in := range s {
		b.WriteString(in.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Decode decodes the single instruction at the start of code.
func Decode(arch minidump.Arch, va uint64, code []byte) (Inst, error) {
	switch arch {
	case minidump.ArchAmd64, minidump.ArchX86:
		mode := 64
		if arch == minidump.ArchX86 {
			mode = 32
		}
		inst, err := x86asm.Decode(code, mode)
		if err != nil {
			return Inst{}, fmt.Errorf("disasm: %s at %#x: %w", arch, va, err)
		}
		return Inst{
			VA:   va,
			Text: x86asm.IntelSyntax(inst, va, nil),
			Op:   strings.ToLower(inst.Op.String()),
			Raw:  clone(code[:inst.Len]),
		}, nil

	case minidump.ArchArm64:
		if len(code) < 4 {
			return Inst{}, fmt.Errorf("disasm: arm64 at %#x: %d bytes, need 4", va, len(code))
		}
		inst, err := arm64asm.Decode(code[:4])
		if err != nil {
			return Inst{}, fmt.Errorf("disasm: arm64 at %#x: %w", va, err)
		}
		return Inst{
			VA:   va,
			Text: arm64asm.GNUSyntax(inst),
			Op:   strings.ToLower(inst.Op.String()),
			Raw:  clone(code[:4]),
		}, nil

	case minidump.ArchArm:
		inst, err := armasm.Decode(code, armasm.ModeARM)
		if err != nil {
			return Inst{}, fmt.Errorf("disasm: arm at %#x: %w", va, err)
		}
		op := strings.ToLower(inst.Op.String())
		// Condition suffixes are part of the op name (BL.EQ); keep the base.
		if i := strings.IndexByte(op, '.'); i > 0 {
			op = op[:i]
		}
		return Inst{
			VA:   va,
			Text: armasm.GNUSyntax(inst),
			Op:   op,
			Raw:  clone(code[:inst.Len]),
		}, nil
	}
	return Inst{}, fmt.Errorf("%w %s", ErrUnsupportedArch, arch)
}

// DecodeStream decodes up to max instructions from code. Decoding stops at
// the first byte sequence that is not a valid instruction.
func DecodeStream(arch minidump.Arch, va uint64, code []byte, max int) (Stream, error) {
	var out Stream
	for off := 0; off < len(code) && len(out) < max; {
		inst, err := Decode(arch, va+uint64(off), code[off:])
		if err != nil {
			if len(out) == 0 {
				return nil, err
			}
			break
		}
		out = append(out, inst)
		off += inst.Len()
	}
	return out, nil
}

// At decodes the instruction at addr from captured process memory.
func At(mem *minidump.MemoryList, arch minidump.Arch, addr uint64) (Inst, error) {
	r := mem.Find(addr)
	if r == nil {
		return Inst{}, fmt.Errorf("disasm: %#x not captured", addr)
	}
	code, _ := r.Slice(addr, min(maxInstLen, int(r.Base+uint64(len(r.Data))-addr)))
	return Decode(arch, addr, code)
}

// maxInstLen bounds the bytes needed for any supported encoding.
const maxInstLen = 15

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
