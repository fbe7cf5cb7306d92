// Package registers normalizes architecture-specific register sets into a
// categorized, architecture-independent form.
package registers

import (
	"iter"
	"strings"
	"sync"

	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/report"
)

// Context is a register set: an architecture, its registers in display
// order, and the subset the producer marked as populated.
type Context interface {
	Arch() minidump.Arch
	Registers() iter.Seq2[string, uint64]
	Valid(name string) bool
}

var categories = sync.OnceValue(func() map[string]report.Category {
	m := make(map[string]report.Category)
	for _, name := range []string{
		"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
		"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
		"eax", "ebx", "ecx", "edx", "esi", "edi", "esp", "ebp",
	} {
		m[name] = report.CategoryGeneralPurpose
	}
	for _, name := range []string{"rip", "eip", "pc", "srr0"} {
		m[name] = report.CategoryInstructionPointer
	}
	for _, name := range []string{"cs", "ds", "es", "fs", "gs", "ss"} {
		m[name] = report.CategorySegment
	}
	for _, name := range []string{"eflags", "rflags", "context_flags", "cpsr"} {
		m[name] = report.CategoryFlags
	}
	return m
})

// Categorize maps a register name to its category. Lookup ignores case;
// names starting with "dr" are debug registers and unknown names are other.
func Categorize(name string) report.Category {
	lower := strings.ToLower(name)
	if c, ok := categories()[lower]; ok {
		return c
	}
	if strings.HasPrefix(lower, "dr") {
		return report.CategoryDebug
	}
	return report.CategoryOther
}

// Normalize partitions the registers of ctx by category. Registers the
// context does not mark valid are kept with Valid false.
func Normalize(ctx Context) *report.StructuredContext {
	sc := &report.StructuredContext{
		GeneralPurpose:     []report.RegisterValue{},
		InstructionPointer: []report.RegisterValue{},
		Segment:            []report.RegisterValue{},
		Flags:              []report.RegisterValue{},
		Debug:              []report.RegisterValue{},
		Other:              []report.RegisterValue{},
		Architecture:       ctx.Arch().String(),
	}
	for name, value := range ctx.Registers() {
		rv := report.RegisterValue{
			Name:     name,
			Value:    report.Hex64(value),
			Category: Categorize(name),
			Valid:    ctx.Valid(name),
		}
		switch rv.Category {
		case report.CategoryGeneralPurpose:
			sc.GeneralPurpose = append(sc.GeneralPurpose, rv)
		case report.CategoryInstructionPointer:
			sc.InstructionPointer = append(sc.InstructionPointer, rv)
		case report.CategorySegment:
			sc.Segment = append(sc.Segment, rv)
		case report.CategoryFlags:
			sc.Flags = append(sc.Flags, rv)
		case report.CategoryDebug:
			sc.Debug = append(sc.Debug, rv)
		default:
			sc.Other = append(sc.Other, rv)
		}
	}
	return sc
}
