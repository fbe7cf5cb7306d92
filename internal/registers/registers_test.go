package registers

import (
	"iter"
	"testing"

	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/minidump/minidumptest"
	"github.com/olksdr/minidump-viewer/internal/report"
)

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		want report.Category
	}{
		{"RAX", report.CategoryGeneralPurpose},
		{"rax", report.CategoryGeneralPurpose},
		{"Rax", report.CategoryGeneralPurpose},
		{"ebp", report.CategoryGeneralPurpose},
		{"R15", report.CategoryGeneralPurpose},
		{"rip", report.CategoryInstructionPointer},
		{"EIP", report.CategoryInstructionPointer},
		{"pc", report.CategoryInstructionPointer},
		{"SRR0", report.CategoryInstructionPointer},
		{"gs", report.CategorySegment},
		{"SS", report.CategorySegment},
		{"eflags", report.CategoryFlags},
		{"RFLAGS", report.CategoryFlags},
		{"context_flags", report.CategoryFlags},
		{"cpsr", report.CategoryFlags},
		{"dr0", report.CategoryDebug},
		{"DR7", report.CategoryDebug},
		{"dr_anything", report.CategoryDebug},
		{"x0", report.CategoryOther},
		{"lr", report.CategoryOther},
		{"mx_csr", report.CategoryOther},
		{"", report.CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Categorize(tt.name); got != tt.want {
				t.Errorf("Categorize(%q) = %s, want %s", tt.name, got, tt.want)
			}
		})
	}
}

type fakeContext struct {
	arch  minidump.Arch
	regs  []minidump.Register
	valid map[string]bool
}

func (f *fakeContext) Arch() minidump.Arch { return f.arch }

func (f *fakeContext) Registers() iter.Seq2[string, uint64] {
	return func(yield func(string, uint64) bool) {
		for _, r := range f.regs {
			if !yield(r.Name, r.Value) {
				return
			}
		}
	}
}

func (f *fakeContext) Valid(name string) bool { return f.valid[name] }

func TestNormalizeKeepsInvalidRegisters(t *testing.T) {
	ctx := &fakeContext{
		arch: minidump.ArchAmd64,
		regs: []minidump.Register{
			{Name: "RIP", Value: 0xffffffffffffffff},
			{Name: "rax", Value: 1},
			{Name: "xmm0", Value: 2},
		},
		valid: map[string]bool{"RIP": true},
	}
	sc := Normalize(ctx)
	if sc.Architecture != "Amd64" {
		t.Errorf("Architecture = %s", sc.Architecture)
	}
	if len(sc.InstructionPointer) != 1 || !sc.InstructionPointer[0].Valid ||
		sc.InstructionPointer[0].Value.String() != "0xffffffffffffffff" {
		t.Errorf("instruction pointer = %+v", sc.InstructionPointer)
	}
	if len(sc.GeneralPurpose) != 1 || sc.GeneralPurpose[0].Valid {
		t.Errorf("general purpose = %+v", sc.GeneralPurpose)
	}
	if len(sc.Other) != 1 || sc.Other[0].Name != "xmm0" {
		t.Errorf("other = %+v", sc.Other)
	}
	if sc.Segment == nil || sc.Debug == nil {
		t.Error("empty categories must be empty slices, not nil")
	}
	if sc.Len() != 3 {
		t.Errorf("Len = %d", sc.Len())
	}
}

func TestNormalizeDecodedContexts(t *testing.T) {
	tests := []struct {
		cpu       minidump.CPU
		arch      string
		ipName    string
		wantFlags int
		wantDebug int
	}{
		{minidump.CPUAMD64, "Amd64", "rip", 2, 6},
		{minidump.CPUX86, "X86", "eip", 2, 6},
		{minidump.CPUARM, "Arm", "pc", 2, 0},
		{minidump.CPUARM64, "Arm64", "pc", 2, 0},
		{minidump.CPUPPC, "Unknown", "srr0", 1, 0},
		{minidump.CPUPPC64, "Unknown", "srr0", 1, 0},
		{minidump.CPUMIPS, "Unknown", "pc", 1, 0},
		{minidump.CPUSPARC, "Unknown", "pc", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.cpu.String(), func(t *testing.T) {
			raw := minidumptest.Context(tt.cpu, nil)
			ctx, err := minidump.ParseContext(tt.cpu, raw)
			if err != nil {
				t.Fatalf("ParseContext failed: %v", err)
			}
			sc := Normalize(ctx)
			if sc.Architecture != tt.arch {
				t.Errorf("Architecture = %s, want %s", sc.Architecture, tt.arch)
			}
			if len(sc.InstructionPointer) != 1 || sc.InstructionPointer[0].Name != tt.ipName {
				t.Errorf("instruction pointer = %+v", sc.InstructionPointer)
			}
			if len(sc.Flags) != tt.wantFlags {
				t.Errorf("flags = %+v", sc.Flags)
			}
			if len(sc.Debug) != tt.wantDebug {
				t.Errorf("debug = %+v", sc.Debug)
			}
			for _, rv := range sc.All() {
				if !rv.Valid {
					t.Errorf("%s invalid in a full context", rv.Name)
				}
			}
		})
	}
}
