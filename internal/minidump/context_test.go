package minidump

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestParseContextLayouts(t *testing.T) {
	tests := []struct {
		name       string
		cpu        CPU
		regs       map[string]uint64
		arch       Arch
		ip, sp, fp uint64
	}{
		{
			name: "amd64",
			cpu:  CPUAMD64,
			regs: map[string]uint64{"rip": 0x7ff612341000, "rsp": 0x5ffe00, "rbp": 0x5ffe40, "rax": 1, "cs": 0x33},
			arch: ArchAmd64, ip: 0x7ff612341000, sp: 0x5ffe00, fp: 0x5ffe40,
		},
		{
			name: "x86",
			cpu:  CPUX86,
			regs: map[string]uint64{"eip": 0x401000, "esp": 0x12ff00, "ebp": 0x12ff40},
			arch: ArchX86, ip: 0x401000, sp: 0x12ff00, fp: 0x12ff40,
		},
		{
			name: "arm",
			cpu:  CPUARM,
			regs: map[string]uint64{"pc": 0x8000, "sp": 0xbe000000, "r11": 0xbe000010},
			arch: ArchArm, ip: 0x8000, sp: 0xbe000000, fp: 0xbe000010,
		},
		{
			name: "arm64",
			cpu:  CPUARM64,
			regs: map[string]uint64{"pc": 0x5500001000, "sp": 0x7ffff000, "fp": 0x7ffff010, "x0": 42},
			arch: ArchArm64, ip: 0x5500001000, sp: 0x7ffff000, fp: 0x7ffff010,
		},
		{
			name: "arm64 breakpad",
			cpu:  CPUARM64Old,
			regs: map[string]uint64{"pc": 0x1000, "sp": 0x2000, "fp": 0x2010},
			arch: ArchArm64, ip: 0x1000, sp: 0x2000, fp: 0x2010,
		},
		{
			name: "ppc",
			cpu:  CPUPPC,
			regs: map[string]uint64{"srr0": 0x10001000, "r1": 0x7fff0000, "r31": 0x7fff0010, "lr": 0x10000f00},
			arch: ArchUnknown, ip: 0x10001000, sp: 0x7fff0000, fp: 0x7fff0010,
		},
		{
			name: "ppc64",
			cpu:  CPUPPC64,
			regs: map[string]uint64{"srr0": 0x100001000, "r1": 0x7ffff0000, "r31": 0x7ffff0010},
			arch: ArchUnknown, ip: 0x100001000, sp: 0x7ffff0000, fp: 0x7ffff0010,
		},
		{
			name: "mips",
			cpu:  CPUMIPS,
			regs: map[string]uint64{"pc": 0x400100, "sp": 0x7fff0000, "fp": 0x7fff0020, "ra": 0x4000f0},
			arch: ArchUnknown, ip: 0x400100, sp: 0x7fff0000, fp: 0x7fff0020,
		},
		{
			name: "mips64",
			cpu:  CPUMIPS64,
			regs: map[string]uint64{"pc": 0x120000100, "sp": 0xffff0000},
			arch: ArchUnknown, ip: 0x120000100, sp: 0xffff0000,
		},
		{
			name: "sparc",
			cpu:  CPUSPARC,
			regs: map[string]uint64{"pc": 0x10400, "sp": 0xffbff000, "fp": 0xffbff060, "o0": 3},
			arch: ArchUnknown, ip: 0x10400, sp: 0xffbff000, fp: 0xffbff060,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeContext(tt.cpu, tt.regs)
			if err != nil {
				t.Fatalf("EncodeContext failed: %v", err)
			}
			c, err := ParseContext(tt.cpu, raw)
			if err != nil {
				t.Fatalf("ParseContext failed: %v", err)
			}
			if c.Arch() != tt.arch {
				t.Errorf("Arch = %s, want %s", c.Arch(), tt.arch)
			}
			if c.InstructionPointer() != tt.ip || c.StackPointer() != tt.sp || c.FramePointer() != tt.fp {
				t.Errorf("ip/sp/fp = %#x/%#x/%#x", c.InstructionPointer(), c.StackPointer(), c.FramePointer())
			}
			for name, want := range tt.regs {
				if got, ok := c.Get(name); !ok || got != want {
					t.Errorf("Get(%s) = %#x, %v; want %#x", name, got, ok, want)
				}
				if !c.Valid(name) {
					t.Errorf("%s not valid in full context", name)
				}
			}
		})
	}
}

func TestParseContextPartialValidity(t *testing.T) {
	// CONTEXT_AMD64 | CONTEXT_CONTROL only.
	raw, err := EncodeContext(CPUAMD64, map[string]uint64{"context_flags": 0x00100001, "rip": 1, "rax": 2})
	if err != nil {
		t.Fatalf("EncodeContext failed: %v", err)
	}
	c, err := ParseContext(CPUAMD64, raw)
	if err != nil {
		t.Fatalf("ParseContext failed: %v", err)
	}
	for _, name := range []string{"rip", "rsp", "cs", "ss", "eflags", "context_flags"} {
		if !c.Valid(name) {
			t.Errorf("%s should be valid", name)
		}
	}
	for _, name := range []string{"rax", "r15", "ds", "dr0", "mx_csr"} {
		if c.Valid(name) {
			t.Errorf("%s should not be valid", name)
		}
	}
	if v, _ := c.Get("rax"); v != 2 {
		t.Errorf("invalid registers keep their value, rax = %#x", v)
	}
	valid := c.ValidRegisters()
	if slices.Contains(valid, "rax") || !slices.Contains(valid, "rip") {
		t.Errorf("ValidRegisters = %v", valid)
	}
}

func TestParseContextValidityWithoutUnwinder(t *testing.T) {
	tests := []struct {
		name    string
		cpu     CPU
		flags   uint64
		valid   []string
		invalid []string
	}{
		{"mips control bits only", CPUMIPS, 0x00040000, []string{"context_flags"}, []string{"pc", "sp", "r0"}},
		{"mips integer", CPUMIPS, 0x00040002, []string{"pc", "sp", "ra"}, nil},
		{"mips64 integer", CPUMIPS64, 0x00080002, []string{"pc", "sp"}, nil},
		{"sparc control", CPUSPARC, 0x10000001, []string{"pc", "npc"}, []string{"sp", "g1"}},
		{"sparc integer", CPUSPARC, 0x10000002, []string{"sp", "fp"}, []string{"pc"}},
		{"ppc base", CPUPPC, 0x20000001, []string{"srr0", "r1", "lr"}, nil},
		{"ppc empty", CPUPPC, 0x20000000, nil, []string{"srr0", "r1"}},
		{"ppc64 base", CPUPPC64, 0x01000001, []string{"srr0", "r1"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := EncodeContext(tt.cpu, map[string]uint64{"context_flags": tt.flags, "pc": 0x1000, "srr0": 0x1000})
			if err != nil {
				t.Fatalf("EncodeContext failed: %v", err)
			}
			c, err := ParseContext(tt.cpu, raw)
			if err != nil {
				t.Fatalf("ParseContext failed: %v", err)
			}
			if c.Arch() != ArchUnknown || c.Arch().String() != "Unknown" {
				t.Errorf("Arch = %s, want Unknown", c.Arch())
			}
			if uint64(c.Flags()) != tt.flags {
				t.Errorf("Flags = %#x, want %#x", c.Flags(), tt.flags)
			}
			for _, name := range tt.valid {
				if !c.Valid(name) {
					t.Errorf("%s should be valid", name)
				}
			}
			for _, name := range tt.invalid {
				if c.Valid(name) {
					t.Errorf("%s should not be valid", name)
				}
			}
			if c.InstructionPointer() != 0x1000 {
				t.Errorf("InstructionPointer = %#x", c.InstructionPointer())
			}
		})
	}
}

func TestParseContextBreakpadARM(t *testing.T) {
	raw, err := EncodeContext(CPUARM, map[string]uint64{"context_flags": 0x40000002, "pc": 0x8000})
	if err != nil {
		t.Fatalf("EncodeContext failed: %v", err)
	}
	c, err := ParseContext(CPUARM, raw)
	if err != nil {
		t.Fatalf("ParseContext failed: %v", err)
	}
	if !c.Valid("pc") || !c.Valid("r0") || !c.Valid("cpsr") {
		t.Errorf("breakpad INTEGER should cover all core registers, valid = %v", c.ValidRegisters())
	}
}

func TestParseContextErrors(t *testing.T) {
	if _, err := ParseContext(CPUAMD64, make([]byte, 100)); err == nil {
		t.Error("short amd64 context accepted")
	}
	if _, err := ParseContext(CPUAlpha, make([]byte, 1024)); !errors.Is(err, ErrUnsupportedContext) {
		t.Errorf("alpha error = %v", err)
	}
	if _, err := ParseContext(CPUPPC, make([]byte, 100)); err == nil {
		t.Error("short ppc context accepted")
	}
	if _, err := (&Thread{RawContext: make([]byte, 2048)}).Context(nil); err == nil {
		t.Error("thread context decoded without system info")
	}
}

func TestRegistersOrder(t *testing.T) {
	raw, _ := EncodeContext(CPUX86, nil)
	c, err := ParseContext(CPUX86, raw)
	if err != nil {
		t.Fatalf("ParseContext failed: %v", err)
	}
	var names []string
	for name := range c.Registers() {
		names = append(names, name)
	}
	if names[0] != "eax" || names[len(names)-1] != "context_flags" {
		t.Errorf("register order = %v", names)
	}
	if !strings.Contains(c.RenderDebug(), "eip: 0x0") {
		t.Errorf("RenderDebug = %s", c.RenderDebug())
	}
}

func TestParseCodeView(t *testing.T) {
	if cv := ParseCodeView([]byte{1, 2}); cv != nil {
		t.Errorf("short record = %#v", cv)
	}
	nb10 := []byte("NB10\x00\x00\x00\x00\x44\x33\x22\x11\x02\x00\x00\x00old.pdb\x00")
	p, ok := ParseCodeView(nb10).(*PDB20)
	if !ok {
		t.Fatalf("NB10 parsed as %T", ParseCodeView(nb10))
	}
	if p.Identifier() != "1122334400000002" || p.PDBFileName != "old.pdb" {
		t.Errorf("pdb20 = %+v, id %s", p, p.Identifier())
	}
	u, ok := ParseCodeView([]byte("XXXXabc")).(*UnknownCodeView)
	if !ok || u.Format() != "Unknown" {
		t.Errorf("unknown record = %#v", u)
	}
}

func TestModuleListLookup(t *testing.T) {
	l := &ModuleList{Modules: []Module{
		{Name: "a", BaseOfImage: 0x1000, SizeOfImage: 0x1000},
		{Name: "b", BaseOfImage: 0x3000, SizeOfImage: 0x100},
	}}
	tests := []struct {
		addr uint64
		want string
	}{
		{0x1000, "a"},
		{0x1fff, "a"},
		{0x2000, ""},
		{0x30ff, "b"},
		{0x3100, ""},
		{0, ""},
	}
	for _, tt := range tests {
		got := ""
		if m := l.ModuleAt(tt.addr); m != nil {
			got = m.Name
		}
		if got != tt.want {
			t.Errorf("ModuleAt(%#x) = %q, want %q", tt.addr, got, tt.want)
		}
	}
}
