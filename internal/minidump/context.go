package minidump

import (
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"slices"
)

var (
	errNoSystemInfo = errors.New("context: no system info to select a register layout")

	// ErrUnsupportedContext is returned for CPUs without a known context layout.
	ErrUnsupportedContext = errors.New("context: unsupported cpu")
)

// Context flag groups shared by the Windows and breakpad layouts. A register
// is valid when its group bits are set in context_flags.
const (
	contextControl        = 0x1
	contextInteger        = 0x2
	contextSegments       = 0x4
	contextFloatingPoint  = 0x8
	contextDebugRegisters = 0x10

	contextARMBreakpad = 0x40000000
)

// Register is one named register value.
type Register struct {
	Name  string
	Value uint64
}

// Context is a decoded thread register context.
type Context struct {
	arch  Arch
	flags uint32
	regs  []Register
	index map[string]int
	valid map[string]bool

	ip, sp, fp string
}

type regField struct {
	name  string
	off   int
	size  int
	group uint32
}

type layout struct {
	arch       Arch
	cpuFlag    uint32
	minSize    int
	fullSize   int
	flagsOff   int
	fields     []regField
	ip, sp, fp string
}

func gprs(prefix string, n, off, size int, group uint32) []regField {
	out := make([]regField, n)
	for i := range out {
		out[i] = regField{fmt.Sprintf("%s%d", prefix, i), off + i*size, size, group}
	}
	return out
}

var (
	amd64Layout = layout{
		arch:     ArchAmd64,
		cpuFlag:  0x00100000,
		minSize:  256,
		fullSize: 1232,
		flagsOff: 48,
		ip:       "rip", sp: "rsp", fp: "rbp",
		fields: []regField{
			{"rax", 120, 8, contextInteger},
			{"rdx", 136, 8, contextInteger},
			{"rcx", 128, 8, contextInteger},
			{"rbx", 144, 8, contextInteger},
			{"rsi", 168, 8, contextInteger},
			{"rdi", 176, 8, contextInteger},
			{"rbp", 160, 8, contextInteger},
			{"rsp", 152, 8, contextControl},
			{"r8", 184, 8, contextInteger},
			{"r9", 192, 8, contextInteger},
			{"r10", 200, 8, contextInteger},
			{"r11", 208, 8, contextInteger},
			{"r12", 216, 8, contextInteger},
			{"r13", 224, 8, contextInteger},
			{"r14", 232, 8, contextInteger},
			{"r15", 240, 8, contextInteger},
			{"rip", 248, 8, contextControl},
			{"cs", 56, 2, contextControl},
			{"ds", 58, 2, contextSegments},
			{"es", 60, 2, contextSegments},
			{"fs", 62, 2, contextSegments},
			{"gs", 64, 2, contextSegments},
			{"ss", 66, 2, contextControl},
			{"eflags", 68, 4, contextControl},
			{"dr0", 72, 8, contextDebugRegisters},
			{"dr1", 80, 8, contextDebugRegisters},
			{"dr2", 88, 8, contextDebugRegisters},
			{"dr3", 96, 8, contextDebugRegisters},
			{"dr6", 104, 8, contextDebugRegisters},
			{"dr7", 112, 8, contextDebugRegisters},
			{"context_flags", 48, 4, 0},
			{"mx_csr", 52, 4, contextFloatingPoint},
		},
	}

	x86Layout = layout{
		arch:     ArchX86,
		cpuFlag:  0x00010000,
		minSize:  204,
		fullSize: 716,
		flagsOff: 0,
		ip:       "eip", sp: "esp", fp: "ebp",
		fields: []regField{
			{"eax", 176, 4, contextInteger},
			{"ebx", 164, 4, contextInteger},
			{"ecx", 172, 4, contextInteger},
			{"edx", 168, 4, contextInteger},
			{"esi", 160, 4, contextInteger},
			{"edi", 156, 4, contextInteger},
			{"esp", 196, 4, contextControl},
			{"ebp", 180, 4, contextControl},
			{"eip", 184, 4, contextControl},
			{"cs", 188, 4, contextControl},
			{"ds", 152, 4, contextSegments},
			{"es", 148, 4, contextSegments},
			{"fs", 144, 4, contextSegments},
			{"gs", 140, 4, contextSegments},
			{"ss", 200, 4, contextControl},
			{"eflags", 192, 4, contextControl},
			{"dr0", 4, 4, contextDebugRegisters},
			{"dr1", 8, 4, contextDebugRegisters},
			{"dr2", 12, 4, contextDebugRegisters},
			{"dr3", 16, 4, contextDebugRegisters},
			{"dr6", 20, 4, contextDebugRegisters},
			{"dr7", 24, 4, contextDebugRegisters},
			{"context_flags", 0, 4, 0},
		},
	}

	armLayout = layout{
		arch:     ArchArm,
		cpuFlag:  0x00200000,
		minSize:  72,
		fullSize: 368,
		flagsOff: 0,
		ip:       "pc", sp: "sp", fp: "r11",
		fields: append(gprs("r", 13, 4, 4, contextInteger),
			regField{"sp", 56, 4, contextControl},
			regField{"lr", 60, 4, contextControl},
			regField{"pc", 64, 4, contextControl},
			regField{"cpsr", 68, 4, contextControl},
			regField{"context_flags", 0, 4, 0},
		),
	}

	arm64Layout = layout{
		arch:     ArchArm64,
		cpuFlag:  0x00400000,
		minSize:  272,
		fullSize: 912,
		flagsOff: 0,
		ip:       "pc", sp: "sp", fp: "fp",
		fields: append(gprs("x", 29, 8, 8, contextInteger),
			regField{"fp", 240, 8, contextControl},
			regField{"lr", 248, 8, contextControl},
			regField{"sp", 256, 8, contextControl},
			regField{"pc", 264, 8, contextControl},
			regField{"cpsr", 4, 4, contextControl},
			regField{"context_flags", 0, 4, 0},
		),
	}

	// Breakpad's pre-standard ARM64 layout keeps a 64-bit flags word and
	// stores cpsr after pc.
	arm64OldLayout = layout{
		arch:     ArchArm64,
		cpuFlag:  0x00400000,
		minSize:  276,
		fullSize: 1296,
		flagsOff: 0,
		ip:       "pc", sp: "sp", fp: "fp",
		fields: append(gprs("x", 29, 8, 8, contextInteger),
			regField{"fp", 240, 8, contextControl},
			regField{"lr", 248, 8, contextControl},
			regField{"sp", 256, 8, contextControl},
			regField{"pc", 264, 8, contextControl},
			regField{"cpsr", 272, 4, contextControl},
			regField{"context_flags", 0, 4, 0},
		),
	}

	// The layouts below have no unwinder. They decode enough to report the
	// context frame and the populated registers.

	ppcLayout = layout{
		cpuFlag:  0x20000000,
		minSize:  164,
		fullSize: 1168,
		flagsOff: 0,
		ip:       "srr0", sp: "r1", fp: "r31",
		fields: append(gprs("r", 32, 12, 4, contextControl),
			regField{"srr0", 4, 4, contextControl},
			regField{"srr1", 8, 4, contextControl},
			regField{"cr", 140, 4, contextControl},
			regField{"xer", 144, 4, contextControl},
			regField{"lr", 148, 4, contextControl},
			regField{"ctr", 152, 4, contextControl},
			regField{"context_flags", 0, 4, 0},
		),
	}

	ppc64Layout = layout{
		cpuFlag:  0x01000000,
		minSize:  320,
		fullSize: 1440,
		flagsOff: 0,
		ip:       "srr0", sp: "r1", fp: "r31",
		fields: append(gprs("r", 32, 24, 8, contextControl),
			regField{"srr0", 8, 8, contextControl},
			regField{"srr1", 16, 8, contextControl},
			regField{"cr", 280, 8, contextControl},
			regField{"xer", 288, 8, contextControl},
			regField{"lr", 296, 8, contextControl},
			regField{"ctr", 304, 8, contextControl},
			regField{"context_flags", 0, 4, 0},
		),
	}

	// MIPS and MIPS64 share one record; only the cpu flag differs.
	mipsLayout = layout{
		cpuFlag:  0x00040000,
		minSize:  360,
		fullSize: 632,
		flagsOff: 0,
		ip:       "pc", sp: "sp", fp: "fp",
		fields: append(gprs("r", 29, 8, 8, contextInteger),
			regField{"sp", 240, 8, contextInteger},
			regField{"fp", 248, 8, contextInteger},
			regField{"ra", 256, 8, contextInteger},
			regField{"hi", 264, 8, contextInteger},
			regField{"lo", 272, 8, contextInteger},
			regField{"pc", 336, 8, contextInteger},
			regField{"badvaddr", 344, 8, contextInteger},
			regField{"status", 352, 4, contextInteger},
			regField{"cause", 356, 4, contextInteger},
			regField{"context_flags", 0, 4, 0},
		),
	}

	sparcLayout = layout{
		cpuFlag:  0x10000000,
		minSize:  312,
		fullSize: 584,
		flagsOff: 0,
		ip:       "pc", sp: "sp", fp: "fp",
		fields: slices.Concat(
			gprs("g", 8, 8, 8, contextInteger),
			gprs("o", 6, 72, 8, contextInteger),
			[]regField{{"sp", 120, 8, contextInteger}, {"o7", 128, 8, contextInteger}},
			gprs("l", 8, 136, 8, contextInteger),
			gprs("i", 6, 200, 8, contextInteger),
			[]regField{
				{"fp", 248, 8, contextInteger},
				{"i7", 256, 8, contextInteger},
				{"ccr", 264, 8, contextControl},
				{"pc", 272, 8, contextControl},
				{"npc", 280, 8, contextControl},
				{"y", 288, 8, contextControl},
				{"context_flags", 0, 4, 0},
			},
		),
	}
)

// ParseContext decodes a raw CONTEXT record using the layout of cpu.
func ParseContext(cpu CPU, raw []byte) (*Context, error) {
	l, err := layoutFor(cpu)
	if err != nil {
		return nil, err
	}
	if len(raw) < l.minSize {
		return nil, fmt.Errorf("context: %s record is %d bytes, need %d", l.arch, len(raw), l.minSize)
	}

	flags := binary.LittleEndian.Uint32(raw[l.flagsOff:])
	groups := flags
	if l.arch == ArchArm && flags&contextARMBreakpad != 0 && flags&contextInteger != 0 {
		// Breakpad ARM contexts carry every core register under INTEGER.
		groups |= contextControl
	}

	c := &Context{
		arch:  l.arch,
		flags: flags,
		regs:  make([]Register, 0, len(l.fields)),
		index: make(map[string]int, len(l.fields)),
		valid: make(map[string]bool, len(l.fields)),
		ip:    l.ip,
		sp:    l.sp,
		fp:    l.fp,
	}
	for _, f := range l.fields {
		var v uint64
		switch f.size {
		case 2:
			v = uint64(binary.LittleEndian.Uint16(raw[f.off:]))
		case 4:
			v = uint64(binary.LittleEndian.Uint32(raw[f.off:]))
		case 8:
			v = binary.LittleEndian.Uint64(raw[f.off:])
		}
		c.index[f.name] = len(c.regs)
		c.regs = append(c.regs, Register{Name: f.name, Value: v})
		if groups&f.group == f.group {
			c.valid[f.name] = true
		}
	}
	return c, nil
}

func layoutFor(cpu CPU) (*layout, error) {
	switch cpu {
	case CPUAMD64:
		return &amd64Layout, nil
	case CPUX86, CPUX86Win64:
		return &x86Layout, nil
	case CPUARM:
		return &armLayout, nil
	case CPUARM64:
		return &arm64Layout, nil
	case CPUARM64Old:
		return &arm64OldLayout, nil
	case CPUPPC:
		return &ppcLayout, nil
	case CPUPPC64:
		return &ppc64Layout, nil
	case CPUMIPS:
		return &mipsLayout, nil
	case CPUMIPS64:
		l := mipsLayout
		l.cpuFlag = 0x00080000
		return &l, nil
	case CPUSPARC:
		return &sparcLayout, nil
	}
	return nil, fmt.Errorf("%w %s", ErrUnsupportedContext, cpu)
}

// EncodeContext builds a raw CONTEXT record for cpu. Registers missing from
// regs are zero; context_flags defaults to every group being present.
func EncodeContext(cpu CPU, regs map[string]uint64) ([]byte, error) {
	l, err := layoutFor(cpu)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, l.fullSize)
	for _, f := range l.fields {
		v, ok := regs[f.name]
		if f.name == "context_flags" && !ok {
			v = defaultContextFlags(l)
		}
		switch f.size {
		case 2:
			binary.LittleEndian.PutUint16(raw[f.off:], uint16(v))
		case 4:
			binary.LittleEndian.PutUint32(raw[f.off:], uint32(v))
		case 8:
			binary.LittleEndian.PutUint64(raw[f.off:], v)
		}
	}
	return raw, nil
}

func defaultContextFlags(l *layout) uint64 {
	all := uint64(contextControl | contextInteger | contextSegments | contextFloatingPoint | contextDebugRegisters)
	return uint64(l.cpuFlag) | all
}

func (c *Context) Arch() Arch { return c.arch }

// Flags returns the raw context_flags word.
func (c *Context) Flags() uint32 { return c.flags }

// Registers yields every register of the layout in display order.
func (c *Context) Registers() iter.Seq2[string, uint64] {
	return func(yield func(string, uint64) bool) {
		for _, r := range c.regs {
			if !yield(r.Name, r.Value) {
				return
			}
		}
	}
}

// Valid reports whether context_flags marks the register as populated.
func (c *Context) Valid(name string) bool {
	return c.valid[name]
}

// ValidRegisters lists the populated registers in display order.
func (c *Context) ValidRegisters() []string {
	var out []string
	for _, r := range c.regs {
		if c.valid[r.Name] {
			out = append(out, r.Name)
		}
	}
	return out
}

// Get returns a register by its lower-case name.
func (c *Context) Get(name string) (uint64, bool) {
	i, ok := c.index[name]
	if !ok {
		return 0, false
	}
	return c.regs[i].Value, true
}

func (c *Context) InstructionPointer() uint64 {
	v, _ := c.Get(c.ip)
	return v
}

func (c *Context) StackPointer() uint64 {
	v, _ := c.Get(c.sp)
	return v
}

func (c *Context) FramePointer() uint64 {
	v, _ := c.Get(c.fp)
	return v
}

// ReturnAddressRegister returns the link register on ARM families.
func (c *Context) ReturnAddressRegister() (uint64, bool) {
	switch c.arch {
	case ArchArm, ArchArm64:
		return c.Get("lr")
	}
	return 0, false
}
