package stackwalk

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/minidump/minidumptest"
	"github.com/olksdr/minidump-viewer/internal/unwind"
)

const (
	stackBase = 0x7000
	codeBase  = 0x400000
)

var modules = &minidump.ModuleList{Modules: []minidump.Module{
	{Name: "app", BaseOfImage: codeBase, SizeOfImage: 0x10000},
}}

type fixture struct {
	stack []byte
	code  []byte
}

func newFixture() *fixture {
	return &fixture{stack: make([]byte, 0x60), code: make([]byte, 0x4000)}
}

func (f *fixture) put(addr, v uint64) {
	binary.LittleEndian.PutUint64(f.stack[addr-stackBase:], v)
}

func (f *fixture) patch(addr uint64, b ...byte) {
	copy(f.code[addr-codeBase:], b)
}

func (f *fixture) request(t *testing.T, cpu minidump.CPU, regs map[string]uint64, withCode bool) unwind.Request {
	t.Helper()
	ctx, err := minidump.ParseContext(cpu, minidumptest.Context(cpu, regs))
	if err != nil {
		t.Fatal(err)
	}
	mem := &minidump.MemoryList{}
	if withCode {
		mem.Ranges = append(mem.Ranges, minidump.MemoryRange{Base: codeBase, Size: uint64(len(f.code)), Data: f.code})
	}
	return unwind.Request{
		Context:   ctx,
		StackBase: stackBase,
		Stack:     f.stack,
		Modules:   modules,
		System:    &minidump.SystemInfo{ProcessorArchitecture: uint16(cpu)},
		Memory:    mem,
	}
}

type want struct {
	ip    uint64
	trust unwind.Trust
}

func check(t *testing.T, got []unwind.Frame, exp []want) {
	t.Helper()
	if len(got) != len(exp) {
		t.Fatalf("got %d frames %+v, want %d", len(got), got, len(exp))
	}
	for i := range exp {
		if got[i].Instruction != exp[i].ip || got[i].Trust != exp[i].trust {
			t.Errorf("frame %d = %#x/%s, want %#x/%s", i, got[i].Instruction, got[i].Trust, exp[i].ip, exp[i].trust)
		}
		if got[i].Module == nil || got[i].Module.Name != "app" {
			t.Errorf("frame %d module = %v", i, got[i].Module)
		}
	}
}

func TestWalkAmd64(t *testing.T) {
	f := newFixture()
	f.patch(0x401000, 0xe8, 0, 0, 0, 0)
	f.patch(0x402000, 0xe8, 0, 0, 0, 0)
	f.patch(0x403000, 0xe8, 0, 0, 0, 0)

	f.put(0x7010, 0x7030)
	f.put(0x7018, 0x401005)
	f.put(0x7030, 0)
	f.put(0x7038, 0x402005)
	// In the module but not preceded by a call.
	f.put(0x7040, 0x400123)
	f.put(0x7048, 0x403005)

	req := f.request(t, minidump.CPUAMD64, map[string]uint64{"rip": 0x401f00, "rsp": 0x7000, "rbp": 0x7010}, true)
	frames, err := New().Walk(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	check(t, frames, []want{
		{0x401f00, unwind.TrustContext},
		{0x401004, unwind.TrustFramePointer},
		{0x402004, unwind.TrustFramePointer},
		{0x403004, unwind.TrustScan},
	})
}

func TestWalkScanWithoutCode(t *testing.T) {
	f := newFixture()
	f.put(0x7008, 0x1234)
	f.put(0x7010, 0x400123)
	req := f.request(t, minidump.CPUAMD64, map[string]uint64{"rip": 0x400010, "rsp": 0x7000}, false)
	frames, err := New().Walk(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	check(t, frames, []want{
		{0x400010, unwind.TrustContext},
		{0x400122, unwind.TrustScan},
	})
}

func TestWalkArm64(t *testing.T) {
	f := newFixture()
	bl := []byte{0x00, 0x00, 0x00, 0x94}
	f.patch(0x401000, bl...)
	f.patch(0x402000, bl...)

	f.put(0x7020, 0)
	f.put(0x7028, 0x401004)
	// Misaligned and not after a call: skipped by the scan.
	f.put(0x7030, 0x400101)
	f.put(0x7038, 0x400200)
	f.put(0x7040, 0x402004)

	req := f.request(t, minidump.CPUARM64, map[string]uint64{"pc": 0x400800, "sp": 0x7000, "fp": 0x7020}, true)
	frames, err := New().Walk(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	check(t, frames, []want{
		{0x400800, unwind.TrustContext},
		{0x401003, unwind.TrustFramePointer},
		{0x402003, unwind.TrustScan},
	})
}

func TestWalkRejectsBackwardsChain(t *testing.T) {
	f := newFixture()
	f.put(0x7020, 0x7010)
	f.put(0x7028, 0x400500)
	req := f.request(t, minidump.CPUAMD64, map[string]uint64{"rip": 0x400010, "rsp": 0x7020, "rbp": 0x7020}, true)
	frames, _ := New().Walk(context.Background(), req)
	for _, fr := range frames[1:] {
		if fr.Trust == unwind.TrustFramePointer {
			t.Errorf("followed a frame pointer pointing down the stack: %+v", frames)
		}
	}
}

func TestWalkLimits(t *testing.T) {
	f := newFixture()
	for addr := uint64(0x7000); addr < stackBase+0x60; addr += 8 {
		f.put(addr, 0x400100)
	}
	req := f.request(t, minidump.CPUAMD64, map[string]uint64{"rip": 0x400010, "rsp": 0x7000}, false)

	frames, err := New(WithMaxFrames(3)).Walk(context.Background(), req)
	if err != nil || len(frames) != 3 {
		t.Errorf("max frames: %d frames, err %v", len(frames), err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	frames, err = New().Walk(ctx, req)
	if err == nil || len(frames) != 1 {
		t.Errorf("cancelled walk: %d frames, err %v", len(frames), err)
	}
}

func TestWalkScanWindow(t *testing.T) {
	f := newFixture()
	f.put(0x7028, 0x400100)
	req := f.request(t, minidump.CPUAMD64, map[string]uint64{"rip": 0x400010, "rsp": 0x7000}, false)
	frames, _ := New(WithScanWords(4)).Walk(context.Background(), req)
	if len(frames) != 1 {
		t.Errorf("scanned past the window: %+v", frames)
	}
}

func TestWalkUnsupported(t *testing.T) {
	f := newFixture()
	req := f.request(t, minidump.CPUX86, map[string]uint64{"eip": 1}, false)
	if _, err := New().Walk(context.Background(), req); err == nil {
		t.Error("x86 context walked")
	}
}
