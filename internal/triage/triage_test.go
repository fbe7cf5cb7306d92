package triage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/minidump/minidumptest"
	"github.com/olksdr/minidump-viewer/internal/report"
	"github.com/olksdr/minidump-viewer/internal/unwind"
)

func triage(t *testing.T, b *minidumptest.Builder, opts ...Option) *report.Overview {
	t.Helper()
	ov, err := New(opts...).Bytes(context.Background(), b.Bytes())
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	return ov
}

func TestOverviewSystemAndModulesOnly(t *testing.T) {
	b := minidumptest.New().
		SystemInfo(minidump.CPUAMD64, minidump.OSLinux).
		Module("/usr/bin/app", 0x400000, 0x1000, nil, nil).
		Module("/lib/libc.so.6", 0x7f0000000000, 0x2000, nil, nil)
	ov := triage(t, b)

	if got := strings.Join(ov.StreamsPresent, ","); got != "SystemInfo,ModuleList" {
		t.Errorf("streams_present = %q", got)
	}
	if ov.ExceptionInfo != nil || ov.ThreadsData != nil || ov.MemoryData != nil || ov.ThreadsCount != nil {
		t.Errorf("absent streams produced data: %+v", ov)
	}
	if ov.ModulesCount == nil || *ov.ModulesCount != 2 || ov.ModulesData.ModulesCount != 2 {
		t.Errorf("modules_count = %v", ov.ModulesCount)
	}
	if ov.SystemInfo == nil || ov.SystemInfo.OS != "Linux" || ov.SystemInfo.CPU != "amd64" {
		t.Errorf("system_info = %+v", ov.SystemInfo)
	}

	var buf bytes.Buffer
	if err := Encode(&buf, ov, false); err != nil {
		t.Fatal(err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"exception_info", "threads_data", "memory_data", "threads_count"} {
		if string(doc[k]) != "null" {
			t.Errorf("%s = %s, want null", k, doc[k])
		}
	}
	if string(doc["format_version"]) != "1" {
		t.Errorf("format_version = %s", doc["format_version"])
	}
}

func TestOverviewEmptyDump(t *testing.T) {
	ov := triage(t, minidumptest.New())
	if ov.StreamsPresent == nil || len(ov.StreamsPresent) != 0 {
		t.Errorf("streams_present = %#v", ov.StreamsPresent)
	}
	if ov.SystemInfo != nil || ov.ModulesCount != nil || ov.ModulesData != nil {
		t.Errorf("overview = %+v", ov)
	}
}

func TestOverviewFallbackResolvesModule(t *testing.T) {
	ctx := minidumptest.Context(minidump.CPUX86, map[string]uint64{"eip": 0x401234, "esp": 0x7000})
	b := minidumptest.New().
		SystemInfo(minidump.CPUX86, minidump.OSWin32NT).
		Thread(1, 0x7ffde000, 0x7000, make([]byte, 32), ctx).
		Module("app.exe", 0x400000, 0x10000, nil, nil).
		Memory(0x7000, make([]byte, 32))
	ov := triage(t, b)

	if len(ov.ThreadsData) != 1 {
		t.Fatalf("threads = %+v", ov.ThreadsData)
	}
	th := ov.ThreadsData[0]
	if th.UnwindingMethod != report.UnwindFallback || len(th.StackFrames) != 1 {
		t.Fatalf("thread = %+v", th)
	}
	f := th.StackFrames[0]
	if f.InstructionAddress != 0x401234 || f.TrustLevel != "context" || f.ModuleName == nil || *f.ModuleName != "app.exe" {
		t.Errorf("frame = %+v", f)
	}
	if th.Context == nil || th.Context.Architecture != "X86" {
		t.Errorf("context = %+v", th.Context)
	}
}

func TestOverviewContextOnlyArchitectures(t *testing.T) {
	tests := []struct {
		name string
		cpu  minidump.CPU
		ip   string
	}{
		{"ppc", minidump.CPUPPC, "srr0"},
		{"ppc64", minidump.CPUPPC64, "srr0"},
		{"mips", minidump.CPUMIPS, "pc"},
		{"mips64", minidump.CPUMIPS64, "pc"},
		{"sparc", minidump.CPUSPARC, "pc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := minidumptest.Context(tt.cpu, map[string]uint64{tt.ip: 0x401234})
			b := minidumptest.New().
				SystemInfo(tt.cpu, minidump.OSLinux).
				Thread(1, 0x7ffde000, 0x7000, make([]byte, 32), ctx).
				Module("app", 0x400000, 0x10000, nil, nil).
				Memory(0x7000, make([]byte, 32))
			ov := triage(t, b)

			if len(ov.ThreadsData) != 1 {
				t.Fatalf("threads = %+v", ov.ThreadsData)
			}
			th := ov.ThreadsData[0]
			if th.UnwindingMethod != report.UnwindFallback || len(th.StackFrames) != 1 {
				t.Fatalf("thread = %+v", th)
			}
			if f := th.StackFrames[0]; f.InstructionAddress != 0x401234 || f.ModuleName == nil || *f.ModuleName != "app" {
				t.Errorf("frame = %+v", f)
			}
			if th.Context == nil || th.Context.Architecture != "Unknown" {
				t.Fatalf("context = %+v", th.Context)
			}
			if ip := th.Context.InstructionPointer; len(ip) != 1 || ip[0].Name != tt.ip || !ip[0].Valid {
				t.Errorf("instruction pointer = %+v", th.Context.InstructionPointer)
			}
		})
	}
}

func TestOverviewThreadsSortedByTEB(t *testing.T) {
	ctx := minidumptest.Context(minidump.CPUAMD64, map[string]uint64{"rip": 0x400010, "rsp": 0x7000})
	b := minidumptest.New().
		SystemInfo(minidump.CPUAMD64, minidump.OSWin32NT).
		Thread(3, 0x3000, 0x7000, make([]byte, 16), ctx).
		Thread(1, 0x1000, 0, nil, ctx).
		Thread(2, 0x3000, 0x8000, nil, ctx).
		ThreadName(1, "main").
		Module("app.exe", 0x400000, 0x10000, nil, nil).
		Memory(0x7000, make([]byte, 16))
	ov := triage(t, b)

	var ids []uint32
	for _, th := range ov.ThreadsData {
		ids = append(ids, th.ThreadID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 3 || ids[2] != 2 {
		t.Fatalf("thread order = %v", ids)
	}
	if *ov.ThreadsCount != 3 {
		t.Errorf("threads_count = %d", *ov.ThreadsCount)
	}
	main := ov.ThreadsData[0]
	if main.Name == nil || *main.Name != "main" || main.Stack != nil {
		t.Errorf("main thread = %+v", main)
	}
	if ov.ThreadsData[1].Name != nil || ov.ThreadsData[1].Stack == nil || ov.ThreadsData[1].Stack.MemorySize != 16 {
		t.Errorf("thread 3 = %+v", ov.ThreadsData[1])
	}
	for _, th := range ov.ThreadsData {
		if th.UnwindingMethod != report.UnwindOk || th.StackFrames[0].TrustLevel != "context" {
			t.Errorf("thread %d: %s %+v", th.ThreadID, th.UnwindingMethod, th.StackFrames)
		}
	}
}

func TestOverviewFailedWithoutSystemInfo(t *testing.T) {
	ctx := minidumptest.Context(minidump.CPUAMD64, map[string]uint64{"rip": 0x400010})
	b := minidumptest.New().
		Thread(1, 0x1000, 0, nil, ctx).
		Module("app.exe", 0x400000, 0x10000, nil, nil).
		Memory(0x7000, make([]byte, 16))
	ov := triage(t, b)
	th := ov.ThreadsData[0]
	if th.UnwindingMethod != report.UnwindFailed || th.StackFrames != nil || th.Context != nil {
		t.Errorf("thread = %+v", th)
	}
}

type recordingUnwinder struct{ calls int }

func (r *recordingUnwinder) Walk(_ context.Context, req unwind.Request) ([]unwind.Frame, error) {
	r.calls++
	return []unwind.Frame{
		{Instruction: req.Context.InstructionPointer(), Trust: unwind.TrustContext},
		{Instruction: 0x400100, Trust: unwind.TrustCFI},
	}, nil
}

func TestOverviewCustomUnwinder(t *testing.T) {
	ctx := minidumptest.Context(minidump.CPUARM64, map[string]uint64{"pc": 0x400010})
	b := minidumptest.New().
		SystemInfo(minidump.CPUARM64, minidump.OSAndroid).
		Thread(1, 0x1000, 0, nil, ctx).
		Thread(2, 0x2000, 0, nil, ctx).
		Module("libapp.so", 0x400000, 0x10000, nil, nil).
		Memory(0x7000, make([]byte, 16))
	u := &recordingUnwinder{}
	ov := triage(t, b, WithUnwinder(u))
	if u.calls != 2 {
		t.Errorf("unwinder calls = %d", u.calls)
	}
	frames := ov.ThreadsData[0].StackFrames
	if len(frames) != 2 || frames[1].TrustLevel != "cfi" || *frames[1].ModuleName != "libapp.so" {
		t.Errorf("frames = %+v", frames)
	}
}

func TestOverviewException(t *testing.T) {
	ctx := minidumptest.Context(minidump.CPUAMD64, map[string]uint64{"rip": 0x401000, "rsp": 0x7000})
	code := []byte{0x48, 0x89, 0x08, 0xc3} // mov [rax], rcx; ret
	b := minidumptest.New().
		SystemInfo(minidump.CPUAMD64, minidump.OSWin32NT).
		Exception(7, 0xc0000005, 0x401000, []uint64{1, 0xdeadbeef}, ctx).
		Memory(0x401000, code)
	ov := triage(t, b)

	ei := ov.ExceptionInfo
	if ei == nil {
		t.Fatal("exception_info missing")
	}
	if ei.CrashReason == nil || *ei.CrashReason != "EXCEPTION_ACCESS_VIOLATION_WRITE" {
		t.Errorf("crash_reason = %v", ei.CrashReason)
	}
	if ei.CrashAddress == nil || *ei.CrashAddress != 0xdeadbeef {
		t.Errorf("crash_address = %v", ei.CrashAddress)
	}
	if ei.CrashingThreadID != 7 || ei.Context == nil {
		t.Errorf("exception = %+v", ei)
	}
	raw := ei.RawExceptionRecord
	if raw.ExceptionCode != 0xc0000005 || raw.NumberParameters != 2 || len(raw.ExceptionInformation) != 2 || raw.ExceptionInformation[1] != 0xdeadbeef {
		t.Errorf("raw record = %+v", raw)
	}
	if ei.CrashInstruction == nil || !strings.Contains(*ei.CrashInstruction, "mov") {
		t.Errorf("crash_instruction = %v", ei.CrashInstruction)
	}
	if ei.Debug != nil {
		t.Error("debug rendered without being requested")
	}
}

func TestOverviewExceptionWithoutSystemInfo(t *testing.T) {
	b := minidumptest.New().Exception(7, 11, 0x10, nil, nil)
	ei := triage(t, b).ExceptionInfo
	if ei == nil || ei.CrashReason != nil || ei.CrashAddress != nil || ei.Context != nil {
		t.Errorf("exception = %+v", ei)
	}
	if ei.RawExceptionRecord.ExceptionInformation == nil {
		t.Error("exception_information is null, want empty")
	}
}

func TestOverviewDebug(t *testing.T) {
	ctx := minidumptest.Context(minidump.CPUAMD64, map[string]uint64{"rip": 0x400010})
	b := minidumptest.New().
		SystemInfo(minidump.CPUAMD64, minidump.OSWin32NT).
		Exception(1, 0x80000003, 0x400010, nil, ctx).
		Thread(1, 0x1000, 0, nil, ctx).
		Module("app.exe", 0x400000, 0x10000, nil, nil).
		Memory(0x7000, make([]byte, 16))
	ov := triage(t, b, WithDebug(true))
	for name, dbg := range map[string]*string{
		"system":    ov.SystemInfo.Debug,
		"exception": ov.ExceptionInfo.Debug,
		"thread":    ov.ThreadsData[0].Debug,
		"modules":   ov.ModulesData.Debug,
		"memory":    ov.MemoryData.Debug,
	} {
		if dbg == nil || *dbg == "" {
			t.Errorf("%s debug missing", name)
		}
	}
	if !strings.Contains(*ov.ExceptionInfo.Debug, "ContextAmd64") {
		t.Errorf("exception debug lacks context: %s", *ov.ExceptionInfo.Debug)
	}
}

func TestDecodeFailure(t *testing.T) {
	if _, err := New().Bytes(context.Background(), []byte("not a minidump at all, really")); !errors.Is(err, ErrDecode) {
		t.Errorf("Bytes err = %v", err)
	}
	if _, err := New().File(context.Background(), filepath.Join(t.TempDir(), "missing.dmp")); !errors.Is(err, ErrDecode) {
		t.Errorf("File err = %v", err)
	}
}

func TestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crash.dmp")
	data := minidumptest.New().SystemInfo(minidump.CPUARM64, minidump.OSMacOS).Bytes()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	ov, err := New().File(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if ov.SystemInfo == nil || ov.SystemInfo.OS != "MacOs" {
		t.Errorf("system_info = %+v", ov.SystemInfo)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestEncodeFailure(t *testing.T) {
	err := Encode(failingWriter{}, &report.Overview{}, true)
	if !errors.Is(err, ErrSerialize) {
		t.Errorf("Encode err = %v", err)
	}
}

func TestCrashReason(t *testing.T) {
	tests := []struct {
		name   string
		os     minidump.OS
		code   uint32
		flags  uint32
		params []uint64
		want   string
	}{
		{"av read", minidump.OSWin32NT, 0xc0000005, 0, []uint64{0, 0x10}, "EXCEPTION_ACCESS_VIOLATION_READ"},
		{"av exec", minidump.OSWin32NT, 0xc0000005, 0, []uint64{8, 0x10}, "EXCEPTION_ACCESS_VIOLATION_EXEC"},
		{"av bare", minidump.OSWin32NT, 0xc0000005, 0, nil, "EXCEPTION_ACCESS_VIOLATION"},
		{"stack overflow", minidump.OSWin32NT, 0xc00000fd, 0, nil, "EXCEPTION_STACK_OVERFLOW"},
		{"unknown nt", minidump.OSWin32NT, 0x12345678, 0, nil, "0x12345678"},
		{"segv", minidump.OSLinux, 11, 1, nil, "SIGSEGV / SEGV_MAPERR"},
		{"abort", minidump.OSAndroid, 6, 0xfffffffa, nil, "SIGABRT / SI_TKILL"},
		{"sigbus unknown code", minidump.OSLinux, 7, 99, nil, "SIGBUS / 0x00000063"},
		{"mac bad access", minidump.OSMacOS, 1, 1, nil, "EXC_BAD_ACCESS / KERN_INVALID_ADDRESS"},
		{"mac simulated", minidump.OSIOS, 0x43507378, 6, nil, "SIMULATED / SIGABRT"},
		{"requested", minidump.OSLinux, 0xffffffff, 0, nil, "DUMP_REQUESTED"},
		{"fuchsia", minidump.OSFuchsia, 5, 2, nil, "0x00000005 / 0x00000002"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &minidump.ExceptionRecord{Code: tt.code, Flags: tt.flags, NumberParameters: uint32(len(tt.params))}
			copy(r.Information[:], tt.params)
			if got := CrashReason(tt.os, r); got != tt.want {
				t.Errorf("CrashReason = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCrashAddress(t *testing.T) {
	r := &minidump.ExceptionRecord{Code: 0xc0000005, Address: 0x401000, NumberParameters: 2}
	r.Information[1] = 0x42
	if got := CrashAddress(minidump.OSWin32NT, r); got != 0x42 {
		t.Errorf("windows = %#x", got)
	}
	if got := CrashAddress(minidump.OSLinux, r); got != 0x401000 {
		t.Errorf("linux = %#x", got)
	}
}
