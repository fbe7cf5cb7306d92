package triage

import (
	"context"
	"sort"

	"github.com/olksdr/minidump-viewer/internal/disasm"
	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/registers"
	"github.com/olksdr/minidump-viewer/internal/report"
	"github.com/olksdr/minidump-viewer/internal/summary"
	"github.com/olksdr/minidump-viewer/internal/unwind"
)

// Overview builds the report for d. It never fails: missing or broken
// streams show up as null fields and degraded unwinding methods.
func (t *Triager) Overview(ctx context.Context, d *minidump.Dump) *report.Overview {
	s := collect(d)
	for _, err := range d.StreamErrors {
		t.logger.Debug("stream skipped", "err", err)
	}
	if missing := s.absent(); len(missing) > 0 {
		t.logger.Debug("streams absent", "streams", missing)
	}

	ov := &report.Overview{
		FormatVersion:  report.FormatVersion,
		StreamsPresent: s.present(),
	}
	if s.system != nil {
		ov.SystemInfo = t.systemInfo(s.system)
	}
	if s.exception != nil {
		ov.ExceptionInfo = t.exceptionInfo(&s)
	}
	if s.threads != nil {
		n := len(s.threads.Threads)
		ov.ThreadsCount = &n
		ov.ThreadsData = t.threads(ctx, &s)
	}
	if s.modules != nil {
		n := len(s.modules.Modules)
		ov.ModulesCount = &n
		ov.ModulesData = summary.Modules(s.modules, t.debug)
	}
	if s.memory != nil {
		ov.MemoryData = summary.Memory(s.memory, s.memoryInfo, t.debug)
	}
	return ov
}

func (t *Triager) systemInfo(sys *minidump.SystemInfo) *report.SystemInfo {
	si := &report.SystemInfo{
		OS:  sys.OS().String(),
		CPU: sys.CPU().String(),
		Raw: report.RawSystemInfo{
			ProcessorArchitecture: sys.ProcessorArchitecture,
			ProcessorLevel:        sys.ProcessorLevel,
			ProcessorRevision:     sys.ProcessorRevision,
			NumberOfProcessors:    sys.NumberOfProcessors,
			ProductType:           sys.ProductType,
			MajorVersion:          sys.MajorVersion,
			MinorVersion:          sys.MinorVersion,
			BuildNumber:           sys.BuildNumber,
			PlatformID:            sys.PlatformID,
			CSDVersionRVA:         sys.CSDVersionRVA,
			SuiteMask:             sys.SuiteMask,
			Reserved2:             sys.Reserved2,
			OSVersion:             sys.OSVersion(),
			CSDVersion:            sys.CSDVersion,
		},
	}
	if info, ok := sys.CPUInfo(); ok {
		si.CPUInfo = &info
	}
	if t.debug {
		dbg := sys.RenderDebug()
		si.Debug = &dbg
	}
	return si
}

func (t *Triager) exceptionInfo(s *streams) *report.ExceptionInfo {
	e := s.exception
	params := e.Record.Parameters()
	info := make([]report.Hex64, len(params))
	for i, p := range params {
		info[i] = report.Hex64(p)
	}
	ei := &report.ExceptionInfo{
		CrashingThreadID: e.ThreadID,
		RawExceptionRecord: report.RawExceptionRecord{
			ExceptionCode:        e.Record.Code,
			ExceptionFlags:       e.Record.Flags,
			ExceptionRecord:      report.Hex64(e.Record.Record),
			ExceptionAddress:     report.Hex64(e.Record.Address),
			NumberParameters:     e.Record.NumberParameters,
			ExceptionInformation: info,
		},
	}
	if s.system == nil {
		return t.withExceptionDebug(ei, e, nil)
	}

	reason := CrashReason(s.system.OS(), &e.Record)
	addr := report.Hex64(CrashAddress(s.system.OS(), &e.Record))
	ei.CrashReason, ei.CrashAddress = &reason, &addr

	regs, err := e.Context(s.system)
	if err != nil {
		t.logger.Debug("exception context unavailable", "err", err)
		return t.withExceptionDebug(ei, e, nil)
	}
	ei.Context = registers.Normalize(regs)
	if inst, err := disasm.At(s.memory, regs.Arch(), regs.InstructionPointer()); err == nil {
		text := inst.String()
		ei.CrashInstruction = &text
	}
	return t.withExceptionDebug(ei, e, regs)
}

func (t *Triager) withExceptionDebug(ei *report.ExceptionInfo, e *minidump.Exception, regs *minidump.Context) *report.ExceptionInfo {
	if !t.debug {
		return ei
	}
	dbg := e.RenderDebug()
	if regs != nil {
		dbg += "\n" + regs.RenderDebug()
	}
	ei.Debug = &dbg
	return ei
}

// threads unwinds every thread in source order, then sorts the result by
// TEB so the output does not depend on directory layout.
func (t *Triager) threads(ctx context.Context, s *streams) []report.ThreadInfo {
	pipeline := unwind.NewPipeline(t.unwinder)
	out := make([]report.ThreadInfo, 0, len(s.threads.Threads))
	for i := range s.threads.Threads {
		th := &s.threads.Threads[i]
		ti := report.ThreadInfo{
			ThreadID:      th.ID,
			SuspendCount:  th.SuspendCount,
			PriorityClass: th.PriorityClass,
			Priority:      th.Priority,
			TEB:           report.Hex64(th.TEB),
		}
		if name, ok := s.threadNames.Name(th.ID); ok {
			ti.Name = &name
		}
		if th.Stack.Start != 0 {
			ti.Stack = &report.StackInfo{
				StartAddress: report.Hex64(th.Stack.Start),
				MemorySize:   th.Stack.Size,
			}
		}
		if s.system != nil {
			if regs, err := th.Context(s.system); err == nil {
				ti.Context = registers.Normalize(regs)
			}
		}

		res := pipeline.Unwind(ctx, unwind.Input{
			Index:   i,
			Thread:  th,
			System:  s.system,
			Modules: s.modules,
			Memory:  s.memory,
		})
		ti.StackFrames = res.Frames
		ti.UnwindingMethod = res.Method
		if res.Method != report.UnwindOk {
			t.logger.Debug("thread unwind degraded", "thread", th.ID, "method", res.Method, "err", res.Err)
		}

		if t.debug {
			dbg := th.RenderDebug()
			ti.Debug = &dbg
		}
		out = append(out, ti)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TEB < out[j].TEB })
	return out
}
