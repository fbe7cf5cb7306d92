package cmd

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/olksdr/minidump-viewer/internal/report"
)

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}

// baseName strips directories from module paths of either OS family.
func baseName(p string) string {
	if i := strings.LastIndexAny(p, `/\`); i >= 0 {
		return p[i+1:]
	}
	return p
}

// escapeCell keeps user-controlled strings from breaking table rows.
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}

// Markdown renders the overview as a report. name is the dump file shown in
// the title.
func Markdown(ov *report.Overview, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", filepath.Base(name))
	if len(ov.StreamsPresent) == 0 {
		b.WriteString("_No recognized streams._\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Streams: %s\n\n", strings.Join(ov.StreamsPresent, ", "))

	writeSystem(&b, ov.SystemInfo)
	writeException(&b, ov.ExceptionInfo)
	writeThreads(&b, ov)
	writeModules(&b, ov.ModulesData)
	writeMemory(&b, ov.MemoryData)
	return b.String()
}

func writeSystem(b *strings.Builder, si *report.SystemInfo) {
	if si == nil {
		return
	}
	b.WriteString("## System\n\n| | |\n|---|---|\n")
	fmt.Fprintf(b, "| OS | %s %s |\n", si.OS, si.Raw.OSVersion)
	fmt.Fprintf(b, "| CPU | %s |\n", si.CPU)
	if si.CPUInfo != nil {
		fmt.Fprintf(b, "| CPU info | %s |\n", escapeCell(*si.CPUInfo))
	}
	fmt.Fprintf(b, "| Processors | %d |\n", si.Raw.NumberOfProcessors)
	if si.Raw.CSDVersion != nil && *si.Raw.CSDVersion != "" {
		fmt.Fprintf(b, "| Service pack | %s |\n", escapeCell(*si.Raw.CSDVersion))
	}
	b.WriteString("\n")
}

func writeException(b *strings.Builder, ei *report.ExceptionInfo) {
	if ei == nil {
		return
	}
	b.WriteString("## Exception\n\n")
	fmt.Fprintf(b, "- **Reason**: `%s`\n", orDash(ei.CrashReason))
	if ei.CrashAddress != nil {
		fmt.Fprintf(b, "- **Address**: `%s`\n", ei.CrashAddress)
	}
	fmt.Fprintf(b, "- **Thread**: %d\n", ei.CrashingThreadID)
	fmt.Fprintf(b, "- **Code**: `0x%08x`\n", ei.RawExceptionRecord.ExceptionCode)
	if ei.CrashInstruction != nil {
		fmt.Fprintf(b, "\n```\n%s\n```\n", *ei.CrashInstruction)
	}
	if ei.Context != nil {
		b.WriteString("\n")
		writeRegisters(b, ei.Context)
	}
	b.WriteString("\n")
}

func writeRegisters(b *strings.Builder, sc *report.StructuredContext) {
	fmt.Fprintf(b, "```\n; %s\n", sc.Architecture)
	regs := append(append([]report.RegisterValue{}, sc.InstructionPointer...), sc.GeneralPurpose...)
	for i, r := range regs {
		fmt.Fprintf(b, "%-6s 0x%016x", r.Name, uint64(r.Value))
		if i%3 == 2 {
			b.WriteString("\n")
		} else {
			b.WriteString("  ")
		}
	}
	b.WriteString("\n```\n")
}

func writeThreads(b *strings.Builder, ov *report.Overview) {
	if ov.ThreadsData == nil {
		return
	}
	fmt.Fprintf(b, "## Threads (%d)\n\n", len(ov.ThreadsData))
	var crashed uint32
	hasCrash := ov.ExceptionInfo != nil
	if hasCrash {
		crashed = ov.ExceptionInfo.CrashingThreadID
	}
	for _, th := range ov.ThreadsData {
		fmt.Fprintf(b, "### Thread %d", th.ThreadID)
		if th.Name != nil {
			fmt.Fprintf(b, " %q", *th.Name)
		}
		fmt.Fprintf(b, " (%s)", th.UnwindingMethod)
		if hasCrash && th.ThreadID == crashed {
			b.WriteString(" crashed")
		}
		b.WriteString("\n\n")
		b.WriteString(FramesBlock(th.StackFrames))
		b.WriteString("\n")
	}
}

// FramesBlock renders frames as a fenced code block.
func FramesBlock(frames []report.StackFrame) string {
	var b strings.Builder
	b.WriteString("```\n")
	if len(frames) == 0 {
		b.WriteString("; no frames\n")
	}
	for i, f := range frames {
		fmt.Fprintf(&b, "#%-3d 0x%016x  %-8s %s\n",
			i, uint64(f.InstructionAddress), f.TrustLevel, baseName(orDash(f.ModuleName)))
	}
	b.WriteString("```\n")
	return b.String()
}

func writeModules(b *strings.Builder, ms *report.ModuleSummary) {
	if ms == nil {
		return
	}
	fmt.Fprintf(b, "## Modules (%d)\n\n", ms.ModulesCount)
	b.WriteString("| Base | Size | Name | Version | Debug ID |\n|---|---|---|---|---|\n")
	for _, m := range ms.Modules {
		version, debugID := "-", "-"
		if m.VersionInfo != nil {
			version = orDash(m.VersionInfo.FileVersion)
		}
		if m.DebugRecordInfo != nil {
			debugID = orDash(m.DebugRecordInfo.Identifier)
		}
		fmt.Fprintf(b, "| `%s` | %#x | %s | %s | %s |\n",
			m.BaseOfImage, m.SizeOfImage, escapeCell(baseName(m.Name)), version, debugID)
	}
	b.WriteString("\n")
}

func writeMemory(b *strings.Builder, ms *report.MemorySummary) {
	if ms == nil {
		return
	}
	fmt.Fprintf(b, "## Memory\n\n%d regions, %s captured.\n\n", ms.RegionsCount, ms.TotalMemorySizeFormatted)
	if ms.MemoryInfo == nil {
		return
	}
	fmt.Fprintf(b, "| Range | Size | State | Protection | Type |\n|---|---|---|---|---|\n")
	for _, r := range ms.MemoryInfo.Ranges {
		fmt.Fprintf(b, "| `%s` | %#x | %s | %s | %s |\n",
			r.BaseAddress, r.RegionSize, r.StateFlags, r.ProtectionFlags, r.TypeFlags)
	}
	b.WriteString("\n")
}
