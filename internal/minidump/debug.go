package minidump

import (
	"fmt"
	"strings"
)

// debugWriter renders nested "Name { field: value, }" blocks.
type debugWriter struct {
	b     strings.Builder
	depth int
}

func (w *debugWriter) line(format string, args ...any) {
	w.b.WriteString(strings.Repeat("    ", w.depth))
	fmt.Fprintf(&w.b, format, args...)
	w.b.WriteByte('\n')
}

func (w *debugWriter) open(name string) {
	w.line("%s {", name)
	w.depth++
}

func (w *debugWriter) openField(field, name string) {
	w.line("%s: %s {", field, name)
	w.depth++
}

func (w *debugWriter) close() {
	w.depth--
	w.line("},")
}

func (w *debugWriter) field(name string, v any) {
	w.line("%s: %v,", name, v)
}

func (w *debugWriter) hex(name string, v uint64) {
	w.line("%s: %#x,", name, v)
}

func (w *debugWriter) String() string {
	return strings.TrimSuffix(strings.TrimSuffix(w.b.String(), "\n"), ",")
}

func (s *SystemInfo) RenderDebug() string {
	var w debugWriter
	w.open("MinidumpSystemInfo")
	w.field("processor_architecture", fmt.Sprintf("%d (%s)", s.ProcessorArchitecture, s.CPU()))
	w.field("processor_level", s.ProcessorLevel)
	w.hex("processor_revision", uint64(s.ProcessorRevision))
	w.field("number_of_processors", s.NumberOfProcessors)
	w.field("product_type", s.ProductType)
	w.field("major_version", s.MajorVersion)
	w.field("minor_version", s.MinorVersion)
	w.field("build_number", s.BuildNumber)
	w.field("platform_id", fmt.Sprintf("%#x (%s)", s.PlatformID, s.OS()))
	w.hex("csd_version_rva", uint64(s.CSDVersionRVA))
	w.hex("suite_mask", uint64(s.SuiteMask))
	w.field("cpu_information", fmt.Sprintf("% x", s.CPUInformation[:]))
	if s.CSDVersion != nil {
		w.field("csd_version", fmt.Sprintf("%q", *s.CSDVersion))
	}
	w.close()
	return w.String()
}

func (e *Exception) RenderDebug() string {
	var w debugWriter
	w.open("MinidumpException")
	w.field("thread_id", e.ThreadID)
	w.openField("exception_record", "MINIDUMP_EXCEPTION")
	w.hex("exception_code", uint64(e.Record.Code))
	w.hex("exception_flags", uint64(e.Record.Flags))
	w.hex("exception_record", e.Record.Record)
	w.hex("exception_address", e.Record.Address)
	w.field("number_parameters", e.Record.NumberParameters)
	for i, p := range e.Record.Parameters() {
		w.hex(fmt.Sprintf("exception_information[%d]", i), p)
	}
	w.close()
	w.field("thread_context", fmt.Sprintf("%d bytes", len(e.RawContext)))
	w.close()
	return w.String()
}

func (t *Thread) RenderDebug() string {
	var w debugWriter
	w.open("MinidumpThread")
	w.hex("thread_id", uint64(t.ID))
	w.field("suspend_count", t.SuspendCount)
	w.hex("priority_class", uint64(t.PriorityClass))
	w.field("priority", t.Priority)
	w.hex("teb", t.TEB)
	w.openField("stack", "MINIDUMP_MEMORY_DESCRIPTOR")
	w.hex("start_of_memory_range", t.Stack.Start)
	w.hex("data_size", t.Stack.Size)
	w.field("captured", fmt.Sprintf("%d bytes", len(t.Stack.Data)))
	w.close()
	w.field("thread_context", fmt.Sprintf("%d bytes", len(t.RawContext)))
	w.close()
	return w.String()
}

func (l *ModuleList) RenderDebug() string {
	var w debugWriter
	w.open("MinidumpModuleList")
	for i := range l.Modules {
		m := &l.Modules[i]
		w.open("MinidumpModule")
		w.hex("base_of_image", m.BaseOfImage)
		w.hex("size_of_image", uint64(m.SizeOfImage))
		w.hex("checksum", uint64(m.Checksum))
		w.hex("time_date_stamp", uint64(m.TimeDateStamp))
		w.field("name", fmt.Sprintf("%q", m.Name))
		w.openField("version_info", "VS_FIXEDFILEINFO")
		m.VersionInfo.renderFields(&w)
		w.close()
		if m.CodeView != nil {
			w.field("codeview_record", m.CodeView.RenderDebug())
		}
		w.field("misc_record", fmt.Sprintf("%d bytes", len(m.MiscRecord)))
		w.close()
	}
	w.close()
	return w.String()
}

func (v *VersionBlock) renderFields(w *debugWriter) {
	w.hex("signature", uint64(v.Signature))
	w.hex("struct_version", uint64(v.StructVersion))
	w.hex("file_version_hi", uint64(v.FileVersionHi))
	w.hex("file_version_lo", uint64(v.FileVersionLo))
	w.hex("product_version_hi", uint64(v.ProductVersionHi))
	w.hex("product_version_lo", uint64(v.ProductVersionLo))
	w.hex("file_flags_mask", uint64(v.FileFlagsMask))
	w.hex("file_flags", uint64(v.FileFlags))
	w.hex("file_os", uint64(v.FileOS))
	w.hex("file_type", uint64(v.FileType))
	w.hex("file_subtype", uint64(v.FileSubtype))
	w.hex("file_date_hi", uint64(v.FileDateHi))
	w.hex("file_date_lo", uint64(v.FileDateLo))
}

func (p *PDB70) RenderDebug() string {
	return fmt.Sprintf("CvInfoPdb70 { signature: %s, age: %d, pdb_file_name: %q }", p.Signature, p.Age, p.PDBFileName)
}

func (p *PDB20) RenderDebug() string {
	return fmt.Sprintf("CvInfoPdb20 { cv_offset: %#x, signature: %#x, age: %d, pdb_file_name: %q }",
		p.Offset, p.Signature, p.Age, p.PDBFileName)
}

func (e *ELFBuildID) RenderDebug() string {
	return fmt.Sprintf("CvInfoElf { build_id: %s }", e.Identifier())
}

func (u *UnknownCodeView) RenderDebug() string {
	return fmt.Sprintf("Unknown { signature: %#x, size: %d }", u.Signature, len(u.Data))
}

func (l *MemoryList) RenderDebug() string {
	var w debugWriter
	w.open("UnifiedMemoryList")
	w.field("source", l.Source)
	for i := range l.Ranges {
		r := &l.Ranges[i]
		w.line("MinidumpMemory { base_address: %#x, size: %#x, captured: %d },", r.Base, r.Size, len(r.Data))
	}
	w.close()
	return w.String()
}

func (l *MemoryInfoList) RenderDebug() string {
	var w debugWriter
	w.open("MinidumpMemoryInfoList")
	for _, mi := range l.Entries {
		w.line("MinidumpMemoryInfo { base_address: %#x, allocation_base: %#x, allocation_protection: %#x, region_size: %#x, state: %#x, protection: %#x, type: %#x },",
			mi.BaseAddress, mi.AllocationBase, mi.AllocationProtection, mi.RegionSize, mi.State, mi.Protection, mi.Type)
	}
	w.close()
	return w.String()
}

func (c *Context) RenderDebug() string {
	var w debugWriter
	w.open(fmt.Sprintf("Context%s", c.arch))
	for _, r := range c.regs {
		w.hex(r.Name, r.Value)
	}
	w.field("valid", strings.Join(c.ValidRegisters(), " "))
	w.close()
	return w.String()
}
