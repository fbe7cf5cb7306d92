package summary

import (
	"fmt"

	"github.com/olksdr/minidump-viewer/internal/bitflag"
	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/report"
)

// Modules summarizes the module list in stream order.
func Modules(l *minidump.ModuleList, withDebug bool) *report.ModuleSummary {
	mods := make([]report.ModuleInfo, 0, len(l.Modules))
	for i := range l.Modules {
		mods = append(mods, Module(&l.Modules[i]))
	}
	s := &report.ModuleSummary{Modules: mods, ModulesCount: len(mods)}
	if withDebug {
		dbg := l.RenderDebug()
		s.Debug = &dbg
	}
	return s
}

func Module(m *minidump.Module) report.ModuleInfo {
	return report.ModuleInfo{
		Name:              m.Name,
		BaseOfImage:       report.Hex64(m.BaseOfImage),
		SizeOfImage:       m.SizeOfImage,
		Checksum:          m.Checksum,
		TimeDateStamp:     m.TimeDateStamp,
		VersionInfo:       Version(&m.VersionInfo),
		DebugRecordInfo:   DebugRecord(m.CodeView),
		MiscRecordPresent: len(m.MiscRecord) > 0,
	}
}

// FormatVersion joins two packed words into "a.b.c.d". Both words zero
// means the version is not set.
func FormatVersion(hi, lo uint32) (string, bool) {
	if hi == 0 && lo == 0 {
		return "", false
	}
	return fmt.Sprintf("%d.%d.%d.%d", hi>>16, hi&0xffff, lo>>16, lo&0xffff), true
}

// Version decodes a VS_FIXEDFILEINFO. It returns nil when the signature
// does not match.
func Version(v *minidump.VersionBlock) *report.VersionInfo {
	if !v.Valid() {
		return nil
	}
	vi := &report.VersionInfo{}
	if s, ok := FormatVersion(v.FileVersionHi, v.FileVersionLo); ok {
		vi.FileVersion = &s
	}
	if s, ok := FormatVersion(v.ProductVersionHi, v.ProductVersionLo); ok {
		vi.ProductVersion = &s
	}
	if flags := bitflag.FileFlags(v.FileFlags); len(flags.Labels) > 0 {
		vi.FileFlags = flags.Labels
	}
	if v.FileType != 0 {
		s := bitflag.FileType(v.FileType).String()
		vi.FileType = &s
	}
	if v.FileOS != 0 {
		s := bitflag.FileOS(v.FileOS).String()
		vi.FileOS = &s
	}
	return vi
}

// DebugRecord describes a module's CodeView record, or returns nil when
// there is none.
func DebugRecord(cv minidump.CodeView) *report.DebugRecordInfo {
	if cv == nil {
		return nil
	}
	info := &report.DebugRecordInfo{Format: cv.Format()}
	switch r := cv.(type) {
	case *minidump.PDB70:
		id := r.Signature.String()
		age := r.Age
		name := r.PDBFileName
		info.Identifier, info.Age, info.PDBFileName = &id, &age, &name
	case *minidump.PDB20:
		id := r.Identifier()
		age := r.Age
		name := r.PDBFileName
		info.Identifier, info.Age, info.PDBFileName = &id, &age, &name
	case *minidump.ELFBuildID:
		id := r.Identifier()
		info.Identifier = &id
	}
	return info
}
