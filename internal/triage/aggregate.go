package triage

import (
	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/report"
)

// streams is the subset of a dump the overview is built from. Any field
// may be nil.
type streams struct {
	system      *minidump.SystemInfo
	exception   *minidump.Exception
	threads     *minidump.ThreadList
	threadNames *minidump.ThreadNames
	modules     *minidump.ModuleList
	memory      *minidump.MemoryList
	memoryInfo  *minidump.MemoryInfoList
}

func collect(d *minidump.Dump) streams {
	return streams{
		system:      d.System,
		exception:   d.Exception,
		threads:     d.Threads,
		threadNames: d.ThreadNames,
		modules:     d.Modules,
		memory:      d.Memory,
		memoryInfo:  d.MemoryInfo,
	}
}

// present lists the reported streams in fixed order.
func (s *streams) present() []string {
	out := []string{}
	if s.system != nil {
		out = append(out, report.StreamSystemInfo)
	}
	if s.exception != nil {
		out = append(out, report.StreamException)
	}
	if s.threads != nil {
		out = append(out, report.StreamThreadList)
	}
	if s.modules != nil {
		out = append(out, report.StreamModuleList)
	}
	if s.memory != nil {
		out = append(out, report.StreamMemoryList)
	}
	return out
}

// absent names the streams that will be null in the overview.
func (s *streams) absent() []string {
	var out []string
	for _, e := range []struct {
		name    string
		missing bool
	}{
		{report.StreamSystemInfo, s.system == nil},
		{report.StreamException, s.exception == nil},
		{report.StreamThreadList, s.threads == nil},
		{report.StreamModuleList, s.modules == nil},
		{report.StreamMemoryList, s.memory == nil},
	} {
		if e.missing {
			out = append(out, e.name)
		}
	}
	return out
}
