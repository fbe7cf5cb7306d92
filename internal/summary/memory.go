// Package summary turns decoded memory and module streams into sorted,
// size-annotated report sections.
package summary

import (
	"math"
	"sort"

	"github.com/olksdr/minidump-viewer/internal/bitflag"
	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/report"
)

// Memory summarizes the unified memory list. info may be nil; when present
// its ranges are attached sorted by base address. withDebug adds the
// diagnostic rendering of both streams.
func Memory(mem *minidump.MemoryList, info *minidump.MemoryInfoList, withDebug bool) *report.MemorySummary {
	regions := make([]report.MemoryRegion, 0, len(mem.Ranges))
	var total uint64
	for _, r := range mem.Ranges {
		end := r.Base + r.Size
		if end < r.Base {
			end = math.MaxUint64
		}
		regions = append(regions, report.MemoryRegion{
			StartAddress:   report.Hex64(r.Base),
			EndAddress:     report.Hex64(end),
			Size:           r.Size,
			SizeFormatted:  FormatMemorySize(r.Size),
			HasData:        len(r.Data) > 0,
			DataSize:       uint64(len(r.Data)),
			FormattedRange: report.FormatRange(r.Base, end),
		})
		total += r.Size
	}
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].StartAddress < regions[j].StartAddress
	})

	s := &report.MemorySummary{
		Regions:                  regions,
		RegionsCount:             len(regions),
		TotalMemorySize:          total,
		TotalMemorySizeFormatted: FormatMemorySize(total),
	}
	if info != nil {
		s.HasMemoryInfoStream = true
		s.MemoryInfo = MemoryInfo(info)
	}
	if withDebug {
		dbg := mem.RenderDebug()
		if info != nil {
			dbg += "\n" + info.RenderDebug()
		}
		s.Debug = &dbg
	}
	return s
}

// MemoryInfo decodes every memory info entry and sorts them by base address.
func MemoryInfo(info *minidump.MemoryInfoList) *report.MemoryInfoSummary {
	ranges := make([]report.MemoryInfoRange, 0, len(info.Entries))
	for _, mi := range info.Entries {
		ranges = append(ranges, report.MemoryInfoRange{
			BaseAddress:               report.Hex64(mi.BaseAddress),
			AllocationBase:            report.Hex64(mi.AllocationBase),
			RegionSize:                mi.RegionSize,
			State:                     mi.State,
			StateFlags:                bitflag.MemoryState(mi.State).String(),
			Protection:                mi.Protection,
			ProtectionFlags:           bitflag.MemoryProtection(mi.Protection).String(),
			AllocationProtection:      mi.AllocationProtection,
			AllocationProtectionFlags: bitflag.MemoryProtection(mi.AllocationProtection).String(),
			MemoryType:                mi.Type,
			TypeFlags:                 bitflag.MemoryType(mi.Type).String(),
		})
	}
	sort.SliceStable(ranges, func(i, j int) bool {
		return ranges[i].BaseAddress < ranges[j].BaseAddress
	})
	return &report.MemoryInfoSummary{Ranges: ranges, RangesCount: len(ranges)}
}
