// Package minidump decodes the streams of a minidump file that crash triage
// needs: system info, exception, threads, thread names, modules, memory and
// memory info.
//
// Every stream is optional. A nil field on Dump means the stream was absent
// or could not be decoded; decode failures of individual streams are kept in
// Dump.StreamErrors and never fail the whole dump.
//
// The file format is described on MSDN starting at:
//
//	https://learn.microsoft.com/en-us/windows/win32/api/minidumpapiset/ns-minidumpapiset-minidump_header
//
// Breakpad extensions (Linux and macOS platform ids, ARM contexts) follow
// breakpad's minidump_format.h.
package minidump

import (
	"fmt"
	"unicode/utf16"
)

// StreamType is the type of a stream directory entry.
type StreamType uint32

const (
	ThreadListStream     StreamType = 3
	ModuleListStream     StreamType = 4
	MemoryListStream     StreamType = 5
	ExceptionStream      StreamType = 6
	SystemInfoStream     StreamType = 7
	Memory64ListStream   StreamType = 9
	MiscInfoStream       StreamType = 15
	MemoryInfoListStream StreamType = 16
	ThreadNamesStream    StreamType = 24
)

func (t StreamType) String() string {
	switch t {
	case ThreadListStream:
		return "ThreadList"
	case ModuleListStream:
		return "ModuleList"
	case MemoryListStream:
		return "MemoryList"
	case ExceptionStream:
		return "Exception"
	case SystemInfoStream:
		return "SystemInfo"
	case Memory64ListStream:
		return "Memory64List"
	case MiscInfoStream:
		return "MiscInfo"
	case MemoryInfoListStream:
		return "MemoryInfoList"
	case ThreadNamesStream:
		return "ThreadNames"
	}
	return fmt.Sprintf("Stream(%d)", uint32(t))
}

// Header is the MINIDUMP_HEADER.
type Header struct {
	Version            uint16
	ImplementationID   uint16
	NumberOfStreams    uint32
	StreamDirectoryRVA uint32
	Checksum           uint32
	TimeDateStamp      uint32
	Flags              uint64
}

// DirectoryEntry is a MINIDUMP_DIRECTORY entry.
type DirectoryEntry struct {
	Type     StreamType
	DataSize uint32
	RVA      uint32
}

// Dump is a decoded minidump. Byte slices inside a Dump alias the input
// buffer and are only valid until Close.
type Dump struct {
	Header       Header
	Directory    []DirectoryEntry
	StreamErrors []error

	System      *SystemInfo
	Exception   *Exception
	Threads     *ThreadList
	ThreadNames *ThreadNames
	Modules     *ModuleList
	Memory      *MemoryList
	MemoryInfo  *MemoryInfoList

	closer func() error
}

// Close releases the buffer backing the dump.
func (d *Dump) Close() error {
	if d == nil || d.closer == nil {
		return nil
	}
	c := d.closer
	d.closer = nil
	return c()
}

// CPU is the ProcessorArchitecture field of MINIDUMP_SYSTEM_INFO.
type CPU uint16

const (
	CPUX86      CPU = 0
	CPUMIPS     CPU = 1
	CPUAlpha    CPU = 2
	CPUPPC      CPU = 3
	CPUSHX      CPU = 4
	CPUARM      CPU = 5
	CPUIA64     CPU = 6
	CPUAlpha64  CPU = 7
	CPUMSIL     CPU = 8
	CPUAMD64    CPU = 9
	CPUX86Win64 CPU = 10
	CPUARM64    CPU = 12
	CPUSPARC    CPU = 0x8001
	CPUPPC64    CPU = 0x8002
	CPUARM64Old CPU = 0x8003
	CPUMIPS64   CPU = 0x8004
	CPUUnknown  CPU = 0xffff
)

func (c CPU) String() string {
	switch c {
	case CPUX86, CPUX86Win64:
		return "x86"
	case CPUAMD64:
		return "amd64"
	case CPUARM:
		return "arm"
	case CPUARM64, CPUARM64Old:
		return "arm64"
	case CPUMIPS:
		return "mips"
	case CPUMIPS64:
		return "mips64"
	case CPUPPC:
		return "ppc"
	case CPUPPC64:
		return "ppc64"
	case CPUSPARC:
		return "sparc"
	case CPUIA64:
		return "ia64"
	}
	return fmt.Sprintf("unknown(%#x)", uint16(c))
}

// Arch maps the CPU to the register context family it uses.
func (c CPU) Arch() Arch {
	switch c {
	case CPUX86, CPUX86Win64:
		return ArchX86
	case CPUAMD64:
		return ArchAmd64
	case CPUARM:
		return ArchArm
	case CPUARM64, CPUARM64Old:
		return ArchArm64
	}
	return ArchUnknown
}

// Arch is a register context family.
type Arch int

const (
	ArchUnknown Arch = iota
	ArchX86
	ArchAmd64
	ArchArm
	ArchArm64
)

func (a Arch) String() string {
	switch a {
	case ArchX86:
		return "X86"
	case ArchAmd64:
		return "Amd64"
	case ArchArm:
		return "Arm"
	case ArchArm64:
		return "Arm64"
	}
	return "Unknown"
}

// PointerSize returns the width of an address in bytes.
func (a Arch) PointerSize() int {
	switch a {
	case ArchX86, ArchArm:
		return 4
	}
	return 8
}

// OS is the PlatformId field of MINIDUMP_SYSTEM_INFO.
type OS uint32

const (
	OSWin32s       OS = 0
	OSWin32Windows OS = 1
	OSWin32NT      OS = 2
	OSMacOS        OS = 0x8101
	OSIOS          OS = 0x8102
	OSLinux        OS = 0x8201
	OSSolaris      OS = 0x8202
	OSAndroid      OS = 0x8203
	OSPS3          OS = 0x8204
	OSNaCl         OS = 0x8205
	OSFuchsia      OS = 0x8206
)

func (o OS) String() string {
	switch o {
	case OSWin32s, OSWin32Windows, OSWin32NT:
		return "Windows"
	case OSMacOS:
		return "MacOs"
	case OSIOS:
		return "Ios"
	case OSLinux:
		return "Linux"
	case OSSolaris:
		return "Solaris"
	case OSAndroid:
		return "Android"
	case OSPS3:
		return "Ps3"
	case OSNaCl:
		return "NaCl"
	case OSFuchsia:
		return "Fuchsia"
	}
	return fmt.Sprintf("Unknown(%#x)", uint32(o))
}

// IsWindows reports whether exception codes follow NTSTATUS.
func (o OS) IsWindows() bool {
	return o == OSWin32s || o == OSWin32Windows || o == OSWin32NT
}

// SystemInfo is MINIDUMP_SYSTEM_INFO.
type SystemInfo struct {
	ProcessorArchitecture uint16
	ProcessorLevel        uint16
	ProcessorRevision     uint16
	NumberOfProcessors    uint8
	ProductType           uint8
	MajorVersion          uint32
	MinorVersion          uint32
	BuildNumber           uint32
	PlatformID            uint32
	CSDVersionRVA         uint32
	SuiteMask             uint16
	Reserved2             uint16
	CPUInformation        [24]byte

	// CSDVersion is the service pack string, nil when the RVA is zero or
	// does not resolve.
	CSDVersion *string
}

func (s *SystemInfo) CPU() CPU { return CPU(s.ProcessorArchitecture) }

func (s *SystemInfo) OS() OS { return OS(s.PlatformID) }

// OSVersion returns "major.minor.build".
func (s *SystemInfo) OSVersion() string {
	return fmt.Sprintf("%d.%d.%d", s.MajorVersion, s.MinorVersion, s.BuildNumber)
}

// CPUInfo describes the processor for x86 family dumps, where the
// CPU_INFORMATION block carries the CPUID vendor string.
func (s *SystemInfo) CPUInfo() (string, bool) {
	switch s.CPU().Arch() {
	case ArchX86, ArchAmd64:
	default:
		return "", false
	}
	vendor := trimNUL(s.CPUInformation[:12])
	if vendor == "" {
		return "", false
	}
	return fmt.Sprintf("%s family %d model %d stepping %d",
		vendor, s.ProcessorLevel, (s.ProcessorRevision>>8)&0xff, s.ProcessorRevision&0xff), true
}

// ExceptionRecord is MINIDUMP_EXCEPTION.
type ExceptionRecord struct {
	Code             uint32
	Flags            uint32
	Record           uint64
	Address          uint64
	NumberParameters uint32
	Information      [15]uint64
}

// Parameters returns the first NumberParameters entries of Information.
func (r *ExceptionRecord) Parameters() []uint64 {
	n := int(r.NumberParameters)
	if n > len(r.Information) {
		n = len(r.Information)
	}
	return r.Information[:n]
}

// Exception is MINIDUMP_EXCEPTION_STREAM.
type Exception struct {
	ThreadID   uint32
	Record     ExceptionRecord
	RawContext []byte
}

// Context decodes the exception context. The layout depends on the CPU
// reported by the system info stream.
func (e *Exception) Context(sys *SystemInfo) (*Context, error) {
	if sys == nil {
		return nil, errNoSystemInfo
	}
	return ParseContext(sys.CPU(), e.RawContext)
}

// MemoryDescriptor is a MINIDUMP_MEMORY_DESCRIPTOR with its bytes resolved.
type MemoryDescriptor struct {
	Start uint64
	Size  uint64
	Data  []byte
}

// Thread is MINIDUMP_THREAD.
type Thread struct {
	ID            uint32
	SuspendCount  uint32
	PriorityClass uint32
	Priority      uint32
	TEB           uint64
	Stack         MemoryDescriptor
	RawContext    []byte
}

// Context decodes the thread's register context.
func (t *Thread) Context(sys *SystemInfo) (*Context, error) {
	if sys == nil {
		return nil, errNoSystemInfo
	}
	return ParseContext(sys.CPU(), t.RawContext)
}

// StackMemory returns the memory backing the thread stack: the memory list
// range containing the stack start when there is one, otherwise the bytes
// referenced by the thread's own descriptor.
func (t *Thread) StackMemory(mem *MemoryList) *MemoryRange {
	if mem != nil {
		if r := mem.Find(t.Stack.Start); r != nil {
			return r
		}
	}
	if len(t.Stack.Data) == 0 {
		return nil
	}
	return &MemoryRange{Base: t.Stack.Start, Size: t.Stack.Size, Data: t.Stack.Data}
}

type ThreadList struct {
	Threads []Thread
}

// ThreadNames maps thread ids to names from the ThreadNames stream.
type ThreadNames struct {
	names map[uint32]string
}

func NewThreadNames(names map[uint32]string) *ThreadNames {
	return &ThreadNames{names: names}
}

func (n *ThreadNames) Name(id uint32) (string, bool) {
	if n == nil {
		return "", false
	}
	name, ok := n.names[id]
	return name, ok
}

func (n *ThreadNames) Len() int {
	if n == nil {
		return 0
	}
	return len(n.names)
}

// VersionSignature marks a populated VS_FIXEDFILEINFO.
const VersionSignature = 0xfeef04bd

// VersionBlock is VS_FIXEDFILEINFO.
type VersionBlock struct {
	Signature        uint32
	StructVersion    uint32
	FileVersionHi    uint32
	FileVersionLo    uint32
	ProductVersionHi uint32
	ProductVersionLo uint32
	FileFlagsMask    uint32
	FileFlags        uint32
	FileOS           uint32
	FileType         uint32
	FileSubtype      uint32
	FileDateHi       uint32
	FileDateLo       uint32
}

func (v *VersionBlock) Valid() bool {
	return v.Signature == VersionSignature
}

// Module is MINIDUMP_MODULE.
type Module struct {
	BaseOfImage   uint64
	SizeOfImage   uint32
	Checksum      uint32
	TimeDateStamp uint32
	Name          string
	VersionInfo   VersionBlock
	// CodeView is nil when the module has no CodeView record.
	CodeView   CodeView
	MiscRecord []byte
}

// Contains reports whether addr lies in [BaseOfImage, BaseOfImage+SizeOfImage).
func (m *Module) Contains(addr uint64) bool {
	return addr >= m.BaseOfImage && addr-m.BaseOfImage < uint64(m.SizeOfImage)
}

type ModuleList struct {
	Modules []Module
}

// ModuleAt returns the first module whose image contains addr.
func (l *ModuleList) ModuleAt(addr uint64) *Module {
	if l == nil {
		return nil
	}
	for i := range l.Modules {
		if l.Modules[i].Contains(addr) {
			return &l.Modules[i]
		}
	}
	return nil
}

// MemoryRange is one captured range of process memory. Data may be shorter
// than Size when the file was truncated.
type MemoryRange struct {
	Base uint64
	Size uint64
	Data []byte
}

func (r *MemoryRange) End() uint64 { return r.Base + r.Size }

func (r *MemoryRange) Contains(addr uint64) bool {
	return addr >= r.Base && addr-r.Base < uint64(len(r.Data))
}

// Slice returns n bytes at addr, or false when they are not all captured.
func (r *MemoryRange) Slice(addr uint64, n int) ([]byte, bool) {
	if !r.Contains(addr) {
		return nil, false
	}
	off := addr - r.Base
	if uint64(n) > uint64(len(r.Data))-off {
		return nil, false
	}
	return r.Data[off : off+uint64(n)], true
}

// MemoryList is the unified memory view: the MemoryList stream when present,
// otherwise the Memory64List stream.
type MemoryList struct {
	Source StreamType
	Ranges []MemoryRange
}

// Find returns the first range whose captured bytes contain addr.
func (l *MemoryList) Find(addr uint64) *MemoryRange {
	if l == nil {
		return nil
	}
	for i := range l.Ranges {
		if l.Ranges[i].Contains(addr) {
			return &l.Ranges[i]
		}
	}
	return nil
}

// Read returns n bytes at addr when a single range holds all of them.
func (l *MemoryList) Read(addr uint64, n int) ([]byte, bool) {
	r := l.Find(addr)
	if r == nil {
		return nil, false
	}
	return r.Slice(addr, n)
}

// MemoryInfo is MINIDUMP_MEMORY_INFO.
type MemoryInfo struct {
	BaseAddress          uint64
	AllocationBase       uint64
	AllocationProtection uint32
	RegionSize           uint64
	State                uint32
	Protection           uint32
	Type                 uint32
}

type MemoryInfoList struct {
	Entries []MemoryInfo
}

func trimNUL(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return string(utf16.Decode(u))
}
