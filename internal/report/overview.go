// Package report holds the triage output model. Every type here is a value
// object built once per triage pass and serialized as JSON.
package report

// FormatVersion is bumped whenever a field changes meaning.
const FormatVersion = 1

// Stream names reported in Overview.StreamsPresent, in reporting order.
const (
	StreamSystemInfo = "SystemInfo"
	StreamException  = "Exception"
	StreamThreadList = "ThreadList"
	StreamModuleList = "ModuleList"
	StreamMemoryList = "MemoryList"
)

// Overview is the top-level triage report. Optional fields are null when
// their source stream was absent or failed to decode, never empty.
type Overview struct {
	FormatVersion  int            `json:"format_version"`
	StreamsPresent []string       `json:"streams_present"`
	ModulesCount   *int           `json:"modules_count"`
	ThreadsCount   *int           `json:"threads_count"`
	SystemInfo     *SystemInfo    `json:"system_info"`
	ExceptionInfo  *ExceptionInfo `json:"exception_info"`
	ThreadsData    []ThreadInfo   `json:"threads_data"`
	ModulesData    *ModuleSummary `json:"modules_data"`
	MemoryData     *MemorySummary `json:"memory_data"`
}

type Category string

const (
	CategoryGeneralPurpose     Category = "general_purpose"
	CategoryInstructionPointer Category = "instruction_pointer"
	CategorySegment            Category = "segment"
	CategoryFlags              Category = "flags"
	CategoryDebug              Category = "debug"
	CategoryOther              Category = "other"
)

type RegisterValue struct {
	Name     string   `json:"name"`
	Value    Hex64    `json:"value"`
	Category Category `json:"category"`
	Valid    bool     `json:"valid"`
}

// StructuredContext is a register set partitioned by category.
type StructuredContext struct {
	GeneralPurpose     []RegisterValue `json:"general_purpose"`
	InstructionPointer []RegisterValue `json:"instruction_pointer"`
	Segment            []RegisterValue `json:"segment"`
	Flags              []RegisterValue `json:"flags"`
	Debug              []RegisterValue `json:"debug"`
	Other              []RegisterValue `json:"other"`
	Architecture       string          `json:"architecture"`
}

// Len returns the number of registers across all categories.
func (c *StructuredContext) Len() int {
	return len(c.GeneralPurpose) + len(c.InstructionPointer) + len(c.Segment) +
		len(c.Flags) + len(c.Debug) + len(c.Other)
}

// All returns the registers in category order.
func (c *StructuredContext) All() []RegisterValue {
	out := make([]RegisterValue, 0, c.Len())
	for _, group := range [][]RegisterValue{
		c.GeneralPurpose, c.InstructionPointer, c.Segment, c.Flags, c.Debug, c.Other,
	} {
		out = append(out, group...)
	}
	return out
}

type UnwindMethod string

const (
	UnwindOk       UnwindMethod = "Ok"
	UnwindFallback UnwindMethod = "Fallback"
	UnwindFailed   UnwindMethod = "Failed"
)

type StackFrame struct {
	InstructionAddress Hex64   `json:"instruction_address"`
	TrustLevel         string  `json:"trust_level"`
	ModuleName         *string `json:"module_name"`
}

type StackInfo struct {
	StartAddress Hex64  `json:"start_address"`
	MemorySize   uint64 `json:"memory_size"`
}

type ThreadInfo struct {
	ThreadID        uint32             `json:"thread_id"`
	Name            *string            `json:"name"`
	SuspendCount    uint32             `json:"suspend_count"`
	PriorityClass   uint32             `json:"priority_class"`
	Priority        uint32             `json:"priority"`
	TEB             Hex64              `json:"teb"`
	Stack           *StackInfo         `json:"stack"`
	Context         *StructuredContext `json:"context"`
	StackFrames     []StackFrame       `json:"stack_frames"`
	UnwindingMethod UnwindMethod       `json:"unwinding_method"`
	Debug           *string            `json:"debug,omitempty"`
}

type RawExceptionRecord struct {
	ExceptionCode        uint32  `json:"exception_code"`
	ExceptionFlags       uint32  `json:"exception_flags"`
	ExceptionRecord      Hex64   `json:"exception_record"`
	ExceptionAddress     Hex64   `json:"exception_address"`
	NumberParameters     uint32  `json:"number_parameters"`
	ExceptionInformation []Hex64 `json:"exception_information"`
}

type ExceptionInfo struct {
	CrashReason        *string            `json:"crash_reason"`
	CrashAddress       *Hex64             `json:"crash_address"`
	CrashingThreadID   uint32             `json:"crashing_thread_id"`
	Context            *StructuredContext `json:"context"`
	RawExceptionRecord RawExceptionRecord `json:"raw_exception_record"`
	CrashInstruction   *string            `json:"crash_instruction"`
	Debug              *string            `json:"debug,omitempty"`
}

type RawSystemInfo struct {
	ProcessorArchitecture uint16  `json:"processor_architecture"`
	ProcessorLevel        uint16  `json:"processor_level"`
	ProcessorRevision     uint16  `json:"processor_revision"`
	NumberOfProcessors    uint8   `json:"number_of_processors"`
	ProductType           uint8   `json:"product_type"`
	MajorVersion          uint32  `json:"major_version"`
	MinorVersion          uint32  `json:"minor_version"`
	BuildNumber           uint32  `json:"build_number"`
	PlatformID            uint32  `json:"platform_id"`
	CSDVersionRVA         uint32  `json:"csd_version_rva"`
	SuiteMask             uint16  `json:"suite_mask"`
	Reserved2             uint16  `json:"reserved2"`
	OSVersion             string  `json:"os_version"`
	CSDVersion            *string `json:"csd_version"`
}

type SystemInfo struct {
	OS      string        `json:"os"`
	CPU     string        `json:"cpu"`
	CPUInfo *string       `json:"cpu_info"`
	Raw     RawSystemInfo `json:"raw"`
	Debug   *string       `json:"debug,omitempty"`
}

type VersionInfo struct {
	FileVersion    *string  `json:"file_version"`
	ProductVersion *string  `json:"product_version"`
	FileFlags      []string `json:"file_flags"`
	FileType       *string  `json:"file_type"`
	FileOS         *string  `json:"file_os"`
}

type DebugRecordInfo struct {
	Format      string  `json:"format"`
	Identifier  *string `json:"identifier"`
	Age         *uint32 `json:"age"`
	PDBFileName *string `json:"pdb_file_name"`
}

type ModuleInfo struct {
	Name              string           `json:"name"`
	BaseOfImage       Hex64            `json:"base_of_image"`
	SizeOfImage       uint32           `json:"size_of_image"`
	Checksum          uint32           `json:"checksum"`
	TimeDateStamp     uint32           `json:"time_date_stamp"`
	VersionInfo       *VersionInfo     `json:"version_info"`
	DebugRecordInfo   *DebugRecordInfo `json:"debug_record_info"`
	MiscRecordPresent bool             `json:"misc_record_present"`
}

type ModuleSummary struct {
	Modules      []ModuleInfo `json:"modules"`
	ModulesCount int          `json:"modules_count"`
	Debug        *string      `json:"debug,omitempty"`
}

type MemoryRegion struct {
	StartAddress   Hex64  `json:"start_address"`
	EndAddress     Hex64  `json:"end_address"`
	Size           uint64 `json:"size"`
	SizeFormatted  string `json:"size_formatted"`
	HasData        bool   `json:"has_data"`
	DataSize       uint64 `json:"data_size"`
	FormattedRange string `json:"formatted_range"`
}

type MemoryInfoRange struct {
	BaseAddress               Hex64  `json:"base_address"`
	AllocationBase            Hex64  `json:"allocation_base"`
	RegionSize                uint64 `json:"region_size"`
	State                     uint32 `json:"state"`
	StateFlags                string `json:"state_flags"`
	Protection                uint32 `json:"protection"`
	ProtectionFlags           string `json:"protection_flags"`
	AllocationProtection      uint32 `json:"allocation_protection"`
	AllocationProtectionFlags string `json:"allocation_protection_flags"`
	MemoryType                uint32 `json:"memory_type"`
	TypeFlags                 string `json:"type_flags"`
}

type MemoryInfoSummary struct {
	Ranges      []MemoryInfoRange `json:"ranges"`
	RangesCount int               `json:"ranges_count"`
}

type MemorySummary struct {
	Regions                  []MemoryRegion     `json:"regions"`
	RegionsCount             int                `json:"regions_count"`
	MemoryInfo               *MemoryInfoSummary `json:"memory_info"`
	HasMemoryInfoStream      bool               `json:"has_memory_info_stream"`
	TotalMemorySize          uint64             `json:"total_memory_size"`
	TotalMemorySizeFormatted string             `json:"total_memory_size_formatted"`
	Debug                    *string            `json:"debug,omitempty"`
}
