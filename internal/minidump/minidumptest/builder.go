// Package minidumptest builds minidump files in memory for tests.
package minidumptest

import (
	"encoding/binary"
	"unicode/utf16"

	"github.com/olksdr/minidump-viewer/internal/minidump"
)

type thread struct {
	id, suspend, prioClass, prio uint32
	teb                          uint64
	stackBase                    uint64
	stack                        []byte
	context                      []byte
}

type module struct {
	name    string
	base    uint64
	size    uint32
	version minidump.VersionBlock
	cv      []byte
	misc    []byte
}

type exception struct {
	threadID uint32
	record   minidump.ExceptionRecord
	context  []byte
}

type memRange struct {
	base uint64
	data []byte
}

// Builder assembles a minidump file. Streams are only emitted when at least
// one of their records was added, or when the matching Empty* method was
// called.
type Builder struct {
	system      *minidump.SystemInfo
	csdVersion  string
	exception   *exception
	threads     []thread
	names       map[uint32]string
	modules     []module
	memory      []memRange
	memory64    bool
	memoryInfo  []minidump.MemoryInfo
	timeStamp   uint32
	streamOrder []minidump.StreamType
}

func New() *Builder {
	return &Builder{}
}

func (b *Builder) touch(t minidump.StreamType) {
	for _, s := range b.streamOrder {
		if s == t {
			return
		}
	}
	b.streamOrder = append(b.streamOrder, t)
}

// SystemInfo adds a system info stream for cpu and os.
func (b *Builder) SystemInfo(cpu minidump.CPU, os minidump.OS) *Builder {
	b.system = &minidump.SystemInfo{
		ProcessorArchitecture: uint16(cpu),
		NumberOfProcessors:    4,
		MajorVersion:          10,
		BuildNumber:           19045,
		PlatformID:            uint32(os),
	}
	b.touch(minidump.SystemInfoStream)
	return b
}

// CSDVersion sets the service pack string of the system info stream.
func (b *Builder) CSDVersion(s string) *Builder {
	b.csdVersion = s
	return b
}

// CPUVendor stores an x86 CPUID vendor string in the system info stream.
func (b *Builder) CPUVendor(vendor string, level, revision uint16) *Builder {
	if b.system != nil {
		copy(b.system.CPUInformation[:12], vendor)
		b.system.ProcessorLevel = level
		b.system.ProcessorRevision = revision
	}
	return b
}

func (b *Builder) Exception(threadID, code uint32, addr uint64, params []uint64, ctx []byte) *Builder {
	e := &exception{threadID: threadID, context: ctx}
	e.record.Code = code
	e.record.Address = addr
	e.record.NumberParameters = uint32(len(params))
	copy(e.record.Information[:], params)
	b.exception = e
	b.touch(minidump.ExceptionStream)
	return b
}

func (b *Builder) Thread(id uint32, teb, stackBase uint64, stack, ctx []byte) *Builder {
	b.threads = append(b.threads, thread{id: id, teb: teb, stackBase: stackBase, stack: stack, context: ctx})
	b.touch(minidump.ThreadListStream)
	return b
}

func (b *Builder) EmptyThreadList() *Builder {
	b.touch(minidump.ThreadListStream)
	return b
}

func (b *Builder) ThreadName(id uint32, name string) *Builder {
	if b.names == nil {
		b.names = make(map[uint32]string)
	}
	b.names[id] = name
	b.touch(minidump.ThreadNamesStream)
	return b
}

// Module adds a module. version may be nil; cv is the raw CodeView record.
func (b *Builder) Module(name string, base uint64, size uint32, version *minidump.VersionBlock, cv []byte) *Builder {
	m := module{name: name, base: base, size: size, cv: cv}
	if version != nil {
		m.version = *version
	}
	b.modules = append(b.modules, m)
	b.touch(minidump.ModuleListStream)
	return b
}

// MiscRecord attaches a misc debug record to the last added module.
func (b *Builder) MiscRecord(p []byte) *Builder {
	if n := len(b.modules); n > 0 {
		b.modules[n-1].misc = p
	}
	return b
}

func (b *Builder) TimeStamp(ts uint32) *Builder {
	b.timeStamp = ts
	return b
}

func (b *Builder) Memory(base uint64, data []byte) *Builder {
	b.memory = append(b.memory, memRange{base: base, data: data})
	if b.memory64 {
		b.touch(minidump.Memory64ListStream)
	} else {
		b.touch(minidump.MemoryListStream)
	}
	return b
}

// UseMemory64 writes memory ranges as a Memory64List stream. Call it before
// adding memory.
func (b *Builder) UseMemory64() *Builder {
	b.memory64 = true
	return b
}

func (b *Builder) MemoryInfo(entries ...minidump.MemoryInfo) *Builder {
	b.memoryInfo = append(b.memoryInfo, entries...)
	b.touch(minidump.MemoryInfoListStream)
	return b
}

type writer struct {
	buf []byte
}

func (w *writer) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *writer) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *writer) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// blob appends p 4-byte aligned and returns its RVA.
func (w *writer) blob(p []byte) uint32 {
	for len(w.buf)%4 != 0 {
		w.buf = append(w.buf, 0)
	}
	rva := uint32(len(w.buf))
	w.buf = append(w.buf, p...)
	return rva
}

func (w *writer) str(s string) uint32 {
	u := utf16.Encode([]rune(s))
	p := binary.LittleEndian.AppendUint32(nil, uint32(2*len(u)))
	for _, c := range u {
		p = binary.LittleEndian.AppendUint16(p, c)
	}
	p = append(p, 0, 0)
	return w.blob(p)
}

// Bytes returns the encoded minidump.
func (b *Builder) Bytes() []byte {
	n := len(b.streamOrder)
	w := &writer{buf: make([]byte, 32+12*n)}

	type entry struct {
		t         minidump.StreamType
		rva, size uint32
	}
	var dir []entry
	add := func(t minidump.StreamType, body []byte) {
		dir = append(dir, entry{t: t, rva: w.blob(body), size: uint32(len(body))})
	}

	for _, t := range b.streamOrder {
		switch t {
		case minidump.SystemInfoStream:
			add(t, b.systemInfoBody(w))
		case minidump.ExceptionStream:
			add(t, b.exceptionBody(w))
		case minidump.ThreadListStream:
			add(t, b.threadListBody(w))
		case minidump.ThreadNamesStream:
			add(t, b.threadNamesBody(w))
		case minidump.ModuleListStream:
			add(t, b.moduleListBody(w))
		case minidump.MemoryListStream:
			add(t, b.memoryListBody(w))
		case minidump.Memory64ListStream:
			add(t, b.memory64ListBody(w))
		case minidump.MemoryInfoListStream:
			add(t, b.memoryInfoBody())
		}
	}

	h := binary.LittleEndian
	h.PutUint32(w.buf[0:], 0x504d444d)
	h.PutUint16(w.buf[4:], 0xa793)
	h.PutUint32(w.buf[8:], uint32(n))
	h.PutUint32(w.buf[12:], 32)
	h.PutUint32(w.buf[20:], b.timeStamp)
	for i, e := range dir {
		off := 32 + 12*i
		h.PutUint32(w.buf[off:], uint32(e.t))
		h.PutUint32(w.buf[off+4:], e.size)
		h.PutUint32(w.buf[off+8:], e.rva)
	}
	return w.buf
}

func (b *Builder) systemInfoBody(w *writer) []byte {
	s := b.system
	if b.csdVersion != "" {
		s.CSDVersionRVA = w.str(b.csdVersion)
	}
	body := &writer{}
	body.u16(s.ProcessorArchitecture)
	body.u16(s.ProcessorLevel)
	body.u16(s.ProcessorRevision)
	body.buf = append(body.buf, s.NumberOfProcessors, s.ProductType)
	body.u32(s.MajorVersion)
	body.u32(s.MinorVersion)
	body.u32(s.BuildNumber)
	body.u32(s.PlatformID)
	body.u32(s.CSDVersionRVA)
	body.u16(s.SuiteMask)
	body.u16(s.Reserved2)
	body.buf = append(body.buf, s.CPUInformation[:]...)
	return body.buf
}

func (b *Builder) exceptionBody(w *writer) []byte {
	e := b.exception
	ctxRVA := w.blob(e.context)
	body := &writer{}
	body.u32(e.threadID)
	body.u32(0)
	body.u32(e.record.Code)
	body.u32(e.record.Flags)
	body.u64(e.record.Record)
	body.u64(e.record.Address)
	body.u32(e.record.NumberParameters)
	body.u32(0)
	for _, p := range e.record.Information {
		body.u64(p)
	}
	body.u32(uint32(len(e.context)))
	body.u32(ctxRVA)
	return body.buf
}

func (b *Builder) threadListBody(w *writer) []byte {
	body := &writer{}
	body.u32(uint32(len(b.threads)))
	for _, t := range b.threads {
		stackRVA := w.blob(t.stack)
		ctxRVA := w.blob(t.context)
		body.u32(t.id)
		body.u32(t.suspend)
		body.u32(t.prioClass)
		body.u32(t.prio)
		body.u64(t.teb)
		body.u64(t.stackBase)
		body.u32(uint32(len(t.stack)))
		body.u32(stackRVA)
		body.u32(uint32(len(t.context)))
		body.u32(ctxRVA)
	}
	return body.buf
}

func (b *Builder) threadNamesBody(w *writer) []byte {
	body := &writer{}
	body.u32(uint32(len(b.names)))
	for id, name := range b.names {
		body.u32(id)
		body.u64(uint64(w.str(name)))
	}
	return body.buf
}

func (b *Builder) moduleListBody(w *writer) []byte {
	body := &writer{}
	body.u32(uint32(len(b.modules)))
	for _, m := range b.modules {
		nameRVA := w.str(m.name)
		var cvRVA, miscRVA uint32
		if len(m.cv) > 0 {
			cvRVA = w.blob(m.cv)
		}
		if len(m.misc) > 0 {
			miscRVA = w.blob(m.misc)
		}
		body.u64(m.base)
		body.u32(m.size)
		body.u32(0)
		body.u32(0)
		body.u32(nameRVA)
		v := m.version
		for _, f := range []uint32{
			v.Signature, v.StructVersion, v.FileVersionHi, v.FileVersionLo,
			v.ProductVersionHi, v.ProductVersionLo, v.FileFlagsMask, v.FileFlags,
			v.FileOS, v.FileType, v.FileSubtype, v.FileDateHi, v.FileDateLo,
		} {
			body.u32(f)
		}
		body.u32(uint32(len(m.cv)))
		body.u32(cvRVA)
		body.u32(uint32(len(m.misc)))
		body.u32(miscRVA)
		body.u64(0)
		body.u64(0)
	}
	return body.buf
}

func (b *Builder) memoryListBody(w *writer) []byte {
	body := &writer{}
	body.u32(uint32(len(b.memory)))
	for _, r := range b.memory {
		rva := w.blob(r.data)
		body.u64(r.base)
		body.u32(uint32(len(r.data)))
		body.u32(rva)
	}
	return body.buf
}

// memory64ListBody lays the range bytes out back to back as the format
// requires.
func (b *Builder) memory64ListBody(w *writer) []byte {
	var all []byte
	for _, r := range b.memory {
		all = append(all, r.data...)
	}
	base := w.blob(all)
	body := &writer{}
	body.u64(uint64(len(b.memory)))
	body.u64(uint64(base))
	for _, r := range b.memory {
		body.u64(r.base)
		body.u64(uint64(len(r.data)))
	}
	return body.buf
}

func (b *Builder) memoryInfoBody() []byte {
	body := &writer{}
	body.u32(16)
	body.u32(48)
	body.u64(uint64(len(b.memoryInfo)))
	for _, mi := range b.memoryInfo {
		body.u64(mi.BaseAddress)
		body.u64(mi.AllocationBase)
		body.u32(mi.AllocationProtection)
		body.u32(0)
		body.u64(mi.RegionSize)
		body.u32(mi.State)
		body.u32(mi.Protection)
		body.u32(mi.Type)
		body.u32(0)
	}
	return body.buf
}

// Context encodes a register context. It panics for a CPU without a layout.
func Context(cpu minidump.CPU, regs map[string]uint64) []byte {
	raw, err := minidump.EncodeContext(cpu, regs)
	if err != nil {
		panic(err)
	}
	return raw
}

// PDB70 encodes an "RSDS" CodeView record.
func PDB70(guid [16]byte, age uint32, name string) []byte {
	p := binary.LittleEndian.AppendUint32(nil, 0x53445352)
	p = append(p, guid[:]...)
	p = binary.LittleEndian.AppendUint32(p, age)
	return append(append(p, name...), 0)
}

// PDB20 encodes an "NB10" CodeView record.
func PDB20(signature, age uint32, name string) []byte {
	p := binary.LittleEndian.AppendUint32(nil, 0x3031424e)
	p = binary.LittleEndian.AppendUint32(p, 0)
	p = binary.LittleEndian.AppendUint32(p, signature)
	p = binary.LittleEndian.AppendUint32(p, age)
	return append(append(p, name...), 0)
}

// ELFBuildID encodes breakpad's "LEpB" CodeView record.
func ELFBuildID(id []byte) []byte {
	p := binary.LittleEndian.AppendUint32(nil, 0x4270454c)
	return append(p, id...)
}
