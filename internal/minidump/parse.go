package minidump

import (
	"fmt"
)

// Parse decodes a minidump held in memory. Only an invalid header or stream
// directory is an error; streams that fail to decode are left nil and
// reported in Dump.StreamErrors.
func Parse(data []byte) (d *Dump, err error) {
	defer func() {
		if r := recover(); r != nil {
			d, err = nil, fmt.Errorf("minidump: %v", r)
		}
	}()

	h, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	dir, err := readDirectory(data, h)
	if err != nil {
		return nil, err
	}

	d = &Dump{Header: h, Directory: dir}
	streams := make(map[StreamType][]byte)
	for _, e := range dir {
		if _, seen := streams[e.Type]; seen {
			continue
		}
		raw, err := location(data, uint64(e.DataSize), uint64(e.RVA))
		if err != nil {
			d.StreamErrors = append(d.StreamErrors, fmt.Errorf("%s: %w", e.Type, err))
			continue
		}
		streams[e.Type] = raw
	}

	decode := func(t StreamType, fn func(raw []byte) error) {
		raw, ok := streams[t]
		if !ok {
			return
		}
		if err := safeDecode(fn, raw); err != nil {
			d.StreamErrors = append(d.StreamErrors, fmt.Errorf("%s: %w", t, err))
		}
	}

	decode(SystemInfoStream, func(raw []byte) (err error) {
		d.System, err = decodeSystemInfo(data, raw)
		return err
	})
	decode(ExceptionStream, func(raw []byte) (err error) {
		d.Exception, err = decodeException(data, raw)
		return err
	})
	decode(ThreadListStream, func(raw []byte) (err error) {
		d.Threads, err = decodeThreadList(data, raw)
		return err
	})
	decode(ThreadNamesStream, func(raw []byte) (err error) {
		d.ThreadNames, err = decodeThreadNames(data, raw)
		return err
	})
	decode(ModuleListStream, func(raw []byte) (err error) {
		d.Modules, err = decodeModuleList(data, raw)
		return err
	})
	decode(MemoryListStream, func(raw []byte) (err error) {
		d.Memory, err = decodeMemoryList(data, raw)
		return err
	})
	if d.Memory == nil {
		decode(Memory64ListStream, func(raw []byte) (err error) {
			d.Memory, err = decodeMemory64List(data, raw)
			return err
		})
	}
	decode(MemoryInfoListStream, func(raw []byte) (err error) {
		d.MemoryInfo, err = decodeMemoryInfoList(raw)
		return err
	})
	return d, nil
}

func safeDecode(fn func([]byte) error, raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while decoding: %v", r)
		}
	}()
	return fn(raw)
}

func decodeSystemInfo(file, raw []byte) (*SystemInfo, error) {
	c := &cursor{buf: raw, kind: "system info"}
	s := &SystemInfo{
		ProcessorArchitecture: c.u16(),
		ProcessorLevel:        c.u16(),
		ProcessorRevision:     c.u16(),
		NumberOfProcessors:    c.u8(),
		ProductType:           c.u8(),
		MajorVersion:          c.u32(),
		MinorVersion:          c.u32(),
		BuildNumber:           c.u32(),
		PlatformID:            c.u32(),
		CSDVersionRVA:         c.u32(),
		SuiteMask:             c.u16(),
		Reserved2:             c.u16(),
	}
	copy(s.CPUInformation[:], c.bytes(24))
	if c.err != nil {
		return nil, c.err
	}
	if s.CSDVersionRVA != 0 {
		if v, err := readString(file, uint64(s.CSDVersionRVA)); err == nil {
			s.CSDVersion = &v
		}
	}
	return s, nil
}

func decodeException(file, raw []byte) (*Exception, error) {
	c := &cursor{buf: raw, kind: "exception"}
	e := &Exception{ThreadID: c.u32()}
	c.skip(4) // alignment
	e.Record.Code = c.u32()
	e.Record.Flags = c.u32()
	e.Record.Record = c.u64()
	e.Record.Address = c.u64()
	e.Record.NumberParameters = c.u32()
	c.skip(4)
	for i := range e.Record.Information {
		e.Record.Information[i] = c.u64()
	}
	size, rva := c.u32(), c.u32()
	if c.err != nil {
		return nil, c.err
	}
	ctx, err := location(file, uint64(size), uint64(rva))
	if err != nil {
		return nil, fmt.Errorf("exception context: %w", err)
	}
	e.RawContext = ctx
	return e, nil
}

func decodeThreadList(file, raw []byte) (*ThreadList, error) {
	c := &cursor{buf: raw, kind: "thread list"}
	n := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if uint64(n)*48 > uint64(len(raw)) {
		return nil, fmt.Errorf("thread list: %d entries do not fit in %d bytes", n, len(raw))
	}
	l := &ThreadList{Threads: make([]Thread, 0, n)}
	for i := uint32(0); i < n; i++ {
		var t Thread
		t.ID = c.u32()
		t.SuspendCount = c.u32()
		t.PriorityClass = c.u32()
		t.Priority = c.u32()
		t.TEB = c.u64()
		t.Stack.Start = c.u64()
		stackSize, stackRVA := c.u32(), c.u32()
		ctxSize, ctxRVA := c.u32(), c.u32()
		if c.err != nil {
			return nil, c.err
		}
		t.Stack.Size = uint64(stackSize)
		// A bad stack or context location degrades this thread only.
		t.Stack.Data, _ = location(file, uint64(stackSize), uint64(stackRVA))
		t.RawContext, _ = location(file, uint64(ctxSize), uint64(ctxRVA))
		l.Threads = append(l.Threads, t)
	}
	return l, nil
}

func decodeThreadNames(file, raw []byte) (*ThreadNames, error) {
	c := &cursor{buf: raw, kind: "thread names"}
	n := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if uint64(n)*12 > uint64(len(raw)) {
		return nil, fmt.Errorf("thread names: %d entries do not fit in %d bytes", n, len(raw))
	}
	names := make(map[uint32]string, n)
	for i := uint32(0); i < n; i++ {
		id := c.u32()
		rva := c.u64()
		if c.err != nil {
			return nil, c.err
		}
		name, err := readString(file, rva)
		if err != nil {
			continue
		}
		names[id] = name
	}
	return NewThreadNames(names), nil
}

func decodeModuleList(file, raw []byte) (*ModuleList, error) {
	c := &cursor{buf: raw, kind: "module list"}
	n := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if uint64(n)*108 > uint64(len(raw)) {
		return nil, fmt.Errorf("module list: %d entries do not fit in %d bytes", n, len(raw))
	}
	l := &ModuleList{Modules: make([]Module, 0, n)}
	for i := uint32(0); i < n; i++ {
		var m Module
		m.BaseOfImage = c.u64()
		m.SizeOfImage = c.u32()
		m.Checksum = c.u32()
		m.TimeDateStamp = c.u32()
		nameRVA := c.u32()
		v := &m.VersionInfo
		for _, f := range []*uint32{
			&v.Signature, &v.StructVersion, &v.FileVersionHi, &v.FileVersionLo,
			&v.ProductVersionHi, &v.ProductVersionLo, &v.FileFlagsMask, &v.FileFlags,
			&v.FileOS, &v.FileType, &v.FileSubtype, &v.FileDateHi, &v.FileDateLo,
		} {
			*f = c.u32()
		}
		cvSize, cvRVA := c.u32(), c.u32()
		miscSize, miscRVA := c.u32(), c.u32()
		c.skip(16) // reserved
		if c.err != nil {
			return nil, c.err
		}
		m.Name, _ = readString(file, uint64(nameRVA))
		if cv, err := location(file, uint64(cvSize), uint64(cvRVA)); err == nil {
			m.CodeView = ParseCodeView(cv)
		}
		m.MiscRecord, _ = location(file, uint64(miscSize), uint64(miscRVA))
		l.Modules = append(l.Modules, m)
	}
	return l, nil
}

func decodeMemoryList(file, raw []byte) (*MemoryList, error) {
	c := &cursor{buf: raw, kind: "memory list"}
	n := c.u32()
	if c.err != nil {
		return nil, c.err
	}
	if uint64(n)*16 > uint64(len(raw)) {
		return nil, fmt.Errorf("memory list: %d entries do not fit in %d bytes", n, len(raw))
	}
	l := &MemoryList{Source: MemoryListStream, Ranges: make([]MemoryRange, 0, n)}
	for i := uint32(0); i < n; i++ {
		start := c.u64()
		size, rva := c.u32(), c.u32()
		if c.err != nil {
			return nil, c.err
		}
		data, _ := location(file, uint64(size), uint64(rva))
		l.Ranges = append(l.Ranges, MemoryRange{Base: start, Size: uint64(size), Data: data})
	}
	return l, nil
}

func decodeMemory64List(file, raw []byte) (*MemoryList, error) {
	c := &cursor{buf: raw, kind: "memory64 list"}
	n := c.u64()
	off := c.u64()
	if c.err != nil {
		return nil, c.err
	}
	if n > uint64(len(raw))/16 {
		return nil, fmt.Errorf("memory64 list: %d entries do not fit in %d bytes", n, len(raw))
	}
	l := &MemoryList{Source: Memory64ListStream, Ranges: make([]MemoryRange, 0, n)}
	for i := uint64(0); i < n; i++ {
		start, size := c.u64(), c.u64()
		if c.err != nil {
			return nil, c.err
		}
		var data []byte
		if off < uint64(len(file)) {
			end := uint64(len(file))
			if size <= end-off {
				end = off + size
			}
			data = file[off:end]
		}
		l.Ranges = append(l.Ranges, MemoryRange{Base: start, Size: size, Data: data})
		off += size
	}
	return l, nil
}

func decodeMemoryInfoList(raw []byte) (*MemoryInfoList, error) {
	c := &cursor{buf: raw, kind: "memory info list"}
	headerSize := c.u32()
	entrySize := c.u32()
	n := c.u64()
	if c.err != nil {
		return nil, c.err
	}
	if entrySize < 48 {
		return nil, fmt.Errorf("memory info list: entry size %d too small", entrySize)
	}
	if headerSize > uint32(len(raw)) || n > uint64(len(raw)-int(headerSize))/uint64(entrySize) {
		return nil, fmt.Errorf("memory info list: %d entries do not fit in %d bytes", n, len(raw))
	}
	l := &MemoryInfoList{Entries: make([]MemoryInfo, 0, n)}
	for i := uint64(0); i < n; i++ {
		c.off = int(uint64(headerSize) + i*uint64(entrySize))
		var mi MemoryInfo
		mi.BaseAddress = c.u64()
		mi.AllocationBase = c.u64()
		mi.AllocationProtection = c.u32()
		c.skip(4)
		mi.RegionSize = c.u64()
		mi.State = c.u32()
		mi.Protection = c.u32()
		mi.Type = c.u32()
		if c.err != nil {
			return nil, c.err
		}
		l.Entries = append(l.Entries, mi)
	}
	return l, nil
}
