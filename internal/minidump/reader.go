package minidump

import (
	"encoding/binary"
	"fmt"
)

const (
	headerSignature = 0x504d444d // "MDMP"
	headerVersion   = 0xa793
	headerSize      = 32
)

// ErrNotAMinidump is returned when the header does not identify a minidump.
type ErrNotAMinidump struct {
	what string
	got  uint32
}

func (err ErrNotAMinidump) Error() string {
	return fmt.Sprintf("not a minidump, invalid %s %#x", err.what, err.got)
}

// cursor reads little-endian fields from a byte slice. The first
// out-of-bounds read sets err and turns later reads into zero values.
type cursor struct {
	buf  []byte
	off  int
	kind string
	err  error
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if n < 0 || c.off < 0 || c.off+n > len(c.buf) {
		c.err = fmt.Errorf("%s truncated: need %d bytes at %#x, have %#x", c.kind, n, c.off, len(c.buf))
		return false
	}
	return true
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.buf[c.off]
	c.off++
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v
}

func (c *cursor) u64() uint64 {
	if !c.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v
}

func (c *cursor) bytes(n int) []byte {
	if !c.need(n) {
		return nil
	}
	v := c.buf[c.off : c.off+n]
	c.off += n
	return v
}

func (c *cursor) skip(n int) {
	if c.need(n) {
		c.off += n
	}
}

// location resolves a MINIDUMP_LOCATION_DESCRIPTOR against the whole file.
func location(file []byte, size, rva uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if rva > uint64(len(file)) || size > uint64(len(file))-rva {
		return nil, fmt.Errorf("location %#x+%#x outside file of %#x bytes", rva, size, len(file))
	}
	return file[rva : rva+size], nil
}

// readString reads a MINIDUMP_STRING (byte length followed by UTF-16LE).
func readString(file []byte, rva uint64) (string, error) {
	c := &cursor{buf: file, off: int(rva), kind: "string"}
	if rva > uint64(len(file)) {
		return "", fmt.Errorf("string rva %#x outside file", rva)
	}
	n := c.u32()
	b := c.bytes(int(n &^ 1))
	if c.err != nil {
		return "", c.err
	}
	return decodeUTF16(b), nil
}

func readHeader(file []byte) (Header, error) {
	c := &cursor{buf: file, kind: "header"}
	if sig := c.u32(); c.err == nil && sig != headerSignature {
		return Header{}, ErrNotAMinidump{"signature", sig}
	}
	var h Header
	h.Version = c.u16()
	if c.err == nil && h.Version != headerVersion {
		return Header{}, ErrNotAMinidump{"version", uint32(h.Version)}
	}
	h.ImplementationID = c.u16()
	h.NumberOfStreams = c.u32()
	h.StreamDirectoryRVA = c.u32()
	h.Checksum = c.u32()
	h.TimeDateStamp = c.u32()
	h.Flags = c.u64()
	if c.err != nil {
		return Header{}, c.err
	}
	return h, nil
}

func readDirectory(file []byte, h Header) ([]DirectoryEntry, error) {
	c := &cursor{buf: file, off: int(h.StreamDirectoryRVA), kind: "stream directory"}
	if uint64(h.NumberOfStreams)*12 > uint64(len(file)) {
		return nil, fmt.Errorf("stream directory: %d entries do not fit in %#x bytes", h.NumberOfStreams, len(file))
	}
	dir := make([]DirectoryEntry, 0, h.NumberOfStreams)
	for i := uint32(0); i < h.NumberOfStreams; i++ {
		var e DirectoryEntry
		e.Type = StreamType(c.u32())
		e.DataSize = c.u32()
		e.RVA = c.u32()
		if c.err != nil {
			return nil, c.err
		}
		dir = append(dir, e)
	}
	return dir, nil
}
