package minidump

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// CodeView signatures found at the start of a module's CodeView record.
const (
	cvSignaturePDB70 = 0x53445352 // "RSDS"
	cvSignaturePDB20 = 0x3031424e // "NB10"
	cvSignatureELF   = 0x4270454c // "LEpB", breakpad ELF build id
)

// GUID is a Windows GUID in its in-memory (mixed endian) layout.
type GUID struct {
	Data1 uint32
	Data2 uint16
	Data3 uint16
	Data4 [8]byte
}

// GUIDFromBytes decodes 16 bytes in Windows layout.
func GUIDFromBytes(b []byte) GUID {
	var g GUID
	g.Data1 = binary.LittleEndian.Uint32(b[0:4])
	g.Data2 = binary.LittleEndian.Uint16(b[4:6])
	g.Data3 = binary.LittleEndian.Uint16(b[6:8])
	copy(g.Data4[:], b[8:16])
	return g
}

func (g GUID) String() string {
	return fmt.Sprintf("%08x-%04x-%04x-%02x%02x-%02x%02x%02x%02x%02x%02x",
		g.Data1, g.Data2, g.Data3,
		g.Data4[0], g.Data4[1], g.Data4[2], g.Data4[3],
		g.Data4[4], g.Data4[5], g.Data4[6], g.Data4[7])
}

// CodeView is the decoded debug record of a module. The concrete type is
// one of *PDB70, *PDB20, *ELFBuildID or *UnknownCodeView.
type CodeView interface {
	Format() string
	RenderDebug() string
}

// PDB70 is a CV_INFO_PDB70 ("RSDS") record.
type PDB70 struct {
	Signature   GUID
	Age         uint32
	PDBFileName string
}

func (*PDB70) Format() string { return "PDB70" }

// PDB20 is a CV_INFO_PDB20 ("NB10") record.
type PDB20 struct {
	Offset      uint32
	Signature   uint32
	Age         uint32
	PDBFileName string
}

func (*PDB20) Format() string { return "PDB20" }

// Identifier joins signature and age the way symbol servers key PDB 2.0 files.
func (p *PDB20) Identifier() string {
	return fmt.Sprintf("%08x%08x", p.Signature, p.Age)
}

// ELFBuildID is breakpad's record carrying a GNU build id.
type ELFBuildID struct {
	BuildID []byte
}

func (*ELFBuildID) Format() string { return "ELF" }

func (e *ELFBuildID) Identifier() string {
	return hex.EncodeToString(e.BuildID)
}

// UnknownCodeView keeps a record with an unrecognized signature.
type UnknownCodeView struct {
	Signature uint32
	Data      []byte
}

func (*UnknownCodeView) Format() string { return "Unknown" }

// ParseCodeView decodes a CodeView record. It returns nil for records too
// short to carry a signature.
func ParseCodeView(b []byte) CodeView {
	if len(b) < 4 {
		return nil
	}
	sig := binary.LittleEndian.Uint32(b)
	switch sig {
	case cvSignaturePDB70:
		if len(b) < 24 {
			break
		}
		return &PDB70{
			Signature:   GUIDFromBytes(b[4:20]),
			Age:         binary.LittleEndian.Uint32(b[20:24]),
			PDBFileName: trimNUL(b[24:]),
		}
	case cvSignaturePDB20:
		if len(b) < 16 {
			break
		}
		return &PDB20{
			Offset:      binary.LittleEndian.Uint32(b[4:8]),
			Signature:   binary.LittleEndian.Uint32(b[8:12]),
			Age:         binary.LittleEndian.Uint32(b[12:16]),
			PDBFileName: trimNUL(b[16:]),
		}
	case cvSignatureELF:
		return &ELFBuildID{BuildID: b[4:]}
	}
	return &UnknownCodeView{Signature: sig, Data: b}
}
