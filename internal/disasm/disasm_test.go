package disasm

import (
	"errors"
	"strings"
	"testing"

	"github.com/olksdr/minidump-viewer/internal/minidump"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		arch    minidump.Arch
		code    []byte
		wantOp  string
		wantLen int
		call    bool
	}{
		{"amd64 call", minidump.ArchAmd64, []byte{0xe8, 0, 0, 0, 0, 0x90}, "call", 5, true},
		{"amd64 mov", minidump.ArchAmd64, []byte{0x48, 0x89, 0xe5}, "mov", 3, false},
		{"amd64 indirect call", minidump.ArchAmd64, []byte{0xff, 0xd0}, "call", 2, true},
		{"x86 push", minidump.ArchX86, []byte{0x55}, "push", 1, false},
		{"arm64 bl", minidump.ArchArm64, []byte{0x00, 0x00, 0x00, 0x94}, "bl", 4, true},
		{"arm64 blr", minidump.ArchArm64, []byte{0x00, 0x01, 0x3f, 0xd6}, "blr", 4, true},
		{"arm64 ret", minidump.ArchArm64, []byte{0xc0, 0x03, 0x5f, 0xd6}, "ret", 4, false},
		{"arm bl", minidump.ArchArm, []byte{0xfe, 0xff, 0xff, 0xeb}, "bl", 4, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst, err := Decode(tt.arch, 0x1000, tt.code)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if inst.Op != tt.wantOp || inst.Len() != tt.wantLen || inst.IsCall() != tt.call {
				t.Errorf("inst = %+v", inst)
			}
			if inst.VA != 0x1000 || inst.Text == "" {
				t.Errorf("inst = %+v", inst)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	if _, err := Decode(minidump.ArchUnknown, 0, []byte{0x90}); !errors.Is(err, ErrUnsupportedArch) {
		t.Errorf("unknown arch err = %v", err)
	}
	if _, err := Decode(minidump.ArchArm64, 0, []byte{0x00, 0x00}); err == nil {
		t.Error("short arm64 input decoded")
	}
	if _, err := Decode(minidump.ArchAmd64, 0, []byte{0xe8, 0x00}); err == nil {
		t.Error("truncated call decoded")
	}
}

func TestDecodeStream(t *testing.T) {
	code := []byte{0x55, 0x48, 0x89, 0xe5, 0xc3}
	s, err := DecodeStream(minidump.ArchAmd64, 0x400000, code, 10)
	if err != nil {
		t.Fatal(err)
	}
	ops := make([]string, len(s))
	for i, in := range s {
		ops[i] = in.Op
	}
	if strings.Join(ops, ",") != "push,mov,ret" {
		t.Fatalf("ops = %v", ops)
	}
	if s[1].VA != 0x400001 || s[2].VA != 0x400004 {
		t.Errorf("addresses = %#x %#x", s[1].VA, s[2].VA)
	}
	if !strings.Contains(s.String(), "400004") {
		t.Errorf("listing = %q", s.String())
	}

	s, _ = DecodeStream(minidump.ArchAmd64, 0, code, 2)
	if len(s) != 2 {
		t.Errorf("max not honored: %d", len(s))
	}
}

func TestAt(t *testing.T) {
	mem := &minidump.MemoryList{Ranges: []minidump.MemoryRange{
		{Base: 0x7000, Size: 8, Data: []byte{0x90, 0x90, 0xff, 0xd0, 0xc3, 0, 0, 0}},
	}}
	inst, err := At(mem, minidump.ArchAmd64, 0x7002)
	if err != nil {
		t.Fatal(err)
	}
	if inst.Op != "call" || inst.VA != 0x7002 {
		t.Errorf("inst = %+v", inst)
	}
	if _, err := At(mem, minidump.ArchAmd64, 0x9000); err == nil {
		t.Error("uncaptured address decoded")
	}
}
