package bitflag

import (
	"reflect"
	"sync"
	"testing"
)

func TestMemoryProtection(t *testing.T) {
	tests := []struct {
		name string
		in   uint32
		want string
	}{
		{"none", 0, "NONE"},
		{"readwrite", 0x04, "PAGE_READWRITE"},
		{"readwrite guard", 0x04 | 0x100, "PAGE_READWRITE | PAGE_GUARD"},
		{"exec read nocache writecombine", 0x20 | 0x200 | 0x400, "PAGE_EXECUTE_READ | PAGE_NOCACHE | PAGE_WRITECOMBINE"},
		{"unknown low byte", 0x03, "UNKNOWN(0x3)"},
		{"unknown low byte keeps modifier", 0x103, "UNKNOWN(0x3) | PAGE_GUARD"},
		{"modifier only", 0x100, "UNKNOWN(0x0) | PAGE_GUARD"},
		{"noaccess", 0x01, "PAGE_NOACCESS"},
		{"exec writecopy", 0x80, "PAGE_EXECUTE_WRITECOPY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MemoryProtection(tt.in)
			if got.String() != tt.want {
				t.Errorf("MemoryProtection(%#x) = %q, want %q", tt.in, got.String(), tt.want)
			}
			if got.Value != tt.in {
				t.Errorf("Value = %#x, want %#x", got.Value, tt.in)
			}
		})
	}
}

func TestMemoryState(t *testing.T) {
	tests := []struct {
		in   uint32
		want string
	}{
		{0x1000, "MEM_COMMIT"},
		{0x2000, "MEM_RESERVE"},
		{0x10000, "MEM_FREE"},
		{0x3000, "MEM_COMMIT | MEM_RESERVE"},
		{0, "UNKNOWN(0x0)"},
		{0x4, "UNKNOWN(0x4)"},
	}
	for _, tt := range tests {
		if got := MemoryState(tt.in).String(); got != tt.want {
			t.Errorf("MemoryState(%#x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMemoryType(t *testing.T) {
	tests := []struct {
		in   uint32
		want string
	}{
		{0x20000, "MEM_PRIVATE"},
		{0x40000, "MEM_MAPPED"},
		{0x1000000, "MEM_IMAGE"},
		{0x1020000, "MEM_PRIVATE | MEM_IMAGE"},
		{0x10, "UNKNOWN(0x10)"},
	}
	for _, tt := range tests {
		if got := MemoryType(tt.in).String(); got != tt.want {
			t.Errorf("MemoryType(%#x) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFileFlags(t *testing.T) {
	tests := []struct {
		name string
		in   uint32
		want []string
	}{
		{"zero", 0, nil},
		{"debug", 0x01, []string{"DEBUG"}},
		{"ordered", 0x3f, []string{"DEBUG", "INFOINFERRED", "PATCHED", "PRERELEASE", "PRIVATEBUILD", "SPECIALBUILD"}},
		{"prerelease private", 0x0a, []string{"PRERELEASE", "PRIVATEBUILD"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FileFlags(tt.in).Labels; !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FileFlags(%#x) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestFileTypeAndOS(t *testing.T) {
	if got := FileType(2).String(); got != "DLL" {
		t.Errorf("FileType(2) = %q", got)
	}
	if got := FileType(6).String(); got != "UNKNOWN(0x6)" {
		t.Errorf("FileType(6) = %q", got)
	}
	if got := FileOS(0x00040004).String(); got != "WIN32" {
		t.Errorf("FileOS(WIN32) = %q", got)
	}
	if got := FileOS(0x00040001).String(); got != "NT" {
		t.Errorf("FileOS(NT) = %q", got)
	}
}

func TestConcurrentFirstUse(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := MemoryProtection(0x104).String(); got != "PAGE_READWRITE | PAGE_GUARD" {
				t.Errorf("MemoryProtection = %q", got)
			}
		}()
	}
	wg.Wait()
}

func TestTablesBuiltOnce(t *testing.T) {
	first := lookup()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if got := lookup(); got != first {
				t.Errorf("lookup() = %p, want %p", got, first)
			}
		}()
	}
	wg.Wait()
	if len(first.state) != 3 || first.fileOS[0x00040001] != "NT" {
		t.Errorf("tables = %+v", first)
	}
}
