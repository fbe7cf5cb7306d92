// Package stackwalk is the default unwinder. It follows the frame-pointer
// chain and falls back to scanning the stack for return addresses, checking
// candidates against the module list and, when code bytes were captured,
// against the instruction that precedes them.
package stackwalk

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/olksdr/minidump-viewer/internal/disasm"
	"github.com/olksdr/minidump-viewer/internal/logging"
	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/unwind"
)

const (
	DefaultMaxFrames = 1024
	DefaultScanWords = 1024
)

// Walker implements unwind.Unwinder for amd64 and arm64.
type Walker struct {
	maxFrames int
	scanWords int
	logger    *log.Logger
}

type Option func(*Walker)

// WithMaxFrames caps the number of frames returned per thread.
func WithMaxFrames(n int) Option {
	return func(w *Walker) { w.maxFrames = n }
}

// WithScanWords bounds how many stack words a single scan step inspects.
func WithScanWords(n int) Option {
	return func(w *Walker) { w.scanWords = n }
}

func WithLogger(l *log.Logger) Option {
	return func(w *Walker) { w.logger = l }
}

func New(opts ...Option) *Walker {
	w := &Walker{
		maxFrames: DefaultMaxFrames,
		scanWords: DefaultScanWords,
		logger:    logging.Discard(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

var _ unwind.Unwinder = (*Walker)(nil)

// Walk recovers the frames of one thread. The first frame always comes
// from the register context. A cancelled ctx stops the walk and returns
// the frames found so far.
func (w *Walker) Walk(ctx context.Context, req unwind.Request) ([]unwind.Frame, error) {
	if req.Context == nil {
		return nil, fmt.Errorf("stackwalk: no register context")
	}
	arch := req.Context.Arch()
	if arch != minidump.ArchAmd64 && arch != minidump.ArchArm64 {
		return nil, fmt.Errorf("stackwalk: %s not supported", arch)
	}

	s := &state{req: req, arch: arch, ptr: uint64(arch.PointerSize())}
	ip := req.Context.InstructionPointer()
	frames := []unwind.Frame{{
		Instruction: ip,
		Trust:       unwind.TrustContext,
		Module:      req.Modules.ModuleAt(ip),
	}}
	sp := req.Context.StackPointer()
	fp := req.Context.FramePointer()

	for len(frames) < w.maxFrames {
		if err := ctx.Err(); err != nil {
			return frames, err
		}

		if ra, callerFP, ok := s.frameFromPointer(sp, fp); ok {
			frames = append(frames, s.caller(ra, unwind.TrustFramePointer))
			sp, fp = fp+2*s.ptr, callerFP
			continue
		}

		ra, at, ok := s.scan(sp, w.scanWords)
		if !ok {
			break
		}
		frames = append(frames, s.caller(ra, unwind.TrustScan))
		sp = at + s.ptr
		if fp < sp {
			fp = 0
		}
	}
	w.logger.Debug("stack walked", "thread", req.ThreadIndex, "arch", arch, "frames", len(frames))
	return frames, nil
}

type state struct {
	req  unwind.Request
	arch minidump.Arch
	ptr  uint64
}

func (s *state) caller(ra uint64, trust unwind.Trust) unwind.Frame {
	return unwind.Frame{
		Instruction: ra - 1,
		Trust:       trust,
		Module:      s.req.Modules.ModuleAt(ra - 1),
	}
}

// frameFromPointer reads the saved frame pointer and return address at fp.
// Both amd64 and arm64 frame records are {previous fp, return address}.
func (s *state) frameFromPointer(sp, fp uint64) (ra, callerFP uint64, ok bool) {
	if fp == 0 || fp < sp || fp%s.ptr != 0 {
		return 0, 0, false
	}
	callerFP, ok = s.word(fp)
	if !ok {
		return 0, 0, false
	}
	ra, ok = s.word(fp + s.ptr)
	if !ok || ra == 0 {
		return 0, 0, false
	}
	// The chain must move towards the stack base.
	if callerFP != 0 && callerFP <= fp {
		return 0, 0, false
	}
	if s.req.Modules.ModuleAt(ra) == nil {
		return 0, 0, false
	}
	return ra, callerFP, true
}

// scan looks for the first plausible return address at or above sp.
func (s *state) scan(sp uint64, words int) (ra, at uint64, ok bool) {
	for i := 0; i < words; i++ {
		addr := sp + uint64(i)*s.ptr
		v, ok := s.word(addr)
		if !ok {
			return 0, 0, false
		}
		if s.req.Modules.ModuleAt(v) == nil {
			continue
		}
		if !s.callSite(v) {
			continue
		}
		return v, addr, true
	}
	return 0, 0, false
}

// callSite checks that a call instruction ends exactly at ra. Without
// captured code bytes the candidate is accepted on module containment alone.
func (s *state) callSite(ra uint64) bool {
	mem := s.req.Memory
	switch s.arch {
	case minidump.ArchArm64:
		if ra < 4 || ra%4 != 0 {
			return false
		}
		code, ok := mem.Read(ra-4, 4)
		if !ok {
			return true
		}
		inst, err := disasm.Decode(s.arch, ra-4, code)
		return err == nil && inst.IsCall()

	case minidump.ArchAmd64:
		captured := false
		for n := 2; n <= 7; n++ {
			if ra < uint64(n) {
				break
			}
			code, ok := mem.Read(ra-uint64(n), n)
			if !ok {
				continue
			}
			captured = true
			inst, err := disasm.Decode(s.arch, ra-uint64(n), code)
			if err == nil && inst.Len() == n && inst.IsCall() {
				return true
			}
		}
		return !captured
	}
	return false
}

// word reads one pointer-sized little-endian value, preferring the thread's
// stack bytes over the memory list.
func (s *state) word(addr uint64) (uint64, bool) {
	base, stack := s.req.StackBase, s.req.Stack
	if addr >= base && addr-base <= uint64(len(stack)) && uint64(len(stack))-(addr-base) >= s.ptr {
		return binary.LittleEndian.Uint64(stack[addr-base:]), true
	}
	b, ok := s.req.Memory.Read(addr, int(s.ptr))
	if !ok {
		return 0, false
	}
	return binary.LittleEndian.Uint64(b), true
}
