// Package unwind recovers a call stack per thread. It asks an Unwinder for
// a full walk when the CPU is supported and degrades to a single frame built
// from the thread context otherwise.
package unwind

import (
	"context"
	"fmt"

	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/report"
)

// Trust ranks how a frame was recovered.
type Trust int

const (
	TrustNone Trust = iota
	TrustPreWalked
	TrustScan
	TrustCFIScan
	TrustFramePointer
	TrustCFI
	TrustContext
)

func (t Trust) String() string {
	switch t {
	case TrustPreWalked:
		return "pre_walked"
	case TrustScan:
		return "scan"
	case TrustCFIScan:
		return "cfi_scan"
	case TrustFramePointer:
		return "frame_pointer"
	case TrustCFI:
		return "cfi"
	case TrustContext:
		return "context"
	}
	return "none"
}

// Frame is one frame returned by an Unwinder.
type Frame struct {
	Instruction uint64
	Trust       Trust
	// Module is the image containing Instruction, when the unwinder knows it.
	Module *minidump.Module
}

// Request carries everything an Unwinder needs for one thread.
type Request struct {
	ThreadIndex int
	Context     *minidump.Context
	StackBase   uint64
	Stack       []byte
	Modules     *minidump.ModuleList
	System      *minidump.SystemInfo
	// Memory is optional and lets an unwinder inspect code bytes.
	Memory *minidump.MemoryList
}

// Unwinder walks a thread stack. Walk is only called for CPUs Supported
// reports true for.
type Unwinder interface {
	Walk(ctx context.Context, req Request) ([]Frame, error)
}

// Supported reports whether an Unwinder may be asked to walk stacks of cpu.
func Supported(cpu minidump.CPU) bool {
	switch cpu.Arch() {
	case minidump.ArchAmd64, minidump.ArchArm64:
		return true
	}
	return false
}

// Input is one thread and the streams its unwind depends on. System,
// Modules and Memory may be nil.
type Input struct {
	Index   int
	Thread  *minidump.Thread
	System  *minidump.SystemInfo
	Modules *minidump.ModuleList
	Memory  *minidump.MemoryList
}

// Result is the outcome for one thread. Frames is nil when the method is
// Failed and has exactly one element when it is Fallback.
type Result struct {
	Frames []report.StackFrame
	Method report.UnwindMethod
	// Err explains why the walk was degraded. It is informational only.
	Err error
}

// Pipeline runs the per-thread unwind tiers.
type Pipeline struct {
	unwinder Unwinder
}

// NewPipeline returns a pipeline using u for full walks. A nil u makes
// every supported thread fall back to its context frame.
func NewPipeline(u Unwinder) *Pipeline {
	return &Pipeline{unwinder: u}
}

// Unwind recovers the stack of one thread. It never fails; problems are
// reflected in Result.Method.
func (p *Pipeline) Unwind(ctx context.Context, in Input) Result {
	if in.System == nil || in.Modules == nil || in.Memory == nil {
		return Result{Method: report.UnwindFailed, Err: errMissingStreams(in)}
	}
	regs, err := in.Thread.Context(in.System)
	if err != nil {
		return Result{Method: report.UnwindFailed, Err: err}
	}

	cpu := in.System.CPU()
	if !Supported(cpu) {
		return p.fallback(regs, in.Modules, fmt.Errorf("unwind: cpu %s not supported", cpu))
	}
	if p.unwinder == nil {
		return p.fallback(regs, in.Modules, fmt.Errorf("unwind: no unwinder configured"))
	}

	req := Request{
		ThreadIndex: in.Index,
		Context:     regs,
		Modules:     in.Modules,
		System:      in.System,
		Memory:      in.Memory,
	}
	if stack := in.Thread.StackMemory(in.Memory); stack != nil {
		req.StackBase = stack.Base
		req.Stack = stack.Data
	}

	frames, err := p.walk(ctx, req)
	if len(frames) == 0 {
		if err == nil {
			err = fmt.Errorf("unwind: no frames recovered")
		}
		return p.fallback(regs, in.Modules, err)
	}

	out := make([]report.StackFrame, 0, len(frames))
	for _, f := range frames {
		mod := f.Module
		if mod == nil {
			mod = in.Modules.ModuleAt(f.Instruction)
		}
		out = append(out, report.StackFrame{
			InstructionAddress: report.Hex64(f.Instruction),
			TrustLevel:         f.Trust.String(),
			ModuleName:         moduleName(mod),
		})
	}
	return Result{Frames: out, Method: report.UnwindOk, Err: err}
}

// walk calls the unwinder and turns a panic into an error so one bad
// thread cannot abort the others.
func (p *Pipeline) walk(ctx context.Context, req Request) (frames []Frame, err error) {
	defer func() {
		if r := recover(); r != nil {
			frames, err = nil, fmt.Errorf("unwind: unwinder panicked: %v", r)
		}
	}()
	return p.unwinder.Walk(ctx, req)
}

func (p *Pipeline) fallback(regs *minidump.Context, modules *minidump.ModuleList, cause error) Result {
	ip := regs.InstructionPointer()
	frame := report.StackFrame{
		InstructionAddress: report.Hex64(ip),
		TrustLevel:         TrustContext.String(),
		ModuleName:         moduleName(modules.ModuleAt(ip)),
	}
	return Result{Frames: []report.StackFrame{frame}, Method: report.UnwindFallback, Err: cause}
}

func moduleName(m *minidump.Module) *string {
	if m == nil {
		return nil
	}
	name := m.Name
	return &name
}

func errMissingStreams(in Input) error {
	var missing []string
	if in.System == nil {
		missing = append(missing, "system info")
	}
	if in.Modules == nil {
		missing = append(missing, "module list")
	}
	if in.Memory == nil {
		missing = append(missing, "memory list")
	}
	return fmt.Errorf("unwind: missing %v", missing)
}
