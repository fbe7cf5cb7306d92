package cmd

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/olksdr/minidump-viewer/internal/disasm"
	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/triage"
	"github.com/olksdr/minidump-viewer/internal/ui/colorize"
)

func newDisasmCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "disasm <dump>",
		Short: "Disassemble captured code at the crash or a thread's instruction pointer",
		Long: `Decode instructions from the memory captured in a minidump, starting at the
instruction pointer of the exception context or of the thread given with --thread.`,
		Example: `
# Instructions at the crash site
mdview disasm crash.dmp

# First 8 instructions at thread 1234's instruction pointer
mdview disasm --thread 1234 -n 8 crash.dmp
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("count")
			threadID, _ := cmd.Flags().GetUint32("thread")

			absPath, err := dumpPath(args[0])
			if err != nil {
				return err
			}
			d, err := minidump.Open(absPath)
			if err != nil {
				return fmt.Errorf("%w: %w", triage.ErrDecode, err)
			}
			defer d.Close()

			var regs *minidump.Context
			if cmd.Flags().Changed("thread") {
				regs, err = threadContext(d, threadID)
			} else {
				regs, err = exceptionContext(d)
			}
			if err != nil {
				return err
			}

			ip := regs.InstructionPointer()
			r := d.Memory.Find(ip)
			if r == nil {
				return fmt.Errorf("no captured memory at %#x", ip)
			}
			code, _ := r.Slice(ip, int(r.End()-ip))
			insts, err := disasm.DecodeStream(regs.Arch(), ip, code, n)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			return writeInstructions(out, insts, isTerminal(out))
		},
	}
	c.Flags().IntP("count", "n", 16, "Number of instructions to decode")
	c.Flags().Uint32P("thread", "t", 0, "Thread id; the exception context when unset")
	return c
}

func exceptionContext(d *minidump.Dump) (*minidump.Context, error) {
	if d.Exception == nil {
		return nil, errors.New("dump has no exception stream, pick a thread with --thread")
	}
	regs, err := d.Exception.Context(d.System)
	if err != nil {
		return nil, fmt.Errorf("exception context: %w", err)
	}
	return regs, nil
}

func threadContext(d *minidump.Dump, id uint32) (*minidump.Context, error) {
	if d.Threads != nil {
		for i := range d.Threads.Threads {
			th := &d.Threads.Threads[i]
			if th.ID != id {
				continue
			}
			regs, err := th.Context(d.System)
			if err != nil {
				return nil, fmt.Errorf("thread %d context: %w", id, err)
			}
			return regs, nil
		}
	}
	return nil, fmt.Errorf("thread %d not found", id)
}

func writeInstructions(w io.Writer, insts disasm.Stream, color bool) error {
	for _, in := range insts {
		line := in.String()
		if color {
			line = colorize.InstructionLine(line)
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
