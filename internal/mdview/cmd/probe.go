package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/olksdr/minidump-viewer/internal/difprobe"
	"github.com/olksdr/minidump-viewer/internal/ui/colorize"
)

func newProbeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "probe <file>",
		Short: "Identify a debug information file",
		Long: `Print the kind, architecture, debug id and code id of an ELF, PE,
Mach-O, PDB or Breakpad symbol file, the keys a symbol server indexes it by.`,
		Example: `
# Identify a shared object and list its first symbols
mdview probe --symbols 20 libapp.so
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, _ := cmd.Flags().GetInt("symbols")
			jsonOutput, _ := cmd.Flags().GetBool("json")

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read file: %w", err)
			}
			var opts []difprobe.Option
			if n > 0 {
				opts = append(opts, difprobe.WithSymbols(n))
			}
			meta, err := difprobe.Probe(data, opts...)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				b, err := json.MarshalIndent(meta, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to marshal JSON: %w", err)
				}
				s := string(b) + "\n"
				if isTerminal(out) {
					s = colorize.JSON(s)
				}
				_, err = io.WriteString(out, s)
				return err
			}
			return writeMeta(out, meta)
		},
	}
	c.Flags().IntP("symbols", "s", 0, "List up to N symbols, lowest address first")
	c.Flags().BoolP("json", "j", false, "Print JSON")
	return c
}

func writeMeta(w io.Writer, m *difprobe.Meta) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "kind\t%s\n", m.Kind)
	fmt.Fprintf(tw, "format\t%s\n", m.Format)
	fmt.Fprintf(tw, "arch\t%s\n", orDash(m.Arch))
	fmt.Fprintf(tw, "debug_id\t%s\n", orDash(m.DebugID))
	fmt.Fprintf(tw, "code_id\t%s\n", orDash(m.CodeID))
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(m.Symbols) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	for _, s := range m.Symbols {
		fmt.Fprintf(w, "%s  %s\n", s.Address, s.Name)
	}
	return nil
}
