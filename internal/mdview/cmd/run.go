package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/olksdr/minidump-viewer/internal/logging"
)

func newRunCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "run <dump>",
		Short: "Triage a minidump without the interactive viewer",
		Long: `Triage a minidump non-interactively and exit.
The report is written as indented JSON to stdout or to the file given with -o.`,
		Example: `
# Write the report next to the dump
mdview run crash.dmp -o crash.json

# Markdown report without progress messages
mdview run -q --markdown crash.dmp
  `,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quiet, _ := cmd.Flags().GetBool("quiet")
			output, _ := cmd.Flags().GetString("output")
			markdownOutput, _ := cmd.Flags().GetBool("markdown")

			absPath, err := dumpPath(args[0])
			if err != nil {
				return err
			}
			if !quiet {
				slog.Info("Running triage", "file", absPath)
			}

			logger := logging.NewLogger()
			defer logger.Close()
			ov, err := newTriager(cmd, logger).File(cmd.Context(), absPath)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.OutOrStdout()
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer f.Close()
				w = f
			}
			if markdownOutput {
				err = writeMarkdown(w, ov, absPath, false)
			} else {
				err = writeJSON(w, ov, false)
			}
			if err != nil {
				return err
			}
			if !quiet && output != "" {
				slog.Info("Report written", "path", output)
			}
			return nil
		},
	}
	c.Flags().BoolP("quiet", "q", false, "Hide progress messages")
	c.Flags().StringP("output", "o", "", "Write the report to a file instead of stdout")
	c.Flags().BoolP("markdown", "m", false, "Write Markdown instead of JSON")
	c.Flags().Bool("debug-dumps", false, "Include raw record dumps in the report")
	return c
}
