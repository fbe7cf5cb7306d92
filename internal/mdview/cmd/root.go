package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"
	"strings"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/olksdr/minidump-viewer/internal/logging"
	mdlog "github.com/olksdr/minidump-viewer/internal/mdview/log"
	"github.com/olksdr/minidump-viewer/internal/mdview/styles"
	"github.com/olksdr/minidump-viewer/internal/report"
	"github.com/olksdr/minidump-viewer/internal/triage"
	"github.com/olksdr/minidump-viewer/internal/ui/colorize"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mdview [dump]",
		Short: "Terminal-based minidump triage",
		Long: `mdview turns a minidump into a crash report: system and exception
details, per-thread stacks, loaded modules and captured memory.
It opens an interactive viewer on a terminal and prints JSON otherwise.`,
		Example: `
# Explore a crash interactively
mdview crash.dmp

# Print the report as JSON
mdview --json crash.dmp

# Include raw record dumps in the report
mdview --json --debug-dumps crash.dmp
  `,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			mdlog.Setup(os.Getenv("MDVIEW_LOG_FILE"), debug)
			if _, err := ResolveCwd(cmd); err != nil {
				return err
			}
			return nil
		},
		RunE: runRoot,
	}

	root.PersistentFlags().StringP("cwd", "c", "", "Current working directory")
	root.PersistentFlags().BoolP("debug", "d", false, "Debug")

	root.Flags().BoolP("json", "j", false, "Print the report as JSON")
	root.Flags().BoolP("markdown", "m", false, "Print the report as Markdown")
	root.Flags().Bool("debug-dumps", false, "Include raw record dumps in the report")
	root.Flags().String("cpuprofile", "", "Write CPU profile to file")
	root.Flags().String("memprofile", "", "Write memory profile to file")

	root.AddCommand(newRunCmd(), newProbeCmd(), newServeCmd(), newDisasmCmd(), newLogsCmd(), newSchemaCmd())
	return root
}

func runRoot(cmd *cobra.Command, args []string) error {
	if cpuprofile, _ := cmd.Flags().GetString("cpuprofile"); cpuprofile != "" {
		f, err := os.Create(cpuprofile)
		if err != nil {
			return fmt.Errorf("could not create CPU profile: %w", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			return fmt.Errorf("could not start CPU profile: %w", err)
		}
		defer pprof.StopCPUProfile()
	}
	if memprofile, _ := cmd.Flags().GetString("memprofile"); memprofile != "" {
		defer func() {
			f, err := os.Create(memprofile)
			if err != nil {
				fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
				return
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
			}
		}()
	}

	absPath, err := dumpPath(args[0])
	if err != nil {
		return err
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	markdownOutput, _ := cmd.Flags().GetBool("markdown")
	out := cmd.OutOrStdout()
	tty := isTerminal(out)

	logger := logging.NewLogger()
	defer logger.Close()
	t := newTriager(cmd, logger)

	if !jsonOutput && !markdownOutput && tty {
		program := tea.NewProgram(
			NewModel(absPath, t),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	}

	ov, err := t.File(cmd.Context(), absPath)
	if err != nil {
		return err
	}
	if markdownOutput {
		return writeMarkdown(out, ov, absPath, tty)
	}
	return writeJSON(out, ov, tty)
}

// dumpPath resolves p and checks that it exists.
func dumpPath(p string) (string, error) {
	absPath, err := pathpkg.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if _, err := os.Stat(absPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("file not found: %s", p)
		}
		return "", fmt.Errorf("cannot access file: %w", err)
	}
	return absPath, nil
}

func newTriager(cmd *cobra.Command, logger *logging.LoggerCloser) *triage.Triager {
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logger.SetLevel(log.DebugLevel)
	}
	debugDumps, _ := cmd.Flags().GetBool("debug-dumps")
	return triage.New(
		triage.WithLogger(logger.Logger),
		triage.WithDebug(debugDumps),
	)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(f.Fd())
}

// writeJSON prints the indented report, highlighted on a terminal.
func writeJSON(w io.Writer, ov *report.Overview, color bool) error {
	var buf strings.Builder
	if err := triage.Encode(&buf, ov, true); err != nil {
		return err
	}
	if color {
		_, err := io.WriteString(w, colorize.JSON(buf.String()))
		return err
	}
	_, err := io.WriteString(w, buf.String())
	return err
}

// writeMarkdown prints the report, rendered through glamour on a terminal.
func writeMarkdown(w io.Writer, ov *report.Overview, name string, render bool) error {
	md := Markdown(ov, name)
	if render {
		width := 100
		if f, ok := w.(*os.File); ok {
			if tw, _, err := term.GetSize(f.Fd()); err == nil && tw > 0 {
				width = tw
			}
		}
		if r := styles.MarkdownRenderer(width - 2); r != nil {
			if rendered, err := r.Render(md); err == nil {
				md = rendered
			}
		}
	}
	_, err := io.WriteString(w, md)
	return err
}

// Execute runs the CLI. Piped output bypasses fang so help and errors stay
// plain text.
func Execute() {
	root := NewRootCmd()
	ctx := context.Background()

	var err error
	if term.IsTerminal(os.Stdout.Fd()) {
		err = fang.Execute(ctx, root, fang.WithNotifySignal(os.Interrupt))
	} else {
		err = root.ExecuteContext(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	}
	if err != nil {
		if errors.Is(err, triage.ErrDecode) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func ResolveCwd(cmd *cobra.Command) (string, error) {
	cwd, _ := cmd.Flags().GetString("cwd")
	if cwd != "" {
		if err := os.Chdir(cwd); err != nil {
			return "", fmt.Errorf("failed to change directory: %w", err)
		}
		return cwd, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current working directory: %w", err)
	}
	return cwd, nil
}
