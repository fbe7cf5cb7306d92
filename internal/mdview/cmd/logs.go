package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nxadm/tail"
	"github.com/spf13/cobra"

	"github.com/olksdr/minidump-viewer/internal/config"
)

func newLogsCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "logs",
		Short: "Show the service log file",
		Long: `Print the last lines of the log file written by "mdview serve".
The file comes from the config file or MDVIEW_LOG_FILE.`,
		Example: `
# Follow the service log
mdview logs --config mdview.json -f
  `,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			n, _ := cmd.Flags().GetInt("lines")
			follow, _ := cmd.Flags().GetBool("follow")

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cfg.Log.File == "" {
				return errors.New("no log file configured, set log.file or MDVIEW_LOG_FILE")
			}
			out := cmd.OutOrStdout()
			if err := lastLines(out, cfg.Log.File, n); err != nil {
				return err
			}
			if !follow {
				return nil
			}
			return followLines(cmd, out, cfg.Log.File)
		},
	}
	c.Flags().String("config", "", "Path to a JSON config file")
	c.Flags().IntP("lines", "n", 20, "Number of lines to show")
	c.Flags().BoolP("follow", "f", false, "Keep printing lines as they are written")
	return c
}

// lastLines prints the final n lines of path.
func lastLines(w io.Writer, path string, n int) error {
	t, err := tail.TailFile(path, tail.Config{MustExist: true, Logger: tail.DiscardingLogger})
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer t.Cleanup()

	ring := make([]string, 0, n)
	for line := range t.Lines {
		if line.Err != nil {
			return line.Err
		}
		if n <= 0 {
			continue
		}
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, line.Text)
	}
	for _, l := range ring {
		fmt.Fprintln(w, l)
	}
	return t.Wait()
}

func followLines(cmd *cobra.Command, w io.Writer, path string) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:   true,
		ReOpen:   true,
		Location: &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:   tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("follow log: %w", err)
	}
	defer t.Cleanup()

	ctx := cmd.Context()
	for {
		select {
		case <-ctx.Done():
			return t.Stop()
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				fmt.Fprintln(os.Stderr, line.Err)
				continue
			}
			fmt.Fprintln(w, line.Text)
		}
	}
}
