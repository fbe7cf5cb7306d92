package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/olksdr/minidump-viewer/internal/config"
	"github.com/olksdr/minidump-viewer/internal/logging"
	mdlog "github.com/olksdr/minidump-viewer/internal/mdview/log"
	"github.com/olksdr/minidump-viewer/internal/server"
	"github.com/olksdr/minidump-viewer/internal/stackwalk"
	"github.com/olksdr/minidump-viewer/internal/triage"
)

func newServeCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "serve",
		Short: "Serve triage over HTTP",
		Long: `Start an HTTP service that triages uploaded minidumps and probes
debug information files. Settings come from the config file and MDVIEW_*
environment variables; --addr overrides both.`,
		Example: `
# Listen on all interfaces
mdview serve --addr :8080

# Upload a dump
curl -F file=@crash.dmp http://127.0.0.1:8080/api/v1/triage
  `,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				addr, _ := cmd.Flags().GetString("addr")
				if err := cfg.SetAddr(addr); err != nil {
					return err
				}
			}
			if debug, _ := cmd.Flags().GetBool("debug"); debug {
				cfg.Log.Debug = true
			}
			mdlog.Setup(cfg.Log.File, cfg.Log.Debug)
			if !cfg.Log.Debug {
				gin.SetMode(gin.ReleaseMode)
			}

			logger, err := serviceLogger(cfg.Log.File)
			if err != nil {
				return err
			}
			defer logger.Close()
			if cfg.Log.Debug {
				logger.SetLevel(log.DebugLevel)
			}
			t := triage.New(
				triage.WithLogger(logger.Logger),
				triage.WithDebug(cfg.Triage.DebugDumps),
				triage.WithUnwinder(stackwalk.New(
					stackwalk.WithMaxFrames(cfg.Triage.MaxFrames),
					stackwalk.WithScanWords(cfg.Triage.ScanWords),
					stackwalk.WithLogger(logger.Logger),
				)),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			slog.Info("Starting server", "addr", cfg.Addr())
			return serve(ctx, server.New(cfg, t, logger.Logger))
		},
	}
	c.Flags().String("config", "", "Path to a JSON config file")
	c.Flags().String("addr", "", "Listen address, host:port")
	return c
}

// serviceLogger appends to file when set so "mdview logs" can follow it.
func serviceLogger(file string) (*logging.LoggerCloser, error) {
	if file == "" {
		return logging.NewLogger(), nil
	}
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return logging.NewLoggerWithWriter(f), nil
}

func serve(ctx context.Context, s *server.Server) error {
	if err := s.Run(ctx); err != nil {
		slog.Error("Server stopped", "error", err)
		return err
	}
	slog.Info("Server stopped")
	return nil
}
