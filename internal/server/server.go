// Package server exposes triage and the debug file probe over HTTP.
package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/olksdr/minidump-viewer/internal/config"
	"github.com/olksdr/minidump-viewer/internal/difprobe"
	"github.com/olksdr/minidump-viewer/internal/logging"
	mdlog "github.com/olksdr/minidump-viewer/internal/mdview/log"
	"github.com/olksdr/minidump-viewer/internal/report"
	"github.com/olksdr/minidump-viewer/internal/triage"
)

type statusReply struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type Server struct {
	engine  *gin.Engine
	conf    config.Config
	triager *triage.Triager
	logger  *log.Logger
	encode  func(io.Writer, *report.Overview, bool) error
}

// New wires the routes. A nil logger discards.
func New(conf config.Config, t *triage.Triager, logger *log.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	s := &Server{
		engine:  gin.New(),
		conf:    conf,
		triager: t,
		logger:  logger,
		encode:  triage.Encode,
	}
	s.engine.Use(gin.Recovery(), s.requestLog())
	s.applyRoutes()
	return s
}

func (s *Server) applyRoutes() {
	s.engine.GET("/healthz", s.health())
	api := s.engine.Group("/api/v1")
	api.POST("/triage", s.postTriage())
	api.POST("/probe", s.postProbe())
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then drains in-flight requests for the
// configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.conf.Addr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		defer mdlog.RecoverPanic("http server", func() {
			errc <- errors.New("http server panicked")
		})
		s.logger.Info("Run on", "address", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.conf.ShutdownTimeout())
	defer cancel()
	s.logger.Info("Shutting down", "timeout", s.conf.ShutdownTimeout())
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

func (s *Server) setError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, statusReply{Status: "error", Error: err.Error()})
}

func (s *Server) health() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, statusReply{Status: "ok"})
	}
}

func (s *Server) postTriage() gin.HandlerFunc {
	return func(c *gin.Context) {
		data, ok := s.readUpload(c)
		if !ok {
			return
		}
		ov, err := s.triager.Bytes(c.Request.Context(), data)
		if err != nil {
			s.logger.Warn("Triage failed", "err", err, "bytes", len(data))
			s.setError(c, http.StatusBadRequest, err)
			return
		}
		var buf bytes.Buffer
		if err := s.encode(&buf, ov, false); err != nil {
			s.logger.Error("Could not serialize overview", "err", err)
			s.setError(c, http.StatusInternalServerError, err)
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", buf.Bytes())
	}
}

func (s *Server) postProbe() gin.HandlerFunc {
	return func(c *gin.Context) {
		data, ok := s.readUpload(c)
		if !ok {
			return
		}
		var opts []difprobe.Option
		if n := s.conf.Probe.MaxSymbols; n > 0 {
			opts = append(opts, difprobe.WithSymbols(n))
		}
		meta, err := difprobe.Probe(data, opts...)
		if err != nil {
			s.setError(c, http.StatusUnprocessableEntity, err)
			return
		}
		c.JSON(http.StatusOK, meta)
	}
}

var errEmptyUpload = errors.New("empty upload")

// readUpload returns the request payload: the multipart field "file" when
// the request is a form, the raw body otherwise. It writes the error
// response itself.
func (s *Server) readUpload(c *gin.Context) ([]byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.conf.Server.MaxUploadBytes)

	var (
		data []byte
		err  error
	)
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		data, err = readFormFile(c, "file")
	} else {
		data, err = io.ReadAll(c.Request.Body)
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		s.setError(c, http.StatusRequestEntityTooLarge,
			fmt.Errorf("upload exceeds %d bytes", tooLarge.Limit))
		return nil, false
	case err != nil:
		s.setError(c, http.StatusBadRequest, err)
		return nil, false
	case len(data) == 0:
		s.setError(c, http.StatusBadRequest, errEmptyUpload)
		return nil, false
	}
	return data, true
}

func readFormFile(c *gin.Context, field string) ([]byte, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return nil, fmt.Errorf("missing form field %q: %w", field, err)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open form file: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}
