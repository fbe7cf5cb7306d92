package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/olksdr/minidump-viewer/internal/config"
	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/minidump/minidumptest"
	"github.com/olksdr/minidump-viewer/internal/report"
	"github.com/olksdr/minidump-viewer/internal/triage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, mutate func(*config.Config)) *Server {
	t.Helper()
	conf := config.Default()
	if mutate != nil {
		mutate(&conf)
	}
	return New(conf, triage.New(), nil)
}

func dumpBytes() []byte {
	return minidumptest.New().
		SystemInfo(minidump.CPUAMD64, minidump.OSLinux).
		Module("/usr/bin/app", 0x400000, 0x1000, nil, nil).
		Bytes()
}

func do(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeReply(t *testing.T, w *httptest.ResponseRecorder) statusReply {
	t.Helper()
	var r statusReply
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode reply %q: %v", w.Body.String(), err)
	}
	return r
}

func TestHealth(t *testing.T) {
	w := do(newServer(t, nil), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != `{"status":"ok"}` {
		t.Errorf("body = %s", got)
	}
}

func TestTriageRawBody(t *testing.T) {
	s := newServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage", bytes.NewReader(dumpBytes()))
	req.Header.Set("Content-Type", "application/octet-stream")
	w := do(s, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var ov report.Overview
	if err := json.Unmarshal(w.Body.Bytes(), &ov); err != nil {
		t.Fatalf("decode overview: %v", err)
	}
	if ov.ModulesCount == nil || *ov.ModulesCount != 1 {
		t.Errorf("modules_count = %v", ov.ModulesCount)
	}
	if ov.SystemInfo == nil || ov.SystemInfo.OS != "Linux" {
		t.Errorf("system_info = %+v", ov.SystemInfo)
	}
}

func multipartBody(t *testing.T, field string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "crash.dmp")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestTriageMultipart(t *testing.T) {
	s := newServer(t, nil)

	body, ct := multipartBody(t, "file", dumpBytes())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/triage", body)
	req.Header.Set("Content-Type", ct)
	if w := do(s, req); w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}

	body, ct = multipartBody(t, "upload", dumpBytes())
	req = httptest.NewRequest(http.MethodPost, "/api/v1/triage", body)
	req.Header.Set("Content-Type", ct)
	w := do(s, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("wrong field: status = %d", w.Code)
	}
	if r := decodeReply(t, w); r.Status != "error" || !strings.Contains(r.Error, `"file"`) {
		t.Errorf("reply = %+v", r)
	}
}

func TestTriageErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   []byte
		limit  int64
		status int
	}{
		{"garbage", []byte("definitely not a minidump"), 0, http.StatusBadRequest},
		{"empty", nil, 0, http.StatusBadRequest},
		{"too large", dumpBytes(), 16, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newServer(t, func(c *config.Config) {
				if tt.limit > 0 {
					c.Server.MaxUploadBytes = tt.limit
				}
			})
			w := do(s, httptest.NewRequest(http.MethodPost, "/api/v1/triage", bytes.NewReader(tt.body)))
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.status, w.Body)
			}
			if r := decodeReply(t, w); r.Status != "error" || r.Error == "" {
				t.Errorf("reply = %+v", r)
			}
		})
	}
}

func TestTriageSerializeFailure(t *testing.T) {
	s := newServer(t, nil)
	s.encode = func(io.Writer, *report.Overview, bool) error {
		return triage.ErrSerialize
	}
	w := do(s, httptest.NewRequest(http.MethodPost, "/api/v1/triage", bytes.NewReader(dumpBytes())))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
}

const breakpadSyms = "MODULE Linux x86_64 000102030405060708090A0B0C0D0E0F0 app\nFUNC 10 4 0 main\n"

func TestProbe(t *testing.T) {
	s := newServer(t, func(c *config.Config) { c.Probe.MaxSymbols = 4 })
	w := do(s, httptest.NewRequest(http.MethodPost, "/api/v1/probe", strings.NewReader(breakpadSyms)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body)
	}
	var meta struct {
		Kind    string `json:"kind"`
		Format  string `json:"format"`
		DebugID string `json:"debug_id"`
		Symbols []struct {
			Name string `json:"name"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &meta); err != nil {
		t.Fatal(err)
	}
	if meta.Format != "breakpad" || meta.DebugID != "00010203-0405-0607-0809-0a0b0c0d0e0f" {
		t.Errorf("meta = %+v", meta)
	}
	if len(meta.Symbols) != 1 || meta.Symbols[0].Name != "main" {
		t.Errorf("symbols = %+v", meta.Symbols)
	}

	w = do(s, httptest.NewRequest(http.MethodPost, "/api/v1/probe", strings.NewReader("plain text")))
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown format: status = %d", w.Code)
	}
}

func TestRunShutsDown(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("no loopback listener: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	s := newServer(t, func(c *config.Config) {
		if err := c.SetAddr(addr); err != nil {
			t.Fatal(err)
		}
		c.Server.ShutdownTimeout = 1
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
