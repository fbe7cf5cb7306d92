// Package config loads the settings of the triage service from a JSON file
// and MDVIEW_* environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

type Config struct {
	Server ServerConfig `json:"server" jsonschema:"title=Server,description=HTTP listener settings"`
	Triage TriageConfig `json:"triage" jsonschema:"title=Triage,description=Report and unwinder settings"`
	Probe  ProbeConfig  `json:"probe" jsonschema:"title=Probe,description=Debug file probe settings"`
	Log    LogConfig    `json:"log" jsonschema:"title=Log,description=Process logging"`
}

type ServerConfig struct {
	Host           string `json:"host" jsonschema:"title=Host,description=Interface to listen on,default=127.0.0.1"`
	Port           uint   `json:"port" jsonschema:"title=Port,minimum=1,maximum=65535,default=8080"`
	MaxUploadBytes int64  `json:"max_upload_bytes" jsonschema:"title=Max Upload Bytes,description=Largest accepted request body,minimum=1"`
	// Seconds to wait for in-flight requests on shutdown.
	ShutdownTimeout int `json:"shutdown_timeout" jsonschema:"title=Shutdown Timeout,description=Seconds to drain requests on shutdown,minimum=0,default=10"`
}

type TriageConfig struct {
	DebugDumps bool `json:"debug_dumps" jsonschema:"title=Debug Dumps,description=Include raw record dumps in reports"`
	MaxFrames  int  `json:"max_frames" jsonschema:"title=Max Frames,description=Frames unwound per thread,minimum=1,default=1024"`
	ScanWords  int  `json:"scan_words" jsonschema:"title=Scan Words,description=Stack words scanned per frame,minimum=0,default=1024"`
}

type ProbeConfig struct {
	MaxSymbols int `json:"max_symbols" jsonschema:"title=Max Symbols,description=Symbols listed by the probe endpoint,minimum=0,default=0"`
}

type LogConfig struct {
	File  string `json:"file,omitempty" jsonschema:"title=File,description=Log file; stderr when empty"`
	Debug bool   `json:"debug" jsonschema:"title=Debug,description=Enable debug logging"`
}

const defaultMaxUpload = 64 << 20

func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			MaxUploadBytes:  defaultMaxUpload,
			ShutdownTimeout: 10,
		},
		Triage: TriageConfig{
			MaxFrames: 1024,
			ScanWords: 1024,
		},
	}
}

// Load reads path over the defaults, applies the environment and validates
// the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		dec := json.NewDecoder(f)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from MDVIEW_HOST, MDVIEW_PORT,
// MDVIEW_MAX_UPLOAD_BYTES, MDVIEW_DEBUG_DUMPS and MDVIEW_LOG_FILE.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("MDVIEW_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := getenv("MDVIEW_PORT"); v != "" {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return fmt.Errorf("%w: MDVIEW_PORT: %v", ErrInvalid, err)
		}
		c.Server.Port = uint(port)
	}
	if v := getenv("MDVIEW_MAX_UPLOAD_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: MDVIEW_MAX_UPLOAD_BYTES: %v", ErrInvalid, err)
		}
		c.Server.MaxUploadBytes = n
	}
	if v := getenv("MDVIEW_DEBUG_DUMPS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: MDVIEW_DEBUG_DUMPS: %v", ErrInvalid, err)
		}
		c.Triage.DebugDumps = b
	}
	if v := getenv("MDVIEW_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if strings.EqualFold(getenv("MDVIEW_LOG_LEVEL"), "debug") {
		c.Log.Debug = true
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Server.Host == "" {
		errs = append(errs, errors.New("server.host is empty"))
	}
	if c.Server.Port == 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.MaxUploadBytes <= 0 {
		errs = append(errs, fmt.Errorf("server.max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes))
	}
	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout is negative"))
	}
	if c.Triage.MaxFrames < 1 {
		errs = append(errs, fmt.Errorf("triage.max_frames must be at least 1, got %d", c.Triage.MaxFrames))
	}
	if c.Triage.ScanWords < 0 {
		errs = append(errs, errors.New("triage.scan_words is negative"))
	}
	if c.Probe.MaxSymbols < 0 {
		errs = append(errs, errors.New("probe.max_symbols is negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.FormatUint(uint64(c.Server.Port), 10))
}

// SetAddr splits a host:port override into the server section. An empty
// host listens on every interface.
func (c *Config) SetAddr(addr string) error {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: addr %q: %v", ErrInvalid, addr, err)
	}
	p, err := strconv.ParseUint(port, 10, 16)
	if err != nil {
		return fmt.Errorf("%w: addr %q: %v", ErrInvalid, addr, err)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	c.Server.Host, c.Server.Port = host, uint(p)
	return nil
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

// Schema describes the config file.
func Schema() *jsonschema.Schema {
	r := new(jsonschema.Reflector)
	return r.Reflect(&Config{})
}
