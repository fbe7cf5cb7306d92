// Package triage assembles a decoded minidump into a report.Overview.
//
// Every stream is optional. A stream that is missing or failed to decode
// leaves its field in the overview null; only an unreadable container or a
// failed encode is an error.
package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/olksdr/minidump-viewer/internal/logging"
	"github.com/olksdr/minidump-viewer/internal/minidump"
	"github.com/olksdr/minidump-viewer/internal/report"
	"github.com/olksdr/minidump-viewer/internal/stackwalk"
	"github.com/olksdr/minidump-viewer/internal/unwind"
)

var (
	// ErrDecode marks input that is not a readable minidump container.
	ErrDecode = errors.New("triage: decode failure")
	// ErrSerialize marks an overview that could not be encoded.
	ErrSerialize = errors.New("triage: serialization failure")
)

// Triager builds overviews. It holds only read-only settings and is safe
// for concurrent use.
type Triager struct {
	unwinder    unwind.Unwinder
	unwinderSet bool
	logger      *log.Logger
	debug       bool
}

type Option func(*Triager)

// WithUnwinder replaces the default stack walker. A nil unwinder makes
// every thread fall back to its context frame.
func WithUnwinder(u unwind.Unwinder) Option {
	return func(t *Triager) { t.unwinder, t.unwinderSet = u, true }
}

func WithLogger(l *log.Logger) Option {
	return func(t *Triager) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithDebug attaches the diagnostic rendering of every stream to the
// overview's debug fields.
func WithDebug(on bool) Option {
	return func(t *Triager) { t.debug = on }
}

func New(opts ...Option) *Triager {
	t := &Triager{logger: logging.Discard()}
	for _, o := range opts {
		o(t)
	}
	if !t.unwinderSet {
		t.unwinder = stackwalk.New(stackwalk.WithLogger(t.logger))
	}
	return t
}

// File opens, triages and closes the minidump at path.
func (t *Triager) File(ctx context.Context, path string) (*report.Overview, error) {
	d, err := minidump.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	defer d.Close()
	return t.Overview(ctx, d), nil
}

// Bytes triages a minidump held in memory.
func (t *Triager) Bytes(ctx context.Context, data []byte) (*report.Overview, error) {
	d, err := minidump.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return t.Overview(ctx, d), nil
}

// Encode writes ov as JSON.
func Encode(w io.Writer, ov *report.Overview, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(ov); err != nil {
		return fmt.Errorf("%w: %w", ErrSerialize, err)
	}
	return nil
}
