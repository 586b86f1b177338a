package render

import (
	"context"
	"errors"
)

// Error classes recorded on failed ledger assets. Stable strings; the admin
// surface aggregates on them.
const (
	ClassSourceUnavailable    = "source_unavailable"
	ClassCorruptOrUnsupported = "corrupt_or_unsupported"
	ClassResourceExhausted    = "resource_exhausted"
	ClassTransient            = "transient_io"
)

var (
	// ErrSourceUnavailable: the source file is missing or unreadable.
	// Terminal; the asset is recorded failed.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrCorruptOrUnsupported: the source decoded to garbage or an
	// unsupported format. Terminal.
	ErrCorruptOrUnsupported = errors.New("source corrupt or unsupported")
	// ErrSourceTooLarge: rejected by the size guard before decode. Terminal;
	// protects the process from pathological inputs.
	ErrSourceTooLarge = errors.New("source exceeds size guard")
	// ErrResourceExhausted: momentary contention (budget wait cancelled,
	// temporary I/O pressure). Transient; the message is left for
	// redelivery.
	ErrResourceExhausted = errors.New("rendering resources exhausted")
)

// Terminal reports whether a render error should be recorded as a failed
// outcome (true) or left unacknowledged for redelivery (false).
func Terminal(err error) bool {
	switch {
	case errors.Is(err, ErrSourceUnavailable),
		errors.Is(err, ErrCorruptOrUnsupported),
		errors.Is(err, ErrSourceTooLarge):
		return true
	default:
		return false
	}
}

func Classify(err error) string {
	switch {
	case errors.Is(err, ErrSourceUnavailable):
		return ClassSourceUnavailable
	case errors.Is(err, ErrCorruptOrUnsupported):
		return ClassCorruptOrUnsupported
	case errors.Is(err, ErrSourceTooLarge):
		return ClassResourceExhausted
	default:
		return ClassTransient
	}
}

// Source locates the bytes to render.
type Source struct {
	Path      string
	ByteSize  int64
	InArchive bool
}

// OutputParams describes the requested variant.
type OutputParams struct {
	Width   int
	Height  int
	Format  string
	Quality int
}

// Rendered holds variant bytes produced entirely in memory. Release runs the
// renderer's cleanup hook and must be called once the batch writer has
// persisted (or abandoned) the output.
type Rendered struct {
	Bytes   []byte
	Width   int
	Height  int
	Format  string
	release func()
}

func (r *Rendered) Release() {
	if r == nil || r.release == nil {
		return
	}
	r.release()
	r.release = nil
}

// SetRelease attaches the cleanup hook invoked by Release. Renderer
// implementations that hold resources per output use this; any previously
// attached hook is replaced.
func (r *Rendered) SetRelease(fn func()) {
	r.release = fn
}

// Renderer is the external rendering capability: source bytes in, variant
// bytes out, failures classified per the package errors.
type Renderer interface {
	Render(ctx context.Context, src Source, params OutputParams) (*Rendered, error)
}
