package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync/atomic"
)

var (
	// ErrSurface means no drawing surface could be obtained. It is fatal for
	// the operation that hit it.
	ErrSurface = errors.New("rendering surface unavailable")
	// ErrNotDecoded means the source bitmap is not ready yet; retry after
	// decoding completes.
	ErrNotDecoded = errors.New("source not decoded")
	// ErrCanvasTooLarge rejects one oversized canvas. The surface stays usable.
	ErrCanvasTooLarge = errors.New("canvas exceeds pixel limit")
)

// DefaultMaxPixels bounds a single canvas (roughly 16k×16k).
const DefaultMaxPixels = 1 << 28

// Surface is the single offscreen canvas shared by interactive rendering,
// batch runs and merges. Only one lease exists at a time.
type Surface struct {
	slot      chan struct{}
	buf       []uint8
	maxPixels int
	closed    atomic.Bool
}

// NewSurface returns a surface that refuses canvases above maxPixels.
func NewSurface(maxPixels int) *Surface {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Surface{slot: make(chan struct{}, 1), maxPixels: maxPixels}
}

// Lease is exclusive ownership of the surface for one call.
type Lease struct {
	s        *Surface
	released bool
}

// Acquire waits until the surface is free. The caller must Release.
func (s *Surface) Acquire(ctx context.Context) (*Lease, error) {
	if s == nil || s.closed.Load() {
		return nil, ErrSurface
	}
	select {
	case s.slot <- struct{}{}:
		return &Lease{s: s}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close makes every later Acquire fail with ErrSurface.
func (s *Surface) Close() { s.closed.Store(true) }

// Canvas sizes the surface to w×h and clears it to transparent. The returned
// image aliases the surface buffer and is only valid until Release.
func (l *Lease) Canvas(w, h int) (*image.NRGBA, error) {
	if l.released {
		return nil, fmt.Errorf("%w: lease already released", ErrSurface)
	}
	if w <= 0 || h <= 0 || w*h > l.s.maxPixels {
		return nil, fmt.Errorf("%w: cannot allocate %dx%d canvas", ErrCanvasTooLarge, w, h)
	}
	n := w * h * 4
	if cap(l.s.buf) < n {
		l.s.buf = make([]uint8, n)
	}
	pix := l.s.buf[:n]
	clear(pix)
	return &image.NRGBA{Pix: pix, Stride: w * 4, Rect: image.Rect(0, 0, w, h)}, nil
}

// Release hands the surface back. Calling it twice is harmless.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	<-l.s.slot
}
