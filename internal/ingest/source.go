package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"time"

	_ "image/gif"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"pixelmind/internal/fsutil"
)

// ErrDecode marks a blob that could not be decoded as an image.
var ErrDecode = errors.New("decode image")

// Blob is an uploaded file before it is accepted as a source.
type Blob struct {
	Name string
	MIME string
	Data []byte
}

// Source is one imported image. The encoded bytes are immutable; the bitmap
// is produced once by Decode and shared by every caller.
type Source struct {
	ID         string
	Name       string
	MIME       string
	Size       int64
	IngestedAt time.Time

	data    []byte
	start   sync.Once
	done    chan struct{}
	img     image.Image
	err     error
	decoder func([]byte) (image.Image, error)
}

// IsImageMIME reports whether a declared type names an image.
func IsImageMIME(mime string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mime)), "image/")
}

// Ingest accepts every blob whose declared type is an image and drops the
// rest without error. Each accepted blob gets a fresh random id.
func Ingest(blobs []Blob) []*Source {
	out := make([]*Source, 0, len(blobs))
	for _, b := range blobs {
		if !IsImageMIME(b.MIME) {
			continue
		}
		out = append(out, NewSource(b.Name, b.MIME, b.Data))
	}
	return out
}

// NewSource wraps encoded image bytes. Decoding starts on first use.
func NewSource(name, mime string, data []byte) *Source {
	return &Source{
		ID:         uuid.NewString(),
		Name:       name,
		MIME:       mime,
		Size:       int64(len(data)),
		IngestedAt: time.Now().UTC(),
		data:       data,
		done:       make(chan struct{}),
		decoder:    decodeBytes,
	}
}

// NewDecoded wraps an already decoded bitmap, e.g. one returned by the AI
// service after its own decode.
func NewDecoded(name string, img image.Image) *Source {
	s := NewSource(name, "image/png", nil)
	s.start.Do(func() {
		s.img = img
		close(s.done)
	})
	return s
}

// Start begins decoding in the background if it has not started yet.
func (s *Source) Start() {
	s.start.Do(func() {
		go func() {
			s.img, s.err = s.decoder(s.data)
			close(s.done)
		}()
	})
}

// Decode waits for the bitmap. The first call starts decoding; later calls
// share its outcome. ctx only bounds the wait, not the decode itself.
func (s *Source) Decode(ctx context.Context) (image.Image, error) {
	s.Start()
	select {
	case <-s.done:
		if s.err != nil {
			return nil, fmt.Errorf("%s: %w", s.Name, s.err)
		}
		return s.img, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Decoded returns the bitmap without waiting. ok is false until decoding has
// finished successfully.
func (s *Source) Decoded() (image.Image, bool) {
	select {
	case <-s.done:
		return s.img, s.err == nil && s.img != nil
	default:
		return nil, false
	}
}

// Bytes returns the encoded payload.
func (s *Source) Bytes() []byte { return s.data }

// Stem is the file name up to its first dot.
func (s *Source) Stem() string { return fsutil.Stem(s.Name) }

func decodeBytes(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}
