//go:build !magick

package render

import (
	"image"
	"io"

	"github.com/HugoSmits86/nativewebp"
)

// encodeWEBP writes lossless VP8L; quality has no effect. Build with the
// magick tag for lossy output.
func encodeWEBP(w io.Writer, img image.Image, _ int) error {
	return nativewebp.Encode(w, img, nil)
}
