package render

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"strings"
	"time"

	"github.com/disintegration/imaging"
)

// Format is an output MIME type.
type Format string

const (
	JPEG Format = "image/jpeg"
	PNG  Format = "image/png"
	WEBP Format = "image/webp"
)

// DefaultJPEGQuality is used for interactive exports.
const DefaultJPEGQuality = 95

// ParseFormat accepts a MIME type or a bare subtype ("jpg", "webp").
func ParseFormat(s string) (Format, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "image/")
	switch s {
	case "jpeg", "jpg":
		return JPEG, nil
	case "png":
		return PNG, nil
	case "webp":
		return WEBP, nil
	}
	return "", fmt.Errorf("unsupported output format %q", s)
}

// Ext is the file extension without the dot. It is the MIME subtype, so JPEG
// files end in ".jpeg".
func (f Format) Ext() string {
	return strings.TrimPrefix(string(f), "image/")
}

// Encode writes img in format f. quality (1..100) applies to the lossy
// formats only.
func Encode(w io.Writer, img image.Image, f Format, quality int) error {
	quality = max(1, min(quality, 100))
	switch f {
	case JPEG:
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case PNG:
		return imaging.Encode(w, img, imaging.PNG)
	case WEBP:
		return encodeWEBP(w, img, quality)
	}
	return fmt.Errorf("unsupported output format %q", f)
}

// EncodeBytes is Encode into memory.
func EncodeBytes(img image.Image, f Format, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HasTransparency reports whether any pixel is not fully opaque.
func HasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// ChooseFormat picks the interactive export format: PNG when corners are
// rounded or the image has transparency, JPEG otherwise.
func ChooseFormat(img image.Image, borderRadius float64) Format {
	if borderRadius > 0 || HasTransparency(img) {
		return PNG
	}
	return JPEG
}

// ExportName is the download name of an interactive export.
func ExportName(now time.Time, f Format) string {
	return fmt.Sprintf("pixelmind_%d.%s", now.UnixMilli(), f.Ext())
}
