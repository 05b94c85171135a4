//go:build magick

package render

import (
	"bytes"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"gopkg.in/gographics/imagick.v3/imagick"
)

// encodeWEBP hands a PNG of img to ImageMagick for lossy WEBP at quality.
func encodeWEBP(w io.Writer, img image.Image, quality int) error {
	var png bytes.Buffer
	if err := imaging.Encode(&png, img, imaging.PNG); err != nil {
		return err
	}

	imagick.Initialize()
	defer imagick.Terminate()

	mw := imagick.NewMagickWand()
	defer mw.Destroy()

	if err := mw.ReadImageBlob(png.Bytes()); err != nil {
		return fmt.Errorf("imagick read: %w", err)
	}
	if err := mw.SetImageFormat("WEBP"); err != nil {
		return fmt.Errorf("imagick format: %w", err)
	}
	if err := mw.SetImageCompressionQuality(uint(quality)); err != nil {
		return fmt.Errorf("imagick quality: %w", err)
	}
	_, err := w.Write(mw.GetImageBlob())
	return err
}
