package render

import (
	"fmt"
	"image"
	"image/color"

	"pixelmind/internal/edit"
)

// SampleColor reads the pixel under a click made on a scaled display of img.
// displayed is the on-screen size and pt the click in that space.
func SampleColor(img image.Image, displayed, pt image.Point) (string, error) {
	b := img.Bounds()
	if displayed.X <= 0 || displayed.Y <= 0 {
		displayed = b.Size()
	}
	if pt.X < 0 || pt.Y < 0 || pt.X >= displayed.X || pt.Y >= displayed.Y {
		return "", fmt.Errorf("sample point %v outside %dx%d", pt, displayed.X, displayed.Y)
	}
	x := b.Min.X + pt.X*b.Dx()/displayed.X
	y := b.Min.Y + pt.Y*b.Dy()/displayed.Y
	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
	return edit.HexColor(c), nil
}
