package render

import (
	"image"
	"math"
)

// cornerRadius converts a 0..100 rounding percentage into pixels for a w×h
// window.
func cornerRadius(w, h int, pct float64) float64 {
	return float64(min(w, h)) / 2 * pct / 100
}

// clipRoundedRect makes every pixel of img outside a rounded rectangle with
// corner radius r transparent. Edge pixels get fractional coverage from a
// 4×4 supersample so the corners are anti-aliased.
func clipRoundedRect(img *image.NRGBA, r float64) {
	if r <= 0 {
		return
	}
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	r = math.Min(r, math.Min(w, h)/2)
	const ss = 4
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if !inCornerBand(float64(x), float64(y), w, h, r) {
				continue
			}
			hits := 0
			for sy := 0; sy < ss; sy++ {
				for sx := 0; sx < ss; sx++ {
					px := float64(x) + (float64(sx)+0.5)/ss
					py := float64(y) + (float64(sy)+0.5)/ss
					if insideRounded(px, py, w, h, r) {
						hits++
					}
				}
			}
			i := img.PixOffset(b.Min.X+x, b.Min.Y+y)
			img.Pix[i+3] = uint8(uint32(img.Pix[i+3]) * uint32(hits) / (ss * ss))
		}
	}
}

// inCornerBand reports whether pixel (x,y) lies in one of the four r×r
// corner squares, the only places where the mask can cut.
func inCornerBand(x, y, w, h, r float64) bool {
	nearX := x < r || x+1 > w-r
	nearY := y < r || y+1 > h-r
	return nearX && nearY
}

func insideRounded(px, py, w, h, r float64) bool {
	cx := math.Max(r, math.Min(px, w-r))
	cy := math.Max(r, math.Min(py, h-r))
	dx, dy := px-cx, py-cy
	return dx*dx+dy*dy <= r*r
}
