package render

import (
	"image"

	"github.com/disintegration/gift"

	"pixelmind/internal/edit"
)

// Luma weights used by the saturate and grayscale matrices.
const (
	lumR = 0.2126
	lumG = 0.7152
	lumB = 0.0722
)

// FilterChain translates an ordered chain of primitives into gift filters.
// Neutral primitives are skipped so a neutral state yields an empty GIFT.
func FilterChain(c edit.Chain) *gift.GIFT {
	g := gift.New()
	for _, op := range c {
		if op.Neutral() {
			continue
		}
		switch op.Kind {
		case edit.OpBrightness:
			g.Add(brightness(float32(op.Amount)))
		case edit.OpContrast:
			g.Add(contrast(float32(op.Amount)))
		case edit.OpSaturate:
			g.Add(saturate(float32(op.Amount)))
		case edit.OpBlur:
			g.Add(gift.GaussianBlur(float32(op.Amount)))
		case edit.OpSepia:
			g.Add(gift.Sepia(float32(op.Amount * 100)))
		case edit.OpGrayscale:
			g.Add(grayscale(float32(op.Amount)))
		case edit.OpHueRotate:
			g.Add(gift.Hue(float32(hueShift(op.Amount))))
		}
	}
	return g
}

// applyFilters runs the chain over src. It returns src unchanged when the
// chain is empty.
func applyFilters(src *image.NRGBA, f edit.FilterState) *image.NRGBA {
	g := FilterChain(f.Chain())
	if len(g.Filters) == 0 {
		return src
	}
	dst := image.NewNRGBA(g.Bounds(src.Bounds()))
	g.Draw(dst, src)
	return dst
}

func brightness(k float32) gift.Filter {
	return gift.ColorFunc(func(r, g, b, a float32) (float32, float32, float32, float32) {
		return unit(r * k), unit(g * k), unit(b * k), a
	})
}

func contrast(k float32) gift.Filter {
	return gift.ColorFunc(func(r, g, b, a float32) (float32, float32, float32, float32) {
		return unit((r-0.5)*k + 0.5), unit((g-0.5)*k + 0.5), unit((b-0.5)*k + 0.5), a
	})
}

// saturate applies the standard luminance-preserving saturation matrix; k > 1
// oversaturates.
func saturate(k float32) gift.Filter {
	return gift.ColorFunc(func(r, g, b, a float32) (float32, float32, float32, float32) {
		return unit((lumR+(1-lumR)*k)*r + (lumG-lumG*k)*g + (lumB-lumB*k)*b),
			unit((lumR-lumR*k)*r + (lumG+(1-lumG)*k)*g + (lumB-lumB*k)*b),
			unit((lumR-lumR*k)*r + (lumG-lumG*k)*g + (lumB+(1-lumB)*k)*b),
			a
	})
}

// grayscale mixes towards luminance by amount in [0,1].
func grayscale(amount float32) gift.Filter {
	return gift.ColorFunc(func(r, g, b, a float32) (float32, float32, float32, float32) {
		y := lumR*r + lumG*g + lumB*b
		return unit(r + (y-r)*amount), unit(g + (y-g)*amount), unit(b + (y-b)*amount), a
	})
}

// hueShift maps [0,360] degrees onto gift's [-180,180] range.
func hueShift(deg float64) float64 {
	if deg > 180 {
		return deg - 360
	}
	return deg
}

func unit(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
