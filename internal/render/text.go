package render

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"
	"os"
	"sync"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"

	"pixelmind/internal/edit"
	"pixelmind/internal/fsutil"
)

type faceKey struct {
	weight edit.FontWeight
	size   float64
}

// FontBook holds one parsed font per weight and caches sized faces.
type FontBook struct {
	mu    sync.Mutex
	fonts map[edit.FontWeight]*opentype.Font
	faces map[faceKey]font.Face
}

// NewFontBook loads the regular and bold faces. Each path list is searched in
// order; when nothing exists or parsing fails the embedded Go fonts are used.
func NewFontBook(log *slog.Logger, regular, bold []string) (*FontBook, error) {
	if log == nil {
		log = slog.Default()
	}
	fb := &FontBook{
		fonts: map[edit.FontWeight]*opentype.Font{},
		faces: map[faceKey]font.Face{},
	}
	for _, spec := range []struct {
		weight   edit.FontWeight
		paths    []string
		fallback []byte
	}{
		{edit.WeightNormal, regular, goregular.TTF},
		{edit.WeightBold, bold, gobold.TTF},
	} {
		data := spec.fallback
		if p := fsutil.FirstExisting(spec.paths...); p != "" {
			if b, err := os.ReadFile(p); err == nil {
				data = b
			} else {
				log.Warn("could not read font, using default", "path", p, "err", err)
			}
		}
		f, err := opentype.Parse(data)
		if err != nil && len(spec.paths) > 0 {
			log.Warn("could not parse font, using default", "weight", spec.weight, "err", err)
			f, err = opentype.Parse(spec.fallback)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s font: %w", spec.weight, err)
		}
		fb.fonts[spec.weight] = f
	}
	return fb, nil
}

// DefaultFontBook uses only the embedded fonts.
func DefaultFontBook() *FontBook {
	fb, err := NewFontBook(nil, nil, nil)
	if err != nil {
		panic(err)
	}
	return fb
}

func (fb *FontBook) face(weight edit.FontWeight, size float64) (font.Face, error) {
	if weight != edit.WeightNormal {
		weight = edit.WeightBold
	}
	k := faceKey{weight, size}
	if f, ok := fb.faces[k]; ok {
		return f, nil
	}
	f, err := opentype.NewFace(fb.fonts[weight], &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	if err != nil {
		return nil, fmt.Errorf("create font face: %w", err)
	}
	fb.faces[k] = f
	return f, nil
}

// DrawOverlays paints each overlay in slice order, so later overlays end up
// on top. Overlays are drawn opaque and ignore any earlier clip or filter.
func (fb *FontBook) DrawOverlays(dst draw.Image, texts []edit.TextOverlay) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, t := range texts {
		if err := fb.drawOverlay(dst, t.Sanitized()); err != nil {
			return err
		}
	}
	return nil
}

func (fb *FontBook) drawOverlay(dst draw.Image, t edit.TextOverlay) error {
	if t.Text == "" {
		return nil
	}
	face, err := fb.face(t.FontWeight, t.FontSize)
	if err != nil {
		return err
	}
	tile := textTile(face, t)
	b := dst.Bounds()
	ax := float64(b.Min.X) + float64(b.Dx())*t.X/100
	ay := float64(b.Min.Y) + float64(b.Dy())*t.Y/100
	cx, cy := float64(tile.Bounds().Dx())/2, float64(tile.Bounds().Dy())/2

	if t.Rotation == 0 {
		at := image.Pt(int(math.Round(ax-cx)), int(math.Round(ay-cy)))
		r := tile.Bounds().Add(at)
		draw.Draw(dst, r, tile, image.Point{}, draw.Over)
		return nil
	}

	// Place the tile centre on the anchor, turned clockwise on screen.
	sin, cos := math.Sincos(t.Rotation * math.Pi / 180)
	m := f64.Aff3{
		cos, -sin, ax - (cos*cx - sin*cy),
		sin, cos, ay - (sin*cx + cos*cy),
	}
	xdraw.BiLinear.Transform(dst, m, tile, tile.Bounds(), xdraw.Over, nil)
	return nil
}

// textTile renders the string onto a transparent image exactly one line
// high, so its centre is the visual middle of the text.
func textTile(face font.Face, t edit.TextOverlay) *image.NRGBA {
	m := face.Metrics()
	ascent, descent := m.Ascent.Ceil(), m.Descent.Ceil()
	adv := font.MeasureString(face, t.Text).Ceil()
	tile := image.NewNRGBA(image.Rect(0, 0, max(adv, 1), max(ascent+descent, 1)))
	d := &font.Drawer{
		Dst:  tile,
		Src:  image.NewUniform(edit.MustColor(t.Color)),
		Face: face,
		Dot:  fixed.P(0, ascent),
	}
	d.DrawString(t.Text)
	return tile
}
