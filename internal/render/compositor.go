package render

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"time"

	"github.com/disintegration/imaging"

	"pixelmind/internal/edit"
)

// Source is anything that can hand over a decoded bitmap without blocking.
type Source interface {
	Decoded() (image.Image, bool)
}

// Params is one complete render request for a bitmap.
type Params struct {
	Filters   edit.FilterState
	Transform edit.TransformState
	Texts     []edit.TextOverlay
	// Size, when non-zero, resamples the cropped window before filtering.
	// Batch runs use it for their resize policy.
	Size image.Point
}

// Compositor renders final pixels from a bitmap and a stack of declarative
// edits. It keeps no per-image state; all drawing happens on the shared
// Surface.
type Compositor struct {
	surface *Surface
	fonts   *FontBook
	log     *slog.Logger
}

// NewCompositor binds a compositor to the shared surface and font book.
func NewCompositor(surface *Surface, fonts *FontBook, log *slog.Logger) *Compositor {
	if fonts == nil {
		fonts = DefaultFontBook()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Compositor{surface: surface, fonts: fonts, log: log}
}

// Fonts returns the book used for overlays.
func (c *Compositor) Fonts() *FontBook { return c.fonts }

// Render draws src with the given edits. It fails with ErrNotDecoded while
// the source is still loading.
func (c *Compositor) Render(ctx context.Context, src Source, filters edit.FilterState, transform edit.TransformState, texts []edit.TextOverlay) (*image.NRGBA, error) {
	img, ok := src.Decoded()
	if !ok {
		return nil, ErrNotDecoded
	}
	return c.RenderImage(ctx, img, Params{Filters: filters, Transform: transform, Texts: texts})
}

// RenderImage runs the pipeline: crop, optional resample, filter chain,
// rounded clip, flip, rotate, then text overlays on the final canvas.
func (c *Compositor) RenderImage(ctx context.Context, img image.Image, p Params) (*image.NRGBA, error) {
	if img == nil {
		return nil, ErrNotDecoded
	}
	start := time.Now()
	b := img.Bounds()
	win := p.Transform.CropWindow(b.Dx(), b.Dy()).Add(b.Min)
	px := imaging.Crop(img, win)
	if p.Size.X > 0 && p.Size.Y > 0 && p.Size != px.Bounds().Size() {
		px = imaging.Resize(px, p.Size.X, p.Size.Y, imaging.Lanczos)
	}

	px = applyFilters(px, p.Filters)
	if p.Filters.BorderRadius > 0 {
		clipRoundedRect(px, cornerRadius(px.Bounds().Dx(), px.Bounds().Dy(), p.Filters.BorderRadius))
	}
	px = orient(px, p.Transform)

	lease, err := c.surface.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	canvas, err := lease.Canvas(px.Bounds().Dx(), px.Bounds().Dy())
	if err != nil {
		return nil, err
	}
	draw.Draw(canvas, canvas.Bounds(), px, px.Bounds().Min, draw.Src)
	if err := c.fonts.DrawOverlays(canvas, p.Texts); err != nil {
		return nil, fmt.Errorf("draw overlays: %w", err)
	}
	out := imaging.Clone(canvas)
	c.log.Debug("rendered", "w", out.Bounds().Dx(), "h", out.Bounds().Dy(),
		"chain", p.Filters.Chain().String(), "took", time.Since(start))
	return out, nil
}

// Compose acquires the surface at w×h filled with bg, lets paint place
// pixels, then draws texts on top. Merges use it.
func (c *Compositor) Compose(ctx context.Context, w, h int, bg color.Color, paint func(dst draw.Image) error, texts []edit.TextOverlay) (*image.NRGBA, error) {
	lease, err := c.surface.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer lease.Release()
	canvas, err := lease.Canvas(w, h)
	if err != nil {
		return nil, err
	}
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)
	if err := paint(canvas); err != nil {
		return nil, err
	}
	if err := c.fonts.DrawOverlays(canvas, texts); err != nil {
		return nil, fmt.Errorf("draw overlays: %w", err)
	}
	return imaging.Clone(canvas), nil
}

// orient applies the flips, then the clockwise quarter turns. imaging rotates
// counter-clockwise.
func orient(img *image.NRGBA, t edit.TransformState) *image.NRGBA {
	if t.ScaleX < 0 {
		img = imaging.FlipH(img)
	}
	if t.ScaleY < 0 {
		img = imaging.FlipV(img)
	}
	switch ((t.Rotate % 360) + 360) % 360 {
	case 90:
		img = imaging.Rotate270(img)
	case 180:
		img = imaging.Rotate180(img)
	case 270:
		img = imaging.Rotate90(img)
	}
	return img
}
