package merge

import (
	"context"
	"image"
	"image/draw"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"pixelmind/internal/edit"
	"pixelmind/internal/render"
)

// OutputName is the file name of every merge export.
const OutputName = "merged.png"

// Source is a bitmap that may still be decoding.
type Source interface {
	Decode(ctx context.Context) (image.Image, error)
}

// Layout is a complete merge request.
type Layout struct {
	Sources  []Source
	Settings Settings
}

// Compositor lays several bitmaps out on one canvas and draws text on top.
type Compositor struct {
	comp *render.Compositor
	log  *slog.Logger
}

func NewCompositor(comp *render.Compositor, log *slog.Logger) *Compositor {
	if log == nil {
		log = slog.Default()
	}
	return &Compositor{comp: comp, log: log}
}

// Render decodes all sources concurrently, then draws them one by one in
// selection order onto the shared surface.
func (c *Compositor) Render(ctx context.Context, l Layout, texts []edit.TextOverlay) (*image.NRGBA, error) {
	if err := validate(len(l.Sources)); err != nil {
		return nil, err
	}
	s := l.Settings.Normalize()

	imgs := make([]image.Image, len(l.Sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range l.Sources {
		g.Go(func() error {
			img, err := src.Decode(gctx)
			if err != nil {
				return err
			}
			imgs[i] = img
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sizes := make([]image.Point, len(imgs))
	for i, img := range imgs {
		sizes[i] = img.Bounds().Size()
	}
	size := CanvasSize(sizes, s)
	rects := Placements(sizes, s)

	out, err := c.comp.Compose(ctx, size.X, size.Y, s.background(), func(dst draw.Image) error {
		for i, img := range imgs {
			draw.Draw(dst, rects[i], img, img.Bounds().Min, draw.Over)
		}
		return nil
	}, texts)
	if err != nil {
		return nil, err
	}
	c.log.Info("merged", "sources", len(imgs), "w", size.X, "h", size.Y, "direction", s.Direction)
	return out, nil
}
