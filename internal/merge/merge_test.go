package merge

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pixelmind/internal/edit"
	"pixelmind/internal/render"
)

type bitmap struct{ img image.Image }

func (b bitmap) Decode(context.Context) (image.Image, error) { return b.img, nil }

type broken struct{}

func (broken) Decode(context.Context) (image.Image, error) { return nil, errors.New("bad blob") }

func filled(w, h int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func newCompositor() *Compositor {
	return NewCompositor(render.NewCompositor(render.NewSurface(0), render.DefaultFontBook(), nil), nil)
}

func TestCanvasSizeHorizontal(t *testing.T) {
	s := Settings{Direction: Horizontal, Gap: 10, Padding: 5}
	got := CanvasSize([]image.Point{{100, 200}, {150, 200}}, s)
	if got != image.Pt(270, 210) {
		t.Fatalf("expected 270x210, got %v", got)
	}
	s.Direction = Vertical
	got = CanvasSize([]image.Point{{100, 200}, {150, 200}}, s)
	if got != image.Pt(160, 420) {
		t.Fatalf("expected 160x420, got %v", got)
	}
}

func TestPlacementsAlign(t *testing.T) {
	sizes := []image.Point{{100, 200}, {150, 100}}
	cases := []struct {
		align Align
		want  []image.Rectangle
	}{
		{AlignStart, []image.Rectangle{image.Rect(5, 5, 105, 205), image.Rect(115, 5, 265, 105)}},
		{AlignCenter, []image.Rectangle{image.Rect(5, 5, 105, 205), image.Rect(115, 55, 265, 155)}},
		{AlignEnd, []image.Rectangle{image.Rect(5, 5, 105, 205), image.Rect(115, 105, 265, 205)}},
	}
	for _, tc := range cases {
		t.Run(string(tc.align), func(t *testing.T) {
			got := Placements(sizes, Settings{Direction: Horizontal, Gap: 10, Padding: 5, Align: tc.align})
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("placements mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSelectionRejectsFifth(t *testing.T) {
	var s Selection
	for _, id := range []string{"a", "b", "c", "d"} {
		if _, err := s.Toggle(id); err != nil {
			t.Fatalf("toggle %s: %v", id, err)
		}
	}
	if _, err := s.Toggle("e"); !errors.Is(err, ErrSelectionFull) {
		t.Fatalf("expected ErrSelectionFull, got %v", err)
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d"}, s.IDs()); diff != "" {
		t.Fatalf("selection changed on rejection (-want +got):\n%s", diff)
	}
	if sel, _ := s.Toggle("b"); sel || s.Len() != 3 {
		t.Fatalf("toggle of selected id should remove it")
	}
}

func TestRenderDrawsInOrderOnBackground(t *testing.T) {
	red := color.NRGBA{255, 0, 0, 255}
	green := color.NRGBA{0, 255, 0, 255}
	out, err := newCompositor().Render(context.Background(), Layout{
		Sources:  []Source{bitmap{filled(100, 200, red)}, bitmap{filled(150, 200, green)}},
		Settings: Settings{Direction: Horizontal, Gap: 10, Padding: 5, Background: "#0000ff", Align: AlignCenter},
	}, nil)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if got := out.Bounds().Size(); got != image.Pt(270, 210) {
		t.Fatalf("unexpected canvas %v", got)
	}
	checks := []struct {
		x, y int
		want color.NRGBA
	}{
		{0, 0, color.NRGBA{0, 0, 255, 255}},
		{10, 10, red},
		{110, 100, color.NRGBA{0, 0, 255, 255}},
		{200, 100, green},
	}
	for _, c := range checks {
		if got := out.NRGBAAt(c.x, c.y); got != c.want {
			t.Fatalf("pixel (%d,%d): expected %v, got %v", c.x, c.y, c.want, got)
		}
	}
}

func TestRenderDrawsTextOnTop(t *testing.T) {
	o := edit.NewOverlay("t")
	o.Text, o.Color = "MERGE", "#ffffff"
	black := color.NRGBA{0, 0, 0, 255}
	out, err := newCompositor().Render(context.Background(), Layout{
		Sources:  []Source{bitmap{filled(100, 100, black)}, bitmap{filled(100, 100, black)}},
		Settings: Settings{Gap: 0, Padding: 0, Background: "#000000"},
	}, []edit.TextOverlay{o})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	white := 0
	for i := 0; i < len(out.Pix); i += 4 {
		if out.Pix[i] > 200 {
			white++
		}
	}
	if white == 0 {
		t.Fatalf("expected text pixels on the merged canvas")
	}
}

func TestRenderGuards(t *testing.T) {
	c := newCompositor()
	_, err := c.Render(context.Background(), Layout{Sources: []Source{bitmap{filled(1, 1, color.NRGBA{})}}}, nil)
	if !errors.Is(err, ErrTooFewSources) {
		t.Fatalf("expected ErrTooFewSources, got %v", err)
	}
	_, err = c.Render(context.Background(), Layout{Sources: []Source{bitmap{filled(1, 1, color.NRGBA{})}, broken{}}}, nil)
	if err == nil {
		t.Fatalf("expected decode failure to surface")
	}
}
