package edit

import (
	"fmt"
	"image"
	"math"
)

const (
	// MaxCropEdge is the largest percentage a single edge may crop away.
	MaxCropEdge = 80
	// minVisibleSpan keeps at least this percentage of each axis visible.
	minVisibleSpan = 1
)

// Edge names one side of the crop window.
type Edge string

const (
	EdgeTop    Edge = "top"
	EdgeLeft   Edge = "left"
	EdgeRight  Edge = "right"
	EdgeBottom Edge = "bottom"
)

// Crop holds the percentage of the source cut away on each side.
type Crop struct {
	Top    float64 `json:"top" yaml:"top"`
	Left   float64 `json:"left" yaml:"left"`
	Right  float64 `json:"right" yaml:"right"`
	Bottom float64 `json:"bottom" yaml:"bottom"`
}

// TransformState is the geometric part of an edit.
type TransformState struct {
	Rotate int  `json:"rotate" yaml:"rotate"`
	ScaleX int  `json:"scaleX" yaml:"scaleX"`
	ScaleY int  `json:"scaleY" yaml:"scaleY"`
	Crop   Crop `json:"crop" yaml:"crop"`
}

// DefaultTransform returns the identity transform.
func DefaultTransform() TransformState {
	return TransformState{ScaleX: 1, ScaleY: 1}
}

// RotateCW turns the image a quarter turn clockwise.
func (t *TransformState) RotateCW() {
	t.Rotate = (t.Rotate + 90) % 360
}

// FlipHorizontal mirrors the image left to right.
func (t *TransformState) FlipHorizontal() {
	t.ScaleX = -sign(t.ScaleX)
}

// FlipVertical mirrors the image top to bottom.
func (t *TransformState) FlipVertical() {
	t.ScaleY = -sign(t.ScaleY)
}

// AdjustCrop moves one crop edge by delta percent. The edge is clamped to
// [0, MaxCropEdge]; if the visible span on that axis would collapse, the
// opposing edge gives way.
func (t *TransformState) AdjustCrop(edge Edge, delta float64) error {
	cur, opp := t.edgePair(edge)
	if cur == nil {
		return fmt.Errorf("unknown crop edge %q", edge)
	}
	if math.IsNaN(delta) {
		return nil
	}
	*cur = clamp(*cur+delta, 0, MaxCropEdge)
	if *cur+*opp > 100-minVisibleSpan {
		*opp = 100 - minVisibleSpan - *cur
	}
	return nil
}

// SetCrop replaces the crop window, enforcing the same limits as AdjustCrop.
func (t *TransformState) SetCrop(c Crop) {
	t.Crop = Crop{}
	_ = t.AdjustCrop(EdgeTop, c.Top)
	_ = t.AdjustCrop(EdgeBottom, c.Bottom)
	_ = t.AdjustCrop(EdgeLeft, c.Left)
	_ = t.AdjustCrop(EdgeRight, c.Right)
}

func (t *TransformState) edgePair(edge Edge) (cur, opp *float64) {
	switch edge {
	case EdgeTop:
		return &t.Crop.Top, &t.Crop.Bottom
	case EdgeBottom:
		return &t.Crop.Bottom, &t.Crop.Top
	case EdgeLeft:
		return &t.Crop.Left, &t.Crop.Right
	case EdgeRight:
		return &t.Crop.Right, &t.Crop.Left
	}
	return nil, nil
}

// ApplyAspect sets a centred crop giving the visible region the requested
// width/height ratio for a w×h source. A ratio of zero clears the crop.
func (t *TransformState) ApplyAspect(ratio float64, w, h int) {
	if ratio <= 0 || w <= 0 || h <= 0 {
		t.Crop = Crop{}
		return
	}
	src := float64(w) / float64(h)
	var c Crop
	if src > ratio {
		visible := float64(h) * ratio / float64(w) * 100
		c.Left = (100 - visible) / 2
		c.Right = c.Left
	} else {
		visible := float64(w) / ratio / float64(h) * 100
		c.Top = (100 - visible) / 2
		c.Bottom = c.Top
	}
	t.SetCrop(c)
}

// Normalized snaps externally supplied values onto the legal lattice.
func (t TransformState) Normalized() TransformState {
	out := t
	r := int(math.Round(float64(t.Rotate)/90)) * 90
	out.Rotate = ((r % 360) + 360) % 360
	out.ScaleX = sign(t.ScaleX)
	out.ScaleY = sign(t.ScaleY)
	out.SetCrop(t.Crop)
	return out
}

// CropWindow converts the percentage crop into a pixel rectangle of a w×h
// source anchored at the origin. The window is never empty.
func (t TransformState) CropWindow(w, h int) image.Rectangle {
	x0 := int(math.Round(float64(w) * t.Crop.Left / 100))
	x1 := w - int(math.Round(float64(w)*t.Crop.Right/100))
	y0 := int(math.Round(float64(h) * t.Crop.Top / 100))
	y1 := h - int(math.Round(float64(h)*t.Crop.Bottom/100))
	if x1 <= x0 {
		x1 = min(x0+1, w)
		x0 = x1 - 1
	}
	if y1 <= y0 {
		y1 = min(y0+1, h)
		y0 = y1 - 1
	}
	return image.Rect(x0, y0, x1, y1)
}

// Swapped reports whether the rotation exchanges width and height.
func (t TransformState) Swapped() bool {
	return t.Rotate%180 != 0
}

// OutputSize returns the canvas size for a w×h source: the crop window,
// with its sides exchanged for quarter and three-quarter turns.
func (t TransformState) OutputSize(w, h int) (int, int) {
	win := t.CropWindow(w, h)
	if t.Swapped() {
		return win.Dy(), win.Dx()
	}
	return win.Dx(), win.Dy()
}

func sign(v int) int {
	if v < 0 {
		return -1
	}
	return 1
}
