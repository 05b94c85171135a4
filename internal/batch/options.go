package batch

import (
	"fmt"
	"image"
	"math"

	"pixelmind/internal/edit"
	"pixelmind/internal/render"
)

// ResizeMode selects how output dimensions are derived from the source.
type ResizeMode string

const (
	ResizeOriginal ResizeMode = "original"
	ResizeLongest  ResizeMode = "longest-edge"
	ResizePercent  ResizeMode = "percent"
	ResizeExact    ResizeMode = "exact"
)

// Resize is the shared resize policy of a batch run.
type Resize struct {
	Mode ResizeMode `json:"mode" yaml:"mode"`
	// Edge caps the longest side in pixels (longest-edge). Smaller images are
	// never upscaled.
	Edge int `json:"edge,omitempty" yaml:"edge,omitempty"`
	// Percent scales both sides (percent).
	Percent float64 `json:"percent,omitempty" yaml:"percent,omitempty"`
	// Width and Height are the explicit size (exact). With LockAspect only
	// one of them is honoured and the other follows the source ratio.
	Width      int  `json:"width,omitempty" yaml:"width,omitempty"`
	Height     int  `json:"height,omitempty" yaml:"height,omitempty"`
	LockAspect bool `json:"lockAspect,omitempty" yaml:"lockAspect,omitempty"`
}

// Target returns the output size for a w×h source.
func (r Resize) Target(w, h int) image.Point {
	fw, fh := float64(w), float64(h)
	switch r.Mode {
	case ResizeLongest:
		long := math.Max(fw, fh)
		if r.Edge <= 0 || long <= float64(r.Edge) {
			return image.Pt(w, h)
		}
		k := float64(r.Edge) / long
		return pt(fw*k, fh*k)
	case ResizePercent:
		if r.Percent <= 0 {
			return image.Pt(w, h)
		}
		k := r.Percent / 100
		return pt(fw*k, fh*k)
	case ResizeExact:
		tw, th := float64(r.Width), float64(r.Height)
		switch {
		case r.LockAspect && tw > 0:
			return pt(tw, tw*fh/fw)
		case r.LockAspect && th > 0:
			return pt(th*fw/fh, th)
		}
		if tw <= 0 {
			tw = fw
		}
		if th <= 0 {
			th = fh
		}
		return pt(tw, th)
	}
	return image.Pt(w, h)
}

func (r Resize) validate() error {
	switch r.Mode {
	case "", ResizeOriginal, ResizeLongest, ResizePercent, ResizeExact:
		return nil
	}
	return fmt.Errorf("unknown resize mode %q", r.Mode)
}

func pt(w, h float64) image.Point {
	return image.Pt(max(1, int(math.Round(w))), max(1, int(math.Round(h))))
}

const (
	minQuality     = 10
	maxQuality     = 100
	defaultQuality = 90
	// autoBalanceBoost is the contrast and saturation applied by AutoBalance.
	autoBalanceBoost = 110
)

// Options is the simplified parameter set shared by every item of a run.
type Options struct {
	Format      render.Format `json:"format" yaml:"format"`
	Quality     int           `json:"quality" yaml:"quality"`
	Resize      Resize        `json:"resize" yaml:"resize"`
	AutoBalance bool          `json:"autoBalance" yaml:"autoBalance"`
}

// DefaultOptions is JPEG at quality 90 with the original size.
func DefaultOptions() Options {
	return Options{Format: render.JPEG, Quality: defaultQuality, Resize: Resize{Mode: ResizeOriginal}}
}

// Normalize fills defaults, clamps quality to [10,100] and rejects unknown
// formats or resize modes.
func (o Options) Normalize() (Options, error) {
	if o.Format == "" {
		o.Format = render.JPEG
	}
	f, err := render.ParseFormat(string(o.Format))
	if err != nil {
		return o, err
	}
	o.Format = f
	if o.Quality == 0 {
		o.Quality = defaultQuality
	}
	o.Quality = max(minQuality, min(o.Quality, maxQuality))
	if err := o.Resize.validate(); err != nil {
		return o, err
	}
	if o.Resize.Mode == "" {
		o.Resize.Mode = ResizeOriginal
	}
	return o, nil
}

// Filters is the filter state every item is rendered with.
func (o Options) Filters() edit.FilterState {
	f := edit.DefaultFilters()
	if o.AutoBalance {
		f.Contrast = autoBalanceBoost
		f.Saturation = autoBalanceBoost
	}
	return f
}
