package merge

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"pixelmind/internal/edit"
)

var (
	// ErrSelectionFull is returned when a fifth source is added.
	ErrSelectionFull = errors.New("merge selection is full")
	// ErrTooFewSources is returned when fewer than two sources are merged.
	ErrTooFewSources = errors.New("merge needs at least two sources")
)

const (
	MinSources = 2
	MaxSources = 4
)

// Direction is the primary axis images are laid out along.
type Direction string

const (
	Horizontal Direction = "horizontal"
	Vertical   Direction = "vertical"
)

// Align positions images on the cross axis.
type Align string

const (
	AlignStart  Align = "start"
	AlignCenter Align = "center"
	AlignEnd    Align = "end"
)

// Selection is the ordered set of source ids picked for a merge.
type Selection struct {
	ids []string
}

// Toggle adds id, or removes it if already selected. Adding beyond
// MaxSources fails and leaves the selection unchanged.
func (s *Selection) Toggle(id string) (selected bool, err error) {
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return false, nil
		}
	}
	if len(s.ids) >= MaxSources {
		return false, ErrSelectionFull
	}
	s.ids = append(s.ids, id)
	return true, nil
}

// Drop removes id if present, e.g. after the source was deleted.
func (s *Selection) Drop(id string) {
	for i, v := range s.ids {
		if v == id {
			s.ids = append(s.ids[:i], s.ids[i+1:]...)
			return
		}
	}
}

// IDs returns the selection in order.
func (s *Selection) IDs() []string { return append([]string(nil), s.ids...) }

func (s *Selection) Len() int { return len(s.ids) }

// Settings are the layout parameters of a merge.
type Settings struct {
	Direction  Direction `json:"direction" yaml:"direction"`
	Gap        int       `json:"gap" yaml:"gap"`
	Padding    int       `json:"padding" yaml:"padding"`
	Background string    `json:"background" yaml:"background"`
	Align      Align     `json:"align" yaml:"align"`
}

// DefaultSettings matches the editor's initial merge panel.
func DefaultSettings() Settings {
	return Settings{Direction: Horizontal, Gap: 10, Padding: 10, Background: "#0f172a", Align: AlignCenter}
}

// Normalize clamps negatives to zero and fills unknown enums with defaults.
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	if s.Direction != Horizontal && s.Direction != Vertical {
		s.Direction = def.Direction
	}
	switch s.Align {
	case AlignStart, AlignCenter, AlignEnd:
	default:
		s.Align = def.Align
	}
	s.Gap = max(0, s.Gap)
	s.Padding = max(0, s.Padding)
	if _, err := edit.ParseColor(s.Background); err != nil {
		s.Background = def.Background
	}
	return s
}

func (s Settings) background() color.NRGBA { return edit.MustColor(s.Background) }

// CanvasSize returns the combined canvas for images of the given sizes.
// Horizontally, width is the sum of widths plus gaps and both paddings and
// height is the tallest image plus both paddings; vertical is the transpose.
func CanvasSize(sizes []image.Point, s Settings) image.Point {
	var along, across int
	for _, sz := range sizes {
		a, c := axes(sz, s.Direction)
		along += a
		across = max(across, c)
	}
	if n := len(sizes); n > 1 {
		along += s.Gap * (n - 1)
	}
	along += 2 * s.Padding
	across += 2 * s.Padding
	if s.Direction == Vertical {
		return image.Pt(across, along)
	}
	return image.Pt(along, across)
}

// Placements returns the rectangle each image is drawn into, in order.
func Placements(sizes []image.Point, s Settings) []image.Rectangle {
	canvas := CanvasSize(sizes, s)
	_, span := axes(canvas, s.Direction)
	span -= 2 * s.Padding

	out := make([]image.Rectangle, len(sizes))
	pos := s.Padding
	for i, sz := range sizes {
		a, c := axes(sz, s.Direction)
		off := s.Padding
		switch s.Align {
		case AlignCenter:
			off += (span - c) / 2
		case AlignEnd:
			off += span - c
		}
		if s.Direction == Vertical {
			out[i] = image.Rect(off, pos, off+sz.X, pos+sz.Y)
		} else {
			out[i] = image.Rect(pos, off, pos+sz.X, off+sz.Y)
		}
		pos += a + s.Gap
	}
	return out
}

// axes splits a size into (primary, cross) lengths for d.
func axes(sz image.Point, d Direction) (int, int) {
	if d == Vertical {
		return sz.Y, sz.X
	}
	return sz.X, sz.Y
}

func validate(n int) error {
	if n < MinSources {
		return fmt.Errorf("%w: got %d", ErrTooFewSources, n)
	}
	if n > MaxSources {
		return fmt.Errorf("%w: got %d", ErrSelectionFull, n)
	}
	return nil
}
