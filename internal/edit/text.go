package edit

import (
	"math"
	"strings"

	"github.com/google/uuid"
)

// FontWeight selects the face used for an overlay.
type FontWeight string

const (
	WeightNormal FontWeight = "normal"
	WeightBold   FontWeight = "bold"
)

const maxFontSize = 2000

// TextOverlay is one independently positioned text layer. X and Y are
// percentages of the final canvas and mark the centre of the text.
type TextOverlay struct {
	ID         string     `json:"id" yaml:"id"`
	Text       string     `json:"text" yaml:"text"`
	X          float64    `json:"x" yaml:"x"`
	Y          float64    `json:"y" yaml:"y"`
	FontSize   float64    `json:"fontSize" yaml:"fontSize"`
	Color      string     `json:"color" yaml:"color"`
	Rotation   float64    `json:"rotation" yaml:"rotation"`
	FontWeight FontWeight `json:"fontWeight" yaml:"fontWeight"`
}

// TextPatch carries the fields of an overlay that an update changes.
type TextPatch struct {
	Text       *string     `json:"text,omitempty"`
	X          *float64    `json:"x,omitempty"`
	Y          *float64    `json:"y,omitempty"`
	FontSize   *float64    `json:"fontSize,omitempty"`
	Color      *string     `json:"color,omitempty"`
	Rotation   *float64    `json:"rotation,omitempty"`
	FontWeight *FontWeight `json:"fontWeight,omitempty"`
}

// NewOverlay returns an overlay with the default style, centred on the canvas.
func NewOverlay(id string) TextOverlay {
	return TextOverlay{
		ID:         id,
		Text:       "New title",
		X:          50,
		Y:          50,
		FontSize:   60,
		Color:      "#ffffff",
		FontWeight: WeightBold,
	}
}

// Apply merges p into t, clamping numeric fields. Invalid colours and
// weights are ignored.
func (t *TextOverlay) Apply(p TextPatch) {
	if p.Text != nil {
		t.Text = *p.Text
	}
	if p.X != nil {
		t.X = clampPercent(*p.X, t.X)
	}
	if p.Y != nil {
		t.Y = clampPercent(*p.Y, t.Y)
	}
	if p.FontSize != nil && !math.IsNaN(*p.FontSize) {
		t.FontSize = clamp(*p.FontSize, 1, maxFontSize)
	}
	if p.Color != nil {
		if c, err := ParseColor(*p.Color); err == nil {
			t.Color = strings.ToLower(HexColor(c))
		}
	}
	if p.Rotation != nil && !math.IsNaN(*p.Rotation) && !math.IsInf(*p.Rotation, 0) {
		t.Rotation = normalizeDegrees(*p.Rotation)
	}
	if p.FontWeight != nil {
		switch *p.FontWeight {
		case WeightNormal, WeightBold:
			t.FontWeight = *p.FontWeight
		}
	}
}

// Sanitized returns a copy with every field forced into range.
func (t TextOverlay) Sanitized() TextOverlay {
	out := NewOverlay(t.ID)
	w := t.FontWeight
	p := TextPatch{
		Text: &t.Text, X: &t.X, Y: &t.Y,
		Color: &t.Color, Rotation: &t.Rotation, FontWeight: &w,
	}
	if t.FontSize > 0 {
		p.FontSize = &t.FontSize
	}
	out.Apply(p)
	return out
}

func clampPercent(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return clamp(v, 0, 100)
}

func normalizeDegrees(v float64) float64 {
	v = math.Mod(v, 360)
	if v < 0 {
		v += 360
	}
	return v
}

// Overlays is the ordered text layer collection of one document. Order is
// paint order: later entries draw on top.
type Overlays struct {
	items  []TextOverlay
	active string
	newID  func() string
}

// NewOverlays returns an empty collection with random ids.
func NewOverlays() *Overlays {
	return &Overlays{newID: func() string { return uuid.NewString()[:8] }}
}

// Add appends a default overlay and makes it the active layer.
func (o *Overlays) Add() TextOverlay {
	id := o.newID()
	for o.index(id) >= 0 {
		id = o.newID()
	}
	t := NewOverlay(id)
	o.items = append(o.items, t)
	o.active = id
	return t
}

// Update merges p into the overlay with the given id. Unknown ids are ignored
// and reported as false.
func (o *Overlays) Update(id string, p TextPatch) bool {
	i := o.index(id)
	if i < 0 {
		return false
	}
	o.items[i].Apply(p)
	return true
}

// Remove deletes the overlay with the given id, clearing the active
// selection if it pointed there.
func (o *Overlays) Remove(id string) bool {
	i := o.index(id)
	if i < 0 {
		return false
	}
	o.items = append(o.items[:i], o.items[i+1:]...)
	if o.active == id {
		o.active = ""
	}
	return true
}

// Active returns the layer selected for editing, if any.
func (o *Overlays) Active() (TextOverlay, bool) {
	i := o.index(o.active)
	if i < 0 {
		return TextOverlay{}, false
	}
	return o.items[i], true
}

// SetActive selects id for editing; an empty id clears the selection.
func (o *Overlays) SetActive(id string) bool {
	if id == "" {
		o.active = ""
		return true
	}
	if o.index(id) < 0 {
		return false
	}
	o.active = id
	return true
}

// List returns a copy of the layers in paint order.
func (o *Overlays) List() []TextOverlay {
	return append([]TextOverlay(nil), o.items...)
}

func (o *Overlays) Len() int { return len(o.items) }

// Replace swaps in a new layer list, dropping the active selection if its
// layer is gone.
func (o *Overlays) Replace(items []TextOverlay) {
	o.items = append([]TextOverlay(nil), items...)
	if o.index(o.active) < 0 {
		o.active = ""
	}
}

func (o *Overlays) index(id string) int {
	if id == "" {
		return -1
	}
	for i := range o.items {
		if o.items[i].ID == id {
			return i
		}
	}
	return -1
}
