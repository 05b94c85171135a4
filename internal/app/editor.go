package app

import (
	"context"
	"fmt"
	"image"

	"pixelmind/internal/edit"
	"pixelmind/internal/logging"
	"pixelmind/internal/render"
)

// Drag phases of a continuous gesture.
const (
	DragBegin = "begin"
	DragEnd   = "end"
)

// Edit is one editor command as sent by a view. Fields left at their zero
// value are ignored; several may be combined and are applied in declaration
// order as a single undo step.
type Edit struct {
	// Drag opens ("begin") or closes ("end") a continuous gesture. Commands
	// sent between the two share one undo step.
	Drag string `json:"drag,omitempty"`

	Field  edit.FilterField `json:"field,omitempty"`
	Value  float64          `json:"value,omitempty"`
	Preset string           `json:"preset,omitempty"`
	Reset  bool             `json:"reset,omitempty"`

	Rotate    bool      `json:"rotate,omitempty"`
	FlipH     bool      `json:"flipH,omitempty"`
	FlipV     bool      `json:"flipV,omitempty"`
	CropEdge  edit.Edge `json:"cropEdge,omitempty"`
	CropDelta float64   `json:"cropDelta,omitempty"`
	// Aspect is a width/height ratio; zero clears the crop.
	Aspect *float64 `json:"aspect,omitempty"`

	AddText    bool            `json:"addText,omitempty"`
	TextID     string          `json:"textId,omitempty"`
	TextPatch  *edit.TextPatch `json:"textPatch,omitempty"`
	RemoveText bool            `json:"removeText,omitempty"`
	SelectText bool            `json:"selectText,omitempty"`

	Undo bool `json:"undo,omitempty"`
}

func (e Edit) validate() error {
	if e.Drag != "" && e.Drag != DragBegin && e.Drag != DragEnd {
		return fmt.Errorf("unknown drag phase %q", e.Drag)
	}
	if e.Field != "" {
		if _, err := edit.DefaultFilters().Get(e.Field); err != nil {
			return err
		}
	}
	if e.Preset != "" {
		if _, ok := edit.PresetByID(e.Preset); !ok {
			return fmt.Errorf("unknown preset %q", e.Preset)
		}
	}
	if e.CropEdge != "" {
		t := edit.DefaultTransform()
		if err := t.AdjustCrop(e.CropEdge, 0); err != nil {
			return err
		}
	}
	if (e.TextPatch != nil || e.RemoveText || e.SelectText) && e.TextID == "" {
		return fmt.Errorf("text command needs a textId")
	}
	return nil
}

func (e Edit) mutates() bool {
	return e.Reset || e.Preset != "" || e.Field != "" || e.Rotate || e.FlipH || e.FlipV || e.CropEdge != "" ||
		e.Aspect != nil || e.AddText || e.TextPatch != nil || e.RemoveText
}

// ApplyEdit runs one command against the open session and returns the new
// state. Invalid commands are rejected before anything changes.
func (c *Controller) ApplyEdit(e Edit) (edit.Snapshot, error) {
	sess, src, _, err := c.current()
	if err != nil {
		return edit.Snapshot{}, err
	}
	if err := e.validate(); err != nil {
		return edit.Snapshot{}, err
	}

	if e.Undo {
		sess.Undo()
		return sess.State(), nil
	}
	if e.Drag == DragBegin {
		sess.Begin()
	}
	if e.mutates() {
		var w, h int
		if e.Aspect != nil {
			if img, ok := src.Decoded(); ok {
				w, h = img.Bounds().Dx(), img.Bounds().Dy()
			}
		}
		sess.Apply(func(d *edit.Document) {
			if e.Reset {
				d.Reset()
			}
			if e.Preset != "" {
				p, _ := edit.PresetByID(e.Preset)
				d.ApplyPreset(p)
			}
			if e.Field != "" {
				_ = d.Filters.Set(e.Field, e.Value)
			}
			if e.Rotate {
				d.Transform.RotateCW()
			}
			if e.FlipH {
				d.Transform.FlipHorizontal()
			}
			if e.FlipV {
				d.Transform.FlipVertical()
			}
			if e.CropEdge != "" {
				_ = d.Transform.AdjustCrop(e.CropEdge, e.CropDelta)
			}
			if e.Aspect != nil {
				d.Transform.ApplyAspect(*e.Aspect, w, h)
			}
			if e.AddText {
				d.Texts.Add()
			}
			if e.TextPatch != nil {
				d.Texts.Update(e.TextID, *e.TextPatch)
			}
			if e.RemoveText {
				d.Texts.Remove(e.TextID)
			}
		})
	}
	if e.SelectText {
		sess.Select(e.TextID)
	}
	if e.Drag == DragEnd {
		sess.End()
	}
	return sess.State(), nil
}

// Render draws the open session. It waits for the source to finish decoding.
func (c *Controller) Render(ctx context.Context) (*image.NRGBA, error) {
	img, _, err := c.render(ctx)
	return img, err
}

func (c *Controller) render(ctx context.Context) (*image.NRGBA, edit.Snapshot, error) {
	sess, src, _, err := c.current()
	if err != nil {
		return nil, edit.Snapshot{}, err
	}
	if _, err := src.Decode(ctx); err != nil {
		return nil, edit.Snapshot{}, err
	}
	st := sess.State()
	img, err := c.comp.Render(ctx, src, st.Filters, st.Transform, st.Texts)
	return img, st, err
}

// Export is an encoded file ready for download.
type Export struct {
	Name   string
	Format render.Format
	Data   []byte
}

// ExportCurrent renders the open session and encodes it for download: PNG
// when corners are rounded or pixels are transparent, JPEG otherwise.
func (c *Controller) ExportCurrent(ctx context.Context) (Export, error) {
	img, st, err := c.render(ctx)
	if err != nil {
		return Export{}, err
	}
	f := render.ChooseFormat(img, st.Filters.BorderRadius)
	data, err := render.EncodeBytes(img, f, c.cfg.Editor.JPEGQuality)
	if err != nil {
		return Export{}, err
	}
	out := Export{Name: render.ExportName(c.now(), f), Format: f, Data: data}
	logging.LogExport(c.log, out.Name, len(data), string(f))
	return out, nil
}

// Sample returns the colour under a click on a displayed preview of the
// rendered image.
func (c *Controller) Sample(ctx context.Context, displayed, pt image.Point) (string, error) {
	img, err := c.Render(ctx)
	if err != nil {
		return "", err
	}
	return render.SampleColor(img, displayed, pt)
}
