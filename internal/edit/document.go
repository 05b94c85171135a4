package edit

// Document is the full editable state of one image: filters, geometry and
// text layers. It has no knowledge of pixels or history.
type Document struct {
	Filters   FilterState
	Transform TransformState
	Texts     *Overlays
}

// NewDocument returns a document with neutral filters, identity transform
// and no text.
func NewDocument() *Document {
	return &Document{
		Filters:   DefaultFilters(),
		Transform: DefaultTransform(),
		Texts:     NewOverlays(),
	}
}

// Snapshot deep-copies the current state.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		Filters:   d.Filters,
		Transform: d.Transform,
		Texts:     d.Texts.List(),
	}
}

// Restore replaces the current state with s.
func (d *Document) Restore(s Snapshot) {
	d.Filters = s.Filters
	d.Transform = s.Transform
	d.Texts.Replace(s.Texts)
}

// ApplyPreset assigns the preset's values to every filter field.
func (d *Document) ApplyPreset(p Preset) {
	d.Filters = p.Values
}

// Reset restores neutral filters and the identity transform. Text layers
// are kept.
func (d *Document) Reset() {
	d.Filters = DefaultFilters()
	d.Transform = DefaultTransform()
}

// ResetGeometry clears transform and text layers; used when the underlying
// bitmap is replaced and old coordinates no longer apply.
func (d *Document) ResetGeometry() {
	d.Transform = DefaultTransform()
	d.Texts.Replace(nil)
}
