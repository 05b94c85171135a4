package edit

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// FilterField names one adjustable parameter of FilterState.
type FilterField string

const (
	FieldBrightness   FilterField = "brightness"
	FieldContrast     FilterField = "contrast"
	FieldSaturation   FilterField = "saturation"
	FieldExposure     FilterField = "exposure"
	FieldSepia        FilterField = "sepia"
	FieldGrayscale    FilterField = "grayscale"
	FieldBlur         FilterField = "blur"
	FieldHueRotate    FilterField = "hueRotate"
	FieldBorderRadius FilterField = "borderRadius"
)

// ErrUnknownField is returned when a field name does not match any adjustment.
var ErrUnknownField = errors.New("unknown adjustment field")

type valueRange struct {
	min, max, neutral float64
}

var filterRanges = map[FilterField]valueRange{
	FieldBrightness:   {0, 200, 100},
	FieldContrast:     {0, 200, 100},
	FieldSaturation:   {0, 200, 100},
	FieldExposure:     {-100, 100, 0},
	FieldSepia:        {0, 100, 0},
	FieldGrayscale:    {0, 100, 0},
	FieldBlur:         {0, 20, 0},
	FieldHueRotate:    {0, 360, 0},
	FieldBorderRadius: {0, 100, 0},
}

// FilterState is the set of colour adjustments applied to an image.
// Values are kept inside their declared ranges by Set and Clamped; the
// renderer trusts them as-is.
type FilterState struct {
	Brightness   float64 `json:"brightness" yaml:"brightness"`
	Contrast     float64 `json:"contrast" yaml:"contrast"`
	Saturation   float64 `json:"saturation" yaml:"saturation"`
	Exposure     float64 `json:"exposure" yaml:"exposure"`
	Sepia        float64 `json:"sepia" yaml:"sepia"`
	Grayscale    float64 `json:"grayscale" yaml:"grayscale"`
	Blur         float64 `json:"blur" yaml:"blur"`
	HueRotate    float64 `json:"hueRotate" yaml:"hueRotate"`
	BorderRadius float64 `json:"borderRadius" yaml:"borderRadius"`
}

// DefaultFilters returns the neutral adjustment set.
func DefaultFilters() FilterState {
	return FilterState{Brightness: 100, Contrast: 100, Saturation: 100}
}

// Fields lists every adjustment in declaration order.
func Fields() []FilterField {
	return []FilterField{
		FieldBrightness, FieldContrast, FieldSaturation, FieldExposure,
		FieldSepia, FieldGrayscale, FieldBlur, FieldHueRotate, FieldBorderRadius,
	}
}

func (f *FilterState) ptr(field FilterField) *float64 {
	switch field {
	case FieldBrightness:
		return &f.Brightness
	case FieldContrast:
		return &f.Contrast
	case FieldSaturation:
		return &f.Saturation
	case FieldExposure:
		return &f.Exposure
	case FieldSepia:
		return &f.Sepia
	case FieldGrayscale:
		return &f.Grayscale
	case FieldBlur:
		return &f.Blur
	case FieldHueRotate:
		return &f.HueRotate
	case FieldBorderRadius:
		return &f.BorderRadius
	}
	return nil
}

// Set assigns v to field, clamped to the field's range.
func (f *FilterState) Set(field FilterField, v float64) error {
	p := f.ptr(field)
	if p == nil {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	r := filterRanges[field]
	*p = clamp(v, r.min, r.max)
	return nil
}

// Get returns the current value of field.
func (f FilterState) Get(field FilterField) (float64, error) {
	p := f.ptr(field)
	if p == nil {
		return 0, fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	return *p, nil
}

// Clamped returns a copy with every field forced into range. Used on values
// that arrive from outside the process (JSON bodies, CLI flags, config).
func (f FilterState) Clamped() FilterState {
	out := f
	for _, field := range Fields() {
		p := out.ptr(field)
		r := filterRanges[field]
		if math.IsNaN(*p) {
			*p = r.neutral
		}
		*p = clamp(*p, r.min, r.max)
	}
	return out
}

// IsNeutral reports whether the state leaves pixels untouched.
func (f FilterState) IsNeutral() bool {
	return f == DefaultFilters()
}

// OpKind identifies one primitive of the filter chain.
type OpKind string

const (
	OpBrightness OpKind = "brightness"
	OpContrast   OpKind = "contrast"
	OpSaturate   OpKind = "saturate"
	OpBlur       OpKind = "blur"
	OpSepia      OpKind = "sepia"
	OpGrayscale  OpKind = "grayscale"
	OpHueRotate  OpKind = "hue-rotate"
)

// Op is a single colour primitive. Amount is a multiplier for brightness,
// contrast and saturate (1 = unchanged), a pixel radius for blur, a 0..1 mix
// for sepia and grayscale, and degrees for hue-rotate.
type Op struct {
	Kind   OpKind  `json:"kind"`
	Amount float64 `json:"amount"`
}

// Neutral reports whether the op has no visible effect.
func (o Op) Neutral() bool {
	switch o.Kind {
	case OpBrightness, OpContrast, OpSaturate:
		return o.Amount == 1
	case OpHueRotate:
		return math.Mod(o.Amount, 360) == 0
	default:
		return o.Amount == 0
	}
}

func (o Op) String() string {
	switch o.Kind {
	case OpBlur:
		return fmt.Sprintf("blur(%gpx)", o.Amount)
	case OpHueRotate:
		return fmt.Sprintf("hue-rotate(%gdeg)", o.Amount)
	default:
		return fmt.Sprintf("%s(%g)", o.Kind, o.Amount)
	}
}

// Chain is an ordered list of colour primitives. Order matters: the
// primitives do not commute.
type Chain []Op

func (c Chain) String() string {
	parts := make([]string, len(c))
	for i, op := range c {
		parts[i] = op.String()
	}
	return strings.Join(parts, " ")
}

// Chain maps the state to its primitives in the fixed order brightness,
// contrast, saturate, blur, sepia, grayscale, hue-rotate. Exposure is folded
// into the brightness multiplier as a power of two (±100 is ±1 stop).
func (f FilterState) Chain() Chain {
	return Chain{
		{Kind: OpBrightness, Amount: f.Brightness / 100 * math.Exp2(f.Exposure/100)},
		{Kind: OpContrast, Amount: f.Contrast / 100},
		{Kind: OpSaturate, Amount: f.Saturation / 100},
		{Kind: OpBlur, Amount: f.Blur},
		{Kind: OpSepia, Amount: f.Sepia / 100},
		{Kind: OpGrayscale, Amount: f.Grayscale / 100},
		{Kind: OpHueRotate, Amount: f.HueRotate},
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
