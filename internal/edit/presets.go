package edit

// Preset is a named, complete FilterState. Applying one replaces every field,
// so a preset that does not touch a field carries its neutral value.
type Preset struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Values      FilterState `json:"values"`
}

// Presets is the built-in filter catalogue.
var Presets = []Preset{
	{
		ID:          "original",
		Name:        "Original",
		Description: "No adjustments",
		Values:      DefaultFilters(),
	},
	{
		ID:          "vivid",
		Name:        "Vivid",
		Description: "Punchy colour and contrast",
		Values:      FilterState{Brightness: 105, Contrast: 120, Saturation: 140},
	},
	{
		ID:          "mono",
		Name:        "Mono",
		Description: "Classic black and white",
		Values:      FilterState{Brightness: 100, Contrast: 120, Saturation: 100, Grayscale: 100},
	},
	{
		ID:          "vintage",
		Name:        "Vintage",
		Description: "Warm faded film",
		Values:      FilterState{Brightness: 110, Contrast: 90, Saturation: 80, Sepia: 40},
	},
	{
		ID:          "cool",
		Name:        "Cool",
		Description: "Blue shifted tones",
		Values:      FilterState{Brightness: 100, Contrast: 105, Saturation: 110, HueRotate: 200},
	},
	{
		ID:          "warm",
		Name:        "Warm",
		Description: "Golden hour glow",
		Values:      FilterState{Brightness: 108, Contrast: 100, Saturation: 120, Sepia: 20},
	},
	{
		ID:          "dramatic",
		Name:        "Dramatic",
		Description: "Deep shadows and strong contrast",
		Values:      FilterState{Brightness: 90, Contrast: 150, Saturation: 90, Exposure: -20},
	},
	{
		ID:          "fade",
		Name:        "Fade",
		Description: "Soft low-contrast matte",
		Values:      FilterState{Brightness: 115, Contrast: 75, Saturation: 70, Grayscale: 10},
	},
}

// PresetByID looks up a preset by its identifier.
func PresetByID(id string) (Preset, bool) {
	for _, p := range Presets {
		if p.ID == id {
			return p, true
		}
	}
	return Preset{}, false
}
