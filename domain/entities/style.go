package entities

// MarkerStyle describes how the client should render the marker for a
// category. The palette is fixed server-side so every annotator sees the
// same colors regardless of client configuration.
type MarkerStyle struct {
	Stroke   string  `json:"stroke"`
	Fill     string  `json:"fill"`
	FontSize float64 `json:"font_size"`
}

var markerStyles = map[Category]MarkerStyle{
	CategoryNeume: {
		Stroke:   "#b45309",
		Fill:     "rgba(180, 83, 9, 0.15)",
		FontSize: 13,
	},
	CategorySyllable: {
		Stroke:   "#1d4ed8",
		Fill:     "rgba(29, 78, 216, 0.12)",
		FontSize: 15,
	},
}

// StyleFor returns the marker style for a category. Unknown categories
// get the syllable style, mirroring how classification falls back.
func StyleFor(category Category) MarkerStyle {
	if style, ok := markerStyles[category]; ok {
		return style
	}
	return markerStyles[CategorySyllable]
}

// StylePalette returns the full category to style mapping.
func StylePalette() map[Category]MarkerStyle {
	palette := make(map[Category]MarkerStyle, len(markerStyles))
	for category, style := range markerStyles {
		palette[category] = style
	}
	return palette
}
