package domain

// ViewMode mutually exclusive chart presentation.
type ViewMode string

const (
	ViewCandles ViewMode = "candles"
	ViewLine    ViewMode = "line"
	ViewArea    ViewMode = "area"
	ViewBars    ViewMode = "bars"
)

// Valid reports whether v is a known view mode.
func (v ViewMode) Valid() bool {
	switch v {
	case ViewCandles, ViewLine, ViewArea, ViewBars:
		return true
	default:
		return false
	}
}

// Theme visual style of the widget.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// ChartViewConfig user-selected chart configuration.
type ChartViewConfig struct {
	ViewMode  ViewMode  `json:"view_mode"`
	Timeframe Timeframe `json:"timeframe"`
	Theme     Theme     `json:"theme"`
}
