package domain

import "github.com/shopspring/decimal"

// Candle open/high/low/close summary of one time bucket.
type Candle struct {
	Time  int64           `json:"time"`
	Open  decimal.Decimal `json:"open"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Close decimal.Decimal `json:"close"`
}

// Up reports whether the candle closed at or above its open.
func (c Candle) Up() bool {
	return c.Close.GreaterThanOrEqual(c.Open)
}

// BarColor direction colour of a volume bar.
type BarColor string

const (
	BarUp   BarColor = "up"
	BarDown BarColor = "down"
)

// VolumeBar histogram value aligned with a candle.
type VolumeBar struct {
	Time  int64           `json:"time"`
	Value decimal.Decimal `json:"value"`
	Color BarColor        `json:"color"`
}

// LinePoint single point of a line series.
type LinePoint struct {
	Time  int64           `json:"time"`
	Value decimal.Decimal `json:"value"`
}
