package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricePoint canonical market snapshot for the tracked asset.
type PricePoint struct {
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
	High24h   decimal.Decimal `json:"high_24h"`
	Low24h    decimal.Decimal `json:"low_24h"`
	MarketCap decimal.Decimal `json:"market_cap"`
	Volume24h decimal.Decimal `json:"volume_24h"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"ts"`
}

// FlashDirection direction of the last accepted price change.
type FlashDirection string

const (
	FlashNone FlashDirection = "none"
	FlashUp   FlashDirection = "up"
	FlashDown FlashDirection = "down"
)

// DirectionOf returns the flash direction for a move from prev to next.
func DirectionOf(prev, next decimal.Decimal) FlashDirection {
	switch next.Cmp(prev) {
	case 1:
		return FlashUp
	case -1:
		return FlashDown
	default:
		return FlashNone
	}
}

// FlashState transient directional signal shown after a price change.
type FlashState struct {
	Direction FlashDirection `json:"direction"`
	ExpiresAt time.Time      `json:"expires_at,omitempty"`
}

// PriceSnapshotRecord a persisted price point with its log index.
type PriceSnapshotRecord struct {
	Index uint64     `json:"index"`
	Point PricePoint `json:"point"`
}
