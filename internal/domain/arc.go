package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// GeoPoint geographic coordinate with an optional place label.
type GeoPoint struct {
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
	Label string  `json:"label,omitempty"`
}

// Side buy/sell classification of a transaction.
type Side string

const (
	SideBuy     Side = "buy"
	SideSell    Side = "sell"
	SideUnknown Side = ""
)

// ParseSide maps free-form payload values onto a Side.
func ParseSide(s string) Side {
	switch s {
	case "buy", "BUY", "Buy", "b":
		return SideBuy
	case "sell", "SELL", "Sell", "s":
		return SideSell
	default:
		return SideUnknown
	}
}

// TransactionArc transient path between two places representing one transaction.
type TransactionArc struct {
	// ID canonical form of the source transaction hash.
	ID        string          `json:"id"`
	From      GeoPoint        `json:"from"`
	To        GeoPoint        `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Side      Side            `json:"side,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// StreamStats rolling counters over accepted stream events.
type StreamStats struct {
	Count       int64           `json:"count"`
	Buys        int64           `json:"buys"`
	Sells       int64           `json:"sells"`
	Volume      decimal.Decimal `json:"volume"`
	LastEventAt time.Time       `json:"last_event_at"`
}

// Add folds one accepted arc into the counters.
func (s *StreamStats) Add(arc TransactionArc) {
	s.Count++
	switch arc.Side {
	case SideBuy:
		s.Buys++
	case SideSell:
		s.Sells++
	}
	s.Volume = s.Volume.Add(arc.Amount)
	if arc.CreatedAt.After(s.LastEventAt) {
		s.LastEventAt = arc.CreatedAt
	}
}
