package domain

import "github.com/shopspring/decimal"

// Trust liquidity confidence of an exchange listing.
type Trust string

const (
	TrustHigh   Trust = "high"
	TrustMedium Trust = "medium"
	TrustLow    Trust = "low"
)

// MarketTicker read-only projection of an exchange listing.
type MarketTicker struct {
	Exchange  string          `json:"exchange"`
	Pair      string          `json:"pair"`
	LastPrice decimal.Decimal `json:"last_price"`
	Volume    decimal.Decimal `json:"volume"`
	Trust     Trust           `json:"trust"`
	TradeURL  string          `json:"trade_url"`
}
