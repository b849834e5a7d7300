package clients

import (
	"github.com/adshao/go-binance/v2"
)

// NewBinanceClient returns a REST client. Market data endpoints work without keys.
func NewBinanceClient(apiKey, apiSecret string) *binance.Client {
	return binance.NewClient(apiKey, apiSecret)
}
