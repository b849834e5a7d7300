package clients

import (
	"github.com/hirokisan/bybit/v2"
)

// NewBybitClient returns a v5 client, authenticated only when keys are set.
func NewBybitClient(apiKey, apiSecret string) *bybit.Client {
	client := bybit.NewClient()
	if apiKey != "" && apiSecret != "" {
		client = client.WithAuth(apiKey, apiSecret)
	}
	return client
}
