// Package stream turns a live transaction feed into a bounded set of
// renderable arcs plus rolling statistics.
package stream

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
)

// ErrMalformedEvent marks a feed payload that cannot be turned into an arc.
var ErrMalformedEvent = errors.New("malformed stream event")

// Event single transaction reported by the feed.
type Event struct {
	From      string
	To        string
	Amount    decimal.Decimal
	Currency  string
	Hash      string
	Side      domain.Side
	Timestamp time.Time
}

type wireEvent struct {
	From      string           `json:"from"`
	To        string           `json:"to"`
	Amount    *decimal.Decimal `json:"amount"`
	Currency  string           `json:"currency"`
	Hash      string           `json:"hash"`
	Timestamp int64            `json:"timestamp"`
	Side      string           `json:"side"`
}

// Decode parses a raw feed payload. Every failure wraps ErrMalformedEvent.
func Decode(raw []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return Event{}, errors.Wrap(ErrMalformedEvent, err.Error())
	}

	switch {
	case strings.TrimSpace(w.Hash) == "":
		return Event{}, errors.Wrap(ErrMalformedEvent, "missing hash")
	case w.From == "" || w.To == "":
		return Event{}, errors.Wrap(ErrMalformedEvent, "missing endpoint")
	case w.Amount == nil:
		return Event{}, errors.Wrap(ErrMalformedEvent, "missing amount")
	case w.Amount.IsNegative():
		return Event{}, errors.Wrapf(ErrMalformedEvent, "negative amount %s", w.Amount.String())
	}

	return Event{
		From:      w.From,
		To:        w.To,
		Amount:    *w.Amount,
		Currency:  strings.ToUpper(w.Currency),
		Hash:      w.Hash,
		Side:      domain.ParseSide(w.Side),
		Timestamp: parseTimestamp(w.Timestamp),
	}, nil
}

// feeds report either unix seconds or unix milliseconds
func parseTimestamp(ts int64) time.Time {
	switch {
	case ts <= 0:
		return time.Time{}
	case ts < 1e12:
		return time.Unix(ts, 0)
	default:
		return time.UnixMilli(ts)
	}
}

// ArcID derives the stable arc identifier from a transaction hash.
// Hex hashes are normalised, anything else is keyed by its Keccak-256 digest.
func ArcID(hash string) string {
	h := strings.TrimSpace(hash)
	if isHexHash(h) {
		return common.HexToHash(h).Hex()
	}
	return crypto.Keccak256Hash([]byte(h)).Hex()
}

func isHexHash(s string) bool {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		s = s[2:]
	}
	if s == "" || len(s) > 2*common.HashLength {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
			return false
		}
	}
	return true
}
