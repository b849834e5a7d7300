// Package ohlc turns raw historical price arrays into candle and volume series.
package ohlc

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/pkg/indicators"
)

// VolumeApproximation labels volume bars derived from price movement.
const VolumeApproximation = "approx. volume (|close - open|)"

const (
	trendPeriod      = 20
	momentumPeriod   = 14
	volatilityPeriod = 14
)

// RawCandle one [timestamp, open, high, low, close] row.
type RawCandle struct {
	Time  int64
	Open  decimal.Decimal
	High  decimal.Decimal
	Low   decimal.Decimal
	Close decimal.Decimal
}

// UnmarshalJSON decodes a row whose elements are numbers or numeric strings.
func (r *RawCandle) UnmarshalJSON(b []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(b, &row); err != nil {
		return errors.Wrap(err, "ohlc row is not an array")
	}
	if len(row) < 5 {
		return errors.Errorf("ohlc row has %d elements, want 5", len(row))
	}

	ts, err := strconv.ParseFloat(unquote(row[0]), 64)
	if err != nil {
		return errors.Wrapf(err, "failed to parse timestamp: %s", row[0])
	}
	r.Time = int64(ts)

	fields := []*decimal.Decimal{&r.Open, &r.High, &r.Low, &r.Close}
	for i, dst := range fields {
		v, err := decimal.NewFromString(unquote(row[i+1]))
		if err != nil {
			return errors.Wrapf(err, "failed to parse price at column %d", i+1)
		}
		*dst = v
	}
	return nil
}

// MarshalJSON encodes the row back into array form.
func (r RawCandle) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{r.Time, r.Open, r.High, r.Low, r.Close})
}

func unquote(m json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(m)), `"`)
}

// Series renderable output of one fetch.
type Series struct {
	Candles []domain.Candle    `json:"candles"`
	Volume  []domain.VolumeBar `json:"volume"`
	// Trend is EMA(20) of closes, empty for short series.
	Trend       []domain.LinePoint  `json:"trend,omitempty"`
	High        decimal.Decimal     `json:"high"`
	Low         decimal.Decimal     `json:"low"`
	Momentum    decimal.NullDecimal `json:"rsi14"`
	Volatility  decimal.NullDecimal `json:"atr14"`
	VolumeLabel string              `json:"volume_label"`
}

// Empty reports whether the series has no candles.
func (s Series) Empty() bool {
	return len(s.Candles) == 0
}

// Transform maps raw rows to a series. The result depends only on raw:
// rows are ordered by time and for repeated timestamps the last row wins.
func Transform(raw []RawCandle) Series {
	rows := make([]RawCandle, len(raw))
	copy(rows, raw)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time < rows[j].Time })

	deduped := rows[:0]
	for _, r := range rows {
		if n := len(deduped); n > 0 && deduped[n-1].Time == r.Time {
			deduped[n-1] = r
			continue
		}
		deduped = append(deduped, r)
	}

	s := Series{
		Candles:     make([]domain.Candle, 0, len(deduped)),
		Volume:      make([]domain.VolumeBar, 0, len(deduped)),
		VolumeLabel: VolumeApproximation,
	}
	for i, r := range deduped {
		c := domain.Candle{Time: r.Time, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close}
		s.Candles = append(s.Candles, c)

		color := domain.BarDown
		if c.Up() {
			color = domain.BarUp
		}
		s.Volume = append(s.Volume, domain.VolumeBar{
			Time:  c.Time,
			Value: c.Close.Sub(c.Open).Abs(),
			Color: color,
		})

		if i == 0 || c.High.GreaterThan(s.High) {
			s.High = c.High
		}
		if i == 0 || c.Low.LessThan(s.Low) {
			s.Low = c.Low
		}
	}

	s.Trend = trendLine(s.Candles)
	s.Momentum, s.Volatility = oscillators(s.Candles)
	return s
}

func closes(candles []domain.Candle) []decimal.Decimal {
	out := make([]decimal.Decimal, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func trendLine(candles []domain.Candle) []domain.LinePoint {
	if len(candles) < trendPeriod {
		return nil
	}
	ema, err := indicators.CalculateEMA(closes(candles), trendPeriod)
	if err != nil || len(ema) == 0 {
		return nil
	}

	// the indicator drops its warm-up, align to the newest candles
	offset := len(candles) - len(ema)
	if offset < 0 {
		ema = ema[-offset:]
		offset = 0
	}
	out := make([]domain.LinePoint, len(ema))
	for i, v := range ema {
		out[i] = domain.LinePoint{Time: candles[offset+i].Time, Value: v.Round(8)}
	}
	return out
}

func oscillators(candles []domain.Candle) (rsi, atr decimal.NullDecimal) {
	if values, err := indicators.CalculateRSI(closes(candles), momentumPeriod); err == nil {
		if v, ok := indicators.Last(values); ok {
			rsi = decimal.NewNullDecimal(v.Round(2))
		}
	}

	data := make([]indicators.PriceData, len(candles))
	for i, c := range candles {
		data[i] = indicators.PriceData{Open: c.Open, High: c.High, Low: c.Low, Close: c.Close}
	}
	if values, err := indicators.CalculateATR(data, volatilityPeriod); err == nil {
		if v, ok := indicators.Last(values); ok {
			atr = decimal.NewNullDecimal(v.Round(8))
		}
	}
	return rsi, atr
}

// PriceAt returns the close of the candle covering t: the candle starting at
// t or the last one before it.
func (s Series) PriceAt(t int64) (decimal.Decimal, bool) {
	i := sort.Search(len(s.Candles), func(i int) bool { return s.Candles[i].Time > t })
	if i == 0 {
		return decimal.Decimal{}, false
	}
	return s.Candles[i-1].Close, true
}

// DisplayPrice resolves the price to show for an optional crosshair position,
// falling back to live.
func (s Series) DisplayPrice(crosshair *int64, live decimal.Decimal) decimal.Decimal {
	if crosshair == nil {
		return live
	}
	if p, ok := s.PriceAt(*crosshair); ok {
		return p
	}
	return live
}

// Latest returns the newest candle.
func (s Series) Latest() (domain.Candle, bool) {
	if len(s.Candles) == 0 {
		return domain.Candle{}, false
	}
	return s.Candles[len(s.Candles)-1], true
}
