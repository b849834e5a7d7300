package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Timeframe paired interval and range controlling chart granularity and span.
type Timeframe struct {
	Label    string `json:"label"`
	Interval string `json:"interval"`
	Range    string `json:"range"`
}

var timeframes = []Timeframe{
	{Label: "1D", Interval: "30m", Range: "1d"},
	{Label: "7D", Interval: "4h", Range: "7d"},
	{Label: "1M", Interval: "4h", Range: "30d"},
	{Label: "3M", Interval: "1d", Range: "90d"},
	{Label: "1Y", Interval: "1w", Range: "365d"},
}

// DefaultTimeframe is used when the overlay opens.
var DefaultTimeframe = timeframes[0]

// Timeframes returns the supported presets.
func Timeframes() []Timeframe {
	out := make([]Timeframe, len(timeframes))
	copy(out, timeframes)
	return out
}

// TimeframeByLabel looks a preset up by its label.
func TimeframeByLabel(label string) (Timeframe, bool) {
	for _, tf := range timeframes {
		if tf.Label == label {
			return tf, true
		}
	}
	return Timeframe{}, false
}

// IntervalDuration returns the bucket size.
func (t Timeframe) IntervalDuration() (time.Duration, error) {
	return ParseSpan(t.Interval)
}

// RangeDuration returns the covered span.
func (t Timeframe) RangeDuration() (time.Duration, error) {
	return ParseSpan(t.Range)
}

// RangeDays returns the covered span in whole days, at least one.
func (t Timeframe) RangeDays() int {
	d, err := t.RangeDuration()
	if err != nil {
		return 1
	}
	days := int(d / (24 * time.Hour))
	if days < 1 {
		return 1
	}
	return days
}

// Buckets returns how many candles fit into the range.
func (t Timeframe) Buckets() (int, error) {
	interval, err := t.IntervalDuration()
	if err != nil {
		return 0, err
	}
	span, err := t.RangeDuration()
	if err != nil {
		return 0, err
	}
	n := int(span / interval)
	if n < 1 {
		n = 1
	}
	return n, nil
}

// Validate checks that interval and range parse.
func (t Timeframe) Validate() error {
	if _, err := t.IntervalDuration(); err != nil {
		return err
	}
	if _, err := t.RangeDuration(); err != nil {
		return err
	}
	return nil
}

// ParseSpan parses spans such as "30m", "4h", "7d" or "1w".
func ParseSpan(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid span: %q", s)
	}
	unit := s[len(s)-1]
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid span number: %q", s)
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported span unit: %c", unit)
	}
}
