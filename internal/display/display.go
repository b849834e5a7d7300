// Package display formats price snapshots for constrained and full layouts.
package display

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/marketpulse/internal/domain"
	"github.com/vadiminshakov/marketpulse/internal/services/price"
)

// Layout of a price label.
type Layout string

const (
	LayoutCompact Layout = "compact"
	LayoutFull    Layout = "full"
)

// Label is a formatted price snapshot. Fields not shown in a layout are empty.
type Label struct {
	Layout    Layout                `json:"layout"`
	Price     string                `json:"price"`
	Change    string                `json:"change"`
	High      string                `json:"high,omitempty"`
	Low       string                `json:"low,omitempty"`
	MarketCap string                `json:"market_cap,omitempty"`
	Volume    string                `json:"volume,omitempty"`
	Flash     domain.FlashDirection `json:"flash"`
	Falling   bool                  `json:"falling"`
}

// Format renders s in layout.
func Format(s price.Snapshot, layout Layout) Label {
	l := Label{
		Layout:  layout,
		Price:   Price(s.Price),
		Change:  Percent(s.Change24h),
		Flash:   s.Flash.Direction,
		Falling: s.Change24h.IsNegative(),
	}
	if l.Flash == "" {
		l.Flash = domain.FlashNone
	}

	switch layout {
	case LayoutFull:
		l.High = Price(s.High24h)
		l.Low = Price(s.Low24h)
		l.MarketCap = "$" + Thousands(s.MarketCap.StringFixed(0))
		l.Volume = "$" + Thousands(s.Volume24h.StringFixed(0))
	default:
		l.Layout = LayoutCompact
		l.MarketCap = "$" + Compact(s.MarketCap)
		l.Volume = "$" + Compact(s.Volume24h)
	}
	return l
}

// Price formats d with precision that depends on its magnitude.
func Price(d decimal.Decimal) string {
	abs := d.Abs()
	var places int32
	switch {
	case abs.GreaterThanOrEqual(decimal.NewFromInt(1)):
		places = 2
	case abs.GreaterThanOrEqual(decimal.New(1, -2)):
		places = 4
	default:
		places = 8
	}
	if d.IsNegative() {
		return "-$" + Thousands(abs.StringFixed(places))
	}
	return "$" + Thousands(d.StringFixed(places))
}

// Percent formats a percentage with an explicit sign.
func Percent(d decimal.Decimal) string {
	s := d.StringFixed(2)
	if !d.IsNegative() {
		s = "+" + s
	}
	return s + "%"
}

var suffixes = []struct {
	scale  decimal.Decimal
	suffix string
}{
	{decimal.New(1, 12), "T"},
	{decimal.New(1, 9), "B"},
	{decimal.New(1, 6), "M"},
	{decimal.New(1, 3), "K"},
}

// Compact abbreviates large values, e.g. 1234567 as 1.23M.
func Compact(d decimal.Decimal) string {
	abs := d.Abs()
	for _, s := range suffixes {
		if abs.GreaterThanOrEqual(s.scale) {
			return d.Div(s.scale).StringFixed(2) + s.suffix
		}
	}
	return d.StringFixed(2)
}

// Thousands inserts separators into the integer part of a decimal string.
func Thousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return sign + b.String()
}

var (
	upStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#73F59F")).Bold(true)
	downStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true)
	neutralStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#9E9E9E"})
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// Terminal renders the label for a terminal; the price takes the flash colour.
func (l Label) Terminal() string {
	priceStyle := neutralStyle
	switch l.Flash {
	case domain.FlashUp:
		priceStyle = upStyle
	case domain.FlashDown:
		priceStyle = downStyle
	}
	changeStyle := upStyle
	if l.Falling {
		changeStyle = downStyle
	}

	line := priceStyle.Render(l.Price) + " " + changeStyle.Render(l.Change)
	if l.Layout == LayoutCompact {
		return line + mutedStyle.Render("  vol "+l.Volume)
	}

	rows := []string{
		line,
		mutedStyle.Render("24h high " + l.High + "  low " + l.Low),
		mutedStyle.Render("mcap " + l.MarketCap + "  vol " + l.Volume),
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}
