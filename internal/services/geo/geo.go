// Package geo resolves account and region identifiers to coordinates.
package geo

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/domain"
)

// ErrUnresolvable is returned when an identifier has no coordinates.
var ErrUnresolvable = errors.New("unresolvable geo identifier")

// Resolver maps an identifier to a point.
type Resolver interface {
	Resolve(ctx context.Context, id string) (domain.GeoPoint, error)
}

// Table resolves known identifiers from a fixed table and spreads unknown
// ones deterministically across hub locations.
type Table struct {
	places map[string]domain.GeoPoint
	hubs   []domain.GeoPoint
}

// NewTable creates a table. Identifiers are matched case-insensitively.
func NewTable(places map[string]domain.GeoPoint, hubs []domain.GeoPoint) *Table {
	normalized := make(map[string]domain.GeoPoint, len(places))
	for id, p := range places {
		normalized[strings.ToLower(strings.TrimSpace(id))] = p
	}
	return &Table{places: normalized, hubs: hubs}
}

// Resolve implements Resolver.
func (t *Table) Resolve(_ context.Context, id string) (domain.GeoPoint, error) {
	key := strings.ToLower(strings.TrimSpace(id))
	if key == "" {
		return domain.GeoPoint{}, errors.Wrap(ErrUnresolvable, "empty identifier")
	}
	if p, ok := t.places[key]; ok {
		return p, nil
	}
	if len(t.hubs) == 0 {
		return domain.GeoPoint{}, errors.Wrapf(ErrUnresolvable, "no place for %q", id)
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return t.hubs[h.Sum32()%uint32(len(t.hubs))], nil
}

// DefaultHubs major exchange and financial centres.
func DefaultHubs() []domain.GeoPoint {
	return []domain.GeoPoint{
		{Lat: 40.71, Lon: -74.01, Label: "New York"},
		{Lat: 51.51, Lon: -0.13, Label: "London"},
		{Lat: 50.11, Lon: 8.68, Label: "Frankfurt"},
		{Lat: 35.68, Lon: 139.69, Label: "Tokyo"},
		{Lat: 1.35, Lon: 103.82, Label: "Singapore"},
		{Lat: 22.32, Lon: 114.17, Label: "Hong Kong"},
		{Lat: 37.57, Lon: 126.98, Label: "Seoul"},
		{Lat: 25.20, Lon: 55.27, Label: "Dubai"},
		{Lat: 47.37, Lon: 8.54, Label: "Zurich"},
		{Lat: 37.77, Lon: -122.42, Label: "San Francisco"},
		{Lat: -23.55, Lon: -46.63, Label: "Sao Paulo"},
		{Lat: -33.87, Lon: 151.21, Label: "Sydney"},
	}
}
