package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/marketpulse/internal/domain"
)

// HTTPResolver asks a remote lookup service: GET {endpoint}?id={id}.
// A 404 means the identifier is unknown.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
}

// NewHTTPResolver creates a resolver for endpoint.
func NewHTTPResolver(endpoint string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type lookupResponse struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	Label string   `json:"label"`
}

// Resolve implements Resolver.
func (r *HTTPResolver) Resolve(ctx context.Context, id string) (domain.GeoPoint, error) {
	if id == "" {
		return domain.GeoPoint{}, errors.Wrap(ErrUnresolvable, "empty identifier")
	}

	u := r.endpoint + "?id=" + url.QueryEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return domain.GeoPoint{}, errors.Wrap(err, "build geo request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return domain.GeoPoint{}, errors.Wrap(err, "geo lookup")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.GeoPoint{}, errors.Wrapf(ErrUnresolvable, "no place for %q", id)
	case resp.StatusCode != http.StatusOK:
		return domain.GeoPoint{}, errors.Errorf("geo lookup: unexpected status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.GeoPoint{}, errors.Wrap(err, "decode geo response")
	}
	if body.Lat == nil || body.Lon == nil {
		return domain.GeoPoint{}, errors.Wrapf(ErrUnresolvable, "no coordinates for %q", id)
	}

	return domain.GeoPoint{Lat: *body.Lat, Lon: *body.Lon, Label: body.Label}, nil
}
