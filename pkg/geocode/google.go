package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
)

const googleGeocodeURL = "https://maps.googleapis.com/maps/api/geocode/json"

// googleGeocodeResponse is the JSON response from the Google Geocoding API.
type googleGeocodeResponse struct {
	Results      []googleResult `json:"results"`
	Status       string         `json:"status"`
	ErrorMessage string         `json:"error_message"`
}

type googleResult struct {
	Geometry struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
		LocationType string `json:"location_type"`
	} `json:"geometry"`
	FormattedAddress  string            `json:"formatted_address"`
	AddressComponents []googleComponent `json:"address_components"`
}

type googleComponent struct {
	LongName  string   `json:"long_name"`
	ShortName string   `json:"short_name"`
	Types     []string `json:"types"`
}

func (g *geocoder) callGoogle(ctx context.Context, params url.Values) (*googleGeocodeResponse, error) {
	if g.googleKey == "" {
		return nil, eris.New("geocode: google api key not configured")
	}
	params.Set("key", g.googleKey)

	body, err := g.get(ctx, "google", googleGeocodeURL+"?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp googleGeocodeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocode: google parse response")
	}
	switch resp.Status {
	case "OK", "ZERO_RESULTS":
		return &resp, nil
	default:
		return nil, eris.Errorf("geocode: google status %s: %s", resp.Status, resp.ErrorMessage)
	}
}

// reverseGoogle reverse geocodes a coordinate using the Google Geocoding API.
func (g *geocoder) reverseGoogle(ctx context.Context, lat, lon float64) (*Place, error) {
	resp, err := g.callGoogle(ctx, url.Values{
		"latlng":      {fmt.Sprintf("%f,%f", lat, lon)},
		"result_type": {"street_address|premise"},
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, eris.Wrap(ErrNoResult, "google")
	}

	r := resp.Results[0]
	p := &Place{DisplayName: r.FormattedAddress, Source: "google"}
	for _, c := range r.AddressComponents {
		switch {
		case hasType(c.Types, "street_number"):
			p.HouseNumber = c.LongName
		case hasType(c.Types, "route"):
			p.Street = c.ShortName
		case hasType(c.Types, "locality"):
			p.City = c.LongName
		case hasType(c.Types, "administrative_area_level_1"):
			p.State = c.ShortName
		case hasType(c.Types, "postal_code"):
			p.Postcode = c.LongName
		}
	}
	return p, nil
}

// forwardGoogle geocodes a single address using the Google Geocoding API.
func (g *geocoder) forwardGoogle(ctx context.Context, address string) (*Result, error) {
	resp, err := g.callGoogle(ctx, url.Values{"address": {address}})
	if err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return &Result{Matched: false, Source: "google"}, nil
	}

	r := resp.Results[0]
	return &Result{
		Latitude:    r.Geometry.Location.Lat,
		Longitude:   r.Geometry.Location.Lng,
		Source:      "google",
		Quality:     googleLocationTypeToQuality(r.Geometry.LocationType),
		DisplayName: r.FormattedAddress,
		Matched:     true,
	}, nil
}

// googleLocationTypeToQuality maps Google's location_type to our quality taxonomy.
func googleLocationTypeToQuality(locType string) string {
	switch strings.ToUpper(locType) {
	case "ROOFTOP":
		return "rooftop"
	case "RANGE_INTERPOLATED":
		return "range"
	case "GEOMETRIC_CENTER":
		return "centroid"
	default:
		return "approximate"
	}
}

func hasType(types []string, want string) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
