package geocode

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

const defaultNominatimURL = "https://nominatim.openstreetmap.org"

type nominatimReverseResponse struct {
	Error       string           `json:"error"`
	DisplayName string           `json:"display_name"`
	Address     nominatimAddress `json:"address"`
}

type nominatimAddress struct {
	HouseNumber string `json:"house_number"`
	Road        string `json:"road"`
	Pedestrian  string `json:"pedestrian"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	State       string `json:"state"`
	Postcode    string `json:"postcode"`
}

type nominatimSearchResult struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
	PlaceRank   int     `json:"place_rank"`
}

// reverseNominatim reverse geocodes a coordinate with the Nominatim /reverse endpoint.
func (g *geocoder) reverseNominatim(ctx context.Context, lat, lon float64) (*Place, error) {
	params := url.Values{
		"format":         {"jsonv2"},
		"lat":            {strconv.FormatFloat(lat, 'f', -1, 64)},
		"lon":            {strconv.FormatFloat(lon, 'f', -1, 64)},
		"addressdetails": {"1"},
		"zoom":           {"18"},
	}

	body, err := g.get(ctx, "nominatim", g.nominatimURL+"/reverse?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp nominatimReverseResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if resp.Error != "" || resp.DisplayName == "" {
		return nil, eris.Wrapf(ErrNoResult, "nominatim: %s", resp.Error)
	}

	a := resp.Address
	return &Place{
		HouseNumber: a.HouseNumber,
		Street:      firstNonEmpty(a.Road, a.Pedestrian),
		City:        firstNonEmpty(a.City, a.Town, a.Village),
		State:       a.State,
		Postcode:    a.Postcode,
		DisplayName: resp.DisplayName,
		Source:      "nominatim",
	}, nil
}

// forwardNominatim geocodes a one-line address with the Nominatim /search endpoint.
func (g *geocoder) forwardNominatim(ctx context.Context, address string) (*Result, error) {
	params := url.Values{
		"format": {"jsonv2"},
		"q":      {address},
		"limit":  {"1"},
	}

	body, err := g.get(ctx, "nominatim", g.nominatimURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var results []nominatimSearchResult
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse response")
	}
	if len(results) == 0 {
		return &Result{Matched: false, Source: "nominatim"}, nil
	}

	top := results[0]
	lat, err := strconv.ParseFloat(top.Lat, 64)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse lat")
	}
	lon, err := strconv.ParseFloat(top.Lon, 64)
	if err != nil {
		return nil, eris.Wrap(err, "geocode: nominatim parse lon")
	}

	return &Result{
		Latitude:    lat,
		Longitude:   lon,
		Source:      "nominatim",
		Quality:     placeRankToQuality(top.PlaceRank),
		DisplayName: top.DisplayName,
		Matched:     true,
	}, nil
}

// placeRankToQuality maps Nominatim's place_rank to our quality taxonomy.
func placeRankToQuality(rank int) string {
	switch {
	case rank >= 30:
		return "rooftop"
	case rank >= 26:
		return "range"
	case rank >= 16:
		return "centroid"
	default:
		return "approximate"
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
