package geocode

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rotisserie/eris"
)

// Census one-line geocoder; US addresses only, no key.
const (
	censusURL       = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"
	censusBenchmark = "Public_AR_Current"
)

type censusMatch struct {
	MatchedAddress string `json:"matchedAddress"`
	Coordinates    struct {
		Lon float64 `json:"x"`
		Lat float64 `json:"y"`
	} `json:"coordinates"`
	TigerLine struct {
		Side string `json:"side"`
	} `json:"tigerLine"`
}

func (g *geocoder) forwardCensus(ctx context.Context, address string) (*Result, error) {
	q := url.Values{}
	q.Set("address", address)
	q.Set("benchmark", censusBenchmark)
	q.Set("format", "json")

	body, err := g.get(ctx, "census", censusURL+"?"+q.Encode())
	if err != nil {
		return nil, err
	}

	var payload struct {
		Result struct {
			Matches []censusMatch `json:"addressMatches"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, eris.Wrap(err, "geocode: census decode")
	}
	if len(payload.Result.Matches) == 0 {
		return &Result{Source: "census"}, nil
	}

	m := payload.Result.Matches[0]
	// Census interpolates along the TIGER segment, so a matched side means a range fit.
	quality := "range"
	if m.TigerLine.Side == "" {
		quality = "approximate"
	}
	return &Result{
		Latitude:    m.Coordinates.Lat,
		Longitude:   m.Coordinates.Lon,
		Source:      "census",
		Quality:     quality,
		DisplayName: m.MatchedAddress,
		Matched:     true,
	}, nil
}
