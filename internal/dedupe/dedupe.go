// Package dedupe collapses resolution records that share an address into stops.
package dedupe

import (
	"github.com/sells-group/sidewalksort/internal/geocache"
	"github.com/sells-group/sidewalksort/internal/resolve"
)

// Stop is a deduplicated record with its identity key.
type Stop struct {
	resolve.Record
	Key string `json:"key"`
}

// Key returns the dedupe key of a record: the resolved address, else the tag address,
// else the rounded centroid, else the feature ID.
func Key(r resolve.Record) string {
	switch {
	case r.Address != "":
		return r.Address
	case r.TagAddress != "":
		return r.TagAddress
	case r.HasCentroid:
		return geocache.Key(r.Centroid.Lat, r.Centroid.Lon)
	default:
		// No address and no position: only the feature itself identifies the stop.
		return "feature:" + r.FeatureID
	}
}

// Dedupe keeps the first record for each key, in first-seen order.
func Dedupe(records []resolve.Record) []Stop {
	seen := make(map[string]struct{}, len(records))
	stops := make([]Stop, 0, len(records))
	for _, r := range records {
		k := Key(r)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		stops = append(stops, Stop{Record: r, Key: k})
	}
	return stops
}
