package route

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sidewalksort/internal/feature"
)

// Metric selects how straight-line distances are measured.
type Metric string

// Supported metrics. Planar works in the input CRS units; haversine assumes lon/lat
// degrees and returns meters.
const (
	MetricPlanar    Metric = "planar"
	MetricHaversine Metric = "haversine"
)

const earthRadius = 6371000.0 // meters

// ParseMetric validates a metric name. Empty selects planar.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "", MetricPlanar:
		return MetricPlanar, nil
	case MetricHaversine:
		return MetricHaversine, nil
	default:
		return "", eris.Errorf("route: unknown distance metric %q", s)
	}
}

// Distance returns the distance between two coordinates under the metric.
func (m Metric) Distance(a, b feature.Coord) float64 {
	if m == MetricHaversine {
		return haversine(a.Lat, a.Lon, b.Lat, b.Lon)
	}
	return math.Hypot(b.Lon-a.Lon, b.Lat-a.Lat)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}

// haversine computes the great-circle distance between two points in meters.
func haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := toRadians(lat1)
	lat2Rad := toRadians(lat2)
	dLat := lat2Rad - lat1Rad
	dLon := toRadians(lon2) - toRadians(lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadius * c
}
