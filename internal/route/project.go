package route

import (
	"math"

	"github.com/twpayne/go-geom"

	"github.com/sells-group/sidewalksort/internal/feature"
)

// Project returns the arc length along line of the point on line closest to c, in the
// line's planar units. Ties between segments go to the earlier segment.
func Project(line *geom.LineString, c feature.Coord) float64 {
	n := line.NumCoords()
	if n < 2 {
		return 0
	}

	bestDist := math.Inf(1)
	bestArc := 0.0
	cum := 0.0
	for i := 0; i < n-1; i++ {
		a, b := line.Coord(i), line.Coord(i+1)
		dx, dy := b.X()-a.X(), b.Y()-a.Y()
		segLen := math.Hypot(dx, dy)

		t := 0.0
		if segLen > 0 {
			t = ((c.Lon-a.X())*dx + (c.Lat-a.Y())*dy) / (segLen * segLen)
			t = math.Max(0, math.Min(1, t))
		}
		px, py := a.X()+t*dx, a.Y()+t*dy
		if d := math.Hypot(c.Lon-px, c.Lat-py); d < bestDist {
			bestDist = d
			bestArc = cum + t*segLen
		}
		cum += segLen
	}
	return bestArc
}
