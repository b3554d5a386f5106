// Package feature models building footprints and other spatial features handed to the
// address pipeline, and loads them from GeoJSON and shapefile exports.
package feature

import (
	"math"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// OSM address tag keys.
const (
	TagHouseNumber = "addr:housenumber"
	TagStreet      = "addr:street"
)

// ErrGeometryInvalid is returned when a feature has no usable geometry.
var ErrGeometryInvalid = eris.New("feature: geometry invalid")

// Feature is a single footprint or point with its OSM-style tags. Features are read-only
// once loaded.
type Feature struct {
	ID       string
	Geometry geom.T
	Tags     map[string]string
}

// Coord is a longitude/latitude (x/y) pair in the CRS the geometry arrived in.
type Coord struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// XY returns the coordinate as a go-geom coordinate.
func (c Coord) XY() geom.Coord { return geom.Coord{c.Lon, c.Lat} }

// Tag returns the trimmed value of a tag, or "" when absent.
func (f Feature) Tag(key string) string {
	if f.Tags == nil {
		return ""
	}
	return strings.TrimSpace(f.Tags[key])
}

// HouseNumber returns the addr:housenumber tag.
func (f Feature) HouseNumber() string { return f.Tag(TagHouseNumber) }

// Street returns the addr:street tag.
func (f Feature) Street() string { return f.Tag(TagStreet) }

// TagAddress composes "housenumber street" from the address tags. It returns "" when
// neither tag is present.
func (f Feature) TagAddress() string {
	return strings.TrimSpace(f.HouseNumber() + " " + f.Street())
}

// Centroid returns the geometric centroid of the feature. Empty geometries, zero-area
// polygons and non-finite results are reported as ErrGeometryInvalid.
func (f Feature) Centroid() (Coord, error) {
	g := f.Geometry
	if g == nil || len(g.FlatCoords()) == 0 {
		return Coord{}, eris.Wrapf(ErrGeometryInvalid, "feature %s: empty geometry", f.ID)
	}

	switch t := g.(type) {
	case *geom.Point:
		c := t.Coords()
		return checkCoord(f.ID, c.X(), c.Y())
	case *geom.Polygon:
		if math.Abs(t.Area()) == 0 {
			return Coord{}, eris.Wrapf(ErrGeometryInvalid, "feature %s: degenerate polygon", f.ID)
		}
	case *geom.MultiPolygon:
		if absArea(t) == 0 {
			return Coord{}, eris.Wrapf(ErrGeometryInvalid, "feature %s: degenerate multipolygon", f.ID)
		}
	}

	c, err := xy.Centroid(g)
	if err != nil {
		return Coord{}, eris.Wrapf(ErrGeometryInvalid, "feature %s: centroid: %v", f.ID, err)
	}
	return checkCoord(f.ID, c.X(), c.Y())
}

// absArea sums part areas without sign, so parts wound in opposite directions do not
// cancel out.
func absArea(mp *geom.MultiPolygon) float64 {
	var a float64
	for i := 0; i < mp.NumPolygons(); i++ {
		a += math.Abs(mp.Polygon(i).Area())
	}
	return a
}

func checkCoord(id string, x, y float64) (Coord, error) {
	if math.IsNaN(x) || math.IsNaN(y) || math.IsInf(x, 0) || math.IsInf(y, 0) {
		return Coord{}, eris.Wrapf(ErrGeometryInvalid, "feature %s: non-finite centroid", id)
	}
	return Coord{Lon: x, Lat: y}, nil
}
