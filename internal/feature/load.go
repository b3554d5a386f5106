package feature

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"
)

// shapefileAliases maps truncated DBF field names (10 char limit) back to OSM tag keys.
var shapefileAliases = map[string]string{
	"addr_house": TagHouseNumber,
	"addr:house": TagHouseNumber,
	"housenumbe": TagHouseNumber,
	"housenum":   TagHouseNumber,
	"addr_stree": TagStreet,
	"addr:stree": TagStreet,
	"street":     TagStreet,
}

// Load reads features from a GeoJSON file or, for a .shp path, an ESRI shapefile.
func Load(path string) ([]Feature, error) {
	if strings.EqualFold(filepath.Ext(path), ".shp") {
		return LoadShapefile(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feature: read %s", path)
	}
	return ParseGeoJSON(data)
}

// ParseGeoJSON decodes a FeatureCollection. Polygon, MultiPolygon and Point features are
// kept; other geometry kinds are skipped.
func ParseGeoJSON(data []byte) ([]Feature, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "feature: parse geojson")
	}

	features := make([]Feature, 0, len(fc.Features))
	var skipped int
	for i, gf := range fc.Features {
		if gf == nil {
			continue
		}
		if !supported(gf.Geometry) {
			skipped++
			continue
		}
		id := gf.ID
		if id == "" {
			id = propString(gf.Properties, "osmid")
		}
		if id == "" {
			id = strconv.Itoa(i)
		}
		features = append(features, Feature{
			ID:       id,
			Geometry: gf.Geometry,
			Tags:     propsToTags(gf.Properties),
		})
	}

	if skipped > 0 {
		zap.L().Debug("feature: skipped unsupported geometries", zap.Int("skipped", skipped))
	}
	return features, nil
}

// LoadShapefile reads polygon and point shapes with their DBF attributes as tags.
func LoadShapefile(path string) ([]Feature, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "feature: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		name := strings.ToLower(strings.TrimRight(f.String(), "\x00"))
		if alias, ok := shapefileAliases[name]; ok {
			name = alias
		}
		names[i] = name
	}

	var features []Feature
	var skipped int
	for reader.Next() {
		n, shape := reader.Shape()
		g := shapeToGeom(shape)
		if g == nil {
			skipped++
			continue
		}

		tags := make(map[string]string, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			if val != "" {
				tags[name] = val
			}
		}

		id := tags["osmid"]
		if id == "" {
			id = strconv.Itoa(n)
		}
		features = append(features, Feature{ID: id, Geometry: g, Tags: tags})
	}

	if skipped > 0 {
		zap.L().Debug("feature: skipped unsupported shapes", zap.String("path", path), zap.Int("skipped", skipped))
	}
	return features, nil
}

func supported(g geom.T) bool {
	switch g.(type) {
	case *geom.Polygon, *geom.MultiPolygon, *geom.Point:
		return true
	default:
		return false
	}
}

// shapeToGeom converts a shapefile Point or Polygon to go-geom. Rings that fail to build
// are dropped.
func shapeToGeom(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.Polygon:
		if s.NumParts == 0 || len(s.Points) == 0 {
			return nil
		}
		poly := geom.NewPolygon(geom.XY)
		n := int32(len(s.Points))
		for i := int32(0); i < s.NumParts && int(i) < len(s.Parts); i++ {
			start, end := s.Parts[i], n
			if i+1 < s.NumParts && int(i+1) < len(s.Parts) {
				end = s.Parts[i+1]
			}
			if start < 0 || start > end || end > n {
				zap.L().Debug("feature: skipping ring with bad part bounds",
					zap.Int32("part", i), zap.Int32("start", start), zap.Int32("end", end))
				continue
			}
			flat := make([]float64, 0, 2*(end-start))
			for _, pt := range s.Points[start:end] {
				flat = append(flat, pt.X, pt.Y)
			}
			if err := poly.Push(geom.NewLinearRingFlat(geom.XY, flat)); err != nil {
				zap.L().Debug("feature: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			}
		}
		if poly.NumLinearRings() == 0 {
			return nil
		}
		return poly
	default:
		return nil
	}
}

func propsToTags(props map[string]any) map[string]string {
	tags := make(map[string]string, len(props))
	for k := range props {
		if v := propString(props, k); v != "" {
			tags[k] = v
		}
	}
	return tags
}

func propString(props map[string]any, key string) string {
	v, ok := props[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
