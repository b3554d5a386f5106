package route

import (
	"encoding/json"
	"math"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/sells-group/sidewalksort/internal/feature"
)

// LoadGraph reads a pedestrian network from a GeoJSON file. See ParseGraph.
func LoadGraph(path string, m Metric) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "route: read graph %s", path)
	}
	return ParseGraph(data, m)
}

// ParseGraph decodes a GeoJSON FeatureCollection of network edges. LineString features are
// edges; their "u" and "v" properties name the end nodes and "length" gives the weight.
// Missing node IDs are derived from the end coordinates and a missing length is measured
// along the line with m. Point features carrying "osmid" declare node positions.
func ParseGraph(data []byte, m Metric) (*Graph, error) {
	var fc geojson.FeatureCollection
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, eris.Wrap(err, "route: parse graph geojson")
	}

	g := NewGraph()
	synthetic := make(map[string]int64)
	nextSynthetic := int64(-1)
	nodeFor := func(c geom.Coord, props map[string]any, key string) int64 {
		if id, ok := propInt64(props, key); ok {
			if _, known := g.Node(id); !known {
				g.AddNode(id, feature.Coord{Lon: c.X(), Lat: c.Y()})
			}
			return id
		}
		k := strconv.FormatFloat(c.X(), 'f', -1, 64) + "," + strconv.FormatFloat(c.Y(), 'f', -1, 64)
		if id, ok := synthetic[k]; ok {
			return id
		}
		id := nextSynthetic
		nextSynthetic--
		synthetic[k] = id
		g.AddNode(id, feature.Coord{Lon: c.X(), Lat: c.Y()})
		return id
	}

	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		if p, ok := f.Geometry.(*geom.Point); ok {
			if id, ok := propInt64(f.Properties, "osmid"); ok {
				g.AddNode(id, feature.Coord{Lon: p.X(), Lat: p.Y()})
			}
		}
	}

	var edges, skipped int
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		ls, ok := f.Geometry.(*geom.LineString)
		if !ok || ls.NumCoords() < 2 {
			if _, isPoint := f.Geometry.(*geom.Point); !isPoint {
				skipped++
			}
			continue
		}

		u := nodeFor(ls.Coord(0), f.Properties, "u")
		v := nodeFor(ls.Coord(ls.NumCoords()-1), f.Properties, "v")
		length, ok := propFloat(f.Properties, "length")
		if !ok {
			length = lineLength(ls, m)
		}
		if err := g.AddEdge(u, v, length); err != nil {
			return nil, err
		}
		edges++
	}

	if edges == 0 {
		return nil, eris.New("route: graph has no edges")
	}
	if skipped > 0 {
		zap.L().Debug("route: skipped non-edge graph features", zap.Int("skipped", skipped))
	}
	return g, nil
}

// LoadLine reads a route line from a GeoJSON file. See ParseLine.
func LoadLine(path string) (*geom.LineString, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "route: read route line %s", path)
	}
	return ParseLine(data)
}

// ParseLine decodes a LineString from a bare GeoJSON geometry, a Feature or the first
// LineString of a FeatureCollection.
func ParseLine(data []byte) (*geom.LineString, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "route: parse route line")
	}

	var candidates []geom.T
	switch head.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "route: parse route line")
		}
		for _, f := range fc.Features {
			if f != nil {
				candidates = append(candidates, f.Geometry)
			}
		}
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "route: parse route line")
		}
		candidates = append(candidates, f.Geometry)
	default:
		var g geom.T
		if err := geojson.Unmarshal(data, &g); err != nil {
			return nil, eris.Wrap(err, "route: parse route line")
		}
		candidates = append(candidates, g)
	}

	for _, g := range candidates {
		if ls, ok := g.(*geom.LineString); ok && ls.NumCoords() >= 2 {
			return ls, nil
		}
	}
	return nil, eris.New("route: no LineString with at least two points")
}

// PathGeoJSON renders a node path as a GeoJSON Feature with a LineString geometry.
func PathGeoJSON(g *Graph, path []int64, props map[string]any) ([]byte, error) {
	ls, err := g.Line(path)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(&geojson.Feature{Geometry: ls, Properties: props})
	if err != nil {
		return nil, eris.Wrap(err, "route: encode path geojson")
	}
	return out, nil
}

func lineLength(ls *geom.LineString, m Metric) float64 {
	total := 0.0
	for i := 0; i+1 < ls.NumCoords(); i++ {
		a, b := ls.Coord(i), ls.Coord(i+1)
		total += m.Distance(feature.Coord{Lon: a.X(), Lat: a.Y()}, feature.Coord{Lon: b.X(), Lat: b.Y()})
	}
	return total
}

func propFloat(props map[string]any, key string) (float64, bool) {
	switch v := props[key].(type) {
	case float64:
		return v, !math.IsNaN(v)
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func propInt64(props map[string]any, key string) (int64, bool) {
	switch v := props[key].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
