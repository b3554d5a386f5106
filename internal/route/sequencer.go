// Package route orders deduplicated stops into a walking sequence by route-line
// projection, distance from a start point, or an approximate tour over a pedestrian graph.
package route

import (
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/sidewalksort/internal/dedupe"
	"github.com/sells-group/sidewalksort/internal/feature"
)

// DefaultMaxGraphStops caps graph sequencing.
const DefaultMaxGraphStops = 99

// Strategy names a sequencing strategy.
type Strategy string

// Strategies. StrategyAuto picks by the supplied geometry: route line, then start point,
// then graph, then input order.
const (
	StrategyAuto         Strategy = "auto"
	StrategyRouteLine    Strategy = "route-line"
	StrategyNearestStart Strategy = "nearest-start"
	StrategyGraph        Strategy = "graph"
	StrategyInputOrder   Strategy = "input-order"
)

var (
	// ErrGraphMappingFailed marks a stop or start point with no reachable graph node.
	ErrGraphMappingFailed = eris.New("route: graph mapping failed")

	// ErrSequencingDegraded marks an order produced by a fallback strategy.
	ErrSequencingDegraded = eris.New("route: sequencing degraded")
)

// ParseStrategy validates a strategy name. Empty selects auto.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(s); st {
	case "":
		return StrategyAuto, nil
	case StrategyAuto, StrategyRouteLine, StrategyNearestStart, StrategyGraph, StrategyInputOrder:
		return st, nil
	default:
		return "", eris.Errorf("route: unknown strategy %q", s)
	}
}

// Context carries the optional geometry a sequencing run may use.
type Context struct {
	Strategy  Strategy
	RouteLine *geom.LineString
	Start     *feature.Coord
	Graph     *Graph
	LoopBack  bool
}

// Order is the result of sequencing.
type Order struct {
	Stops    []dedupe.Stop `json:"stops"`
	Path     []int64       `json:"path,omitempty"`
	Strategy Strategy      `json:"strategy"`
	Degraded bool          `json:"degraded"`
	Warnings []string      `json:"warnings,omitempty"`
	Err      error         `json:"-"`
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithMetric sets the straight-line distance metric.
func WithMetric(m Metric) Option {
	return func(s *Sequencer) {
		if m != "" {
			s.metric = m
		}
	}
}

// WithMaxGraphStops caps the stop count for graph sequencing.
func WithMaxGraphStops(n int) Option {
	return func(s *Sequencer) {
		if n > 0 {
			s.maxGraphStops = n
		}
	}
}

// Sequencer orders stops.
type Sequencer struct {
	metric        Metric
	maxGraphStops int
}

// NewSequencer creates a Sequencer.
func NewSequencer(opts ...Option) *Sequencer {
	s := &Sequencer{metric: MetricPlanar, maxGraphStops: DefaultMaxGraphStops}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select resolves StrategyAuto against the geometry present in c.
func Select(c Context) Strategy {
	if c.Strategy != "" && c.Strategy != StrategyAuto {
		return c.Strategy
	}
	switch {
	case c.RouteLine != nil && c.RouteLine.NumCoords() >= 2:
		return StrategyRouteLine
	case c.Start != nil:
		return StrategyNearestStart
	case c.Graph != nil:
		return StrategyGraph
	default:
		return StrategyInputOrder
	}
}

// Sequence orders stops. It never fails: when the chosen strategy cannot run, it degrades
// to nearest-start order (or input order without a start point) and records a warning.
// Stops without a centroid follow the positioned stops in input order.
func (s *Sequencer) Sequence(stops []dedupe.Stop, c Context) Order {
	var positioned, unpositioned []dedupe.Stop
	for _, st := range stops {
		if st.HasCentroid {
			positioned = append(positioned, st)
		} else {
			unpositioned = append(unpositioned, st)
		}
	}

	o := Order{Strategy: Select(c)}
	switch o.Strategy {
	case StrategyRouteLine:
		if c.RouteLine == nil || c.RouteLine.NumCoords() < 2 {
			positioned = s.degrade(&o, positioned, c, eris.New("route line missing or shorter than two points"))
			break
		}
		positioned = s.byProjection(positioned, c.RouteLine)
	case StrategyNearestStart:
		if c.Start == nil {
			positioned = s.degrade(&o, positioned, c, eris.New("no start point"))
			break
		}
		positioned = s.byStart(positioned, *c.Start)
	case StrategyGraph:
		ordered, path, err := s.byGraph(positioned, c)
		if err != nil {
			positioned = s.degrade(&o, positioned, c, err)
			break
		}
		positioned, o.Path = ordered, path
	case StrategyInputOrder:
	default:
		positioned = s.degrade(&o, positioned, c, eris.Errorf("unknown strategy %q", o.Strategy))
	}

	o.Stops = append(positioned, unpositioned...)
	return o
}

// degrade records a fallback and returns the fallback order.
func (s *Sequencer) degrade(o *Order, stops []dedupe.Stop, c Context, cause error) []dedupe.Stop {
	requested := o.Strategy
	o.Degraded = true
	o.Err = eris.Wrapf(ErrSequencingDegraded, "%s: %v", requested, cause)

	var out []dedupe.Stop
	if c.Start != nil {
		o.Strategy = StrategyNearestStart
		out = s.byStart(stops, *c.Start)
	} else {
		o.Strategy = StrategyInputOrder
		out = stops
	}

	warning := "SequencingDegraded: " + string(requested) + " sequencing failed (" + cause.Error() +
		"); using " + string(o.Strategy) + " order"
	o.Warnings = append(o.Warnings, warning)
	zap.L().Warn("route: sequencing degraded",
		zap.String("requested", string(requested)),
		zap.String("fallback", string(o.Strategy)),
		zap.Error(cause),
	)
	return out
}

// byProjection sorts stops by arc length along the route line.
func (s *Sequencer) byProjection(stops []dedupe.Stop, line *geom.LineString) []dedupe.Stop {
	return sortByKey(stops, func(st dedupe.Stop) float64 {
		return Project(line, st.Centroid)
	})
}

// byStart sorts stops by distance from the start point.
func (s *Sequencer) byStart(stops []dedupe.Stop, start feature.Coord) []dedupe.Stop {
	return sortByKey(stops, func(st dedupe.Stop) float64 {
		return s.metric.Distance(start, st.Centroid)
	})
}

// sortByKey stable-sorts a copy of stops by a computed key.
func sortByKey(stops []dedupe.Stop, key func(dedupe.Stop) float64) []dedupe.Stop {
	type keyed struct {
		stop dedupe.Stop
		key  float64
	}
	ks := make([]keyed, len(stops))
	for i, st := range stops {
		ks[i] = keyed{stop: st, key: key(st)}
	}
	slices.SortStableFunc(ks, func(a, b keyed) int {
		switch {
		case a.key < b.key:
			return -1
		case a.key > b.key:
			return 1
		default:
			return 0
		}
	})
	out := make([]dedupe.Stop, len(ks))
	for i, k := range ks {
		out[i] = k.stop
	}
	return out
}
