package route

import (
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sidewalksort/internal/dedupe"
)

// byGraph maps stops (and the start point) to graph nodes, orders the distinct nodes by
// an approximate tour and stitches shortest paths between consecutive nodes. Stops that
// share a node keep their input order.
func (s *Sequencer) byGraph(stops []dedupe.Stop, c Context) ([]dedupe.Stop, []int64, error) {
	switch {
	case c.Graph == nil || c.Graph.NumNodes() == 0:
		return nil, nil, eris.Wrap(ErrGraphMappingFailed, "no graph")
	case len(stops) < 2:
		return nil, nil, eris.Errorf("%d positioned stops, need at least two", len(stops))
	case len(stops) > s.maxGraphStops:
		return nil, nil, eris.Errorf("%d stops exceed the graph limit of %d", len(stops), s.maxGraphStops)
	}

	// Sites are the distinct nodes to visit; site 0 anchors the tour.
	var sites []int64
	siteIndex := make(map[int64]int)
	addSite := func(n int64) int {
		if i, ok := siteIndex[n]; ok {
			return i
		}
		siteIndex[n] = len(sites)
		sites = append(sites, n)
		return len(sites) - 1
	}

	if c.Start != nil {
		n, ok := c.Graph.NearestNode(*c.Start, s.metric)
		if !ok {
			return nil, nil, eris.Wrap(ErrGraphMappingFailed, "start point")
		}
		addSite(n)
	}
	stopSite := make([]int, len(stops))
	for i, st := range stops {
		n, ok := c.Graph.NearestNode(st.Centroid, s.metric)
		if !ok {
			return nil, nil, eris.Wrapf(ErrGraphMappingFailed, "stop %s", st.Key)
		}
		stopSite[i] = addSite(n)
	}

	// Pairwise shortest-path distances between sites.
	dist := make([][]float64, len(sites))
	prevs := make([]map[int64]int64, len(sites))
	for i, src := range sites {
		d, prev := c.Graph.ShortestPaths(src)
		prevs[i] = prev
		dist[i] = make([]float64, len(sites))
		for j, dst := range sites {
			v, ok := d[dst]
			if !ok {
				return nil, nil, eris.Wrapf(ErrGraphMappingFailed, "node %d unreachable from node %d", dst, src)
			}
			dist[i][j] = v
		}
	}

	tour := approxTour(dist, c.LoopBack)
	zap.L().Debug("route: graph tour",
		zap.Int("sites", len(sites)),
		zap.Float64("cost", tourCost(dist, tour, c.LoopBack)),
	)

	ordered := make([]dedupe.Stop, 0, len(stops))
	for _, site := range tour {
		for i, st := range stops {
			if stopSite[i] == site {
				ordered = append(ordered, st)
			}
		}
	}

	path, err := stitch(sites, prevs, tour, c.LoopBack)
	if err != nil {
		return nil, nil, err
	}
	return ordered, path, nil
}

// stitch concatenates shortest paths between consecutive tour sites, dropping the
// duplicated junction node. With loopBack the path returns to the first site.
func stitch(sites []int64, prevs []map[int64]int64, tour []int, loopBack bool) ([]int64, error) {
	legs := make([][2]int, 0, len(tour))
	for k := 0; k+1 < len(tour); k++ {
		legs = append(legs, [2]int{tour[k], tour[k+1]})
	}
	if loopBack && len(tour) > 1 {
		legs = append(legs, [2]int{tour[len(tour)-1], tour[0]})
	}

	path := []int64{sites[tour[0]]}
	for _, leg := range legs {
		from, to := leg[0], leg[1]
		seg := pathTo(prevs[from], sites[from], sites[to])
		if len(seg) == 0 {
			return nil, eris.Errorf("route: no path from node %d to node %d", sites[from], sites[to])
		}
		if seg[0] != path[len(path)-1] {
			return nil, eris.Errorf("route: path segment starts at %d, expected %d", seg[0], path[len(path)-1])
		}
		path = append(path, seg[1:]...)
	}
	return path, nil
}
