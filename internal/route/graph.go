package route

import (
	"container/heap"
	"math"
	"slices"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/sidewalksort/internal/feature"
)

// Graph is an undirected pedestrian network with edge lengths.
type Graph struct {
	nodes map[int64]feature.Coord
	ids   []int64
	adj   map[int64][]edge
}

type edge struct {
	to     int64
	length float64
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[int64]feature.Coord),
		adj:   make(map[int64][]edge),
	}
}

// AddNode adds or moves a node.
func (g *Graph) AddNode(id int64, c feature.Coord) {
	if _, ok := g.nodes[id]; !ok {
		i, _ := slices.BinarySearch(g.ids, id)
		g.ids = slices.Insert(g.ids, i, id)
	}
	g.nodes[id] = c
}

// AddEdge connects two existing nodes in both directions.
func (g *Graph) AddEdge(u, v int64, length float64) error {
	if _, ok := g.nodes[u]; !ok {
		return eris.Errorf("route: edge %d-%d: unknown node %d", u, v, u)
	}
	if _, ok := g.nodes[v]; !ok {
		return eris.Errorf("route: edge %d-%d: unknown node %d", u, v, v)
	}
	if length < 0 || math.IsNaN(length) || math.IsInf(length, 0) {
		return eris.Errorf("route: edge %d-%d: invalid length %v", u, v, length)
	}
	g.adj[u] = append(g.adj[u], edge{to: v, length: length})
	if u != v {
		g.adj[v] = append(g.adj[v], edge{to: u, length: length})
	}
	return nil
}

// NumNodes returns the node count.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Node returns a node's coordinate.
func (g *Graph) Node(id int64) (feature.Coord, bool) {
	c, ok := g.nodes[id]
	return c, ok
}

// NearestNode returns the node closest to c. Ties go to the lowest node ID.
func (g *Graph) NearestNode(c feature.Coord, m Metric) (int64, bool) {
	best := int64(0)
	bestDist := math.Inf(1)
	found := false
	for _, id := range g.ids {
		if d := m.Distance(c, g.nodes[id]); d < bestDist {
			best, bestDist, found = id, d, true
		}
	}
	return best, found
}

// ShortestPaths runs Dijkstra from src and returns distances and predecessors for every
// reachable node.
func (g *Graph) ShortestPaths(src int64) (map[int64]float64, map[int64]int64) {
	dist := map[int64]float64{src: 0}
	prev := make(map[int64]int64)

	pq := &nodeQueue{{id: src}}
	for pq.Len() > 0 {
		cur := heap.Pop(pq).(queueItem)
		if cur.dist > dist[cur.id] {
			continue
		}
		for _, e := range g.adj[cur.id] {
			nd := cur.dist + e.length
			if old, seen := dist[e.to]; seen && nd >= old {
				continue
			}
			dist[e.to] = nd
			prev[e.to] = cur.id
			heap.Push(pq, queueItem{id: e.to, dist: nd})
		}
	}
	return dist, prev
}

// pathTo walks predecessors back from dst to src. It returns nil if dst is unreachable.
func pathTo(prev map[int64]int64, src, dst int64) []int64 {
	path := []int64{dst}
	for cur := dst; cur != src; {
		p, ok := prev[cur]
		if !ok {
			return nil
		}
		path = append(path, p)
		cur = p
	}
	slices.Reverse(path)
	return path
}

// Line converts a node path to a LineString in node coordinates.
func (g *Graph) Line(path []int64) (*geom.LineString, error) {
	coords := make([]geom.Coord, 0, len(path))
	for _, id := range path {
		c, ok := g.nodes[id]
		if !ok {
			return nil, eris.Errorf("route: path node %d not in graph", id)
		}
		coords = append(coords, c.XY())
	}
	ls, err := geom.NewLineString(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, eris.Wrap(err, "route: build path line")
	}
	return ls, nil
}

type queueItem struct {
	id   int64
	dist float64
}

type nodeQueue []queueItem

func (q nodeQueue) Len() int { return len(q) }
func (q nodeQueue) Less(i, j int) bool {
	if q[i].dist == q[j].dist {
		return q[i].id < q[j].id
	}
	return q[i].dist < q[j].dist
}
func (q nodeQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *nodeQueue) Push(x any)   { *q = append(*q, x.(queueItem)) }
func (q *nodeQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
