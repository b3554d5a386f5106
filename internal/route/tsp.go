package route

import "slices"

const (
	// maxTwoOptPasses bounds 2-opt improvement sweeps.
	maxTwoOptPasses = 100

	improvementEpsilon = 1e-9
)

// approxTour orders sites 0..n-1 starting at site 0: a nearest-neighbour tour improved by
// 2-opt. With cycle set, the cost includes the edge back to site 0. d must be symmetric.
func approxTour(d [][]float64, cycle bool) []int {
	n := len(d)
	if n == 0 {
		return nil
	}
	return twoOpt(d, nearestNeighbour(d), cycle)
}

// nearestNeighbour builds a greedy tour from site 0. Ties go to the lowest index.
func nearestNeighbour(d [][]float64) []int {
	n := len(d)
	visited := make([]bool, n)
	tour := make([]int, 0, n)

	cur := 0
	visited[cur] = true
	tour = append(tour, cur)
	for len(tour) < n {
		next := -1
		for j := 0; j < n; j++ {
			if visited[j] {
				continue
			}
			if next < 0 || d[cur][j] < d[cur][next] {
				next = j
			}
		}
		visited[next] = true
		tour = append(tour, next)
		cur = next
	}
	return tour
}

// twoOpt reverses tour segments while that shortens the tour. tour[0] stays fixed.
func twoOpt(d [][]float64, tour []int, cycle bool) []int {
	n := len(tour)
	for pass := 0; pass < maxTwoOptPasses; pass++ {
		improved := false
		for i := 1; i < n-1; i++ {
			for j := i + 1; j < n; j++ {
				a, b, c := tour[i-1], tour[i], tour[j]
				delta := d[a][c] - d[a][b]

				next := -1
				switch {
				case j+1 < n:
					next = tour[j+1]
				case cycle:
					next = tour[0]
				}
				if next >= 0 {
					delta += d[b][next] - d[c][next]
				}

				if delta < -improvementEpsilon {
					slices.Reverse(tour[i : j+1])
					improved = true
				}
			}
		}
		if !improved {
			break
		}
	}
	return tour
}

// tourCost sums consecutive site distances, closing the loop when cycle is set.
func tourCost(d [][]float64, tour []int, cycle bool) float64 {
	total := 0.0
	for k := 0; k+1 < len(tour); k++ {
		total += d[tour[k]][tour[k+1]]
	}
	if cycle && len(tour) > 1 {
		total += d[tour[len(tour)-1]][tour[0]]
	}
	return total
}
