package regime

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

const (
	defaultSeed          = 42
	defaultMaxIterations = 300
	defaultRestarts      = 10
)

type kmeansResult struct {
	centroids [][]float64
	labels    []int
	inertia   float64
}

// kmeans кластеризация с инициализацией k-means++. Детерминирована при одинаковом seed.
func kmeans(points [][]float64, k int, seed int64, maxIter, restarts int) kmeansResult {
	rng := rand.New(rand.NewSource(seed))

	best := kmeansResult{inertia: math.Inf(1)}
	for r := 0; r < restarts; r++ {
		result := lloyd(points, initPlusPlus(points, k, rng), maxIter)
		if result.inertia < best.inertia {
			best = result
		}
	}
	return best
}

func initPlusPlus(points [][]float64, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	centroids = append(centroids, clone(points[rng.Intn(len(points))]))

	dist := make([]float64, len(points))
	for len(centroids) < k {
		total := 0.0
		for i, p := range points {
			dist[i] = nearestDistance(p, centroids)
			total += dist[i]
		}

		if total == 0 {
			centroids = append(centroids, clone(points[rng.Intn(len(points))]))
			continue
		}

		target := rng.Float64() * total
		chosen := len(points) - 1
		for i, d := range dist {
			target -= d
			if target <= 0 {
				chosen = i
				break
			}
		}
		centroids = append(centroids, clone(points[chosen]))
	}
	return centroids
}

func lloyd(points [][]float64, centroids [][]float64, maxIter int) kmeansResult {
	k := len(centroids)
	dims := len(points[0])
	labels := make([]int, len(points))
	for i := range labels {
		labels[i] = -1
	}

	for iter := 0; iter < maxIter; iter++ {
		changed := false
		for i, p := range points {
			label := nearest(p, centroids)
			if label != labels[i] {
				labels[i] = label
				changed = true
			}
		}
		if !changed {
			break
		}

		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dims)
		}
		for i, p := range points {
			counts[labels[i]]++
			for j, v := range p {
				sums[labels[i]][j] += v
			}
		}
		for c := range centroids {
			// пустой кластер сохраняет прежний центр
			if counts[c] == 0 {
				continue
			}
			for j := range centroids[c] {
				centroids[c][j] = sums[c][j] / float64(counts[c])
			}
		}
	}

	inertia := 0.0
	for i, p := range points {
		inertia += squaredDistance(p, centroids[labels[i]])
	}
	return kmeansResult{centroids: centroids, labels: labels, inertia: inertia}
}

func nearest(p []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := squaredDistance(p, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func nearestDistance(p []float64, centroids [][]float64) float64 {
	best := math.Inf(1)
	for _, centroid := range centroids {
		if d := squaredDistance(p, centroid); d < best {
			best = d
		}
	}
	return best
}

func squaredDistance(a, b []float64) float64 {
	d := floats.Distance(a, b, 2)
	return d * d
}

func clone(p []float64) []float64 {
	return append([]float64(nil), p...)
}
