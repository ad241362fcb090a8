package vector

import (
	"math"
	"math/rand"
)

const (
	// maxKMeansIterations bounds the recluster cost on pathological inputs
	maxKMeansIterations = 25

	// defaultSeed keeps clustering deterministic across runs over
	// identical input, which keeps rebuilt segments byte-stable.
	defaultSeed = 42
)

// kmeans clusters vectors into k groups and returns the centroids plus the
// assignment of each input vector to a centroid index. Seeded and
// deterministic for a fixed input order.
func kmeans(vectors [][]float32, k int, seed int64) ([][]float32, []int) {
	n := len(vectors)
	if n == 0 {
		return nil, nil
	}
	if k <= 0 {
		k = 1
	}
	if k > n {
		k = n
	}
	dim := len(vectors[0])

	rng := rand.New(rand.NewSource(seed))
	centroids := initCentroids(vectors, k, rng)
	assign := make([]int, n)

	for iter := 0; iter < maxKMeansIterations; iter++ {
		moved := 0
		for i, v := range vectors {
			best := nearestCentroid(v, centroids)
			if assign[i] != best || iter == 0 {
				assign[i] = best
				moved++
			}
		}
		if iter > 0 && moved == 0 {
			break
		}

		// Recompute centroids as member means
		sums := make([][]float64, k)
		counts := make([]int, k)
		for c := range sums {
			sums[c] = make([]float64, dim)
		}
		for i, v := range vectors {
			c := assign[i]
			counts[c]++
			for j, x := range v {
				sums[c][j] += float64(x)
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				// Empty cluster: reseed from a random member to keep k stable
				centroids[c] = vectors[rng.Intn(n)]
				continue
			}
			mean := make([]float32, dim)
			for j := range mean {
				mean[j] = float32(sums[c][j] / float64(counts[c]))
			}
			centroids[c] = normalize(mean)
		}
	}

	// Final assignment against the settled centroids
	for i, v := range vectors {
		assign[i] = nearestCentroid(v, centroids)
	}

	return centroids, assign
}

// initCentroids uses k-means++ style seeding: the first centroid is drawn
// uniformly, each subsequent one favors points far from existing centroids.
func initCentroids(vectors [][]float32, k int, rng *rand.Rand) [][]float32 {
	n := len(vectors)
	centroids := make([][]float32, 0, k)
	centroids = append(centroids, vectors[rng.Intn(n)])

	dists := make([]float64, n)
	for len(centroids) < k {
		var total float64
		for i, v := range vectors {
			d := distToNearest(v, centroids)
			dists[i] = d
			total += d
		}
		if total == 0 {
			// All remaining points coincide with a centroid
			centroids = append(centroids, vectors[rng.Intn(n)])
			continue
		}
		target := rng.Float64() * total
		var acc float64
		pick := n - 1
		for i, d := range dists {
			acc += d
			if acc >= target {
				pick = i
				break
			}
		}
		centroids = append(centroids, vectors[pick])
	}

	return centroids
}

func distToNearest(v []float32, centroids [][]float32) float64 {
	best := math.MaxFloat64
	for _, c := range centroids {
		// Squared euclidean distance; for unit vectors this is 2 - 2*dot
		d := 2 - 2*float64(dot(v, c))
		if d < best {
			best = d
		}
	}
	if best < 0 {
		best = 0
	}
	return best
}

// nearestCentroid returns the index of the centroid with the highest dot
// product against v. Ties resolve to the lowest index.
func nearestCentroid(v []float32, centroids [][]float32) int {
	best := 0
	bestScore := float32(math.Inf(-1))
	for i, c := range centroids {
		if s := dot(v, c); s > bestScore {
			best = i
			bestScore = s
		}
	}
	return best
}

// dot computes the dot product of two equal-length vectors
func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// normalize L2-normalizes v in place and returns it. Zero vectors are
// returned unchanged.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v
}
