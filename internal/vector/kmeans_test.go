package vector

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKMeansDeterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	vectors := make([][]float32, 100)
	for i := range vectors {
		vectors[i] = normalize(randomVector(rng, 8))
	}

	c1, a1 := kmeans(vectors, 10, defaultSeed)
	c2, a2 := kmeans(vectors, 10, defaultSeed)

	assert.Equal(t, a1, a2)
	require.Len(t, c2, len(c1))
	for i := range c1 {
		assert.Equal(t, c1[i], c2[i])
	}
}

func TestKMeansClampK(t *testing.T) {
	vectors := [][]float32{
		normalize([]float32{1, 0}),
		normalize([]float32{0, 1}),
	}

	centroids, assign := kmeans(vectors, 10, defaultSeed)
	assert.Len(t, centroids, 2)
	assert.Len(t, assign, 2)

	centroids, assign = kmeans(vectors, 0, defaultSeed)
	assert.Len(t, centroids, 1)
	assert.Equal(t, []int{0, 0}, assign)
}

func TestKMeansEmptyInput(t *testing.T) {
	centroids, assign := kmeans(nil, 5, defaultSeed)
	assert.Nil(t, centroids)
	assert.Nil(t, assign)
}

func TestKMeansSeparatesObviousClusters(t *testing.T) {
	// Two tight groups on orthogonal axes must land in different clusters
	var vectors [][]float32
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 20; i++ {
		a := []float32{1, float32(rng.NormFloat64()) * 0.01, 0, 0}
		b := []float32{0, 0, 1, float32(rng.NormFloat64()) * 0.01}
		vectors = append(vectors, normalize(a), normalize(b))
	}

	_, assign := kmeans(vectors, 2, defaultSeed)

	groupA := assign[0]
	for i := 0; i < len(vectors); i += 2 {
		assert.Equal(t, groupA, assign[i])
		assert.NotEqual(t, groupA, assign[i+1])
	}
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-6)

	zero := normalize([]float32{0, 0, 0})
	assert.Equal(t, []float32{0, 0, 0}, zero)
}

func TestNearestCentroidTieLowestIndex(t *testing.T) {
	centroids := [][]float32{
		{1, 0},
		{1, 0}, // identical, must lose the tie
		{0, 1},
	}
	assert.Equal(t, 0, nearestCentroid([]float32{1, 0}, centroids))
}
