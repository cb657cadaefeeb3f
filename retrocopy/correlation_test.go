package retrocopy

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpearmanMonotonic(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{10, 20, 30, 40, 50}
	assert.InDelta(t, 1.0, Spearman(x, y), 1e-12)

	y = []float64{50, 40, 30, 20, 10}
	assert.InDelta(t, -1.0, Spearman(x, y), 1e-12)
}

func TestSpearmanNonlinear(t *testing.T) {
	// Rank correlation sees through any monotone transform.
	x := []float64{1, 2, 3, 4, 5, 6}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = math.Exp(v)
	}
	assert.InDelta(t, 1.0, Spearman(x, y), 1e-12)
}

func TestSpearmanTies(t *testing.T) {
	// y is two-valued; rho must stay within [-1, 1] and be positive
	// for an increasing pattern.
	x := []float64{1, 2, 3, 4, 5, 6}
	y := []float64{-1, -1, -1, 1, 1, 1}
	rho := Spearman(x, y)
	assert.Greater(t, rho, 0.8)
	assert.LessOrEqual(t, rho, 1.0)
}

func TestFractionalRanks(t *testing.T) {
	v := []float64{10, 20, 20, 30}
	fractionalRanks(v)
	assert.Equal(t, []float64{1, 2.5, 2.5, 4}, v)

	v = []float64{5}
	fractionalRanks(v)
	assert.Equal(t, []float64{1}, v)

	v = []float64{7, 7, 7}
	fractionalRanks(v)
	assert.Equal(t, []float64{2, 2, 2}, v)
}

func TestPermutationTest(t *testing.T) {
	rng := rand.New(rand.NewSource(1))

	// Strong monotone signal: small p-value.
	x := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	y := []float64{-1, -1, -1, -1, -1, 1, 1, 1, 1, 1}
	rho := Spearman(x, y)
	p := SpearmanPermutationTest(x, y, rho, rng)
	assert.Less(t, p, 0.05)

	// Shuffled signal: the permutation distribution contains rho.
	y = []float64{1, -1, 1, -1, 1, -1, 1, -1, 1, -1}
	rho = Spearman(x, y)
	p = SpearmanPermutationTest(x, y, rho, rng)
	assert.Greater(t, p, 0.05)
}
