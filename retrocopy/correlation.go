package retrocopy

import (
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PermutationSize is the number of shuffles behind each orientation
// p-value.
const PermutationSize = 1001

// fractionalRanks replaces v in place with 1-based ranks, averaging
// ties.
func fractionalRanks(v []float64) {
	n := len(v)
	i := 0
	for i < n-1 {
		if v[i] != v[i+1] {
			v[i] = float64(i + 1)
			i++
			continue
		}
		// Tie: average the ranks of the equal run.
		j := i + 2
		for j < n && v[i] == v[j] {
			j++
		}
		rank := 0.0
		for k := i; k < j; k++ {
			rank += float64(k + 1)
		}
		rank /= float64(j - i)
		for k := i; k < j; k++ {
			v[k] = rank
		}
		i = j
	}
	if i == n-1 {
		v[n-1] = float64(n)
	}
}

// sort2 sorts keys ascending, permuting values alongside.
func sort2(keys, values []float64) {
	idx := make([]int, len(keys))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] < keys[idx[b]] })
	sortedKeys := make([]float64, len(keys))
	sortedValues := make([]float64, len(values))
	for i, j := range idx {
		sortedKeys[i] = keys[j]
		sortedValues[i] = values[j]
	}
	copy(keys, sortedKeys)
	copy(values, sortedValues)
}

// Spearman returns the rank correlation coefficient of x and y.
func Spearman(x, y []float64) float64 {
	ranks1 := append([]float64(nil), x...)
	ranks2 := append([]float64(nil), y...)

	sort2(ranks1, ranks2)
	fractionalRanks(ranks1)
	sort2(ranks2, ranks1)
	fractionalRanks(ranks2)

	return stat.Correlation(ranks1, ranks2, nil)
}

// SpearmanPermutationTest estimates the two-sided p-value of rho by
// shuffling the pooled observations PermutationSize times. rng drives
// the shuffles; a fixed seed gives reproducible calls.
func SpearmanPermutationTest(x, y []float64, rho float64, rng *rand.Rand) float64 {
	n := len(x)
	work := make([]float64, 2*n)
	copy(work[:n], x)
	copy(work[n:], y)

	var below int
	for i := 0; i < PermutationSize; i++ {
		rng.Shuffle(len(work), func(a, b int) {
			work[a], work[b] = work[b], work[a]
		})
		rho2 := Spearman(work[:n], work[n:])
		if abs(rho2) < abs(rho) {
			below++
		}
	}
	return float64(PermutationSize-below) / float64(PermutationSize)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
