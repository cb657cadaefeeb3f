package genotype

import (
	"testing"

	"github.com/biogo/hts/sam"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repeatQuals(q, n int) []int {
	quals := make([]int, n)
	for i := range quals {
		quals[i] = q
	}
	return quals
}

func TestLikelihoodAltOnly(t *testing.T) {
	// A retrocopy with four alternate reads of mapq 40 and no
	// reference support on a diploid chromosome.
	alt := repeatQuals(40, 4)
	var ref []int

	hoRef := LikelihoodHO(alt, ref, 2)
	hoAlt := LikelihoodHO(ref, alt, 2)
	he := LikelihoodHE(len(alt)+len(ref), 2)

	assert.Greater(t, hoAlt, he)
	assert.Greater(t, he, hoRef)
}

func TestLikelihoodRefOnly(t *testing.T) {
	ref := repeatQuals(40, 6)
	var alt []int

	hoRef := LikelihoodHO(alt, ref, 2)
	hoAlt := LikelihoodHO(ref, alt, 2)
	he := LikelihoodHE(len(alt)+len(ref), 2)

	assert.Greater(t, hoRef, he)
	assert.Greater(t, he, hoAlt)
}

func TestLikelihoodBalanced(t *testing.T) {
	// Equal alternate and reference depth with equal quality: the
	// heterozygous call dominates both homozygous ones.
	for _, n := range []int{1, 3, 10} {
		alt := repeatQuals(30, n)
		ref := repeatQuals(30, n)

		hoRef := LikelihoodHO(alt, ref, 2)
		hoAlt := LikelihoodHO(ref, alt, 2)
		he := LikelihoodHE(2*n, 2)

		assert.Greater(t, he, hoRef, "n=%d", n)
		assert.Greater(t, he, hoAlt, "n=%d", n)
		assert.InDelta(t, hoRef, hoAlt, 1e-12, "n=%d", n)
	}
}

func TestLikelihoodHaploid(t *testing.T) {
	// Ploidy 1 makes the heterozygous likelihood the flat reference
	// value of zero.
	assert.Equal(t, 0.0, LikelihoodHE(5, 1))
	assert.Less(t, LikelihoodHO(repeatQuals(40, 2), nil, 1), 0.0)
}

func buildRecord(flags sam.Flags, pos, span int, mapq byte) *sam.Record {
	return &sam.Record{
		Name:  "r1",
		Pos:   pos,
		MapQ:  mapq,
		Flags: flags,
		Cigar: sam.Cigar{sam.NewCigarOp(sam.CigarMatch, span)},
	}
}

func TestCrossesInsertionPoint(t *testing.T) {
	proper := sam.Paired | sam.ProperPair

	// Span [101, 200] in 1-based closed coordinates.
	rec := buildRecord(proper, 100, 100, 60)
	assert.True(t, crossesInsertionPoint(rec, 101, 8))
	assert.True(t, crossesInsertionPoint(rec, 150, 8))
	assert.True(t, crossesInsertionPoint(rec, 200, 8))
	assert.False(t, crossesInsertionPoint(rec, 100, 8))
	assert.False(t, crossesInsertionPoint(rec, 201, 8))

	// Disqualifying flags and low quality.
	assert.False(t, crossesInsertionPoint(buildRecord(sam.Paired, 100, 100, 60), 150, 8))
	assert.False(t, crossesInsertionPoint(buildRecord(proper|sam.Duplicate, 100, 100, 60), 150, 8))
	assert.False(t, crossesInsertionPoint(buildRecord(proper|sam.Supplementary, 100, 100, 60), 150, 8))
	assert.False(t, crossesInsertionPoint(buildRecord(proper|sam.Unmapped, 100, 100, 60), 150, 8))
	assert.False(t, crossesInsertionPoint(buildRecord(proper|sam.MateUnmapped, 100, 100, 60), 150, 8))
	assert.False(t, crossesInsertionPoint(buildRecord(proper, 100, 100, 5), 150, 8))
}

func TestAlignSpan(t *testing.T) {
	rec := &sam.Record{
		Pos: 99,
		Cigar: sam.Cigar{
			sam.NewCigarOp(sam.CigarSoftClipped, 5),
			sam.NewCigarOp(sam.CigarMatch, 50),
			sam.NewCigarOp(sam.CigarDeletion, 2),
			sam.NewCigarOp(sam.CigarMatch, 10),
		},
	}
	start, end := alignSpan(rec)
	require.Equal(t, int64(100), start)
	require.Equal(t, int64(161), end)
}
