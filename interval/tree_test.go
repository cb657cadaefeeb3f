package interval

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *Tree, low, high int64, opts LookupOpts) []Record {
	var recs []Record
	t.Lookup(low, high, opts, func(r Record) { recs = append(recs, r) })
	sort.Slice(recs, func(i, j int) bool { return recs[i].NodeLow < recs[j].NodeLow })
	return recs
}

func TestLookupPlainOverlap(t *testing.T) {
	var tree Tree
	tree.Insert(100, 200, "a")
	tree.Insert(150, 250, "b")
	tree.Insert(300, 400, "c")
	require.Equal(t, 3, tree.Len())

	recs := collect(&tree, 180, 320, LookupOpts{})
	require.Len(t, recs, 3)
	assert.Equal(t, "a", recs[0].Data)
	assert.Equal(t, int64(180), recs[0].OverlapPos)
	assert.Equal(t, int64(21), recs[0].OverlapLen)
	assert.Equal(t, "b", recs[1].Data)
	assert.Equal(t, int64(180), recs[1].OverlapPos)
	assert.Equal(t, int64(71), recs[1].OverlapLen)
	assert.Equal(t, "c", recs[2].Data)
	assert.Equal(t, int64(300), recs[2].OverlapPos)
	assert.Equal(t, int64(21), recs[2].OverlapLen)

	// Closed intervals: touching at a single base is a hit.
	n := tree.Lookup(200, 200, LookupOpts{}, func(Record) {})
	assert.Equal(t, 2, n)

	n = tree.Lookup(251, 299, LookupOpts{}, func(Record) {})
	assert.Equal(t, 0, n)
}

func TestLookupNodeFraction(t *testing.T) {
	var tree Tree
	tree.Insert(1, 100, "exon")

	// The overlap [51, 100] covers 50 of the node's 100 bases.
	opts := LookupOpts{NodeFrac: 0.5}
	assert.Equal(t, 1, tree.Lookup(51, 200, opts, func(Record) {}))

	opts = LookupOpts{NodeFrac: 0.6}
	assert.Equal(t, 0, tree.Lookup(51, 200, opts, func(Record) {}))
}

func TestLookupIntervalFraction(t *testing.T) {
	var tree Tree
	tree.Insert(1, 1000, "exon")

	// The node fully covers a short query.
	opts := LookupOpts{IntervalFrac: 1.0}
	assert.Equal(t, 1, tree.Lookup(500, 600, opts, func(Record) {}))

	// Query hangs off the node's end.
	assert.Equal(t, 0, tree.Lookup(950, 1100, opts, func(Record) {}))
}

func TestLookupEither(t *testing.T) {
	var tree Tree
	tree.Insert(1, 100, "short")

	// Node fraction fails, interval fraction passes.
	opts := LookupOpts{NodeFrac: 0.9, IntervalFrac: 0.5, Either: true}
	assert.Equal(t, 1, tree.Lookup(80, 110, opts, func(Record) {}))

	opts.Either = false
	assert.Equal(t, 0, tree.Lookup(80, 110, opts, func(Record) {}))
}

func TestInsertAfterLookup(t *testing.T) {
	var tree Tree
	tree.Insert(10, 20, 1)
	assert.Equal(t, 1, tree.Lookup(15, 15, LookupOpts{}, func(Record) {}))
	tree.Insert(12, 30, 2)
	assert.Equal(t, 2, tree.Lookup(15, 15, LookupOpts{}, func(Record) {}))
}
