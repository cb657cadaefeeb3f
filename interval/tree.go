package interval

import (
	biointerval "github.com/biogo/store/interval"
)

// Record describes one lookup hit. Coordinates are the stored node's
// and the query's closed ranges, plus the position and length of their
// overlap on the reference.
type Record struct {
	// Data is the payload stored with the matched interval.
	Data interface{}

	NodeLow  int64
	NodeHigh int64

	QueryLow  int64
	QueryHigh int64

	OverlapPos int64
	OverlapLen int64
}

// LookupOpts guards lookup hits. NodeFrac is the minimum fraction of
// the stored interval that the overlap must cover; IntervalFrac is the
// minimum fraction of the query covered. Either relaxes the
// conjunction to a disjunction. The zero value accepts any overlap,
// including single-base touching of closed intervals.
type LookupOpts struct {
	NodeFrac     float64
	IntervalFrac float64
	Either       bool
}

type node struct {
	low, high int64
	data      interface{}
	uid       uintptr
}

func (n node) Overlap(b biointerval.IntRange) bool {
	return n.low <= int64(b.End)-1 && n.high >= int64(b.Start)
}
func (n node) Range() biointerval.IntRange {
	// Closed interval stored half-open for the underlying tree.
	return biointerval.IntRange{Start: int(n.low), End: int(n.high) + 1}
}
func (n node) ID() uintptr { return n.uid }

type query struct {
	low, high int64
	opts      LookupOpts
}

func (q query) Overlap(b biointerval.IntRange) bool {
	nodeLow := int64(b.Start)
	nodeHigh := int64(b.End) - 1

	wn := nodeHigh - nodeLow
	wi := q.high - q.low
	in := wn + wi - max64(nodeHigh, q.high) + min64(nodeLow, q.low)

	hitNode := in >= int64(float64(wn)*q.opts.NodeFrac)
	hitQuery := in >= int64(float64(wi)*q.opts.IntervalFrac)

	if in < 0 {
		return false
	}
	if q.opts.Either {
		return hitNode || hitQuery
	}
	return hitNode && hitQuery
}
func (q query) Range() biointerval.IntRange {
	return biointerval.IntRange{Start: int(q.low), End: int(q.high) + 1}
}
func (q query) ID() uintptr { return 0 }

// Tree is an interval index. The zero value is ready to use. Tree is
// not safe for concurrent mutation; a fully built tree may be shared
// by concurrent readers.
type Tree struct {
	tree   biointerval.IntTree
	nextID uintptr
	dirty  bool
}

// Insert adds the closed interval [low, high] with its payload.
// Inserts are cheap; range augmentation is deferred to the next
// lookup.
func (t *Tree) Insert(low, high int64, data interface{}) {
	if high < low {
		low, high = high, low
	}
	err := t.tree.Insert(node{low: low, high: high, data: data, uid: t.nextID}, true)
	if err != nil {
		// Insertion only fails on duplicate IDs, which the counter
		// rules out.
		panic(err)
	}
	t.nextID++
	t.dirty = true
}

// Len returns the number of stored intervals.
func (t *Tree) Len() int { return t.tree.Len() }

// Build finalizes pending inserts. Lookup calls it implicitly, but a
// tree shared by concurrent readers must be built once beforehand.
func (t *Tree) Build() {
	if t.dirty {
		t.tree.AdjustRanges()
		t.dirty = false
	}
}

// Lookup calls fn for every stored interval overlapping [low, high]
// under opts and returns the number of hits. Hits are delivered in
// tree order.
func (t *Tree) Lookup(low, high int64, opts LookupOpts, fn func(Record)) int {
	t.Build()
	if high < low {
		low, high = high, low
	}
	hits := t.tree.Get(query{low: low, high: high, opts: opts})
	for _, h := range hits {
		n := h.(node)
		pos := max64(n.low, low)
		end := min64(n.high, high)
		fn(Record{
			Data:       n.data,
			NodeLow:    n.low,
			NodeHigh:   n.high,
			QueryLow:   low,
			QueryHigh:  high,
			OverlapPos: pos,
			OverlapLen: end - pos + 1,
		})
	}
	return len(hits)
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
