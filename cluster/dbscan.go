// Package cluster implements the density-based clustering core:
// DBSCAN over one-dimensional genomic intervals, the two-pass
// clustering driver fed by the alignment store, and the filter bitset
// that gates clusters into the retrocopy stage.
package cluster

import (
	"github.com/grailbio/sider/interval"
)

// Label is the DBSCAN state of one point.
type Label int

// Point labels, in transition order.
const (
	Undefined Label = iota
	Noise
	Reachable
	Core
)

// Point is the clustering atom: a closed reference interval carrying
// its label, the cluster ordinal assigned within one Cluster call,
// and its neighbor count.
type Point struct {
	Label     Label
	ID        int
	Neighbors int
	Low       int64
	High      int64
	Data      interface{}
}

// DBSCAN holds the points of a single clustering bucket.
type DBSCAN struct {
	points []*Point
	index  interval.Tree
}

// New returns an empty DBSCAN bucket.
func New() *DBSCAN {
	return &DBSCAN{}
}

// Insert adds a point for the closed interval [low, high]. The
// point's position is the interval midpoint; the full interval is
// kept on the point for span bookkeeping.
func (d *DBSCAN) Insert(low, high int64, data interface{}) {
	p := &Point{Low: low, High: high, Data: data}
	d.points = append(d.points, p)
	mid := (low + high) / 2
	d.index.Insert(mid, mid, p)
}

// Len returns the number of points inserted.
func (d *DBSCAN) Len() int { return len(d.points) }

func (d *DBSCAN) rangeQuery(p *Point, eps int64) []*Point {
	center := (p.High + p.Low) / 2
	low := center - eps
	if low < 1 {
		low = 1
	}
	var neighbors []*Point
	d.index.Lookup(low, center+eps, interval.LookupOpts{}, func(r interval.Record) {
		neighbors = append(neighbors, r.Data.(*Point))
	})
	return neighbors
}

// seedSet accumulates the members of one expanding cluster with set
// semantics: re-adding a point is a no-op that does not reset its
// state. Iteration follows insertion order.
type seedSet struct {
	points []*Point
	seen   map[*Point]bool
}

func newSeedSet() *seedSet {
	return &seedSet{seen: make(map[*Point]bool)}
}

func (s *seedSet) add(points []*Point) {
	for _, p := range points {
		if s.seen[p] {
			continue
		}
		s.seen[p] = true
		s.points = append(s.points, p)
	}
}

// Cluster runs DBSCAN with radius eps and density threshold minPts,
// calling fn for every point that joined a cluster. It returns the
// number of clusters found; point IDs number the clusters 1..n.
// Points keep their labels after the call, so a bucket may be
// clustered again with different parameters.
func (d *DBSCAN) Cluster(eps int64, minPts int, fn func(*Point)) int {
	for _, p := range d.points {
		p.Label = Undefined
		p.ID = 0
	}

	var clusters int
	for _, p := range d.points {
		if p.Label != Undefined {
			continue
		}

		neighbors := d.rangeQuery(p, eps)
		p.Neighbors = len(neighbors)
		if len(neighbors) < minPts {
			p.Label = Noise
			continue
		}

		clusters++
		p.Label = Core
		p.ID = clusters

		seed := newSeedSet()
		seed.add(neighbors)
		for i := 0; i < len(seed.points); i++ {
			q := seed.points[i]
			q.ID = clusters

			if q.Label == Noise {
				q.Label = Reachable
			}
			if q.Label != Undefined {
				continue
			}
			q.Label = Reachable

			qNeighbors := d.rangeQuery(q, eps)
			q.Neighbors = len(qNeighbors)
			if len(qNeighbors) >= minPts {
				q.Label = Core
				seed.add(qNeighbors)
			}
		}

		for _, q := range seed.points {
			fn(q)
		}
	}
	return clusters
}
