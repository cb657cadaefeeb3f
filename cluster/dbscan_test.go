package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testIntervals = [][2]int64{
	{1000, 1100},
	{1050, 1150},
	{1300, 1400},
	{2000, 2100},
	{2500, 2600},
	{2560, 2660},
}

func buildBucket() *DBSCAN {
	d := New()
	for i, iv := range testIntervals {
		d.Insert(iv[0], iv[1], i)
	}
	return d
}

func TestClusterEps300(t *testing.T) {
	d := buildBucket()
	var clustered []*Point
	n := d.Cluster(300, 3, func(p *Point) { clustered = append(clustered, p) })

	require.Equal(t, 1, n)
	require.Len(t, clustered, 3)
	for _, p := range clustered {
		assert.Equal(t, Core, p.Label)
		assert.Equal(t, 1, p.ID)
	}
	members := map[int]bool{}
	for _, p := range clustered {
		members[p.Data.(int)] = true
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, members)

	for _, p := range d.points[3:] {
		assert.Equal(t, Noise, p.Label)
	}
}

func TestClusterEps500(t *testing.T) {
	d := buildBucket()
	n := d.Cluster(500, 3, func(*Point) {})
	require.Equal(t, 2, n)

	wantLabels := []Label{Core, Core, Core, Reachable, Core, Reachable}
	wantIDs := []int{1, 1, 1, 2, 2, 2}
	for i, p := range d.points {
		assert.Equal(t, wantLabels[i], p.Label, "point %d", i)
		assert.Equal(t, wantIDs[i], p.ID, "point %d", i)
	}
}

func TestClusterInvariants(t *testing.T) {
	d := buildBucket()
	eps, minPts := int64(500), 3
	d.Cluster(eps, minPts, func(*Point) {})

	within := func(p, q *Point) bool {
		pm := (p.Low + p.High) / 2
		qm := (q.Low + q.High) / 2
		diff := pm - qm
		if diff < 0 {
			diff = -diff
		}
		return diff <= eps
	}
	for _, p := range d.points {
		switch p.Label {
		case Core:
			n := 0
			for _, q := range d.points {
				if within(p, q) {
					n++
				}
			}
			assert.GreaterOrEqual(t, n, minPts, "core point %v", p)
		case Reachable:
			ok := false
			for _, q := range d.points {
				if q.Label == Core && q.ID == p.ID && within(q, p) {
					ok = true
					break
				}
			}
			assert.True(t, ok, "reachable point %v has no core neighbor", p)
		case Noise:
			assert.Zero(t, p.ID)
		case Undefined:
			t.Errorf("point %v left undefined", p)
		}
	}
}

func TestClusterEmpty(t *testing.T) {
	d := New()
	assert.Equal(t, 0, d.Cluster(300, 3, func(*Point) {
		t.Error("unexpected point")
	}))
}

func TestReclusterSameBucket(t *testing.T) {
	d := buildBucket()
	first := d.Cluster(500, 3, func(*Point) {})
	second := d.Cluster(300, 3, func(*Point) {})
	assert.Equal(t, 2, first)
	assert.Equal(t, 1, second)
}
