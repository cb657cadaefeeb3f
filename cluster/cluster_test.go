package cluster

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/sider/blacklist"
	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
)

type driverFixture struct {
	d  *db.DB
	bl *blacklist.Blacklist

	clusterStmt    *db.ClusterStmt
	clusteringStmt *db.ClusteringStmt

	nextAlign int64
}

func newDriverFixture(t *testing.T) *driverFixture {
	d, err := db.Create(filepath.Join(t.TempDir(), "cluster.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	f := &driverFixture{d: d}
	f.clusterStmt, err = d.PrepareCluster()
	require.NoError(t, err)
	f.clusteringStmt, err = d.PrepareClustering()
	require.NoError(t, err)

	blStmt, err := d.PrepareBlacklist()
	require.NoError(t, err)
	oblStmt, err := d.PrepareOverlappingBlacklist()
	require.NoError(t, err)
	f.bl = blacklist.New(blStmt, oblStmt, chr.NewStandardizer())

	batch, err := d.PrepareBatch()
	require.NoError(t, err)
	require.NoError(t, batch.Insert(1, "2020-01-01 00:00:00"))
	source, err := d.PrepareSource()
	require.NoError(t, err)
	require.NoError(t, source.Insert(1, 1, "in.bam"))

	exon, err := d.PrepareExon()
	require.NoError(t, err)
	require.NoError(t, exon.Insert(1, "GENEA", "chr5", 100, 200, "+",
		"ENSG01", "ENSE01"))
	return f
}

// addPair inserts an abnormal cross-chromosome pair: the anchor read
// on chr1 and its exonic mate inside GENEA on chr5.
func (f *driverFixture) addPair(t *testing.T, qname string, anchorPos int64) {
	align, err := f.d.PrepareAlignment()
	require.NoError(t, err)
	defer align.Close()
	overlapping, err := f.d.PrepareOverlapping()
	require.NoError(t, err)
	defer overlapping.Close()

	f.nextAlign++
	anchor := f.nextAlign
	require.NoError(t, align.Insert(anchor, qname, 99, "chr1", anchorPos, 60,
		"100M", 100, 100, "chr5", 120, 2, 1))

	f.nextAlign++
	mate := f.nextAlign
	require.NoError(t, align.Insert(mate, qname, 147, "chr5", 120, 60,
		"100M", 100, 100, "chr1", anchorPos, 10, 1))
	require.NoError(t, overlapping.Insert(1, mate, 120, 81))
}

func defaultOptions() Options {
	return Options{
		Eps:              300,
		MinPts:           3,
		ParentalDistance: 1000000,
		Support:          1,
		BlacklistChr:     map[string]bool{"chrM": true},
	}
}

func TestRunSingleCluster(t *testing.T) {
	f := newDriverFixture(t)
	positions := []int64{1000, 1100, 1200, 1300}
	for i, pos := range positions {
		f.addPair(t, "q"+string(rune('a'+i)), pos)
	}

	n, err := Run(f.d, f.clusterStmt, f.clusteringStmt, f.bl, defaultOptions())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var (
		chrom      string
		start, end int64
		gene       string
		filter     int
	)
	row := f.d.QueryRow("SELECT chr, start, end, gene_name, filter FROM cluster")
	require.NoError(t, row.Scan(&chrom, &start, &end, &gene, &filter))
	assert.Equal(t, "chr1", chrom)
	assert.Equal(t, "GENEA", gene)
	assert.Equal(t, Filter(filter), FilterAll)

	// The cluster window spans the member alignments.
	assert.Equal(t, int64(1000), start)
	assert.Equal(t, int64(1399), end)

	var members int
	row = f.d.QueryRow("SELECT COUNT(*) FROM clustering")
	require.NoError(t, row.Scan(&members))
	assert.Equal(t, len(positions), members)
}

func TestRunBlacklistChromosome(t *testing.T) {
	f := newDriverFixture(t)
	for i, pos := range []int64{1000, 1100, 1200} {
		f.addPair(t, "q"+string(rune('a'+i)), pos)
	}

	opts := defaultOptions()
	opts.BlacklistChr["chr1"] = true
	n, err := Run(f.d, f.clusterStmt, f.clusteringStmt, f.bl, opts)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// The cluster row exists but misses the CHR bit.
	var filter int
	row := f.d.QueryRow("SELECT filter FROM cluster")
	require.NoError(t, row.Scan(&filter))
	assert.Zero(t, Filter(filter)&FilterChr)
	assert.NotZero(t, Filter(filter)&FilterDist)
	assert.NotZero(t, Filter(filter)&FilterRegion)
}

func TestRunParentalDistance(t *testing.T) {
	f := newDriverFixture(t)

	// Anchors sit on the parental chromosome, close to the gene.
	align, err := f.d.PrepareAlignment()
	require.NoError(t, err)
	overlapping, err := f.d.PrepareOverlapping()
	require.NoError(t, err)
	for i, pos := range []int64{300, 400, 500} {
		qname := "q" + string(rune('a'+i))
		f.nextAlign++
		anchor := f.nextAlign
		require.NoError(t, align.Insert(anchor, qname, 99, "chr5", pos, 60,
			"100M", 100, 100, "chr5", 120, 1, 1))
		f.nextAlign++
		mate := f.nextAlign
		require.NoError(t, align.Insert(mate, qname, 147, "chr5", 120, 60,
			"100M", 100, 100, "chr5", pos, 9, 1))
		require.NoError(t, overlapping.Insert(1, mate, 120, 81))
	}

	n, err := Run(f.d, f.clusterStmt, f.clusteringStmt, f.bl, defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	var filter int
	row := f.d.QueryRow("SELECT filter FROM cluster")
	require.NoError(t, row.Scan(&filter))
	assert.Zero(t, Filter(filter)&FilterDist)
}

func TestRunTooFewPoints(t *testing.T) {
	f := newDriverFixture(t)
	f.addPair(t, "qa", 1000)
	f.addPair(t, "qb", 1100)

	n, err := Run(f.d, f.clusterStmt, f.clusteringStmt, f.bl, defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
