package retrocopy

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/sider/cluster"
	"github.com/grailbio/sider/db"
)

type fixture struct {
	d       *db.DB
	exon    *db.ExonStmt
	align   *db.AlignmentStmt
	clust   *db.ClusteringStmt
	cls     *db.ClusterStmt
	rtc     *db.RetrocopyStmt
	merging *db.ClusterMergingStmt

	nextExon  int64
	nextAlign int64
}

func newFixture(t *testing.T) *fixture {
	d, err := db.Create(filepath.Join(t.TempDir(), "rtc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	f := &fixture{d: d}
	f.exon, err = d.PrepareExon()
	require.NoError(t, err)
	f.align, err = d.PrepareAlignment()
	require.NoError(t, err)
	f.clust, err = d.PrepareClustering()
	require.NoError(t, err)
	f.cls, err = d.PrepareCluster()
	require.NoError(t, err)
	f.rtc, err = d.PrepareRetrocopy()
	require.NoError(t, err)
	f.merging, err = d.PrepareClusterMerging()
	require.NoError(t, err)

	batch, err := d.PrepareBatch()
	require.NoError(t, err)
	require.NoError(t, batch.Insert(1, "2020-01-01 00:00:00"))
	source, err := d.PrepareSource()
	require.NoError(t, err)
	require.NoError(t, source.Insert(1, 1, "in.bam"))
	return f
}

func (f *fixture) addExon(t *testing.T, gene, chrom string, start, end int64) {
	f.nextExon++
	require.NoError(t, f.exon.Insert(f.nextExon, gene, chrom, start, end, "+",
		"ENSG"+gene, "ENSE"+gene))
}

// addCluster registers a passing cluster with a handful of member
// alignments, optionally including a supplementary read.
func (f *fixture) addCluster(t *testing.T, cid int64, chrom string,
	start, end int64, gene string, suppCigar string, suppPos, suppRLen int64) {
	require.NoError(t, f.cls.Insert(cid, 1, chrom, start, end, gene,
		int(cluster.FilterAll)))

	f.nextAlign++
	require.NoError(t, f.align.Insert(f.nextAlign, "q", 99, chrom, start, 60,
		"100M", 100, 100, chrom, start+500, 2, 1))
	require.NoError(t, f.clust.Insert(cid, 1, f.nextAlign, int(cluster.Core), 5))

	if suppCigar != "" {
		f.nextAlign++
		require.NoError(t, f.align.Insert(f.nextAlign, "q2", 99|2048, chrom,
			suppPos, 60, suppCigar, 100, int(suppRLen), chrom, start+500, 4, 1))
		require.NoError(t, f.clust.Insert(cid, 1, f.nextAlign, int(cluster.Core), 5))
	}
}

type rtcRow struct {
	id     int64
	chrom  string
	start  int64
	end    int64
	genes  string
	level  Level
	ip     int64
	ipType InsertionPointType
}

func readRetrocopies(t *testing.T, d *db.DB) []rtcRow {
	rows, err := d.Query(
		"SELECT id, chr, window_start, window_end, parental_gene_name,\n" +
			"	level, insertion_point, insertion_point_type\n" +
			"FROM retrocopy ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()
	var out []rtcRow
	for rows.Next() {
		var r rtcRow
		require.NoError(t, rows.Scan(&r.id, &r.chrom, &r.start, &r.end,
			&r.genes, &r.level, &r.ip, &r.ipType))
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestResolveOverlappedParentals(t *testing.T) {
	f := newFixture(t)
	// Two overlapping cluster windows whose parental genes overlap on
	// chr5.
	f.addExon(t, "GENEA", "chr5", 100, 200)
	f.addExon(t, "GENEB", "chr5", 150, 250)
	f.addCluster(t, 1, "chr1", 1000, 2000, "GENEA", "", 0, 0)
	f.addCluster(t, 2, "chr1", 1500, 2500, "GENEB", "", 0, 0)

	n, err := Resolve(f.d, f.rtc, f.merging, Options{NearGeneRank: 3})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rtcs := readRetrocopies(t, f.d)
	require.Len(t, rtcs, 1)
	assert.NotZero(t, rtcs[0].level&LevelOverlappedParentals)
	assert.Equal(t, "chr1", rtcs[0].chrom)
	assert.Equal(t, int64(1000), rtcs[0].start)
	assert.Equal(t, int64(2500), rtcs[0].end)
	assert.Contains(t, rtcs[0].genes, "GENEA")
	assert.Contains(t, rtcs[0].genes, "GENEB")
}

func TestResolvePassWindowMean(t *testing.T) {
	f := newFixture(t)
	f.addExon(t, "GENEA", "chr5", 100, 200)
	f.addCluster(t, 1, "chr1", 1000, 2000, "GENEA", "", 0, 0)

	n, err := Resolve(f.d, f.rtc, f.merging, Options{NearGeneRank: 3})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rtcs := readRetrocopies(t, f.d)
	require.Len(t, rtcs, 1)
	assert.Equal(t, LevelPass, rtcs[0].level)
	assert.Equal(t, int64(1500), rtcs[0].ip)
	assert.Equal(t, IPWindowMean, rtcs[0].ipType)
	// Insertion point stays within the window.
	assert.GreaterOrEqual(t, rtcs[0].ip, rtcs[0].start)
	assert.LessOrEqual(t, rtcs[0].ip, rtcs[0].end)
}

func TestResolveSupplementaryMode(t *testing.T) {
	f := newFixture(t)
	f.addExon(t, "GENEA", "chr5", 100, 200)
	// Right-clipped supplementary: insertion point = pos + rlen.
	f.addCluster(t, 1, "chr1", 1000, 2000, "GENEA", "50M50S", 1200, 50)

	n, err := Resolve(f.d, f.rtc, f.merging, Options{NearGeneRank: 3})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	rtcs := readRetrocopies(t, f.d)
	require.Len(t, rtcs, 1)
	assert.Equal(t, int64(1250), rtcs[0].ip)
	assert.Equal(t, IPSupplementaryMode, rtcs[0].ipType)
}

func TestResolveHotspot(t *testing.T) {
	f := newFixture(t)
	// Overlapping cluster windows, parental genes on different
	// chromosomes and support enforced: a hotspot pair.
	f.addExon(t, "GENEA", "chr5", 100, 200)
	f.addExon(t, "GENEB", "chr9", 5000, 6000)
	f.addCluster(t, 1, "chr1", 1000, 2000, "GENEA", "", 0, 0)
	f.addCluster(t, 2, "chr1", 1500, 2500, "GENEB", "", 0, 0)

	n, err := Resolve(f.d, f.rtc, f.merging,
		Options{NearGeneRank: 3, SupportEnforced: true})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, r := range readRetrocopies(t, f.d) {
		assert.NotZero(t, r.level&LevelHotspot)
	}
}

func TestResolveDisjointWindows(t *testing.T) {
	f := newFixture(t)
	f.addExon(t, "GENEA", "chr5", 100, 200)
	f.addExon(t, "GENEB", "chr9", 5000, 6000)
	f.addCluster(t, 1, "chr1", 1000, 2000, "GENEA", "", 0, 0)
	f.addCluster(t, 2, "chr1", 9000, 9500, "GENEB", "", 0, 0)

	n, err := Resolve(f.d, f.rtc, f.merging, Options{NearGeneRank: 3})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	for _, r := range readRetrocopies(t, f.d) {
		assert.Equal(t, LevelPass, r.level)
	}
}
