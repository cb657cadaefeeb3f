package blacklist

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/encoding/gff"
)

func newBlacklist(t *testing.T) (*Blacklist, *db.DB) {
	d, err := db.Create(filepath.Join(t.TempDir(), "bl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	stmt, err := d.PrepareBlacklist()
	require.NoError(t, err)
	overlapStmt, err := d.PrepareOverlappingBlacklist()
	require.NoError(t, err)

	return New(stmt, overlapStmt, chr.NewStandardizer()), d
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0666))
	return path
}

func TestLoadBED(t *testing.T) {
	ctx := vcontext.Background()
	bl, d := newBlacklist(t)

	path := writeFile(t, "regions.bed",
		"1\t1000\t2000\tRegionA\n"+
			"chrX\t5000\t6000\n")
	require.NoError(t, bl.LoadBED(ctx, d, path))
	require.Equal(t, 2, bl.Len())

	// Chromosome names were standardized on load.
	var n int
	require.NoError(t, d.QueryRow(
		"SELECT COUNT(*) FROM blacklist WHERE chr = 'chr1'").Scan(&n))
	assert.Equal(t, 1, n)

	hits, err := bl.Lookup("chr1", 1500, 1600, 0, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	hits, err = bl.Lookup("chr1", 2500, 2600, 0, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, hits)

	// Padding reaches the region.
	hits, err = bl.Lookup("chr1", 2500, 2600, 600, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	hits, err = bl.Lookup("chr9", 1500, 1600, 0, 7, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, hits)

	// Overlap rows were recorded for the hits: one row per (region,
	// cluster) pair, so the second hit of cluster [7 1] on the same
	// region adds no row.
	require.NoError(t, d.QueryRow(
		"SELECT COUNT(*) FROM overlapping_blacklist WHERE cluster_id = 7").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestLoadGFF(t *testing.T) {
	ctx := vcontext.Background()
	bl, d := newBlacklist(t)

	path := writeFile(t, "ann.gff3",
		"chr2\tHAVANA\tgene\t100\t900\t.\t+\t.\tgene_name=PONGA;gene_type=processed_pseudogene\n"+
			"chr2\tHAVANA\tgene\t2000\t3000\t.\t+\t.\tgene_name=KEEP;gene_type=protein_coding\n")

	filter := gff.NewFilter().Feature("gene")
	_, err := filter.SoftAttribute("gene_type", "processed_pseudogene")
	require.NoError(t, err)

	require.NoError(t, bl.LoadGFF(ctx, d, path, filter))
	require.Equal(t, 1, bl.Len())

	hits, err := bl.Lookup("chr2", 850, 950, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	hits, err = bl.Lookup("chr2", 2100, 2200, 0, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, hits)
}
