package exon

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
)

const testGFF = `##gff-version 3
chr5	HAVANA	exon	1000	2000	.	+	.	gene_id=ENSG01;transcript_type=protein_coding;exon_id=ENSE01;gene_name=GENEA
chr5	HAVANA	exon	3000	4000	.	+	.	gene_id=ENSG01;transcript_type=protein_coding;exon_id=ENSE02;gene_name=GENEA
chr5	HAVANA	exon	3000	4000	.	+	.	gene_id=ENSG01;transcript_type=protein_coding;exon_id=ENSE02;gene_name=GENEA
17	HAVANA	exon	500	800	.	-	.	gene_id=ENSG02;transcript_type=protein_coding;exon_id=ENSE03;gene_name=GENEB
chr5	HAVANA	exon	5000	6000	.	+	.	gene_id=ENSG03;transcript_type=lncRNA;exon_id=ENSE04;gene_name=GENEC
chr5	HAVANA	exon	7000	8000	.	+	.	gene_id=ENSG04;transcript_type=protein_coding;gene_name=NOEXONID
`

func newTree(t *testing.T) (*Tree, *db.DB) {
	d, err := db.Create(filepath.Join(t.TempDir(), "exon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	exonStmt, err := d.PrepareExon()
	require.NoError(t, err)
	overlappingStmt, err := d.PrepareOverlapping()
	require.NoError(t, err)
	return NewTree(exonStmt, overlappingStmt, chr.NewStandardizer()), d
}

func TestIndexGFF(t *testing.T) {
	ctx := vcontext.Background()
	tree, d := newTree(t)

	path := filepath.Join(t.TempDir(), "ann.gff3")
	require.NoError(t, os.WriteFile(path, []byte(testGFF), 0666))
	require.NoError(t, tree.IndexGFF(ctx, path))

	// Duplicate exon ids index once; non-coding entries and entries
	// without exon_id are skipped.
	assert.Equal(t, 3, tree.Len())

	var n int
	require.NoError(t, d.QueryRow("SELECT COUNT(*) FROM exon").Scan(&n))
	assert.Equal(t, 3, n)

	// The bare "17" chromosome was standardized.
	var chrom string
	require.NoError(t, d.QueryRow(
		"SELECT chr FROM exon WHERE gene_name = 'GENEB'").Scan(&chrom))
	assert.Equal(t, "chr17", chrom)
}

func TestLookupDump(t *testing.T) {
	ctx := vcontext.Background()
	tree, d := newTree(t)

	path := filepath.Join(t.TempDir(), "ann.gff3")
	require.NoError(t, os.WriteFile(path, []byte(testGFF), 0666))
	require.NoError(t, tree.IndexGFF(ctx, path))

	hits, err := tree.LookupDump("chr5", 1500, 1600, 1e-9, 1e-9, false, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	hits, err = tree.LookupDump("chr5", 2100, 2900, 1e-9, 1e-9, false, 43)
	require.NoError(t, err)
	assert.Equal(t, 0, hits)

	hits, err = tree.LookupDump("chr12", 1500, 1600, 1e-9, 1e-9, false, 44)
	require.NoError(t, err)
	assert.Equal(t, 0, hits)

	var n int
	require.NoError(t, d.QueryRow(
		"SELECT COUNT(*) FROM overlapping WHERE alignment_id = 42").Scan(&n))
	assert.Equal(t, 1, n)

	// The non-coding GENEC exon was never indexed.
	hits, err = tree.LookupDump("chr5", 5100, 5200, 1e-9, 1e-9, false, 45)
	require.NoError(t, err)
	assert.Equal(t, 0, hits)
}
