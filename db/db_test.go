package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createSample(t *testing.T, path string, nAlignments int) {
	d, err := Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, d.Close()) }()

	require.NoError(t, d.BeginTransaction())

	batch, err := d.PrepareBatch()
	require.NoError(t, err)
	require.NoError(t, batch.Insert(1, "2020-01-01 00:00:00"))

	source, err := d.PrepareSource()
	require.NoError(t, err)
	require.NoError(t, source.Insert(1, 1, filepath.Base(path)+".bam"))

	exon, err := d.PrepareExon()
	require.NoError(t, err)
	require.NoError(t, exon.Insert(1, "PONGA", "chr1", 1000, 2000, "+",
		"ENSG000001", "ENSE000001"))

	alignment, err := d.PrepareAlignment()
	require.NoError(t, err)
	overlapping, err := d.PrepareOverlapping()
	require.NoError(t, err)
	for i := 1; i <= nAlignments; i++ {
		require.NoError(t, alignment.Insert(int64(i), "read", 99, "chr2",
			int64(5000+i), 60, "100M", 100, 100, "chr1", 1500, 8, 1))
		require.NoError(t, overlapping.Insert(1, int64(i), 1500, 100))
	}

	require.NoError(t, d.EndTransaction())
}

func TestCreateConnect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.db")
	createSample(t, path, 3)

	d, err := Connect(path)
	require.NoError(t, err)
	defer d.Close()

	var n int
	require.NoError(t, d.QueryRow("SELECT COUNT(*) FROM alignment").Scan(&n))
	assert.Equal(t, 3, n)

	require.NoError(t, d.CacheSize(10000))
}

func TestConnectMissing(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "nope.db"))
	assert.Error(t, err)
}

func TestMerge(t *testing.T) {
	dir := t.TempDir()
	path1 := filepath.Join(dir, "s1.db")
	path2 := filepath.Join(dir, "s2.db")
	createSample(t, path1, 2)
	createSample(t, path2, 3)

	out, err := Create(filepath.Join(dir, "merged.db"))
	require.NoError(t, err)
	defer out.Close()

	require.NoError(t, out.BeginTransaction())
	require.NoError(t, out.Merge([]string{path1, path2}))
	require.NoError(t, out.EndTransaction())

	var n int
	require.NoError(t, out.QueryRow("SELECT COUNT(*) FROM batch").Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, out.QueryRow("SELECT COUNT(*) FROM source").Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, out.QueryRow("SELECT COUNT(*) FROM alignment").Scan(&n))
	assert.Equal(t, 5, n)

	// Same external exon id: deduplicated, both overlap sets remapped
	// onto it.
	require.NoError(t, out.QueryRow("SELECT COUNT(*) FROM exon").Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, out.QueryRow("SELECT COUNT(*) FROM overlapping").Scan(&n))
	assert.Equal(t, 5, n)

	// Alignment ids from the second database were offset past the
	// first database's.
	require.NoError(t, out.QueryRow("SELECT MAX(id) FROM alignment").Scan(&n))
	assert.Equal(t, 5, n)
	require.NoError(t, out.QueryRow(
		"SELECT COUNT(DISTINCT source_id) FROM alignment").Scan(&n))
	assert.Equal(t, 2, n)
}
