// Package retrocopy resolves fully-passing clusters into retrocopy
// calls: clusters whose windows overlap on the reference are stacked,
// merged by parental-gene proximity, classified, and annotated with
// an insertion point and, where possible, an orientation.
package retrocopy

import (
	"math/rand"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/grailbio/sider/cigar"
	"github.com/grailbio/sider/cluster"
	"github.com/grailbio/sider/db"
)

// Level classifies the parental-gene context of a retrocopy. The
// value is a bitset.
type Level int

// Level bits.
const (
	LevelPass                Level = 1
	LevelOverlappedParentals Level = 2
	LevelNearParentals       Level = 4
	LevelHotspot             Level = 8
	LevelAmbiguous           Level = 16
)

// InsertionPointType records how the insertion point was derived.
type InsertionPointType int

// Insertion point derivations.
const (
	IPWindowMean        InsertionPointType = 1
	IPSupplementaryMode InsertionPointType = 2
)

// AlphaError is the p-value ceiling for reporting orientation.
const AlphaError = 0.05

// Options tune the resolver.
type Options struct {
	// NearGeneRank is the maximum ranked distance between two
	// parental genes on a chromosome for their clusters to merge as
	// near-parentals.
	NearGeneRank int
	// SupportEnforced distinguishes HOTSPOT (each cluster backed by
	// per-source support) from AMBIGUOUS stacks.
	SupportEnforced bool
	// Seed drives the orientation permutation test.
	Seed int64
}

type clusterEntry struct {
	cid, sid     int64
	cchr         string
	cstart, cend int64

	gene         string
	gchr         string
	gstart, gend int64
	rank         int64
}

// Resolve merges and annotates the passing clusters of d, writing
// cluster_merging and retrocopy rows. It returns the number of
// retrocopies found.
func Resolve(d *db.DB, rtcStmt *db.RetrocopyStmt, cmStmt *db.ClusterMergingStmt,
	opts Options) (int, error) {
	if opts.NearGeneRank < 1 {
		return 0, errors.Errorf("retrocopy: near-gene-rank must be positive, got %d",
			opts.NearGeneRank)
	}

	err := d.Exec("DELETE FROM cluster_merging;\nDELETE FROM retrocopy;")
	if err != nil {
		return 0, err
	}

	log.Printf("retrocopy: analyse and merge clusters into retrocopies")
	if err := d.BeginTransaction(); err != nil {
		return 0, err
	}
	levels, err := mergeClusters(d, cmStmt, opts)
	if err != nil {
		return 0, err
	}
	if err := d.EndTransaction(); err != nil {
		return 0, err
	}

	log.Printf("retrocopy: annotate %d retrocopies", len(levels))
	if err := d.BeginTransaction(); err != nil {
		return 0, err
	}
	if err := annotate(d, rtcStmt, levels, opts); err != nil {
		return 0, err
	}
	if err := d.EndTransaction(); err != nil {
		return 0, err
	}
	return len(levels), nil
}

// clusterQuery streams passing clusters with their parental gene
// extent and the gene's rank along its chromosome.
const clusterQuery = `
WITH
	gene (gene_name, chr, start, end) AS (
		SELECT gene_name, chr, MIN(start), MAX(end)
		FROM exon
		GROUP BY gene_name
	),
	gene_rank (gene_name, chr, start, end, dist) AS (
		SELECT *,
			DENSE_RANK() OVER (
				PARTITION BY chr
				ORDER BY start ASC, end ASC
			)
		FROM gene
	)
SELECT c.id, c.sid, c.chr, c.start, c.end,
	c.gene_name, g.chr, g.start, g.end, g.dist
FROM cluster AS c
INNER JOIN gene_rank AS g
	USING (gene_name)
WHERE c.filter = ?
ORDER BY c.chr ASC, c.start ASC, c.end ASC`

func mergeClusters(d *db.DB, cmStmt *db.ClusterMergingStmt, opts Options) (map[int64]Level, error) {
	rows, err := d.Query(clusterQuery, int(cluster.FilterAll))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	levels := make(map[int64]Level)
	var (
		stack     []*clusterEntry
		chromPrev string
		endPrev   int64
		rid       int64
	)

	flush := func() error {
		return mergeAndClassify(stack, cmStmt, levels, &rid, opts)
	}

	for rows.Next() {
		e := &clusterEntry{}
		err := rows.Scan(&e.cid, &e.sid, &e.cchr, &e.cstart, &e.cend,
			&e.gene, &e.gchr, &e.gstart, &e.gend, &e.rank)
		if err != nil {
			return nil, err
		}

		// A stack is a maximal run of transitively overlapping
		// cluster windows.
		if len(stack) > 0 && !(chromPrev == e.cchr && e.cstart <= endPrev) {
			if err := flush(); err != nil {
				return nil, err
			}
			stack = stack[:0]
			endPrev = 0
		}
		stack = append(stack, e)
		chromPrev = e.cchr
		if e.cend > endPrev {
			endPrev = e.cend
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(stack) > 0 {
		if err := flush(); err != nil {
			return nil, err
		}
	}
	return levels, nil
}

func mergeAndClassify(stack []*clusterEntry, cmStmt *db.ClusterMergingStmt,
	levels map[int64]Level, rid *int64, opts Options) error {
	// Walk the stack in parental gene order.
	sort.SliceStable(stack, func(i, j int) bool {
		if stack[i].gchr != stack[j].gchr {
			return stack[i].gchr < stack[j].gchr
		}
		if stack[i].gstart != stack[j].gstart {
			return stack[i].gstart < stack[j].gstart
		}
		return stack[i].gend < stack[j].gend
	})

	breakLevel := LevelHotspot
	if !opts.SupportEnforced {
		breakLevel = LevelAmbiguous
	}

	dump := func(toMerge []*clusterEntry, level Level) error {
		*rid++
		for _, e := range toMerge {
			log.Debug.Printf("retrocopy: merge cluster [%d %d] into retrocopy %d",
				e.cid, e.sid, *rid)
			if err := cmStmt.Insert(*rid, e.cid, e.sid); err != nil {
				return err
			}
		}
		levels[*rid] = level
		return nil
	}

	prev := stack[0]
	endPrev := prev.gend
	toMerge := []*clusterEntry{prev}
	var level Level

	for _, e := range stack[1:] {
		switch {
		case prev.gchr == e.gchr && prev.gstart <= e.gend && endPrev >= e.gstart:
			toMerge = append(toMerge, e)
			level |= LevelOverlappedParentals
		case prev.gchr == e.gchr && absInt64(prev.rank-e.rank) <= int64(opts.NearGeneRank):
			toMerge = append(toMerge, e)
			level |= LevelNearParentals
		default:
			if err := dump(toMerge, level|breakLevel); err != nil {
				return err
			}
			toMerge = []*clusterEntry{e}
			endPrev = e.gend
			level = breakLevel
		}
		if e.gend > endPrev {
			endPrev = e.gend
		}
		prev = e
	}

	if level == 0 {
		level = LevelPass
	}
	return dump(toMerge, level)
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// window is one merged retrocopy's span.
type window struct {
	rid        int64
	chrom      string
	start, end int64
	genes      string
}

func annotate(d *db.DB, rtcStmt *db.RetrocopyStmt, levels map[int64]Level,
	opts Options) error {
	rows, err := d.Query(
		"SELECT cm.retrocopy_id, c.chr, MIN(c.start), MAX(c.end),\n" +
			"	GROUP_CONCAT(c.gene_name,'/')\n" +
			"FROM cluster AS c\n" +
			"INNER JOIN cluster_merging AS cm\n" +
			"	ON c.id = cm.cluster_id AND c.sid = cm.cluster_sid\n" +
			"GROUP BY cm.retrocopy_id\n" +
			"ORDER BY cm.retrocopy_id ASC")
	if err != nil {
		return err
	}
	var windows []window
	for rows.Next() {
		var w window
		if err := rows.Scan(&w.rid, &w.chrom, &w.start, &w.end, &w.genes); err != nil {
			_ = rows.Close()
			return err
		}
		windows = append(windows, w)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := rows.Close(); err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	for _, w := range windows {
		level, ok := levels[w.rid]
		if !ok {
			log.Fatalf("retrocopy: annotating unknown retrocopy %d", w.rid)
		}

		ip, ipType, err := insertionPoint(d, w)
		if err != nil {
			return err
		}

		var rho, pValue interface{}
		if level == LevelPass {
			if r, p, ok, err := orientation(d, w, rng); err != nil {
				return err
			} else if ok {
				rho, pValue = r, p
			}
		}

		log.Debug.Printf("retrocopy: %d %s:%d-%d %s level %d ip %d type %d",
			w.rid, w.chrom, w.start, w.end, w.genes, level, ip, ipType)
		err = rtcStmt.Insert(w.rid, w.chrom, w.start, w.end, w.genes,
			int(level), ip, int(ipType), rho, pValue)
		if err != nil {
			return err
		}
	}
	return nil
}

// insertionPoint derives the insertion coordinate from the clipped
// ends of the merged clusters' supplementary reads: a read clipped on
// its right contributes its span end, one clipped on its left its
// start. The most frequent coordinate wins; without supplementary
// evidence the window midpoint is used.
func insertionPoint(d *db.DB, w window) (int64, InsertionPointType, error) {
	rows, err := d.Query(
		"SELECT a.pos, a.rlen, a.cigar\n"+
			"FROM cluster_merging AS cm\n"+
			"INNER JOIN clustering AS cl\n"+
			"	ON cl.cluster_id = cm.cluster_id AND cl.cluster_sid = cm.cluster_sid\n"+
			"INNER JOIN alignment AS a\n"+
			"	ON cl.alignment_id = a.id\n"+
			"WHERE cm.retrocopy_id = ? AND (a.flag & 2048)", w.rid)
	if err != nil {
		return 0, 0, err
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var (
			pos, rlen int64
			cigarStr  string
		)
		if err := rows.Scan(&pos, &rlen, &cigarStr); err != nil {
			return 0, 0, err
		}
		c, err := cigar.Parse(cigarStr)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "retrocopy: alignment at %d", pos)
		}
		switch {
		case c.RightClipped():
			counts[pos+rlen]++
		case c.LeftClipped():
			counts[pos]++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	if len(counts) == 0 {
		return (w.start + w.end) / 2, IPWindowMean, nil
	}
	var (
		best      int64
		bestCount int
	)
	for p, n := range counts {
		if n > bestCount || (n == bestCount && p < best) {
			best, bestCount = p, n
		}
	}
	return best, IPSupplementaryMode, nil
}

// orientation correlates the parental exon order against the strand
// of the clustered reads whose mates hit those exons. The boolean
// result reports whether enough pairs with variation were available.
func orientation(d *db.DB, w window, rng *rand.Rand) (float64, float64, bool, error) {
	// Exon ranks along the parental gene.
	rank := make(map[int64]float64)
	rows, err := d.Query(
		"SELECT id FROM exon WHERE gene_name = ? ORDER BY start ASC, end ASC", w.genes)
	if err != nil {
		return 0, 0, false, err
	}
	n := 0
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, 0, false, err
		}
		n++
		rank[id] = float64(n)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, false, err
	}
	if err := rows.Close(); err != nil {
		return 0, 0, false, err
	}

	rows, err = d.Query(
		"SELECT DISTINCT a1.id, a1.flag, e.id\n"+
			"FROM cluster_merging AS cm\n"+
			"INNER JOIN clustering AS cl\n"+
			"	ON cl.cluster_id = cm.cluster_id AND cl.cluster_sid = cm.cluster_sid\n"+
			"INNER JOIN alignment AS a1\n"+
			"	ON cl.alignment_id = a1.id\n"+
			"INNER JOIN alignment AS a2\n"+
			"	ON a1.qname = a2.qname AND a1.source_id = a2.source_id AND a2.id != a1.id\n"+
			"INNER JOIN overlapping AS o\n"+
			"	ON o.alignment_id = a2.id\n"+
			"INNER JOIN exon AS e\n"+
			"	ON o.exon_id = e.id\n"+
			"WHERE cm.retrocopy_id = ? AND e.gene_name = ?", w.rid, w.genes)
	if err != nil {
		return 0, 0, false, err
	}
	defer rows.Close()

	var x, y []float64
	for rows.Next() {
		var aid, exonID int64
		var flag int
		if err := rows.Scan(&aid, &flag, &exonID); err != nil {
			return 0, 0, false, err
		}
		r, ok := rank[exonID]
		if !ok {
			continue
		}
		strand := 1.0
		if flag&0x10 != 0 {
			strand = -1.0
		}
		x = append(x, r)
		y = append(y, strand)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, false, err
	}

	if len(x) < 3 || !hasVariation(x) || !hasVariation(y) {
		return 0, 0, false, nil
	}
	rho := Spearman(x, y)
	pValue := SpearmanPermutationTest(x, y, rho, rng)
	return rho, pValue, true, nil
}

func hasVariation(v []float64) bool {
	for _, f := range v[1:] {
		if f != v[0] {
			return true
		}
	}
	return false
}

// ParentalGenes splits a merged parental gene annotation.
func ParentalGenes(genes string) []string {
	return strings.Split(genes, "/")
}
