package cluster

import (
	"database/sql"

	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/grailbio/sider/abnormal"
	"github.com/grailbio/sider/blacklist"
	"github.com/grailbio/sider/db"
)

// Filter records which gating predicates a cluster satisfies. Only
// clusters carrying every bit reach the retrocopy stage.
type Filter int

// Filter bits. Every cluster carries FilterNone; the remaining bits
// record the predicates it passed.
const (
	FilterNone    Filter = 1
	FilterChr     Filter = 2
	FilterDist    Filter = 4
	FilterRegion  Filter = 8
	FilterSupport Filter = 16
)

// FilterAll is the fully-passing bitset.
const FilterAll = FilterNone | FilterChr | FilterDist | FilterRegion | FilterSupport

// Options tune the clustering stage.
type Options struct {
	Eps    int64
	MinPts int
	// ParentalDistance is the minimum distance between a cluster and
	// its parental gene locus; closer clusters fail the DIST filter.
	ParentalDistance int64
	// Support is the per-source alignment count a cluster needs; a
	// value above 1 enables the reclustering pass.
	Support int
	// Padding widens cluster windows for the region blacklist test.
	Padding int64
	// BlacklistChr names chromosomes excluded as either cluster or
	// parental gene location (standardized names).
	BlacklistChr map[string]bool
}

// filterMap tracks cluster_id → cluster_sid → filter.
type filterMap map[int64]map[int64]Filter

func (m filterMap) set(id, sid int64, f Filter) {
	sub, ok := m[id]
	if !ok {
		sub = make(map[int64]Filter)
		m[id] = sub
	}
	sub[sid] |= f
}

func (m filterMap) get(id, sid int64) (Filter, bool) {
	sub, ok := m[id]
	if !ok {
		return 0, false
	}
	f, ok := sub[sid]
	return f, ok
}

// Run executes the clustering stage: pass 1 over the abnormal
// alignment stream, the optional support reclustering pass, and the
// dump-and-filter pass. It returns the number of clusters that passed
// every filter. Each pass commits before the next starts, since later
// passes read the previous pass's rows back from the store.
func Run(d *db.DB, clusterStmt *db.ClusterStmt, clusteringStmt *db.ClusteringStmt,
	bl *blacklist.Blacklist, opts Options) (int, error) {
	if opts.MinPts < 3 {
		return 0, errors.Errorf("cluster: min-pts must be greater than 2, got %d", opts.MinPts)
	}

	fm := make(filterMap)

	log.Debug.Printf("cluster: clean clustering tables")
	err := d.Exec("DELETE FROM clustering;\nDELETE FROM cluster;")
	if err != nil {
		return 0, err
	}

	log.Printf("cluster: index abnormal alignment qnames")
	err = d.Exec(
		"DROP INDEX IF EXISTS alignment_qname_idx;\n" +
			"CREATE INDEX alignment_qname_idx ON alignment(qname,source_id);\n" +
			"DROP INDEX IF EXISTS overlapping_alignment_idx;\n" +
			"CREATE INDEX overlapping_alignment_idx ON overlapping(alignment_id)")
	if err != nil {
		return 0, err
	}

	log.Printf("cluster: clustering abnormal alignments")
	if err := d.BeginTransaction(); err != nil {
		return 0, err
	}
	n, err := pass1(d, clusteringStmt, opts, fm)
	if err != nil {
		return 0, err
	}
	if err := d.EndTransaction(); err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	log.Printf("cluster: found %d clusters", n)

	if opts.Support > 1 {
		log.Printf("cluster: filter clusters by genotype support and recluster")
		if err := d.BeginTransaction(); err != nil {
			return 0, err
		}
		n, err = pass2(d, clusteringStmt, opts, fm)
		if err != nil {
			return 0, err
		}
		if err := d.EndTransaction(); err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, nil
		}
		log.Printf("cluster: %d clusters left after support reclustering", n)
	}

	log.Printf("cluster: build clusters and apply region, chromosome and parental-distance filters")
	if err := d.BeginTransaction(); err != nil {
		return 0, err
	}
	passed, err := dumpAndFilter(d, clusterStmt, bl, opts, fm)
	if err != nil {
		return 0, err
	}
	if err := d.EndTransaction(); err != nil {
		return 0, err
	}
	log.Printf("cluster: %d clusters passed all filters", passed)
	return passed, nil
}

// pass1Query streams the distinct (alignment, parental gene) tuples
// eligible for clustering: the alignment's mate (or supplementary
// counterpart) overlaps an exon of some protein-coding gene while the
// alignment itself does not sit in that gene's exons.
const pass1Query = `
WITH
	alignment_overlaps_exon (id, qname, source_id, chr, pos, rlen, type, gene_name) AS (
		SELECT a.id, a.qname, a.source_id, a.chr, a.pos, a.rlen, a.type, e.gene_name
		FROM alignment AS a
		LEFT JOIN overlapping AS o
			ON a.id = o.alignment_id
		LEFT JOIN exon AS e
			ON e.id = o.exon_id
		WHERE type != ?
	)
SELECT DISTINCT aoe1.id,
	aoe1.chr,
	aoe1.pos,
	CASE
		WHEN aoe1.rlen <= 0
			THEN (aoe1.pos)
		ELSE
			(aoe1.pos + aoe1.rlen - 1)
	END,
	aoe2.gene_name
FROM alignment_overlaps_exon AS aoe1
INNER JOIN alignment_overlaps_exon AS aoe2
	USING (qname, source_id)
WHERE aoe1.id != aoe2.id
	AND aoe2.type & ?
	AND ((NOT aoe1.type & ?)
		OR (aoe1.type & ? AND aoe1.gene_name IS NOT aoe2.gene_name))
ORDER BY aoe1.chr ASC, aoe2.gene_name ASC, aoe1.pos ASC`

func pass1(d *db.DB, stmt *db.ClusteringStmt, opts Options, fm filterMap) (int64, error) {
	rows, err := d.Query(pass1Query,
		abnormal.TypeNone, abnormal.TypeExonic, abnormal.TypeExonic, abnormal.TypeExonic)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var (
		bucket    = New()
		chromPrev string
		genePrev  string
		clusterID int64
		started   bool
	)

	flush := func() error {
		log.Debug.Printf("cluster: clustering at %q for %q", chromPrev, genePrev)
		var derr error
		n := bucket.Cluster(opts.Eps, opts.MinPts, func(p *Point) {
			if derr != nil {
				return
			}
			id := clusterID + int64(p.ID)
			fm.set(id, 1, FilterNone)
			derr = stmt.Insert(id, 1, p.Data.(int64), int(p.Label), p.Neighbors)
		})
		if derr != nil {
			return derr
		}
		if n > 0 {
			clusterID += int64(n)
			log.Debug.Printf("cluster: found %d clusters at %q for %q",
				n, chromPrev, genePrev)
		}
		return nil
	}

	for rows.Next() {
		var (
			aid          int64
			chrom        string
			astart, aend int64
			gene         sql.NullString
		)
		if err := rows.Scan(&aid, &chrom, &astart, &aend, &gene); err != nil {
			return 0, err
		}
		if !gene.Valid {
			// The join guarantees an exonic mate; a missing gene name
			// is an upstream invariant violation.
			log.Fatalf("cluster: alignment %d has no parental gene", aid)
		}
		if started && (chrom != chromPrev || gene.String != genePrev) {
			if err := flush(); err != nil {
				return 0, err
			}
			bucket = New()
		}
		started = true
		chromPrev, genePrev = chrom, gene.String
		bucket.Insert(astart, aend, aid)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if started {
		if err := flush(); err != nil {
			return 0, err
		}
	}
	return clusterID, nil
}

// pass2Query returns the clustered alignments of clusters where at
// least one source contributes the configured support.
const pass2Query = `
WITH
	filter AS (
		SELECT cluster_id, cluster_sid, source_id
		FROM clustering AS c
		INNER JOIN alignment AS a
			ON a.id = c.alignment_id
		GROUP BY cluster_id, cluster_sid, source_id
		HAVING COUNT(*) >= ?
)
SELECT c.cluster_id,
	c.cluster_sid,
	alignment_id,
	pos,
	CASE
		WHEN rlen <= 0
			THEN (pos)
		ELSE
			(pos + rlen - 1)
	END
FROM clustering AS c
INNER JOIN alignment AS a
	ON c.alignment_id = a.id
INNER JOIN filter AS f
	USING (cluster_id, cluster_sid, source_id)
ORDER BY c.cluster_id ASC, c.cluster_sid ASC, pos ASC`

func pass2(d *db.DB, stmt *db.ClusteringStmt, opts Options, fm filterMap) (int64, error) {
	rows, err := d.Query(pass2Query, opts.Support)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	var (
		bucket      = New()
		cidPrev     int64
		sidPrev     int64
		started     bool
		reclustered int64
	)

	flush := func() error {
		filter, ok := fm.get(cidPrev, sidPrev)
		if !ok {
			log.Fatalf("cluster: reclustering unknown cluster [%d %d]", cidPrev, sidPrev)
		}
		log.Debug.Printf("cluster: reclustering cluster [%d %d]", cidPrev, sidPrev)
		var derr error
		n := bucket.Cluster(opts.Eps, opts.MinPts, func(p *Point) {
			if derr != nil {
				return
			}
			// Subclusters keep the original cluster id; their sid is
			// offset past the pass-1 sid.
			sid := sidPrev + int64(p.ID)
			fm.set(cidPrev, sid, filter|FilterSupport)
			derr = stmt.Insert(cidPrev, sid, p.Data.(int64), int(p.Label), p.Neighbors)
		})
		if derr != nil {
			return derr
		}
		reclustered += int64(n)
		return nil
	}

	for rows.Next() {
		var (
			cid, sid, aid int64
			astart, aend  int64
		)
		if err := rows.Scan(&cid, &sid, &aid, &astart, &aend); err != nil {
			return 0, err
		}
		if started && (cid != cidPrev || sid != sidPrev) {
			if err := flush(); err != nil {
				return 0, err
			}
			bucket = New()
		}
		started = true
		cidPrev, sidPrev = cid, sid
		bucket.Insert(astart, aend, aid)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if started {
		if err := flush(); err != nil {
			return 0, err
		}
	}
	return reclustered, nil
}

// dumpFilterQuery builds each cluster's window together with its
// parental gene extent.
const dumpFilterQuery = `
WITH
	gene (gene_name, chr, start, end) AS (
		SELECT gene_name, chr, MIN(start), MAX(end)
		FROM exon
		GROUP BY gene_name
	),
	cluster (gene_name, id, sid, chr, start, end) AS (
		SELECT e.gene_name, cluster_id, cluster_sid,
			a1.chr, MIN(a1.pos), MAX(a1.pos + a1.rlen - 1)
		FROM clustering AS c
		INNER JOIN alignment AS a1
			ON c.alignment_id = a1.id
		INNER JOIN alignment AS a2
			USING (qname, source_id)
		INNER JOIN overlapping AS o
			ON a2.id = o.alignment_id
		INNER JOIN exon AS e
			ON o.exon_id = e.id
		GROUP BY cluster_id, cluster_sid
	)
SELECT c.id, c.sid, c.chr, c.start, c.end,
	g.gene_name, g.chr, g.start, g.end
FROM cluster AS c
INNER JOIN gene AS g
	USING (gene_name)`

func dumpAndFilter(d *db.DB, stmt *db.ClusterStmt, bl *blacklist.Blacklist,
	opts Options, fm filterMap) (int, error) {
	rows, err := d.Query(dumpFilterQuery)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	// SUPPORT comes for free when reclustering was disabled.
	supportFlag := Filter(0)
	if opts.Support <= 1 {
		supportFlag = FilterSupport
	}

	var passed int
	for rows.Next() {
		var (
			cid, sid     int64
			cchrom       string
			cstart, cend int64
			gene, gchrom string
			gstart, gend int64
		)
		err := rows.Scan(&cid, &sid, &cchrom, &cstart, &cend,
			&gene, &gchrom, &gstart, &gend)
		if err != nil {
			return 0, err
		}

		filter, ok := fm.get(cid, sid)
		if !ok {
			log.Fatalf("cluster: dumping unknown cluster [%d %d]", cid, sid)
		}
		filter |= supportFlag

		if !opts.BlacklistChr[cchrom] && !opts.BlacklistChr[gchrom] {
			filter |= FilterChr
		}

		// A retrocopy landing inside its parental locus cannot be
		// told apart from ordinary reads; the cluster passes when it
		// is far from the gene or on another chromosome.
		if cchrom != gchrom ||
			!(cstart <= gend+opts.ParentalDistance && cend >= gstart-opts.ParentalDistance) {
			filter |= FilterDist
		}

		hits, err := bl.Lookup(cchrom, cstart, cend, opts.Padding, cid, sid)
		if err != nil {
			return 0, err
		}
		if hits == 0 {
			filter |= FilterRegion
		}

		log.Debug.Printf("cluster: dump cluster [%d %d] at %s:%d-%d from %s filter %d",
			cid, sid, cchrom, cstart, cend, gene, filter)
		err = stmt.Insert(cid, sid, cchrom, cstart, cend, gene, int(filter))
		if err != nil {
			return 0, err
		}
		if filter == FilterAll {
			passed++
		}
	}
	return passed, rows.Err()
}
