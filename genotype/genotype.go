// Package genotype scores reference-allele support for every called
// retrocopy by re-scanning each source BAM, then computes per-sample
// zygosity likelihoods. One task per source runs on a bounded worker
// pool; the retrocopy map is built once and shared read-only, and all
// rows leave through the store façade's serialized statement.
package genotype

import (
	"context"
	"io"
	"math"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/biogo/hts/bam"
	htsindex "github.com/biogo/hts/bgzf/index"
	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"

	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/encoding/bamio"
	"github.com/grailbio/sider/interval"
)

// Opts tune the genotype stage.
type Opts struct {
	// Threads bounds the worker pool; one task covers one source BAM.
	Threads int
	// PhredQuality is the minimum mapping quality of a
	// reference-supporting read.
	PhredQuality int
}

type region struct {
	chrom          string
	windowStart    int64
	windowEnd      int64
	insertionPoint int64
}

// accumulator gathers one (retrocopy, source) cell.
type accumulator struct {
	retrocopyID int64
	sourceID    int64
	region      region
	ploidy      int

	abnormalQuals []int
	normalQuals   []int
}

// Run genotypes every source in d.
func Run(ctx context.Context, d *db.DB, stmt *db.GenotypeStmt,
	cs *chr.Standardizer, opts Opts) error {
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}

	log.Debug.Printf("genotype: clean genotype table")
	if err := d.Exec("DELETE FROM genotype"); err != nil {
		return err
	}

	log.Printf("genotype: index all retrocopies")
	regions, err := indexRetrocopies(d)
	if err != nil {
		return err
	}
	if len(regions) == 0 {
		log.Printf("genotype: no retrocopies to genotype")
		return nil
	}

	log.Printf("genotype: index source alignment files")
	tasks, err := indexSources(d, regions)
	if err != nil {
		return err
	}

	return traverse.Limit(threads).Each(len(tasks), func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		return tasks[i].run(ctx, d, stmt, cs, opts.PhredQuality)
	})
}

func indexRetrocopies(d *db.DB) (map[int64]region, error) {
	rows, err := d.Query(
		"SELECT id, chr, window_start, window_end, insertion_point FROM retrocopy")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	regions := make(map[int64]region)
	for rows.Next() {
		var (
			id int64
			r  region
		)
		err := rows.Scan(&id, &r.chrom, &r.windowStart, &r.windowEnd,
			&r.insertionPoint)
		if err != nil {
			return nil, err
		}
		log.Debug.Printf("genotype: index retrocopy region [%d] %s:%d-%d in %d",
			id, r.chrom, r.windowStart, r.windowEnd, r.insertionPoint)
		regions[id] = r
	}
	return regions, rows.Err()
}

// task genotypes all retrocopies against one source BAM.
type task struct {
	sourceID int64
	path     string
	cells    []*accumulator
}

const abnormalQualQuery = `
SELECT a.mapq
FROM retrocopy AS r
INNER JOIN cluster_merging AS cm
	ON r.id = cm.retrocopy_id
INNER JOIN clustering AS c
	USING (cluster_id, cluster_sid)
INNER JOIN alignment AS a
	ON c.alignment_id = a.id
WHERE r.id = ?
	AND a.source_id = ?`

func indexSources(d *db.DB, regions map[int64]region) ([]*task, error) {
	rows, err := d.Query("SELECT id, path FROM source")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []*task
	for rows.Next() {
		t := &task{}
		if err := rows.Scan(&t.sourceID, &t.path); err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range tasks {
		for id, r := range regions {
			cell := &accumulator{
				retrocopyID: id,
				sourceID:    t.sourceID,
				region:      r,
				ploidy:      chr.Ploidy(r.chrom),
			}
			if err := cell.loadAbnormalQuals(d); err != nil {
				return nil, err
			}
			t.cells = append(t.cells, cell)
		}
	}
	return tasks, nil
}

func (a *accumulator) loadAbnormalQuals(d *db.DB) error {
	rows, err := d.Query(abnormalQualQuery, a.retrocopyID, a.sourceID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var mapq int
		if err := rows.Scan(&mapq); err != nil {
			return err
		}
		a.abnormalQuals = append(a.abnormalQuals, mapq)
	}
	return rows.Err()
}

func alignSpan(rec *sam.Record) (start, end int64) {
	rlen := 0
	for _, op := range rec.Cigar {
		rlen += op.Len() * op.Type().Consumes().Reference
	}
	start = int64(rec.Pos) + 1
	end = start
	if rlen > 0 {
		end = start + int64(rlen) - 1
	}
	return start, end
}

// crossesInsertionPoint reports whether rec is a reference-supporting
// observation of the insertion point: a proper, primary,
// non-duplicate pair member of sufficient quality whose span covers
// the point.
func crossesInsertionPoint(rec *sam.Record, insertionPoint int64, phredQuality int) bool {
	if rec.Flags&sam.Paired == 0 ||
		rec.Flags&sam.ProperPair == 0 ||
		rec.Flags&sam.Unmapped != 0 ||
		rec.Flags&sam.MateUnmapped != 0 ||
		rec.Flags&sam.Duplicate != 0 ||
		rec.Flags&sam.Supplementary != 0 ||
		int(rec.MapQ) < phredQuality {
		return false
	}
	start, end := alignSpan(rec)
	return insertionPoint >= start && insertionPoint <= end
}

func (t *task) run(ctx context.Context, d *db.DB, stmt *db.GenotypeStmt,
	cs *chr.Standardizer, phredQuality int) error {
	log.Debug.Printf("genotype: look for retrocopy zygosity in %s", t.path)

	in, err := bamio.Open(ctx, t.path)
	if err != nil {
		return err
	}
	defer in.Close()

	refByChrom := make(map[string]*sam.Reference)
	for _, ref := range in.Bam.Header().Refs() {
		refByChrom[cs.Lookup(ref.Name())] = ref
	}

	idx, err := bamio.OpenIndex(ctx, t.path)
	if err != nil {
		return err
	}
	if idx == nil {
		log.Printf("genotype: no index for %s, making a linear search", t.path)
		err = t.linearSearch(in.Bam, refByChrom, phredQuality)
	} else {
		log.Printf("genotype: using index for %s", t.path)
		err = t.indexedSearch(in.Bam, idx, refByChrom, phredQuality)
	}
	if err != nil {
		return err
	}

	for _, cell := range t.cells {
		if err := cell.dump(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (t *task) indexedSearch(br *bam.Reader, idx *bam.Index,
	refByChrom map[string]*sam.Reference, phredQuality int) error {
	for _, cell := range t.cells {
		r := cell.region
		ref, ok := refByChrom[r.chrom]
		if !ok {
			log.Error.Printf("genotype: no %s contig from retrocopy [%d] found in BAM header",
				r.chrom, cell.retrocopyID)
			continue
		}
		chunks, err := idx.Chunks(ref, int(r.windowStart-1), int(r.windowEnd))
		if err == htsindex.ErrInvalid {
			// No reads over the window.
			continue
		}
		if err != nil {
			return errors.Wrapf(err, "genotype: query %s:%d-%d at %s",
				r.chrom, r.windowStart, r.windowEnd, t.path)
		}
		it, err := bam.NewIterator(br, chunks)
		if err != nil {
			return errors.Wrapf(err, "genotype: query %s:%d-%d at %s",
				r.chrom, r.windowStart, r.windowEnd, t.path)
		}
		for it.Next() {
			rec := it.Record()
			if crossesInsertionPoint(rec, r.insertionPoint, phredQuality) {
				cell.normalQuals = append(cell.normalQuals, int(rec.MapQ))
			}
		}
		if err := it.Close(); err != nil {
			return errors.Wrapf(err, "genotype: query %s:%d-%d at %s",
				r.chrom, r.windowStart, r.windowEnd, t.path)
		}
	}
	return nil
}

func (t *task) linearSearch(br *bam.Reader,
	refByChrom map[string]*sam.Reference, phredQuality int) error {
	// Route records through an interval tree of windows per target id.
	trees := make(map[int]*interval.Tree)
	for _, cell := range t.cells {
		ref, ok := refByChrom[cell.region.chrom]
		if !ok {
			log.Error.Printf("genotype: no %s contig from retrocopy [%d] found in BAM header",
				cell.region.chrom, cell.retrocopyID)
			continue
		}
		tree, ok := trees[ref.ID()]
		if !ok {
			tree = &interval.Tree{}
			trees[ref.ID()] = tree
		}
		tree.Insert(cell.region.windowStart, cell.region.windowEnd, cell)
	}

	for {
		rec, err := br.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "genotype: read %s", t.path)
		}
		if rec.Ref == nil {
			continue
		}
		tree, ok := trees[rec.Ref.ID()]
		if !ok {
			continue
		}
		start, end := alignSpan(rec)
		tree.Lookup(start, end, interval.LookupOpts{}, func(r interval.Record) {
			cell := r.Data.(*accumulator)
			if crossesInsertionPoint(rec, cell.region.insertionPoint, phredQuality) {
				cell.normalQuals = append(cell.normalQuals, int(rec.MapQ))
			}
		})
	}
	return nil
}

func dephred(q int) float64 {
	return math.Pow(10.0, -float64(q)/10.0)
}

// LikelihoodHE returns log10 L of the heterozygous genotype for n
// observations.
func LikelihoodHE(n, ploidy int) float64 {
	return float64(n) * math.Log10(1.0/float64(ploidy))
}

// LikelihoodHO returns log10 L of the homozygous genotype whose
// allele DISAGREES with the reads in mismatch and agrees with the
// reads in match.
func LikelihoodHO(mismatch, match []int, ploidy int) float64 {
	l := 0.0
	for _, q := range mismatch {
		l += math.Log10(float64(ploidy) * dephred(q))
	}
	for _, q := range match {
		l += math.Log10(float64(ploidy) * (1.0 - dephred(q)))
	}
	return LikelihoodHE(len(mismatch)+len(match), ploidy) + l
}

func (a *accumulator) dump(stmt *db.GenotypeStmt) error {
	hoRef := LikelihoodHO(a.abnormalQuals, a.normalQuals, a.ploidy)
	hoAlt := LikelihoodHO(a.normalQuals, a.abnormalQuals, a.ploidy)
	he := LikelihoodHE(len(a.normalQuals)+len(a.abnormalQuals), a.ploidy)

	log.Debug.Printf("genotype: retrocopy [%d %d] %.2f,%.2f,%.2f",
		a.retrocopyID, a.sourceID, hoRef, he, hoAlt)
	return stmt.Insert(a.sourceID, a.retrocopyID, len(a.normalQuals),
		len(a.abnormalQuals), hoRef, he, hoAlt)
}
