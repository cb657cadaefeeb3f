// Package exon indexes the protein-coding exon annotation: rows go to
// the exon table, intervals to per-chromosome trees used to test
// alignments for exonic overlap during ingest.
package exon

import (
	"context"

	"github.com/grailbio/base/log"

	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/encoding/gff"
	"github.com/grailbio/sider/interval"
)

// Tree is the annotation index. Build it fully before sharing it with
// scan workers; lookups on a built tree are read-only.
type Tree struct {
	stmt        *db.ExonStmt
	overlapStmt *db.OverlappingStmt
	cs          *chr.Standardizer
	trees       map[string]*interval.Tree
	seen        map[string]bool
	nextID      int64
}

// NewTree returns an empty index writing exon rows and overlap rows
// through the given statements.
func NewTree(stmt *db.ExonStmt, overlapStmt *db.OverlappingStmt,
	cs *chr.Standardizer) *Tree {
	return &Tree{
		stmt:        stmt,
		overlapStmt: overlapStmt,
		cs:          cs,
		trees:       make(map[string]*interval.Tree),
		seen:        make(map[string]bool),
	}
}

// IndexGFF loads every protein-coding exon from the annotation at
// path. Entries missing gene_name, gene_id or exon_id are skipped
// with a warning; duplicated exon ids are indexed once.
func (t *Tree) IndexGFF(ctx context.Context, path string) error {
	filter := gff.NewFilter().Feature("exon")
	if _, err := filter.HardAttribute("transcript_type", "protein_coding"); err != nil {
		return err
	}

	r, closer, err := gff.Open(ctx, path)
	if err != nil {
		return err
	}
	defer closer.Close()

	var entry gff.Entry
	for r.ReadFiltered(&entry, filter) {
		geneName := entry.Attribute("gene_name")
		geneID := entry.Attribute("gene_id")
		exonID := entry.Attribute("exon_id")
		if geneName == "" || geneID == "" || exonID == "" {
			log.Error.Printf("exon: missing gene_name|gene_id|exon_id at line %d",
				entry.NumLine)
			continue
		}
		if t.seen[exonID] {
			continue
		}
		t.seen[exonID] = true

		std := t.cs.Lookup(entry.SeqName)
		t.nextID++
		log.Debug.Printf("exon: index %q of %q at %s:%d-%d",
			exonID, geneName, std, entry.Start, entry.End)

		tree, ok := t.trees[std]
		if !ok {
			tree = &interval.Tree{}
			t.trees[std] = tree
		}
		tree.Insert(entry.Start, entry.End, t.nextID)

		err := t.stmt.Insert(t.nextID, geneName, std, entry.Start, entry.End,
			string(rune(entry.Strand)), geneID, exonID)
		if err != nil {
			return err
		}
	}
	if err := r.Err(); err != nil {
		return err
	}
	// The trees are shared read-only with the scan workers.
	for _, tree := range t.trees {
		tree.Build()
	}
	return nil
}

// Len returns the number of indexed exons.
func (t *Tree) Len() int { return int(t.nextID) }

// LookupDump records an overlapping row for every exon overlapping
// the alignment span [low, high] on chrom under the given fraction
// guards, and returns the number of hits. chrom must already be
// standardized.
func (t *Tree) LookupDump(chrom string, low, high int64,
	exonFrac, alignmentFrac float64, either bool, alignmentID int64) (int, error) {
	tree, ok := t.trees[chrom]
	if !ok {
		return 0, nil
	}
	opts := interval.LookupOpts{
		NodeFrac:     exonFrac,
		IntervalFrac: alignmentFrac,
		Either:       either,
	}
	var err error
	n := tree.Lookup(low, high, opts, func(r interval.Record) {
		if err != nil {
			return
		}
		log.Debug.Printf("exon: exon %d %d-%d overlaps alignment %d at %d-%d",
			r.Data.(int64), r.NodeLow, r.NodeHigh, alignmentID,
			r.OverlapPos, r.OverlapPos+r.OverlapLen-1)
		err = t.overlapStmt.Insert(r.Data.(int64), alignmentID,
			r.OverlapPos, r.OverlapLen)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
