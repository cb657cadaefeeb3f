// Package blacklist indexes excluded genomic regions, loaded from a
// GFF/GTF stream (with a feature/attribute filter) or a BED stream,
// and records every overlap between a cluster window and an excluded
// region. A cluster passes the region filter when its lookup reports
// zero hits.
package blacklist

import (
	"context"

	"github.com/grailbio/base/log"

	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/encoding/bed"
	"github.com/grailbio/sider/encoding/gff"
	"github.com/grailbio/sider/interval"
)

// Blacklist is a per-chromosome interval index of excluded regions,
// mirrored into the blacklist table as it is built.
type Blacklist struct {
	stmt        *db.BlacklistStmt
	overlapStmt *db.OverlappingBlacklistStmt
	cs          *chr.Standardizer
	trees       map[string]*interval.Tree
	nextID      int64
}

// New returns an empty blacklist writing through the given prepared
// statements.
func New(stmt *db.BlacklistStmt, overlapStmt *db.OverlappingBlacklistStmt,
	cs *chr.Standardizer) *Blacklist {
	return &Blacklist{
		stmt:        stmt,
		overlapStmt: overlapStmt,
		cs:          cs,
		trees:       make(map[string]*interval.Tree),
	}
}

func (b *Blacklist) cleanTables(d *db.DB) error {
	log.Debug.Printf("blacklist: clean tables")
	b.trees = make(map[string]*interval.Tree)
	b.nextID = 0
	return d.Exec("DELETE FROM overlapping_blacklist;\nDELETE FROM blacklist;")
}

func (b *Blacklist) add(name, chrom string, start, end int64) error {
	std := b.cs.Lookup(chrom)
	b.nextID++
	log.Debug.Printf("blacklist: index %q at %s:%d-%d", name, std, start, end)

	tree, ok := b.trees[std]
	if !ok {
		tree = &interval.Tree{}
		b.trees[std] = tree
	}
	tree.Insert(start, end, b.nextID)
	return b.stmt.Insert(b.nextID, name, std, start, end)
}

// LoadGFF indexes the entries of the annotation at path that pass
// filter, resetting any previously loaded regions.
func (b *Blacklist) LoadGFF(ctx context.Context, d *db.DB, path string, filter *gff.Filter) error {
	if err := b.cleanTables(d); err != nil {
		return err
	}
	r, closer, err := gff.Open(ctx, path)
	if err != nil {
		return err
	}
	defer closer.Close()

	var entry gff.Entry
	for r.ReadFiltered(&entry, filter) {
		name := entry.Attribute("gene_name")
		if name == "" {
			name = "blacklist"
		}
		if err := b.add(name, entry.SeqName, entry.Start, entry.End); err != nil {
			return err
		}
	}
	return r.Err()
}

// LoadBED indexes the BED track at path, resetting any previously
// loaded regions.
func (b *Blacklist) LoadBED(ctx context.Context, d *db.DB, path string) error {
	if err := b.cleanTables(d); err != nil {
		return err
	}
	r, closer, err := bed.Open(ctx, path)
	if err != nil {
		return err
	}
	defer closer.Close()

	var entry bed.Entry
	for r.Read(&entry) {
		name := entry.Name
		if name == "" {
			name = "blacklist"
		}
		// BED starts are 0-based; stored regions are 1-based closed.
		if err := b.add(name, entry.Chrom, entry.ChromStart+1, entry.ChromEnd); err != nil {
			return err
		}
	}
	return r.Err()
}

// Lookup records every excluded region overlapping the cluster window
// [low, high] widened by padding, and returns the number of hits.
func (b *Blacklist) Lookup(chrom string, low, high, padding int64,
	clusterID, clusterSID int64) (int, error) {
	tree, ok := b.trees[chrom]
	if !ok {
		return 0, nil
	}
	low -= padding
	if low < 0 {
		low = 0
	}
	var err error
	n := tree.Lookup(low, high+padding, interval.LookupOpts{}, func(r interval.Record) {
		if err != nil {
			return
		}
		log.Debug.Printf("blacklist: region %d %d-%d overlaps cluster [%d %d] at %d-%d",
			r.Data.(int64), r.NodeLow, r.NodeHigh, clusterID, clusterSID,
			r.OverlapPos, r.OverlapPos+r.OverlapLen-1)
		err = b.overlapStmt.Insert(r.Data.(int64), clusterID, clusterSID,
			r.OverlapPos, r.OverlapLen)
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Len returns the number of indexed regions.
func (b *Blacklist) Len() int {
	n := 0
	for _, tree := range b.trees {
		n += tree.Len()
	}
	return n
}
