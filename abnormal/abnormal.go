// Package abnormal scans queryname-grouped BAMs for read pairs whose
// mapping is inconsistent with a single contiguous template and
// persists them, annotated with the protein-coding exons they
// overlap. One task per input file runs on a bounded worker pool; all
// tasks share the read-only exon index and write through the store
// façade's serialized statements.
package abnormal

import (
	"context"
	"io"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/biogo/hts/sam"
	"github.com/pkg/errors"

	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/encoding/bamio"
	"github.com/grailbio/sider/exon"
)

// Type classifies why a fragment is abnormal. The value is a bitset;
// a row with TypeNone is invisible to clustering.
type Type int

// Abnormal type bits.
const (
	TypeNone          Type = 0
	TypeDistance      Type = 1
	TypeChromosome    Type = 2
	TypeSupplementary Type = 4
	TypeExonic        Type = 8
)

// Opts tune the abnormal filter.
type Opts struct {
	// MaxDistance is the template span beyond which a same-chromosome
	// pair is abnormal.
	MaxDistance int64
	// ExonFrac and AlignmentFrac guard the exon overlap test; Either
	// relaxes their conjunction.
	ExonFrac      float64
	AlignmentFrac float64
	Either        bool
	// AssumeSorted accepts a BAM whose header does not declare
	// SO:queryname.
	AssumeSorted bool
	// MaxBaseFreq rejects reads dominated by a single base; a read
	// whose most frequent base exceeds this fraction is considered
	// low complexity and its fragment is skipped.
	MaxBaseFreq float64
	// PhredQuality is the minimum mapping quality of the fragment's
	// primary alignments.
	PhredQuality int
	// Threads bounds the worker pool.
	Threads int
}

// Job names one input BAM and the source row it was registered under.
type Job struct {
	SourceID int64
	Path     string
}

// Run filters every job's BAM on a pool of opts.Threads workers.
// Alignment ids are allocated with stride len(jobs) so workers never
// collide.
func Run(ctx context.Context, jobs []Job, tree *exon.Tree, cs *chr.Standardizer,
	stmt *db.AlignmentStmt, opts Opts) error {
	threads := opts.Threads
	if threads < 1 {
		threads = 1
	}
	return traverse.Limit(threads).Each(len(jobs), func(i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f := &filter{
			job:    jobs[i],
			tree:   tree,
			cs:     cs,
			stmt:   stmt,
			opts:   opts,
			nextID: int64(i) + 1,
			step:   int64(len(jobs)),
		}
		return f.run(ctx)
	})
}

type filter struct {
	job  Job
	tree *exon.Tree
	cs   *chr.Standardizer
	stmt *db.AlignmentStmt
	opts Opts

	nextID int64
	step   int64

	fragments int
	abnormal  int
	exonic    int
}

func (f *filter) run(ctx context.Context) error {
	in, err := bamio.Open(ctx, f.job.Path)
	if err != nil {
		return err
	}
	defer in.Close()

	hdr := in.Bam.Header()
	if hdr.SortOrder != sam.QueryName && !f.opts.AssumeSorted {
		return errors.Errorf("abnormal: %s is not queryname sorted (SO:%s)",
			f.job.Path, hdr.SortOrder)
	}

	log.Printf("abnormal: searching for abnormal alignments into %s", f.job.Path)

	var stack []*sam.Record
	for {
		rec, err := in.Bam.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.Wrapf(err, "abnormal: read %s", f.job.Path)
		}
		if len(stack) > 0 && rec.Name != stack[0].Name {
			if err := f.dumpIfAbnormal(stack); err != nil {
				return err
			}
			stack = stack[:0]
		}
		stack = append(stack, rec)
	}
	if len(stack) > 0 {
		if err := f.dumpIfAbnormal(stack); err != nil {
			return err
		}
	}

	pct := 0.0
	if f.abnormal > 0 {
		pct = float64(f.exonic*100) / float64(f.abnormal)
	}
	log.Printf("abnormal: %s: %d abnormal fragments among %d; %d exonic overlaps (%.2f%%)",
		f.job.Path, f.abnormal, f.fragments, f.exonic, pct)
	return nil
}

func lowComplexity(rec *sam.Record, maxBaseFreq float64) bool {
	seq := rec.Seq.Expand()
	if len(seq) == 0 || maxBaseFreq <= 0 {
		return false
	}
	counts := make(map[byte]int, 5)
	for _, b := range seq {
		counts[b]++
	}
	most := 0
	for _, n := range counts {
		if n > most {
			most = n
		}
	}
	return float64(most) > maxBaseFreq*float64(len(seq))
}

func (f *filter) classify(stack []*sam.Record) Type {
	for _, rec := range stack {
		// Only complete pairs qualify.
		if rec.Flags&sam.Paired == 0 ||
			rec.Flags&sam.Unmapped != 0 ||
			rec.Flags&sam.MateUnmapped != 0 {
			return TypeNone
		}
		if lowComplexity(rec, f.opts.MaxBaseFreq) {
			return TypeNone
		}
		if rec.Flags&(sam.Supplementary|sam.Secondary) == 0 &&
			int(rec.MapQ) < f.opts.PhredQuality {
			return TypeNone
		}
	}
	typ := TypeNone
	for _, rec := range stack {
		if typ != TypeNone {
			break
		}
		if rec.Flags&sam.Supplementary != 0 {
			typ |= TypeSupplementary
		}
		if rec.Ref != rec.MateRef {
			typ |= TypeChromosome
		} else {
			dist := int64(rec.Pos) - int64(rec.MatePos)
			if dist < 0 {
				dist = -dist
			}
			if dist > f.opts.MaxDistance {
				typ |= TypeDistance
			}
		}
	}
	return typ
}

func (f *filter) dumpIfAbnormal(stack []*sam.Record) error {
	f.fragments++
	typ := f.classify(stack)
	if typ == TypeNone {
		return nil
	}
	log.Debug.Printf("abnormal: dump fragment %q of type %d", stack[0].Name, typ)
	f.abnormal++
	return f.dumpAlignments(stack, typ)
}

func refName(ref *sam.Reference) string {
	if ref == nil {
		return "*"
	}
	return ref.Name()
}

func cigarLengths(c sam.Cigar) (qlen, rlen int) {
	for _, op := range c {
		con := op.Type().Consumes()
		qlen += op.Len() * con.Query
		rlen += op.Len() * con.Reference
	}
	return qlen, rlen
}

func (f *filter) dumpAlignments(stack []*sam.Record, typ Type) error {
	for _, rec := range stack {
		qlen, rlen := cigarLengths(rec.Cigar)

		chrom := f.cs.Lookup(refName(rec.Ref))
		chromNext := f.cs.Lookup(refName(rec.MateRef))
		pos := int64(rec.Pos) + 1
		end := pos
		if rlen > 0 {
			end = pos + int64(rlen) - 1
		}

		id := f.nextID
		f.nextID += f.step

		hits, err := f.tree.LookupDump(chrom, pos, end, f.opts.ExonFrac,
			f.opts.AlignmentFrac, f.opts.Either, id)
		if err != nil {
			return err
		}
		rowType := typ
		if hits > 0 {
			rowType |= TypeExonic
			f.exonic++
		}

		log.Debug.Printf("abnormal: dump alignment %q %d %s:%d type %d",
			rec.Name, rec.Flags, chrom, pos, rowType)
		err = f.stmt.Insert(id, rec.Name, int(rec.Flags), chrom, pos,
			int(rec.MapQ), rec.Cigar.String(), qlen, rlen,
			chromNext, int64(rec.MatePos)+1, int(rowType), f.job.SourceID)
		if err != nil {
			return err
		}
	}
	return nil
}
