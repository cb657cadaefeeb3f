// Package vcf renders the called retrocopies and their per-sample
// genotypes as a VCF 4.2 stream.
package vcf

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"

	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/encoding/fasta"
	"github.com/grailbio/sider/retrocopy"
)

const fileformat = "VCFv4.2"

// Source identifies the generating program in the header.
const Source = "sider"

// sample is one genotyped input file, in VCF column order.
type sample struct {
	id   int64
	name string
}

type call struct {
	id             int64
	chrom          string
	windowStart    int64
	windowEnd      int64
	parentalGene   string
	parentalStrand string
	level          retrocopy.Level
	ip             int64
	ipType         retrocopy.InsertionPointType
	rho            sql.NullFloat64
	pValue         sql.NullFloat64
	depth          int
	splitReads     int
}

type sampleCall struct {
	referenceDepth int
	alternateDepth int
	hoRef          float64
	he             float64
	hoAlt          float64
}

// Write renders the calls in d to outPath. When fastaPath names an
// (indexed or plain) reference FASTA, REF columns carry the reference
// base; otherwise N.
func Write(ctx context.Context, d *db.DB, fastaPath, outPath string) error {
	samples, err := querySamples(d)
	if err != nil {
		return err
	}

	var ref fasta.Fasta
	if fastaPath != "" {
		if ref, err = openFasta(ctx, fastaPath); err != nil {
			return err
		}
	}

	out, err := file.Create(ctx, outPath)
	if err != nil {
		return errors.Wrapf(err, "vcf: create %s", outPath)
	}
	w := bufio.NewWriter(out.Writer(ctx))

	if err := writeBody(d, samples, ref, w); err != nil {
		_ = out.Close(ctx)
		return err
	}
	if err := w.Flush(); err != nil {
		_ = out.Close(ctx)
		return errors.Wrapf(err, "vcf: write %s", outPath)
	}
	return errors.Wrapf(out.Close(ctx), "vcf: close %s", outPath)
}

func openFasta(ctx context.Context, path string) (fasta.Fasta, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "vcf: open %s", path)
	}
	idx, err := file.Open(ctx, path+".fai")
	if err == nil {
		defer idx.Close(ctx)
		// The indexed reader seeks within in on every Get, so in stays
		// open.
		ref, err := fasta.NewIndexed(in.Reader(ctx), idx.Reader(ctx))
		if err != nil {
			_ = in.Close(ctx)
		}
		return ref, err
	}
	defer in.Close(ctx)
	log.Debug.Printf("vcf: no index for %s, loading in full", path)
	return fasta.New(in.Reader(ctx))
}

func querySamples(d *db.DB) ([]sample, error) {
	rows, err := d.Query("SELECT id, path FROM source ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var samples []sample
	for rows.Next() {
		var (
			id   int64
			path string
		)
		if err := rows.Scan(&id, &path); err != nil {
			return nil, err
		}
		samples = append(samples, sample{id: id, name: filepath.Base(path)})
	}
	return samples, rows.Err()
}

func writeHeader(samples []sample, now time.Time, w io.Writer) error {
	var b strings.Builder
	fmt.Fprintf(&b, "##fileformat=%s\n", fileformat)
	fmt.Fprintf(&b, "##fileDate=%s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "##source=%s\n", Source)
	b.WriteString(`##INFO=<ID=CIPOS,Number=2,Type=Integer,Description="Confidence interval around POS for imprecise variants">
##INFO=<ID=DP,Number=1,Type=Integer,Description="Read Depth of segment containing breakpoint">
##INFO=<ID=IMPRECISE,Number=0,Type=Flag,Description="Imprecise structural variation">
##INFO=<ID=ORHO,Number=1,Type=Float,Description="Spearman's rho to detect the polarity">
##INFO=<ID=PG,Number=1,Type=String,Description="Parental Gene IDs separated by '/'">
##INFO=<ID=PGTYPE,Number=1,Type=String,Description="Provides information about parental gene: 1 = Single parental gene; 2 = Overlapped parental genes; 4 = Near parental genes; 8 = Hotspot - Multiple parental genes with retrocopy at the same segment">
##INFO=<ID=POLARITY,Number=1,Type=Character,Description="Mobile element polarity (+/-)">
##INFO=<ID=SR,Number=1,Type=Integer,Description="Total number of SRs at the estimated breakpoint for this site">
##INFO=<ID=SVTYPE,Number=1,Type=String,Description="Type of structural variant">
##ALT=<ID=INS:ME:RTC,Description="Insertion of a Retrocopy">
##FORMAT=<ID=DP,Number=1,Type=Integer,Description="Read Depth of segment containing breakpoint">
##FORMAT=<ID=GT,Number=1,Type=String,Description="Genotype">
`)
	b.WriteString("#CHROM\tPOS\tID\tREF\tALT\tQUAL\tFILTER\tINFO\tFORMAT")
	for _, s := range samples {
		b.WriteByte('\t')
		b.WriteString(s.name)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// callQuery gathers each retrocopy with its parental strand, total
// abnormal depth and the number of supplementary reads whose clip
// edge sits exactly on the insertion point.
const callQuery = `
WITH
	gene (gene_name, strand) AS (
		SELECT DISTINCT gene_name, strand
		FROM exon
	),
	depth (retrocopy_id, acm) AS (
		SELECT retrocopy_id, COUNT(*)
		FROM (
			SELECT DISTINCT retrocopy_id, source_id, alignment_id
			FROM retrocopy AS r
			INNER JOIN cluster_merging AS cm
				ON r.id = cm.retrocopy_id
			INNER JOIN clustering AS c
				USING (cluster_id, cluster_sid)
			INNER JOIN alignment AS a
				ON a.id = c.alignment_id
		)
		GROUP BY retrocopy_id
	),
	split_reads (retrocopy_id, sr_acm) AS (
		SELECT retrocopy_id, COUNT(*)
		FROM (
			SELECT DISTINCT retrocopy_id, source_id, alignment_id
			FROM retrocopy AS r
			INNER JOIN cluster_merging AS cm
				ON r.id = cm.retrocopy_id
			INNER JOIN clustering AS c
				USING (cluster_id, cluster_sid)
			INNER JOIN alignment AS a
				ON a.id = c.alignment_id
			WHERE a.flag & 2048
				AND (
					((cigar LIKE '%M%S' OR cigar LIKE '%M%H') AND (a.pos + a.rlen) = insertion_point)
						OR ((cigar LIKE '%S%M' OR cigar LIKE '%H%M') AND a.pos = insertion_point)
				)
		)
		GROUP BY retrocopy_id
	)
SELECT r.id, chr, window_start, window_end,
	parental_gene_name,
	CASE
		WHEN strand IS NOT NULL
			THEN strand
		ELSE '?'
	END,
	level,
	insertion_point, insertion_point_type,
	orientation_rho,
	orientation_p_value,
	acm,
	CASE
		WHEN sr_acm IS NOT NULL
			THEN sr_acm
		ELSE 0
	END
FROM retrocopy AS r
LEFT JOIN gene AS g
	ON r.parental_gene_name = g.gene_name
INNER JOIN depth AS d
	ON r.id = d.retrocopy_id
LEFT JOIN split_reads AS sr
	ON r.id = sr.retrocopy_id
ORDER BY chr ASC, insertion_point ASC`

func writeBody(d *db.DB, samples []sample, ref fasta.Fasta, w io.Writer) error {
	if err := writeHeader(samples, time.Now(), w); err != nil {
		return err
	}

	rows, err := d.Query(callQuery)
	if err != nil {
		return err
	}
	defer rows.Close()

	gtStmt := "SELECT source_id, reference_depth, alternate_depth,\n" +
		"	ho_ref_likelihood, he_likelihood, ho_alt_likelihood\n" +
		"FROM genotype\n" +
		"WHERE retrocopy_id = ?"

	for rows.Next() {
		var c call
		err := rows.Scan(&c.id, &c.chrom, &c.windowStart, &c.windowEnd,
			&c.parentalGene, &c.parentalStrand, &c.level, &c.ip, &c.ipType,
			&c.rho, &c.pValue, &c.depth, &c.splitReads)
		if err != nil {
			return err
		}

		genotypes := make(map[int64]sampleCall)
		grows, err := d.Query(gtStmt, c.id)
		if err != nil {
			return err
		}
		for grows.Next() {
			var (
				sourceID int64
				sc       sampleCall
			)
			err := grows.Scan(&sourceID, &sc.referenceDepth, &sc.alternateDepth,
				&sc.hoRef, &sc.he, &sc.hoAlt)
			if err != nil {
				_ = grows.Close()
				return err
			}
			genotypes[sourceID] = sc
		}
		if err := grows.Err(); err != nil {
			return err
		}
		if err := grows.Close(); err != nil {
			return err
		}

		if err := writeRecord(&c, samples, genotypes, ref, w); err != nil {
			return err
		}
	}
	return rows.Err()
}

func refBase(ref fasta.Fasta, chrom string, pos int64) string {
	if ref == nil {
		return "N"
	}
	base, err := ref.Get(chrom, uint64(pos-1), uint64(pos))
	if err != nil || base == "" {
		return "N"
	}
	return strings.ToUpper(base)
}

func writeRecord(c *call, samples []sample, genotypes map[int64]sampleCall,
	ref fasta.Fasta, w io.Writer) error {
	pos := c.ip
	if pos != 1 {
		pos--
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%d\t.\t%s\t<INS:ME:RTC>\t.\tPASS\tSVTYPE=INS",
		c.chrom, pos, refBase(ref, c.chrom, pos))

	if c.ipType == retrocopy.IPWindowMean {
		fmt.Fprintf(&b, ";IMPRECISE;CIPOS=%d,%d",
			c.windowStart-c.ip, c.windowEnd-c.ip)
	}

	if c.level == retrocopy.LevelPass && c.rho.Valid && c.pValue.Valid &&
		c.pValue.Float64 <= retrocopy.AlphaError {
		polarity := "-"
		if (c.rho.Float64 >= 0) == (c.parentalStrand == "+") {
			polarity = "+"
		}
		fmt.Fprintf(&b, ";ORHO=%f;POLARITY=%s", c.rho.Float64, polarity)
	}

	fmt.Fprintf(&b, ";PG=%s;PGTYPE=%d;DP=%d", c.parentalGene, c.level, c.depth)

	if c.ipType == retrocopy.IPSupplementaryMode {
		fmt.Fprintf(&b, ";SR=%d", c.splitReads)
	}

	b.WriteString("\tGT:DP")
	haploid := chr.Haploid(c.chrom)
	for _, s := range samples {
		sc, ok := genotypes[s.id]
		if !ok {
			if haploid {
				b.WriteString("\t0:0")
			} else {
				b.WriteString("\t0/0:0")
			}
			continue
		}
		fmt.Fprintf(&b, "\t%s:%d", genotypeString(sc, haploid), sc.alternateDepth)
	}
	b.WriteByte('\n')

	_, err := io.WriteString(w, b.String())
	return err
}

// genotypeString picks the maximum-likelihood genotype.
func genotypeString(sc sampleCall, haploid bool) string {
	if haploid {
		if sc.hoRef >= sc.hoAlt {
			return "0"
		}
		return "1"
	}
	switch {
	case sc.hoRef >= sc.he && sc.hoRef >= sc.hoAlt:
		return "0/0"
	case sc.he >= sc.hoAlt:
		return "0/1"
	default:
		return "1/1"
	}
}
