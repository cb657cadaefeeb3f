package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"

	"github.com/grailbio/sider/abnormal"
	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/exon"
)

type processSampleFlags struct {
	annotationFile *string
	inputFile      *string
	outputDir      *string
	prefix         *string
	threads        *int
	cacheSize      *int
	sorted         *bool
	maxDistance    *int64
	exonFrac       *float64
	alignmentFrac  *float64
	either         *bool
	reciprocal     *bool
	maxBaseFreq    *float64
	phredQuality   *int
	debug          *bool
}

func newCmdProcessSample() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "process-sample",
		Short:    "Ingest alignment files and build the per-sample database",
		ArgsName: "<file.bam> ...",
		Long: `
process-sample scans queryname-grouped SAM/BAM files for abnormal read
pairs, annotates them with the protein-coding exons they overlap
according to a GTF/GFF3 annotation, and stores the result in a SQLite
database for the merge-call step.
`,
	}
	flags := processSampleFlags{
		annotationFile: cmd.Flags.String("annotation-file", "", "GTF/GFF3 annotation file (required)"),
		inputFile:      cmd.Flags.String("input-file", "", "File with a newline separated list of SAM/BAM files to process, merged with the arguments"),
		outputDir:      cmd.Flags.String("output-dir", ".", "Output directory; created if absent"),
		prefix:         cmd.Flags.String("prefix", "out", "Output database prefix"),
		threads:        cmd.Flags.Int("threads", 1, "Number of worker threads; one task covers one input file"),
		cacheSize:      cmd.Flags.Int("cache-size", db.DefaultCacheSize, "SQLite cache size in KiB"),
		sorted:         cmd.Flags.Bool("sorted", false, "Assume the input is queryname sorted even if its header says otherwise"),
		maxDistance:    cmd.Flags.Int64("max-distance", 10000, "Template span beyond which a same-chromosome pair is abnormal"),
		exonFrac:       cmd.Flags.Float64("exon-frac", 1e-9, "Minimum fraction of an exon that an alignment overlap must cover"),
		alignmentFrac:  cmd.Flags.Float64("alignment-frac", 1e-9, "Minimum fraction of the alignment covered by an exon"),
		either:         cmd.Flags.Bool("either", false, "Accept an exon overlap when either fraction is satisfied"),
		reciprocal:     cmd.Flags.Bool("reciprocal", false, "Require the exon-frac fraction reciprocally on both sides"),
		maxBaseFreq:    cmd.Flags.Float64("max-base-freq", 0.75, "Reject reads whose most frequent base exceeds this fraction"),
		phredQuality:   cmd.Flags.Int("phred-quality", 8, "Minimum mapping quality to keep a primary alignment"),
		debug:          cmd.Flags.Bool("debug", false, "Increase verbosity to debug level"),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, args []string) error {
		return processSample(flags, args)
	})
	return cmd
}

// inputUnion merges positional arguments with the lines of an
// optional list file, dropping repeats.
func inputUnion(args []string, inputFile string) ([]string, error) {
	files := append([]string{}, args...)
	if inputFile != "" {
		f, err := os.Open(inputFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				files = append(files, line)
			}
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}
	seen := make(map[string]bool, len(files))
	uniq := files[:0]
	for _, f := range files {
		if !seen[f] {
			seen[f] = true
			uniq = append(uniq, f)
		}
	}
	sort.Strings(uniq)
	return uniq, nil
}

func processSample(flags processSampleFlags, args []string) error {
	ctx := vcontext.Background()
	if *flags.debug {
		enableDebugLog()
	}

	if *flags.annotationFile == "" {
		return fmt.Errorf("missing -annotation-file")
	}
	bams, err := inputUnion(args, *flags.inputFile)
	if err != nil {
		return err
	}
	if len(bams) == 0 {
		return fmt.Errorf("missing SAM/BAM input files")
	}
	for _, bam := range bams {
		if _, err := os.Stat(bam); err != nil {
			return fmt.Errorf("alignment file %q: no such file", bam)
		}
	}

	if err := os.MkdirAll(*flags.outputDir, 0777); err != nil {
		return err
	}
	dbFile := filepath.Join(*flags.outputDir, *flags.prefix+".db")

	log.Printf("process-sample: create and connect to database %s", dbFile)
	d, err := db.Create(dbFile)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.CacheSize(*flags.cacheSize); err != nil {
		return err
	}

	batchStmt, err := d.PrepareBatch()
	if err != nil {
		return err
	}
	sourceStmt, err := d.PrepareSource()
	if err != nil {
		return err
	}
	exonStmt, err := d.PrepareExon()
	if err != nil {
		return err
	}
	overlappingStmt, err := d.PrepareOverlapping()
	if err != nil {
		return err
	}
	alignmentStmt, err := d.PrepareAlignment()
	if err != nil {
		return err
	}

	if err := d.BeginTransaction(); err != nil {
		return err
	}

	const batchID = 1
	if err := batchStmt.Insert(batchID, time.Now().Format("2006-01-02 15:04:05")); err != nil {
		return err
	}

	cs := chr.NewStandardizer()
	tree := exon.NewTree(exonStmt, overlappingStmt, cs)
	log.Printf("process-sample: index annotation file %s", *flags.annotationFile)
	if err := tree.IndexGFF(ctx, *flags.annotationFile); err != nil {
		return err
	}
	log.Printf("process-sample: indexed %d exons", tree.Len())

	jobs := make([]abnormal.Job, len(bams))
	for i, bam := range bams {
		jobs[i] = abnormal.Job{SourceID: int64(i) + 1, Path: bam}
		if err := sourceStmt.Insert(int64(i)+1, batchID, bam); err != nil {
			return err
		}
	}

	alignmentFrac := *flags.alignmentFrac
	if *flags.reciprocal {
		alignmentFrac = *flags.exonFrac
	}
	err = abnormal.Run(ctx, jobs, tree, cs, alignmentStmt, abnormal.Opts{
		MaxDistance:   *flags.maxDistance,
		ExonFrac:      *flags.exonFrac,
		AlignmentFrac: alignmentFrac,
		Either:        *flags.either,
		AssumeSorted:  *flags.sorted,
		MaxBaseFreq:   *flags.maxBaseFreq,
		PhredQuality:  *flags.phredQuality,
		Threads:       *flags.threads,
	})
	if err != nil {
		return err
	}

	if err := d.EndTransaction(); err != nil {
		return err
	}
	log.Printf("process-sample: done; run 'sider merge-call %s' next", dbFile)
	return nil
}
