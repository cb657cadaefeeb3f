package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"

	"github.com/grailbio/sider/blacklist"
	"github.com/grailbio/sider/chr"
	"github.com/grailbio/sider/cluster"
	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/dedup"
	"github.com/grailbio/sider/encoding/gff"
	"github.com/grailbio/sider/genotype"
	"github.com/grailbio/sider/retrocopy"
)

const mergeCallCacheSize = 200000 // KiB

type mergeCallFlags struct {
	inputFile        *string
	outputDir        *string
	prefix           *string
	inPlace          *bool
	cacheSize        *int
	epsilon          *int64
	minPts           *int
	blacklistChr     stringsFlag
	blacklistRegion  *string
	blacklistPadding *int64
	gffFeature       *string
	gffHardAttrs     stringsFlag
	gffSoftAttrs     stringsFlag
	parentalDistance *int64
	genotypeSupport  *int
	nearGeneRank     *int
	threads          *int
	phredQuality     *int
	debug            *bool
}

func newCmdMergeCall() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "merge-call",
		Short:    "Discover and annotate retrocopies",
		ArgsName: "<file.db> ...",
		Long: `
merge-call merges per-sample databases produced by process-sample,
marks PCR duplicates, clusters the abnormal alignments, resolves
clusters into retrocopies and genotypes each sample. The annotated
database feeds make-vcf.
`,
	}
	flags := mergeCallFlags{
		inputFile:        cmd.Flags.String("input-file", "", "File with a newline separated list of databases, merged with the arguments"),
		outputDir:        cmd.Flags.String("output-dir", ".", "Output directory; created if absent"),
		prefix:           cmd.Flags.String("prefix", "out", "Output database prefix"),
		inPlace:          cmd.Flags.Bool("in-place", false, "Merge into the first database of the list instead of creating a new file"),
		cacheSize:        cmd.Flags.Int("cache-size", mergeCallCacheSize, "SQLite cache size in KiB"),
		epsilon:          cmd.Flags.Int64("epsilon", 300, "DBSCAN: maximum distance between two alignments inside a cluster"),
		minPts:           cmd.Flags.Int("min-pts", 10, "DBSCAN: minimum number of points required to form a dense region"),
		blacklistRegion:  cmd.Flags.String("blacklist-region", "", "GTF/GFF3/BED file of blacklisted regions"),
		blacklistPadding: cmd.Flags.Int64("blacklist-padding", 0, "Pad blacklisted regions by this many bases on both sides"),
		gffFeature:       cmd.Flags.String("gff-feature", "gene", "Feature (third column) selecting blacklist entries of a GTF/GFF3 file"),
		parentalDistance: cmd.Flags.Int64("parental-distance", 1000000, "Minimum distance allowed between a cluster and its putative parental gene"),
		genotypeSupport:  cmd.Flags.Int("genotype-support", 1, "Minimum number of clustered reads coming from a single source"),
		nearGeneRank:     cmd.Flags.Int("near-gene-rank", 3, "Maximum ranked distance between parental genes considered close"),
		threads:          cmd.Flags.Int("threads", 1, "Number of genotyping worker threads"),
		phredQuality:     cmd.Flags.Int("phred-quality", 8, "Minimum mapping quality of reference-supporting reads"),
		debug:            cmd.Flags.Bool("debug", false, "Increase verbosity to debug level"),
	}
	cmd.Flags.Var(&flags.blacklistChr, "blacklist-chr",
		"Chromosome excluded from clustering; may repeat (default chrM)")
	cmd.Flags.Var(&flags.gffHardAttrs, "gff-hard-attribute",
		"key=value attribute (regex) a blacklist GFF entry must match; may repeat, all must hold")
	cmd.Flags.Var(&flags.gffSoftAttrs, "gff-soft-attribute",
		"key=value attribute (regex) of which one must match; may repeat "+
			"(default gene_type=processed_pseudogene tag=retrogene)")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, args []string) error {
		return mergeCall(flags, args)
	})
	return cmd
}

func splitKeyValue(s string) (string, string, error) {
	i := strings.IndexByte(s, '=')
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("attribute %q: want KEY=VALUE", s)
	}
	return s[:i], s[i+1:], nil
}

func buildGFFFilter(flags mergeCallFlags) (*gff.Filter, error) {
	filter := gff.NewFilter().Feature(*flags.gffFeature)
	for _, attr := range flags.gffHardAttrs {
		key, value, err := splitKeyValue(attr)
		if err != nil {
			return nil, err
		}
		if _, err := filter.HardAttribute(key, value); err != nil {
			return nil, err
		}
	}
	for _, attr := range flags.gffSoftAttrs {
		key, value, err := splitKeyValue(attr)
		if err != nil {
			return nil, err
		}
		if _, err := filter.SoftAttribute(key, value); err != nil {
			return nil, err
		}
	}
	if !filter.HasAttributes() {
		if _, err := filter.SoftAttribute("gene_type", "processed_pseudogene"); err != nil {
			return nil, err
		}
		if _, err := filter.SoftAttribute("tag", "retrogene"); err != nil {
			return nil, err
		}
	}
	return filter, nil
}

func mergeCall(flags mergeCallFlags, args []string) error {
	ctx := vcontext.Background()
	if *flags.debug {
		enableDebugLog()
	}

	dbFiles, err := inputUnion(args, *flags.inputFile)
	if err != nil {
		return err
	}
	if len(dbFiles) == 0 {
		return fmt.Errorf("missing SQLite databases")
	}
	for _, f := range dbFiles {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("database %q: no such file", f)
		}
	}
	if *flags.minPts < 3 {
		return fmt.Errorf("-min-pts must be greater than 2")
	}

	cs := chr.NewStandardizer()
	blacklistChr := make(map[string]bool)
	for _, c := range flags.blacklistChr {
		blacklistChr[cs.Lookup(c)] = true
	}
	if len(blacklistChr) == 0 {
		blacklistChr["chrM"] = true
	}

	filter, err := buildGFFFilter(flags)
	if err != nil {
		return err
	}

	var d *db.DB
	if *flags.inPlace {
		log.Printf("merge-call: connect to database %s", dbFiles[0])
		if d, err = db.Connect(dbFiles[0]); err != nil {
			return err
		}
		dbFiles = dbFiles[1:]
	} else {
		if err := os.MkdirAll(*flags.outputDir, 0777); err != nil {
			return err
		}
		dbFile := filepath.Join(*flags.outputDir, *flags.prefix+".db")
		log.Printf("merge-call: create and connect to database %s", dbFile)
		if d, err = db.Create(dbFile); err != nil {
			return err
		}
	}
	defer d.Close()
	if err := d.CacheSize(*flags.cacheSize); err != nil {
		return err
	}

	clusterStmt, err := d.PrepareCluster()
	if err != nil {
		return err
	}
	clusteringStmt, err := d.PrepareClustering()
	if err != nil {
		return err
	}
	blacklistStmt, err := d.PrepareBlacklist()
	if err != nil {
		return err
	}
	overlappingBlacklistStmt, err := d.PrepareOverlappingBlacklist()
	if err != nil {
		return err
	}
	retrocopyStmt, err := d.PrepareRetrocopy()
	if err != nil {
		return err
	}
	clusterMergingStmt, err := d.PrepareClusterMerging()
	if err != nil {
		return err
	}
	genotypeStmt, err := d.PrepareGenotype()
	if err != nil {
		return err
	}

	bl := blacklist.New(blacklistStmt, overlappingBlacklistStmt, cs)
	if *flags.blacklistRegion != "" {
		if err := d.BeginTransaction(); err != nil {
			return err
		}
		if gff.LooksLike(*flags.blacklistRegion) {
			log.Printf("merge-call: index blacklist entries from GTF/GFF3 file %s",
				*flags.blacklistRegion)
			err = bl.LoadGFF(ctx, d, *flags.blacklistRegion, filter)
		} else {
			log.Printf("merge-call: index blacklist entries from BED file %s",
				*flags.blacklistRegion)
			err = bl.LoadBED(ctx, d, *flags.blacklistRegion)
		}
		if err != nil {
			return err
		}
		if err := d.EndTransaction(); err != nil {
			return err
		}
		log.Printf("merge-call: %d blacklisted regions", bl.Len())
	}

	if len(dbFiles) > 0 {
		if err := d.BeginTransaction(); err != nil {
			return err
		}
		if err := d.Merge(dbFiles); err != nil {
			return err
		}
		if err := d.EndTransaction(); err != nil {
			return err
		}
	}

	log.Printf("merge-call: mark duplicated alignments")
	if err := d.BeginTransaction(); err != nil {
		return err
	}
	if err := dedup.Dedup(d); err != nil {
		return err
	}
	if err := d.EndTransaction(); err != nil {
		return err
	}

	numClusters, err := cluster.Run(d, clusterStmt, clusteringStmt, bl, cluster.Options{
		Eps:              *flags.epsilon,
		MinPts:           *flags.minPts,
		ParentalDistance: *flags.parentalDistance,
		Support:          *flags.genotypeSupport,
		Padding:          *flags.blacklistPadding,
		BlacklistChr:     blacklistChr,
	})
	if err != nil {
		return err
	}
	if numClusters == 0 {
		log.Printf("merge-call: no cluster has been found")
		return nil
	}

	numRetrocopies, err := retrocopy.Resolve(d, retrocopyStmt, clusterMergingStmt,
		retrocopy.Options{
			NearGeneRank:    *flags.nearGeneRank,
			SupportEnforced: *flags.genotypeSupport > 1,
		})
	if err != nil {
		return err
	}
	if numRetrocopies == 0 {
		log.Printf("merge-call: no retrocopy has been found")
		return nil
	}

	log.Printf("merge-call: genotype %d retrocopies", numRetrocopies)
	if err := d.BeginTransaction(); err != nil {
		return err
	}
	err = genotype.Run(ctx, d, genotypeStmt, cs, genotype.Opts{
		Threads:      *flags.threads,
		PhredQuality: *flags.phredQuality,
	})
	if err != nil {
		return err
	}
	if err := d.EndTransaction(); err != nil {
		return err
	}

	log.Printf("merge-call: finished at %s; run make-vcf to generate the VCF", d.Path())
	return nil
}
