package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"v.io/x/lib/cmdline"

	"github.com/grailbio/sider/db"
	"github.com/grailbio/sider/vcf"
)

type makeVCFFlags struct {
	referenceFile *string
	outputDir     *string
	prefix        *string
	debug         *bool
}

func newCmdMakeVCF() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "make-vcf",
		Short:    "Generate the retrocopy VCF",
		ArgsName: "<file.db>",
		Long: `
make-vcf renders the retrocopies and genotypes of a database annotated
by merge-call as a VCF file.
`,
	}
	flags := makeVCFFlags{
		referenceFile: cmd.Flags.String("reference-file", "", "Reference FASTA (optionally faidx indexed) used to fill the REF column"),
		outputDir:     cmd.Flags.String("output-dir", ".", "Output directory; created if absent"),
		prefix:        cmd.Flags.String("prefix", "out", "Output VCF prefix"),
		debug:         cmd.Flags.Bool("debug", false, "Increase verbosity to debug level"),
	}
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, args []string) error {
		return makeVCF(flags, args)
	})
	return cmd
}

func makeVCF(flags makeVCFFlags, args []string) error {
	ctx := vcontext.Background()
	if *flags.debug {
		enableDebugLog()
	}

	if len(args) != 1 {
		return fmt.Errorf("make-vcf takes one database argument, but got %v", args)
	}
	if _, err := os.Stat(args[0]); err != nil {
		return fmt.Errorf("database %q: no such file", args[0])
	}

	d, err := db.Connect(args[0])
	if err != nil {
		return err
	}
	defer d.Close()

	if err := os.MkdirAll(*flags.outputDir, 0777); err != nil {
		return err
	}
	out := filepath.Join(*flags.outputDir, *flags.prefix+".vcf")

	log.Printf("make-vcf: write %s", out)
	if err := vcf.Write(ctx, d, *flags.referenceFile, out); err != nil {
		return err
	}
	log.Printf("make-vcf: done")
	return nil
}
