// sider discovers somatic and polymorphic insertions of processed
// retrocopies from short-read DNA alignments. The pipeline runs in
// three steps: process-sample ingests per-sample BAMs against a gene
// annotation, merge-call merges the per-sample databases and runs the
// clustering, retrocopy and genotyping stages, and make-vcf renders
// the cohort VCF.
package main

import (
	golog "log"
	"os"

	"github.com/grailbio/base/log"
	"v.io/x/lib/cmdline"
)

func main() {
	if os.Getenv("LOG_DEBUG") == "1" {
		enableDebugLog()
	}
	root := &cmdline.Command{
		Name:  "sider",
		Short: "Detect retrocopy insertions from short-read alignments",
		Long: `
sider detects somatic and polymorphic insertions of processed
retrocopies - mRNA-derived gene copies reintegrated into the genome -
from short-read DNA sequencing alignments.

A typical run:

   $ sider process-sample -annotation-file gencode.gff3 in1.bam in2.bam
   $ sider merge-call -in-place out.db
   $ sider make-vcf out.db
`,
		Children: []*cmdline.Command{
			newCmdProcessSample(),
			newCmdMergeCall(),
			newCmdMakeVCF(),
		},
	}
	cmdline.HideGlobalFlagsExcept()
	cmdline.Main(root)
}

type debugOutputter struct{}

func (debugOutputter) Level() log.Level { return log.Debug }

func (debugOutputter) Output(calldepth int, level log.Level, s string) error {
	return golog.Output(calldepth+2, s)
}

func enableDebugLog() {
	log.SetOutputter(debugOutputter{})
}

// stringsFlag collects a repeatable string flag.
type stringsFlag []string

func (s *stringsFlag) String() string { return "" }

func (s *stringsFlag) Set(v string) error {
	*s = append(*s, v)
	return nil
}
