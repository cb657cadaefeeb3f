// Package chr folds the chromosome naming conventions found in the wild
// (GRCh-style bare names, "MT", mixed case) onto the canonical GENCODE
// names chr1..chr22, chrX, chrY, chrM. Contigs outside that set pass
// through unchanged.
package chr

import (
	"fmt"
	"strings"
)

// Standardizer maps chromosome aliases to canonical names. The zero
// value is not usable; construct with NewStandardizer. The alias table
// is immutable after construction, so a single Standardizer may be
// shared across goroutines.
type Standardizer struct {
	alias map[string]string
}

// NewStandardizer returns a Standardizer loaded with the human
// chromosome alias table.
func NewStandardizer() *Standardizer {
	alias := make(map[string]string, 4*25)
	for i := 1; i <= 22; i++ {
		std := fmt.Sprintf("chr%d", i)
		alias[fmt.Sprintf("%d", i)] = std
		alias[std] = std
	}
	for _, p := range []struct{ from, to string }{
		{"x", "chrX"}, {"y", "chrY"}, {"m", "chrM"}, {"mt", "chrM"},
		{"chrx", "chrX"}, {"chry", "chrY"}, {"chrm", "chrM"}, {"chrmt", "chrM"},
	} {
		alias[p.from] = p.to
	}
	return &Standardizer{alias: alias}
}

// Lookup returns the canonical name for chrom, or chrom itself if it
// is not a recognized alias. The match is case-insensitive.
func (s *Standardizer) Lookup(chrom string) string {
	if std, ok := s.alias[strings.ToLower(chrom)]; ok {
		return std
	}
	return chrom
}

// Haploid reports whether the canonical chromosome name is carried in
// a single copy in the human genome (chrY and the mitochondrial
// contig).
func Haploid(std string) bool {
	return std == "chrY" || std == "chrM"
}

// Ploidy returns 1 for haploid chromosomes and 2 otherwise.
func Ploidy(std string) int {
	if Haploid(std) {
		return 1
	}
	return 2
}
