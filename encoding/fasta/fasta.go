// Package fasta parses FASTA files, optionally through a faidx-style
// index for random access. Sequence names are the characters after
// '>' up to the first space.
package fasta

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Fasta is a set of named sequences.
type Fasta interface {
	// Get returns the subsequence [start, end) of the named sequence,
	// 0-based half-open. Get is safe for concurrent use.
	Get(seqName string, start, end uint64) (string, error)

	// Len returns the length of the named sequence.
	Len(seqName string) (uint64, error)

	// SeqNames returns all sequence names in file order.
	SeqNames() []string
}

type fasta struct {
	seqs     map[string]string
	seqNames []string
}

// New reads all FASTA data from r into memory.
func New(r io.Reader) (Fasta, error) {
	f := &fasta{seqs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<30)
	var (
		seqName string
		seq     strings.Builder
	)
	flush := func() error {
		if seq.Len() == 0 {
			return nil
		}
		if seqName == "" {
			return errors.New("fasta: sequence data before any '>' header")
		}
		f.seqs[seqName] = seq.String()
		f.seqNames = append(f.seqNames, seqName)
		seq.Reset()
		return nil
	}
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line[0] == '>' {
			if err := flush(); err != nil {
				return nil, err
			}
			seqName = strings.SplitN(line[1:], " ", 2)[0]
			if _, ok := f.seqs[seqName]; ok || seqName == "" {
				return nil, errors.Errorf("fasta: duplicate or empty sequence name %q", seqName)
			}
			// Mark the name as seen even if the sequence is empty.
			f.seqs[seqName] = ""
			continue
		}
		if seqName == "" {
			return nil, errors.New("fasta: sequence data before any '>' header")
		}
		seq.WriteString(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *fasta) Get(seqName string, start, end uint64) (string, error) {
	seq, ok := f.seqs[seqName]
	if !ok {
		return "", errors.Errorf("fasta: sequence %q not found", seqName)
	}
	if start > end || end > uint64(len(seq)) {
		return "", errors.Errorf("fasta: invalid range [%d, %d) for %q (len %d)",
			start, end, seqName, len(seq))
	}
	return seq[start:end], nil
}

func (f *fasta) Len(seqName string) (uint64, error) {
	seq, ok := f.seqs[seqName]
	if !ok {
		return 0, errors.Errorf("fasta: sequence %q not found", seqName)
	}
	return uint64(len(seq)), nil
}

func (f *fasta) SeqNames() []string { return f.seqNames }
