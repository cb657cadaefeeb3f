package fasta

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// indexEntry is one line of a faidx (.fai) index: sequence name,
// sequence length, byte offset of the first base, bases per line and
// bytes per line.
type indexEntry struct {
	name      string
	length    uint64
	offset    uint64
	lineBase  uint64
	lineWidth uint64
}

func parseIndex(r io.Reader) ([]indexEntry, error) {
	var entries []indexEntry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			return nil, errors.Errorf("fasta: invalid index line %q", line)
		}
		var (
			e   indexEntry
			err error
		)
		e.name = fields[0]
		for i, dst := range []*uint64{&e.length, &e.offset, &e.lineBase, &e.lineWidth} {
			*dst, err = strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "fasta: invalid index line %q", line)
			}
		}
		if e.lineBase == 0 || e.lineWidth < e.lineBase {
			return nil, errors.Errorf("fasta: invalid line geometry in index line %q", line)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

type indexedFasta struct {
	mu       sync.Mutex
	r        io.ReadSeeker
	index    map[string]indexEntry
	seqNames []string
}

// NewIndexed returns a Fasta whose Get seeks within r using the faidx
// index read from idx, so only requested windows are loaded.
func NewIndexed(r io.ReadSeeker, idx io.Reader) (Fasta, error) {
	entries, err := parseIndex(idx)
	if err != nil {
		return nil, err
	}
	f := &indexedFasta{r: r, index: make(map[string]indexEntry, len(entries))}
	for _, e := range entries {
		if _, ok := f.index[e.name]; ok {
			return nil, errors.Errorf("fasta: duplicate index entry %q", e.name)
		}
		f.index[e.name] = e
		f.seqNames = append(f.seqNames, e.name)
	}
	return f, nil
}

func (f *indexedFasta) Get(seqName string, start, end uint64) (string, error) {
	e, ok := f.index[seqName]
	if !ok {
		return "", errors.Errorf("fasta: sequence %q not found", seqName)
	}
	if start > end || end > e.length {
		return "", errors.Errorf("fasta: invalid range [%d, %d) for %q (len %d)",
			start, end, seqName, e.length)
	}
	if start == end {
		return "", nil
	}

	offset := e.offset + start/e.lineBase*e.lineWidth + start%e.lineBase
	// Read through the last line containing the request, then strip
	// the line terminators.
	last := e.offset + (end-1)/e.lineBase*e.lineWidth + (end-1)%e.lineBase
	raw := make([]byte, last-offset+1)

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.r.Seek(int64(offset), io.SeekStart); err != nil {
		return "", errors.Wrapf(err, "fasta: seek %q", seqName)
	}
	if _, err := io.ReadFull(f.r, raw); err != nil {
		return "", errors.Wrapf(err, "fasta: read %q", seqName)
	}

	seq := make([]byte, 0, end-start)
	for _, b := range raw {
		if b != '\n' && b != '\r' {
			seq = append(seq, b)
		}
	}
	if uint64(len(seq)) != end-start {
		return "", errors.Errorf("fasta: truncated sequence %q", seqName)
	}
	return string(seq), nil
}

func (f *indexedFasta) Len(seqName string) (uint64, error) {
	e, ok := f.index[seqName]
	if !ok {
		return 0, errors.Errorf("fasta: sequence %q not found", seqName)
	}
	return e.length, nil
}

func (f *indexedFasta) SeqNames() []string { return f.seqNames }
