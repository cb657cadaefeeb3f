// Package bed reads BED track streams. Only the first twelve standard
// columns are modeled, and only the first three are required;
// browser/track/comment lines are skipped. Gzip-compressed inputs are
// handled transparently.
package bed

import (
	"bufio"
	"context"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Entry is one BED line. ChromStart retains the file's 0-based
// half-open convention. NumFields records how many columns the line
// carried.
type Entry struct {
	Chrom      string
	ChromStart int64
	ChromEnd   int64
	Name       string
	Score      int
	Strand     byte
	NumFields  int
	NumLine    int
}

// Reader scans a BED stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	err     error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	return &Reader{scanner: sc}
}

// Open opens path for BED reading, decompressing gzip by extension.
func Open(ctx context.Context, path string) (*Reader, io.Closer, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	var src io.Reader = in.Reader(ctx)
	closer := &fileCloser{ctx: ctx, file: in}
	if fileio.DetermineType(path) == fileio.Gzip {
		gz, err := gzip.NewReader(src)
		if err != nil {
			_ = in.Close(ctx)
			return nil, nil, errors.Wrapf(err, "bed: %s", path)
		}
		closer.gz = gz
		src = gz
	}
	return NewReader(src), closer, nil
}

type fileCloser struct {
	ctx  context.Context
	file file.File
	gz   *gzip.Reader
}

func (c *fileCloser) Close() error {
	if c.gz != nil {
		if err := c.gz.Close(); err != nil {
			_ = c.file.Close(c.ctx)
			return err
		}
	}
	return c.file.Close(c.ctx)
}

// Read parses the next data line into e, returning false at end of
// stream or on error; check Err afterwards.
func (r *Reader) Read(e *Entry) bool {
	if r.err != nil {
		return false
	}
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") ||
			strings.HasPrefix(line, "browser") || strings.HasPrefix(line, "track") {
			continue
		}
		if err := parseLine(line, r.line, e); err != nil {
			r.err = err
			return false
		}
		return true
	}
	r.err = r.scanner.Err()
	return false
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error { return r.err }

func parseLine(line string, num int, e *Entry) error {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return errors.Errorf("bed: %d fields at line %d, want at least 3", len(fields), num)
	}
	*e = Entry{NumFields: len(fields), NumLine: num, Strand: '.'}
	e.Chrom = fields[0]

	start, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return errors.Wrapf(err, "bed: bad chromStart at line %d", num)
	}
	end, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil {
		return errors.Wrapf(err, "bed: bad chromEnd at line %d", num)
	}
	if end < start {
		return errors.Errorf("bed: chromEnd < chromStart at line %d", num)
	}
	e.ChromStart, e.ChromEnd = start, end

	if len(fields) > 3 {
		e.Name = fields[3]
	}
	if len(fields) > 4 {
		score, err := strconv.Atoi(fields[4])
		if err != nil {
			return errors.Wrapf(err, "bed: bad score at line %d", num)
		}
		e.Score = score
	}
	if len(fields) > 5 && fields[5] != "" {
		e.Strand = fields[5][0]
	}
	return nil
}
