// Package gff reads GFF3 and GTF annotation streams, with optional
// feature and attribute filtering. Both attribute syntaxes
// (key=value and key "value";) are accepted, and gzip-compressed
// inputs are handled transparently.
package gff

import (
	"bufio"
	"context"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// Attribute is one key/value pair from the ninth column.
type Attribute struct {
	Key   string
	Value string
}

// Entry is one annotation record. Start and End are 1-based closed
// coordinates as written in the file.
type Entry struct {
	SeqName    string
	Source     string
	Feature    string
	Start      int64
	End        int64
	Score      float64
	Strand     byte
	Frame      int
	Attributes []Attribute
	NumLine    int
}

// Attribute returns the value for key, or "" if absent.
func (e *Entry) Attribute(key string) string {
	for _, a := range e.Attributes {
		if a.Key == key {
			return a.Value
		}
	}
	return ""
}

// Filter selects entries by feature name and attribute values. Values
// are interpreted as regular expressions. Hard attributes must all
// match; soft attributes need a single match (an entry with none of
// the soft keys is rejected when soft attributes are present).
type Filter struct {
	feature string
	hard    map[string][]*regexp.Regexp
	soft    map[string][]*regexp.Regexp
}

// NewFilter returns an empty filter, which accepts every entry.
func NewFilter() *Filter {
	return &Filter{
		hard: make(map[string][]*regexp.Regexp),
		soft: make(map[string][]*regexp.Regexp),
	}
}

// Feature restricts matches to entries with the given feature name.
func (f *Filter) Feature(feature string) *Filter {
	f.feature = feature
	return f
}

// FeatureName returns the feature restriction, or "".
func (f *Filter) FeatureName() string { return f.feature }

// HardAttribute adds a must-match attribute pattern.
func (f *Filter) HardAttribute(key, value string) (*Filter, error) {
	re, err := regexp.Compile(value)
	if err != nil {
		return f, errors.Wrapf(err, "gff: bad attribute pattern %q", value)
	}
	f.hard[key] = append(f.hard[key], re)
	return f, nil
}

// SoftAttribute adds an any-match attribute pattern.
func (f *Filter) SoftAttribute(key, value string) (*Filter, error) {
	re, err := regexp.Compile(value)
	if err != nil {
		return f, errors.Wrapf(err, "gff: bad attribute pattern %q", value)
	}
	f.soft[key] = append(f.soft[key], re)
	return f, nil
}

// HasAttributes reports whether any attribute pattern is installed.
func (f *Filter) HasAttributes() bool {
	return len(f.hard) > 0 || len(f.soft) > 0
}

func (f *Filter) match(e *Entry) bool {
	if f.feature != "" && f.feature != e.Feature {
		return false
	}
	for key, res := range f.hard {
		value := e.Attribute(key)
		if value == "" {
			return false
		}
		for _, re := range res {
			if !re.MatchString(value) {
				return false
			}
		}
	}
	if len(f.soft) == 0 {
		return true
	}
	for key, res := range f.soft {
		value := e.Attribute(key)
		if value == "" {
			continue
		}
		for _, re := range res {
			if re.MatchString(value) {
				return true
			}
		}
	}
	return false
}

// Reader scans a GFF/GTF stream.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	err     error
}

// NewReader returns a Reader over r. The caller retains ownership of
// r; gzip streams must be wrapped before calling.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	return &Reader{scanner: sc}
}

// Open opens path for GFF reading, decompressing when the path names
// a gzip file. Close the returned closer when done.
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
			return nil, nil, errors.Wrapf(err, "gff: %s", path)
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

// Read parses the next entry into e. It returns false at end of
// stream or on error; check Err afterwards.
func (r *Reader) Read(e *Entry) bool {
	if r.err != nil {
		return false
	}
	for r.scanner.Scan() {
		r.line++
		line := strings.TrimRight(r.scanner.Text(), "\r\n")
		if line == "" || strings.HasPrefix(line, "#") {
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

// ReadFiltered parses entries until one matches filter.
func (r *Reader) ReadFiltered(e *Entry, filter *Filter) bool {
	for r.Read(e) {
		if filter.match(e) {
			return true
		}
	}
	return false
}

// Err returns the first error encountered while reading.
func (r *Reader) Err() error { return r.err }

func parseLine(line string, num int, e *Entry) error {
	fields := strings.Split(line, "\t")
	if len(fields) < 8 {
		return errors.Errorf("gff: %d fields at line %d, want at least 8", len(fields), num)
	}
	e.SeqName = fields[0]
	e.Source = fields[1]
	e.Feature = fields[2]

	start, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return errors.Wrapf(err, "gff: bad start at line %d", num)
	}
	end, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return errors.Wrapf(err, "gff: bad end at line %d", num)
	}
	e.Start, e.End = start, end

	e.Score = -1
	if fields[5] != "." {
		score, err := strconv.ParseFloat(fields[5], 64)
		if err != nil {
			return errors.Wrapf(err, "gff: bad score at line %d", num)
		}
		e.Score = score
	}

	e.Strand = '.'
	if fields[6] != "" {
		e.Strand = fields[6][0]
	}

	e.Frame = -1
	if fields[7] != "." {
		frame, err := strconv.Atoi(fields[7])
		if err != nil {
			return errors.Wrapf(err, "gff: bad frame at line %d", num)
		}
		e.Frame = frame
	}

	e.Attributes = e.Attributes[:0]
	if len(fields) > 8 {
		if err := parseAttributes(fields[8], num, e); err != nil {
			return err
		}
	}
	e.NumLine = num
	return nil
}

func parseAttributes(s string, num int, e *Entry) error {
	for _, field := range strings.Split(s, ";") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		var key, value string
		if i := strings.IndexAny(field, "= "); i >= 0 {
			key = field[:i]
			value = strings.TrimSpace(field[i+1:])
		} else {
			return errors.Errorf("gff: missing value for attribute %q at line %d", field, num)
		}
		value = strings.Trim(value, `"`)
		e.Attributes = append(e.Attributes, Attribute{Key: key, Value: value})
	}
	return nil
}

var gffSuffixes = []string{".gff", ".gff3", ".gtf", ".gff.gz", ".gff3.gz", ".gtf.gz"}

// LooksLike reports whether path names a GFF/GTF file by extension.
func LooksLike(path string) bool {
	lower := strings.ToLower(path)
	for _, suffix := range gffSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
