// Package bamio opens BAM files and their BAI indexes for the scan
// stages.
package bamio

import (
	"context"

	"github.com/grailbio/base/file"
	"github.com/biogo/hts/bam"
	"github.com/pkg/errors"
)

// Reader bundles a BAM reader with its underlying file.
type Reader struct {
	Bam *bam.Reader

	ctx  context.Context
	file file.File
}

// Open opens the BAM at path.
func Open(ctx context.Context, path string) (*Reader, error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.Wrapf(err, "bamio: open %s", path)
	}
	br, err := bam.NewReader(in.Reader(ctx), 1)
	if err != nil {
		_ = in.Close(ctx)
		return nil, errors.Wrapf(err, "bamio: open %s", path)
	}
	return &Reader{Bam: br, ctx: ctx, file: in}, nil
}

// Close closes the reader and the file.
func (r *Reader) Close() error {
	err := r.Bam.Close()
	if cerr := r.file.Close(r.ctx); err == nil {
		err = cerr
	}
	return errors.Wrapf(err, "bamio: close")
}

// OpenIndex loads the BAI index next to the BAM at path (path + ".bai").
// A missing index returns a nil index and no error.
func OpenIndex(ctx context.Context, path string) (*bam.Index, error) {
	idxPath := path + ".bai"
	in, err := file.Open(ctx, idxPath)
	if err != nil {
		// A BAM without an index falls back to a linear scan.
		return nil, nil
	}
	defer in.Close(ctx)
	idx, err := bam.ReadIndex(in.Reader(ctx))
	if err != nil {
		return nil, errors.Wrapf(err, "bamio: read index %s", idxPath)
	}
	return idx, nil
}
