// Package segment serializes transformed records into staged segment files
// and uploads them to object storage, rotating at a byte threshold.
package segment

import (
	"bytes"
	"context"
	"fmt"

	"github.com/fyrsmithlabs/vecshift/internal/objstore"
	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
)

// Format selects the segment file encoding.
type Format string

const (
	FormatNDJSON  Format = "ndjson"
	FormatParquet Format = "parquet"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	return f == FormatNDJSON || f == FormatParquet
}

// DefaultMaxSegmentBytes rotates segments at 512 MiB of estimated row data.
const DefaultMaxSegmentBytes = 512 << 20

// Segment describes one sealed, uploaded segment file.
type Segment struct {
	Key     string
	Records int64
	Bytes   int64
}

// Options configure a Writer.
type Options struct {
	// Prefix is the key prefix inside the bucket, e.g. "staging".
	Prefix string

	// RunID and Collection scope the segment keys: every run writes under
	// {prefix}/{run_id}/{collection}/.
	RunID      string
	Collection string

	Format Format

	// MaxSegmentBytes seals the current segment once its estimated encoded
	// size reaches this threshold. Zero means DefaultMaxSegmentBytes.
	MaxSegmentBytes int64
}

// Writer accumulates transformed records and uploads sealed segments. Not
// safe for concurrent use; the staging phase owns it from one goroutine.
type Writer struct {
	store   objstore.Store
	opts    Options
	target  schema.TargetSchema
	encoder encoder

	pending   []record.Transformed
	estimated int64
	index     int
	sealed    []Segment
	closed    bool
}

// encoder turns a slice of records into one encoded segment body.
type encoder interface {
	encode(target schema.TargetSchema, recs []record.Transformed) ([]byte, error)
	extension() string
	contentType() string
}

// NewWriter builds a segment writer for one collection of one run.
func NewWriter(store objstore.Store, target schema.TargetSchema, opts Options) (*Writer, error) {
	if !opts.Format.Valid() {
		return nil, fmt.Errorf("unknown segment format %q", opts.Format)
	}
	if opts.RunID == "" || opts.Collection == "" {
		return nil, fmt.Errorf("run id and collection are required")
	}
	if opts.MaxSegmentBytes <= 0 {
		opts.MaxSegmentBytes = DefaultMaxSegmentBytes
	}

	var enc encoder
	switch opts.Format {
	case FormatNDJSON:
		enc = ndjsonEncoder{}
	case FormatParquet:
		enc = parquetEncoder{}
	}

	return &Writer{store: store, opts: opts, target: target, encoder: enc}, nil
}

// Append adds records to the current segment, sealing and uploading whenever
// the size threshold is crossed.
func (w *Writer) Append(ctx context.Context, recs []record.Transformed) error {
	if w.closed {
		return fmt.Errorf("segment writer is closed")
	}
	for _, rec := range recs {
		w.pending = append(w.pending, rec)
		w.estimated += estimateSize(rec)
		if w.estimated >= w.opts.MaxSegmentBytes {
			if err := w.seal(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close seals any pending records and returns all uploaded segments in
// order.
func (w *Writer) Close(ctx context.Context) ([]Segment, error) {
	if w.closed {
		return w.sealed, nil
	}
	w.closed = true
	if len(w.pending) > 0 {
		if err := w.seal(ctx); err != nil {
			return nil, err
		}
	}
	return w.sealed, nil
}

// Segments returns the segments sealed so far.
func (w *Writer) Segments() []Segment { return w.sealed }

func (w *Writer) seal(ctx context.Context) error {
	body, err := w.encoder.encode(w.target, w.pending)
	if err != nil {
		return fmt.Errorf("failed to encode segment %d of %s: %w", w.index, w.opts.Collection, err)
	}

	key := w.key(w.index)
	if err := w.store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), w.encoder.contentType()); err != nil {
		return fmt.Errorf("failed to upload segment %s: %w", key, err)
	}

	w.sealed = append(w.sealed, Segment{
		Key:     key,
		Records: int64(len(w.pending)),
		Bytes:   int64(len(body)),
	})
	w.index++
	w.pending = w.pending[:0]
	w.estimated = 0
	return nil
}

func (w *Writer) key(index int) string {
	name := fmt.Sprintf("segment-%05d.%s", index, w.encoder.extension())
	if w.opts.Prefix == "" {
		return fmt.Sprintf("%s/%s/%s", w.opts.RunID, w.opts.Collection, name)
	}
	return fmt.Sprintf("%s/%s/%s/%s", w.opts.Prefix, w.opts.RunID, w.opts.Collection, name)
}

// estimateSize approximates the encoded size of one record. Parquet
// compresses below this, so rotation errs toward smaller segments.
func estimateSize(rec record.Transformed) int64 {
	size := int64(len(rec.ID) + len(rec.Text) + len(rec.Metadata) + 4*len(rec.Vector) + 64)
	size += int64(16 * len(rec.Scalars))
	return size
}
