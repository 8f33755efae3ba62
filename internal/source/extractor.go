package source

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecshift/internal/logging"
	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/retry"
)

// Extractor pages through a source collection, wrapping reader failures in
// ErrExtraction and retrying each page from the last known-good cursor.
type Extractor struct {
	reader Reader
	policy retry.Policy
	log    *logging.Logger
}

// NewExtractor builds an extractor over reader. Pages that fail are retried
// per policy before the error surfaces.
func NewExtractor(reader Reader, policy retry.Policy, log *logging.Logger) *Extractor {
	if log == nil {
		log = logging.NewNop()
	}
	return &Extractor{reader: reader, policy: policy, log: log}
}

// StreamOptions bound a single collection extraction.
type StreamOptions struct {
	// PageSize is the maximum records per batch. Must be positive.
	PageSize int

	// Limit caps the total records extracted. Zero means no cap.
	Limit int64

	// Resume restarts extraction after a previously returned cursor.
	// The cursor must have been issued for the same collection.
	Resume Cursor
}

// Stream is a single-collection extraction in progress. Not safe for
// concurrent use; one goroutine owns the cursor.
type Stream struct {
	ext        *Extractor
	collection string
	cursor     Cursor
	pageSize   int
	limit      int64
	extracted  int64
	seq        int
	done       bool
}

// Stream opens an extraction over collection. The returned stream yields
// batches in source order until the collection or the limit is exhausted.
func (e *Extractor) Stream(collection string, opts StreamOptions) (*Stream, error) {
	if opts.PageSize <= 0 {
		return nil, fmt.Errorf("%w: page size must be positive, got %d", ErrExtraction, opts.PageSize)
	}
	if !opts.Resume.IsZero() && opts.Resume.Collection != collection {
		return nil, fmt.Errorf("%w: cursor issued for %q, used on %q",
			ErrCursorMismatch, opts.Resume.Collection, collection)
	}
	return &Stream{
		ext:        e,
		collection: collection,
		cursor:     opts.Resume,
		pageSize:   opts.PageSize,
		limit:      opts.Limit,
	}, nil
}

// Next returns the next batch. ok is false once the stream is exhausted.
// On error the stream's cursor still points at the last good position, so a
// fresh stream can resume from Cursor() without re-reading delivered records.
func (s *Stream) Next(ctx context.Context) (record.Batch, bool, error) {
	if s.done {
		return record.Batch{}, false, nil
	}

	pageSize := s.pageSize
	if s.limit > 0 {
		remaining := s.limit - s.extracted
		if remaining <= 0 {
			s.done = true
			return record.Batch{}, false, nil
		}
		if remaining < int64(pageSize) {
			pageSize = int(remaining)
		}
	}

	var (
		page Page
		next Cursor
	)
	op := fmt.Sprintf("extract page seq=%d collection=%s", s.seq, s.collection)
	err := s.ext.policy.Do(ctx, op, func(ctx context.Context) error {
		var readErr error
		page, next, readErr = s.ext.reader.Read(ctx, s.collection, s.cursor, pageSize)
		if readErr != nil {
			return fmt.Errorf("%w: %w", ErrExtraction, readErr)
		}
		if verr := validatePage(page, pageSize); verr != nil {
			return verr
		}
		return nil
	})
	if err != nil {
		return record.Batch{}, false, fmt.Errorf("collection %s: %w", s.collection, err)
	}

	if len(page.Records) == 0 {
		s.done = true
		return record.Batch{}, false, nil
	}

	batch := record.Batch{Seq: s.seq, Records: page.Records}
	s.seq++
	s.extracted += int64(len(page.Records))
	s.cursor = next
	if next.IsZero() {
		s.done = true
	}

	s.ext.log.Debug(ctx, "extracted batch",
		zap.String("collection", s.collection),
		zap.Int("seq", batch.Seq),
		zap.Int("records", batch.Len()),
	)
	return batch, true, nil
}

// Cursor returns the resume point after the last successfully delivered
// batch.
func (s *Stream) Cursor() Cursor { return s.cursor }

// Extracted returns how many records the stream has delivered so far.
func (s *Stream) Extracted() int64 { return s.extracted }

func validatePage(page Page, pageSize int) error {
	if len(page.Records) > pageSize {
		return fmt.Errorf("%w: page holds %d records, requested at most %d",
			ErrExtraction, len(page.Records), pageSize)
	}
	for i, rec := range page.Records {
		if rec.ID == "" {
			return fmt.Errorf("%w: record %d has empty id", ErrExtraction, i)
		}
	}
	return nil
}
