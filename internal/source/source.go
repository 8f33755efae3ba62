// Package source defines the source-store reader capability and the batch
// extractor that pulls bounded windows of records over a stable cursor.
package source

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
)

// Sentinel errors for source operations.
var (
	// ErrExtraction indicates a malformed or failed page read. Retryable by
	// re-issuing the same page from the last known-good cursor, up to the
	// configured bound; after that it is fatal for the collection.
	ErrExtraction = errors.New("extraction failed")

	// ErrCursorMismatch indicates a cursor used against a collection other
	// than the one it was issued for.
	ErrCursorMismatch = errors.New("cursor does not belong to collection")

	// ErrCollectionNotFound is returned when a source collection does not exist.
	ErrCollectionNotFound = errors.New("source collection not found")
)

// Cursor is an opaque resumable pagination token. A cursor is valid only for
// the collection it was issued under; the zero value means "start of
// collection".
type Cursor struct {
	Collection string
	Token      string
}

// IsZero reports whether the cursor is the start-of-collection marker.
func (c Cursor) IsZero() bool { return c.Token == "" }

// Page is one window of records returned by a reader. Every page carries
// vectors and all properties; partial fetches are not supported.
type Page struct {
	Records []record.Record
}

// Reader is the source-store capability the engine consumes. Implementations
// must be safe for concurrent use by multiple workers.
type Reader interface {
	// ListCollections returns all collection names in the source.
	ListCollections(ctx context.Context) ([]string, error)

	// Schema returns the property schema of a collection.
	Schema(ctx context.Context, collection string) (schema.SourceSchema, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int64, error)

	// SampleDimension determines the vector dimension from a sample record.
	// Returns 0 when the collection is empty or carries no vectors.
	SampleDimension(ctx context.Context, collection string) (int, error)

	// Read returns one page of at most pageSize records starting after
	// cursor, along with the cursor to resume after this page. An empty
	// page signals exhaustion.
	Read(ctx context.Context, collection string, cursor Cursor, pageSize int) (Page, Cursor, error)

	// Ping verifies the source is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
