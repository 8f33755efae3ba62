// Package target defines the destination-store writer capability and its
// Milvus implementation.
package target

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
)

// Sentinel errors for target operations.
var (
	// ErrLoad indicates a write to the target failed after retries.
	ErrLoad = errors.New("load failed")

	// ErrCollectionExists is returned by EnsureCollection when the target
	// collection already exists and policy is ExistingFail.
	ErrCollectionExists = errors.New("target collection already exists")
)

// ExistingPolicy controls what EnsureCollection does when the target
// collection already exists.
type ExistingPolicy string

const (
	// ExistingRecreate drops the collection and recreates it empty.
	ExistingRecreate ExistingPolicy = "recreate"

	// ExistingSkip leaves the collection untouched; the caller is expected
	// to skip migrating it.
	ExistingSkip ExistingPolicy = "skip"

	// ExistingFail aborts with ErrCollectionExists.
	ExistingFail ExistingPolicy = "fail"
)

// Valid reports whether p is a known policy.
func (p ExistingPolicy) Valid() bool {
	switch p {
	case ExistingRecreate, ExistingSkip, ExistingFail:
		return true
	}
	return false
}

// EnsureResult reports what EnsureCollection did.
type EnsureResult struct {
	// Created is true when the collection was (re)created this call.
	Created bool

	// Skipped is true when an existing collection was left in place under
	// ExistingSkip.
	Skipped bool
}

// Writer is the destination-store capability the engine consumes.
// Implementations must be safe for concurrent use; batch workers upsert to
// the same collection in parallel.
type Writer interface {
	// Has reports whether a target collection exists.
	Has(ctx context.Context, collection string) (bool, error)

	// EnsureCollection makes the target collection exist with the given
	// schema, honoring policy for pre-existing collections.
	EnsureCollection(ctx context.Context, target schema.TargetSchema, policy ExistingPolicy) (EnsureResult, error)

	// Upsert writes a batch of transformed records keyed by id. Re-writing
	// a record with the same id replaces it, so batch retries do not
	// produce duplicates.
	Upsert(ctx context.Context, target schema.TargetSchema, batch []record.Transformed) (int64, error)

	// Flush forces buffered writes to be persisted and visible to Count.
	Flush(ctx context.Context, collection string) error

	// Load makes the collection queryable.
	Load(ctx context.Context, collection string) error

	// Count returns the number of persisted records in a collection.
	Count(ctx context.Context, collection string) (int64, error)

	// Ping verifies the target is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
