// Package objstore provides the object-storage capability used by the staged
// loading path to stage record segments.
package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by Stat for missing keys.
var ErrObjectNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Store is the object-storage capability the engine consumes.
type Store interface {
	// EnsureBucket creates the configured bucket if it does not exist.
	EnsureBucket(ctx context.Context) error

	// Put uploads an object under key. size may be -1 when unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// List returns all objects under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)

	// Stat returns metadata for one object, or ErrObjectNotFound.
	Stat(ctx context.Context, key string) (ObjectInfo, error)

	// URL returns the locator the bulk-import service uses to read key.
	URL(key string) string
}
