package migrate

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/fyrsmithlabs/vecshift/internal/bulkimport"
	"github.com/fyrsmithlabs/vecshift/internal/objstore"
	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
	"github.com/fyrsmithlabs/vecshift/internal/source"
	"github.com/fyrsmithlabs/vecshift/internal/target"
)

// fakeReader serves generated records for a set of collections.
type fakeReader struct {
	mu          sync.Mutex
	collections map[string]int
	dim         int
	pingErr     error
	reads       int
}

func newFakeReader(dim int, collections map[string]int) *fakeReader {
	return &fakeReader{collections: collections, dim: dim}
}

func (f *fakeReader) ListCollections(ctx context.Context) ([]string, error) {
	var names []string
	for name := range f.collections {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeReader) Schema(ctx context.Context, collection string) (schema.SourceSchema, error) {
	return schema.SourceSchema{
		Collection: collection,
		Properties: []schema.Property{
			{Name: "content", DataType: "text"},
			{Name: "rank", DataType: "int"},
		},
	}, nil
}

func (f *fakeReader) Count(ctx context.Context, collection string) (int64, error) {
	return int64(f.collections[collection]), nil
}

func (f *fakeReader) SampleDimension(ctx context.Context, collection string) (int, error) {
	return f.dim, nil
}

func (f *fakeReader) Read(ctx context.Context, collection string, cursor source.Cursor, pageSize int) (source.Page, source.Cursor, error) {
	f.mu.Lock()
	f.reads++
	f.mu.Unlock()

	total := f.collections[collection]
	start := 0
	if !cursor.IsZero() {
		start, _ = strconv.Atoi(cursor.Token)
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	page := source.Page{}
	for i := start; i < end; i++ {
		vec := make([]float32, f.dim)
		vec[0] = float32(i)
		page.Records = append(page.Records, record.Record{
			ID:     fmt.Sprintf("%s-%04d", collection, i),
			Vector: vec,
			Properties: map[string]any{
				"content": fmt.Sprintf("document body %d with enough words", i),
				"rank":    int64(i),
			},
		})
	}

	next := source.Cursor{}
	if end < total {
		next = source.Cursor{Collection: collection, Token: strconv.Itoa(end)}
	}
	return page, next, nil
}

func (f *fakeReader) Ping(ctx context.Context) error { return f.pingErr }
func (f *fakeReader) Close() error                   { return nil }

// fakeWriter stores upserted records by id, optionally failing chosen
// batches.
type fakeWriter struct {
	mu       sync.Mutex
	existing map[string]bool
	stored   map[string]map[string]record.Transformed

	ensures int
	upserts int
	flushes int
	loads   int
	pingErr error

	// failBatch makes Upsert fail when the batch's first record id
	// matches; failOnce fails only the first attempt per batch.
	failBatch func(first string) bool
	failOnce  bool
	failed    map[string]bool
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		existing: map[string]bool{},
		stored:   map[string]map[string]record.Transformed{},
		failed:   map[string]bool{},
	}
}

func (w *fakeWriter) Has(ctx context.Context, collection string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.existing[collection], nil
}

func (w *fakeWriter) EnsureCollection(ctx context.Context, t schema.TargetSchema, policy target.ExistingPolicy) (target.EnsureResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ensures++
	if w.existing[t.Collection] {
		switch policy {
		case target.ExistingSkip:
			return target.EnsureResult{Skipped: true}, nil
		case target.ExistingFail:
			return target.EnsureResult{}, fmt.Errorf("%w: %s", target.ErrCollectionExists, t.Collection)
		}
		delete(w.stored, t.Collection)
	}
	w.existing[t.Collection] = true
	w.stored[t.Collection] = map[string]record.Transformed{}
	return target.EnsureResult{Created: true}, nil
}

func (w *fakeWriter) Upsert(ctx context.Context, t schema.TargetSchema, batch []record.Transformed) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.upserts++

	if len(batch) > 0 && w.failBatch != nil && w.failBatch(batch[0].ID) {
		if !w.failOnce || !w.failed[batch[0].ID] {
			w.failed[batch[0].ID] = true
			return 0, fmt.Errorf("%w: simulated write failure", target.ErrLoad)
		}
	}

	store := w.stored[t.Collection]
	for _, rec := range batch {
		store[rec.ID] = rec
	}
	return int64(len(batch)), nil
}

func (w *fakeWriter) Flush(ctx context.Context, collection string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushes++
	return nil
}

func (w *fakeWriter) Load(ctx context.Context, collection string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.loads++
	return nil
}

func (w *fakeWriter) Count(ctx context.Context, collection string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(len(w.stored[collection])), nil
}

func (w *fakeWriter) Ping(ctx context.Context) error { return w.pingErr }
func (w *fakeWriter) Close() error                   { return nil }

func (w *fakeWriter) storedCount(collection string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.stored[collection])
}

// fakeStore is an in-memory object store.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string]int64
	order   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string]int64{}}
}

func (s *fakeStore) EnsureBucket(ctx context.Context) error { return nil }

func (s *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = int64(len(body))
	s.order = append(s.order, key)
	return nil
}

func (s *fakeStore) List(ctx context.Context, prefix string) ([]objstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []objstore.ObjectInfo
	for _, key := range s.order {
		if strings.HasPrefix(key, prefix) {
			out = append(out, objstore.ObjectInfo{Key: key, Size: s.objects[key]})
		}
	}
	return out, nil
}

func (s *fakeStore) Stat(ctx context.Context, key string) (objstore.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.objects[key]
	if !ok {
		return objstore.ObjectInfo{}, fmt.Errorf("%w: %s", objstore.ErrObjectNotFound, key)
	}
	return objstore.ObjectInfo{Key: key, Size: size}, nil
}

func (s *fakeStore) URL(key string) string { return "bucket/" + key }

// fakeImporter completes submitted jobs after a configurable number of
// polls.
type fakeImporter struct {
	mu        sync.Mutex
	jobs      map[string][]string
	polls     map[string]int
	pollsLeft int
	failWith  string
	rows      int64
}

func newFakeImporter(pollsLeft int, rows int64) *fakeImporter {
	return &fakeImporter{
		jobs:      map[string][]string{},
		polls:     map[string]int{},
		pollsLeft: pollsLeft,
		rows:      rows,
	}
}

func (f *fakeImporter) Submit(ctx context.Context, collection string, files []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("job-%d", len(f.jobs)+1)
	f.jobs[id] = files
	return id, nil
}

func (f *fakeImporter) Describe(ctx context.Context, jobID string) (bulkimport.JobStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls[jobID]++

	if f.failWith != "" {
		return bulkimport.JobStatus{JobID: jobID, State: bulkimport.StateFailed, Reason: f.failWith}, nil
	}
	if f.polls[jobID] <= f.pollsLeft {
		return bulkimport.JobStatus{JobID: jobID, State: bulkimport.StateImporting, Progress: 50}, nil
	}
	return bulkimport.JobStatus{
		JobID:        jobID,
		State:        bulkimport.StateCompleted,
		Progress:     100,
		ImportedRows: f.rows,
	}, nil
}
