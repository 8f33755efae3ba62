package migrate

import (
	"fmt"
	"sync"
	"time"
)

// Status is the lifecycle state of one collection migration.
type Status string

const (
	StatusPending       Status = "pending"
	StatusMappingSchema Status = "mapping_schema"
	StatusMigrating     Status = "migrating"
	StatusBackingUp     Status = "backing_up"
	StatusBackedUp      Status = "backed_up"
	StatusImporting     Status = "importing"
	StatusVerifying     Status = "verifying"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusSkipped       Status = "skipped"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusSkipped
}

// validTransitions is the collection state machine. Any state may move to
// failed or skipped; forward moves are listed explicitly.
var validTransitions = map[Status][]Status{
	StatusPending:       {StatusMappingSchema},
	StatusMappingSchema: {StatusMigrating, StatusBackingUp},
	StatusMigrating:     {StatusVerifying},
	StatusBackingUp:     {StatusBackedUp},
	StatusBackedUp:      {StatusImporting},
	StatusImporting:     {StatusVerifying},
	StatusVerifying:     {StatusCompleted},
}

func transitionAllowed(from, to Status) bool {
	if to == StatusFailed || to == StatusSkipped {
		return !from.Terminal()
	}
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CollectionReport is an immutable snapshot of one collection's progress.
type CollectionReport struct {
	Collection string
	Target     string
	Status     Status
	Err        string

	SourceCount   int64
	TargetCount   int64
	Extracted     int64
	Migrated      int64
	FailedBatches int64
	Warnings      []string

	// Segments lists the staged object keys, staged mode only.
	Segments    []string
	ImportJobID string

	StartedAt  time.Time
	FinishedAt time.Time
}

// CollectionState tracks one collection migration. One worker goroutine
// writes; progress reporting reads snapshots concurrently.
type CollectionState struct {
	mu     sync.RWMutex
	report CollectionReport
}

// NewCollectionState starts a collection in the pending state.
func NewCollectionState(collection string) *CollectionState {
	return &CollectionState{report: CollectionReport{
		Collection: collection,
		Status:     StatusPending,
	}}
}

// Transition moves the collection to a new status. Invalid moves are a
// programming error and panic in tests via the returned error.
func (s *CollectionState) Transition(to Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	from := s.report.Status
	if !transitionAllowed(from, to) {
		return fmt.Errorf("invalid status transition %s -> %s for collection %s", from, to, s.report.Collection)
	}
	if from == StatusPending {
		s.report.StartedAt = time.Now()
	}
	s.report.Status = to
	if to.Terminal() {
		s.report.FinishedAt = time.Now()
	}
	return nil
}

// Fail marks the collection failed with err.
func (s *CollectionState) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report.Status.Terminal() {
		return
	}
	s.report.Status = StatusFailed
	s.report.Err = err.Error()
	s.report.FinishedAt = time.Now()
}

// Skip marks the collection skipped with a reason.
func (s *CollectionState) Skip(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report.Status.Terminal() {
		return
	}
	s.report.Status = StatusSkipped
	s.report.Err = reason
	s.report.FinishedAt = time.Now()
}

// SetTarget records the derived target collection name.
func (s *CollectionState) SetTarget(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Target = name
}

// SetCounts records source and target record counts.
func (s *CollectionState) SetCounts(source, target int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.SourceCount = source
	s.report.TargetCount = target
}

// AddExtracted adds to the extracted record counter.
func (s *CollectionState) AddExtracted(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Extracted += n
}

// AddMigrated adds to the migrated record counter.
func (s *CollectionState) AddMigrated(n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Migrated += n
}

// BatchFailed counts one permanently failed batch.
func (s *CollectionState) BatchFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.FailedBatches++
}

// AddWarnings appends warning messages.
func (s *CollectionState) AddWarnings(warnings ...string) {
	if len(warnings) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Warnings = append(s.report.Warnings, warnings...)
}

// AddSegment records one staged segment key.
func (s *CollectionState) AddSegment(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.Segments = append(s.report.Segments, key)
}

// SetImportJob records the bulk import job id.
func (s *CollectionState) SetImportJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report.ImportJobID = id
}

// Snapshot returns a copy of the current report.
func (s *CollectionState) Snapshot() CollectionReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report := s.report
	report.Warnings = append([]string(nil), s.report.Warnings...)
	report.Segments = append([]string(nil), s.report.Segments...)
	return report
}

// Status returns the current status.
func (s *CollectionState) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report.Status
}
