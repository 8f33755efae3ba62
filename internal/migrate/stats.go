package migrate

import (
	"sync"
	"time"
)

// Stats aggregates progress across all collections of one run. All fields
// are guarded by a single mutex; workers update it concurrently.
type Stats struct {
	mu sync.Mutex

	startedAt  time.Time
	finishedAt time.Time

	collectionsTotal     int64
	collectionsCompleted int64
	collectionsFailed    int64
	collectionsSkipped   int64

	documentsExtracted int64
	documentsMigrated  int64

	batchesCompleted int64
	batchesFailed    int64

	warnings int64

	activeCollectionWorkers int
	activeBatchWorkers      int
}

// StatsSnapshot is an immutable copy of the aggregate counters.
type StatsSnapshot struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Elapsed    string    `json:"elapsed"`

	CollectionsTotal     int64 `json:"collections_total"`
	CollectionsCompleted int64 `json:"collections_completed"`
	CollectionsFailed    int64 `json:"collections_failed"`
	CollectionsSkipped   int64 `json:"collections_skipped"`

	DocumentsExtracted int64 `json:"documents_extracted"`
	DocumentsMigrated  int64 `json:"documents_migrated"`

	BatchesCompleted int64 `json:"batches_completed"`
	BatchesFailed    int64 `json:"batches_failed"`

	Warnings int64 `json:"warnings"`

	ActiveCollectionWorkers int `json:"active_collection_workers"`
	ActiveBatchWorkers      int `json:"active_batch_workers"`
}

// NewStats starts a stats aggregate for n collections.
func NewStats(n int) *Stats {
	return &Stats{startedAt: time.Now(), collectionsTotal: int64(n)}
}

// CollectionDone folds one terminal collection report into the aggregate.
func (s *Stats) CollectionDone(report CollectionReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch report.Status {
	case StatusCompleted:
		s.collectionsCompleted++
	case StatusFailed:
		s.collectionsFailed++
	case StatusSkipped:
		s.collectionsSkipped++
	}
	s.documentsExtracted += report.Extracted
	s.documentsMigrated += report.Migrated
	s.batchesFailed += report.FailedBatches
	s.warnings += int64(len(report.Warnings))
}

// BatchCompleted counts one successfully loaded batch.
func (s *Stats) BatchCompleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchesCompleted++
}

// WorkerStarted and WorkerStopped track live worker counts for progress
// reporting.
func (s *Stats) WorkerStarted(collection bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if collection {
		s.activeCollectionWorkers++
	} else {
		s.activeBatchWorkers++
	}
}

func (s *Stats) WorkerStopped(collection bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if collection {
		s.activeCollectionWorkers--
	} else {
		s.activeBatchWorkers--
	}
}

// Finish stamps the run end time.
func (s *Stats) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finishedAt = time.Now()
}

// Snapshot returns a copy of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := s.finishedAt
	elapsed := time.Since(s.startedAt)
	if !end.IsZero() {
		elapsed = end.Sub(s.startedAt)
	}

	return StatsSnapshot{
		StartedAt:  s.startedAt,
		FinishedAt: end,
		Elapsed:    elapsed.Round(time.Millisecond).String(),

		CollectionsTotal:     s.collectionsTotal,
		CollectionsCompleted: s.collectionsCompleted,
		CollectionsFailed:    s.collectionsFailed,
		CollectionsSkipped:   s.collectionsSkipped,

		DocumentsExtracted: s.documentsExtracted,
		DocumentsMigrated:  s.documentsMigrated,

		BatchesCompleted: s.batchesCompleted,
		BatchesFailed:    s.batchesFailed,

		Warnings: s.warnings,

		ActiveCollectionWorkers: s.activeCollectionWorkers,
		ActiveBatchWorkers:      s.activeBatchWorkers,
	}
}
