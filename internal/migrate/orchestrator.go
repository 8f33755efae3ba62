package migrate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecshift/internal/logging"
)

// RunReport is the outcome of one migration run.
type RunReport struct {
	RunID       string             `json:"run_id"`
	Stats       StatsSnapshot      `json:"stats"`
	Collections []CollectionReport `json:"collections"`
}

// Orchestrator fans a run out over collection workers.
type Orchestrator struct {
	deps    Deps
	opts    Options
	runID   string
	workers int

	// Collections restricts the run; empty means every source collection.
	collections []string

	mu     sync.RWMutex
	stats  *Stats
	states map[string]*CollectionState
}

// OrchestratorOptions configure the run scope.
type OrchestratorOptions struct {
	// Collections restricts the run to the named source collections.
	// Empty migrates everything the source lists.
	Collections []string

	// CollectionWorkers migrates that many collections in parallel.
	// 1 means sequential.
	CollectionWorkers int

	// RunID overrides the generated run identifier.
	RunID string
}

// NewOrchestrator builds an orchestrator for one run.
func NewOrchestrator(deps Deps, opts Options, oopts OrchestratorOptions) (*Orchestrator, error) {
	if oopts.CollectionWorkers <= 0 {
		oopts.CollectionWorkers = 1
	}
	runID := oopts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	// Defaults must land on the stored options too; Plan reads them
	// directly for batch estimates.
	opts.ApplyDefaults()

	// Construct the migrator up front so option errors surface before Run.
	if _, err := NewMigrator(deps, opts, runID); err != nil {
		return nil, err
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}

	return &Orchestrator{
		deps:        deps,
		opts:        opts,
		runID:       runID,
		workers:     oopts.CollectionWorkers,
		collections: oopts.Collections,
		states:      map[string]*CollectionState{},
	}, nil
}

// RunID returns the run identifier.
func (o *Orchestrator) RunID() string { return o.runID }

// Run migrates the selected collections and returns the aggregate report.
// Both stores must answer a ping before any collection is touched.
func (o *Orchestrator) Run(ctx context.Context) (*RunReport, error) {
	return o.run(ctx, false)
}

// ResumeImports finishes staged collections whose segments were uploaded
// by an earlier run that crashed before importing. The orchestrator must
// carry the crashed run's RunID so the staged segments are found; nothing
// is re-extracted.
func (o *Orchestrator) ResumeImports(ctx context.Context) (*RunReport, error) {
	if o.opts.Mode != ModeStaged {
		return nil, fmt.Errorf("resume requires staged mode, got %q", o.opts.Mode)
	}
	return o.run(ctx, true)
}

func (o *Orchestrator) run(ctx context.Context, resume bool) (*RunReport, error) {
	ctx = logging.ContextWithRunID(ctx, o.runID)
	log := o.deps.Logger

	if err := o.ping(ctx); err != nil {
		return nil, err
	}

	names, err := o.resolveCollections(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		log.Warn(ctx, "no collections to migrate")
		return &RunReport{RunID: o.runID, Stats: NewStats(0).Snapshot()}, nil
	}

	migrator, err := NewMigrator(o.deps, o.opts, o.runID)
	if err != nil {
		return nil, err
	}

	stats := NewStats(len(names))
	o.mu.Lock()
	o.stats = stats
	for _, name := range names {
		o.states[name] = NewCollectionState(name)
	}
	o.mu.Unlock()

	log.Info(ctx, "migration run starting",
		zap.Int("collections", len(names)),
		zap.String("mode", string(o.opts.Mode)),
		zap.Bool("resume", resume),
		zap.Int("collection_workers", o.workers),
		zap.Int("batch_workers", o.opts.BatchWorkers),
	)

	queue := make(chan string)
	gauge := o.deps.Metrics
	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.WorkerStarted(true)
			if gauge != nil {
				gauge.workerGauge("collection").Inc()
				defer gauge.workerGauge("collection").Dec()
			}
			defer stats.WorkerStopped(true)

			for name := range queue {
				o.mu.RLock()
				state := o.states[name]
				o.mu.RUnlock()
				if resume {
					migrator.ResumeImport(ctx, state, stats)
				} else {
					migrator.MigrateCollection(ctx, state, stats)
				}
			}
		}()
	}

	for _, name := range names {
		select {
		case queue <- name:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(queue)
	wg.Wait()
	stats.Finish()

	report := o.report()
	o.logSummary(ctx, report)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// Progress returns the live run state for the HTTP progress endpoint.
func (o *Orchestrator) Progress() *RunReport {
	return o.report()
}

func (o *Orchestrator) ping(ctx context.Context) error {
	if err := o.deps.Reader.Ping(ctx); err != nil {
		return fmt.Errorf("%w: source: %w", ErrConnection, err)
	}
	if err := o.deps.Writer.Ping(ctx); err != nil {
		return fmt.Errorf("%w: target: %w", ErrConnection, err)
	}
	return nil
}

func (o *Orchestrator) resolveCollections(ctx context.Context) ([]string, error) {
	if len(o.collections) > 0 {
		return o.collections, nil
	}
	names, err := o.deps.Reader.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing collections: %w", ErrConnection, err)
	}
	sort.Strings(names)
	return names, nil
}

func (o *Orchestrator) report() *RunReport {
	o.mu.RLock()
	defer o.mu.RUnlock()

	report := &RunReport{RunID: o.runID}
	if o.stats != nil {
		report.Stats = o.stats.Snapshot()
	}
	names := make([]string, 0, len(o.states))
	for name := range o.states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		report.Collections = append(report.Collections, o.states[name].Snapshot())
	}
	return report
}

func (o *Orchestrator) logSummary(ctx context.Context, report *RunReport) {
	s := report.Stats
	o.deps.Logger.Info(ctx, "migration run finished",
		zap.String("elapsed", s.Elapsed),
		zap.Int64("collections_completed", s.CollectionsCompleted),
		zap.Int64("collections_failed", s.CollectionsFailed),
		zap.Int64("collections_skipped", s.CollectionsSkipped),
		zap.Int64("documents_extracted", s.DocumentsExtracted),
		zap.Int64("documents_migrated", s.DocumentsMigrated),
		zap.Int64("batches_failed", s.BatchesFailed),
		zap.Int64("warnings", s.Warnings),
	)

	for _, c := range report.Collections {
		if c.Status == StatusFailed {
			o.deps.Logger.Error(ctx, "collection failed",
				zap.String("collection", c.Collection),
				zap.String("error", c.Err),
			)
		}
	}
}
