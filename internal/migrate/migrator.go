// Package migrate drives collection migrations from a source vector store
// into a target store, either by direct upserts or by staging segments in
// object storage and bulk importing them.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/vecshift/internal/bulkimport"
	"github.com/fyrsmithlabs/vecshift/internal/logging"
	"github.com/fyrsmithlabs/vecshift/internal/objstore"
	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/retry"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
	"github.com/fyrsmithlabs/vecshift/internal/segment"
	"github.com/fyrsmithlabs/vecshift/internal/source"
	"github.com/fyrsmithlabs/vecshift/internal/target"
)

// ErrConnection indicates a store was unreachable at run start. It aborts
// the whole run before any collection is touched.
var ErrConnection = errors.New("connection failed")

var tracer = otel.Tracer("vecshift.migrate")

// Mode selects the loading path.
type Mode string

const (
	// ModeDirect upserts batches straight into the target.
	ModeDirect Mode = "direct"

	// ModeStaged stages all segments in object storage first, then bulk
	// imports them. Strictly two-phase: no import starts before every
	// segment of the collection is uploaded.
	ModeStaged Mode = "staged"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeDirect || m == ModeStaged }

// Options tune one migration run.
type Options struct {
	Mode Mode

	// BatchSize is the records per extraction page and per upsert.
	BatchSize int

	// BatchWorkers is how many batches are transformed and loaded in
	// parallel per collection.
	BatchWorkers int

	// Limit caps records per collection. Zero means all.
	Limit int64

	// OnExisting controls handling of pre-existing target collections.
	OnExisting target.ExistingPolicy

	// SkipVerification disables the post-load count comparison.
	SkipVerification bool

	// TextField names the source property to use as text content. Empty
	// enables inference.
	TextField string

	// MaxTextLength truncates extracted text. Zero means the varchar cap.
	MaxTextLength int

	// RecordsPerSecond throttles direct-mode upserts. Zero disables.
	RecordsPerSecond float64

	// Staged mode settings.
	SegmentFormat   segment.Format
	SegmentPrefix   string
	MaxSegmentBytes int64
	PollInterval    time.Duration
}

// ApplyDefaults fills in zero values.
func (o *Options) ApplyDefaults() {
	if o.Mode == "" {
		o.Mode = ModeDirect
	}
	if o.BatchSize == 0 {
		o.BatchSize = 250
	}
	if o.BatchWorkers == 0 {
		o.BatchWorkers = 4
	}
	if o.OnExisting == "" {
		o.OnExisting = target.ExistingRecreate
	}
	if o.MaxTextLength == 0 {
		o.MaxTextLength = schema.MaxVarCharLength
	}
	if o.SegmentFormat == "" {
		o.SegmentFormat = segment.FormatParquet
	}
	if o.SegmentPrefix == "" {
		o.SegmentPrefix = "staging"
	}
	if o.MaxSegmentBytes == 0 {
		o.MaxSegmentBytes = segment.DefaultMaxSegmentBytes
	}
	if o.PollInterval == 0 {
		o.PollInterval = bulkimport.DefaultPollInterval
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if !o.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", o.Mode)
	}
	if o.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive, got %d", o.BatchSize)
	}
	if o.BatchWorkers <= 0 {
		return fmt.Errorf("batch workers must be positive, got %d", o.BatchWorkers)
	}
	if !o.OnExisting.Valid() {
		return fmt.Errorf("unknown on-existing policy %q", o.OnExisting)
	}
	if o.Mode == ModeStaged && !o.SegmentFormat.Valid() {
		return fmt.Errorf("unknown segment format %q", o.SegmentFormat)
	}
	return nil
}

// Deps are the capabilities a Migrator drives. Store and Importer are only
// required in staged mode.
type Deps struct {
	Reader   source.Reader
	Writer   target.Writer
	Store    objstore.Store
	Importer bulkimport.Client
	Policy   retry.Policy
	Metrics  *Metrics
	Logger   *logging.Logger
}

// Migrator migrates single collections end to end.
type Migrator struct {
	deps    Deps
	opts    Options
	limiter *rate.Limiter
	runID   string
}

// NewMigrator builds a migrator for one run.
func NewMigrator(deps Deps, opts Options, runID string) (*Migrator, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid migration options: %w", err)
	}
	if deps.Reader == nil || deps.Writer == nil {
		return nil, fmt.Errorf("reader and writer are required")
	}
	if opts.Mode == ModeStaged && (deps.Store == nil || deps.Importer == nil) {
		return nil, fmt.Errorf("staged mode requires an object store and an import client")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = NewMetrics(nil)
	}

	var limiter *rate.Limiter
	if opts.RecordsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RecordsPerSecond), opts.BatchSize)
	}
	return &Migrator{deps: deps, opts: opts, limiter: limiter, runID: runID}, nil
}

// MigrateCollection runs one collection through the state machine and folds
// the terminal report into stats.
func (m *Migrator) MigrateCollection(ctx context.Context, state *CollectionState, stats *Stats) CollectionReport {
	ctx = logging.ContextWithCollection(ctx, state.Snapshot().Collection)
	log := m.deps.Logger

	report := state.Snapshot()
	name := report.Collection

	ctx, span := tracer.Start(ctx, "Migrator.MigrateCollection")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.String("mode", string(m.opts.Mode)),
	)

	finish := func() CollectionReport {
		final := state.Snapshot()
		stats.CollectionDone(final)
		m.deps.Metrics.recordCollectionDone(final.Status)
		span.SetAttributes(attribute.String("status", string(final.Status)))
		if final.Status == StatusFailed {
			span.SetStatus(otelcodes.Error, final.Err)
		} else {
			span.SetStatus(otelcodes.Ok, string(final.Status))
		}
		return final
	}

	prep, err := m.prepare(ctx, state, name)
	if err != nil {
		log.Error(ctx, "collection preparation failed", zap.Error(err))
		span.RecordError(err)
		state.Fail(err)
		return finish()
	}
	if prep == nil {
		// Skipped during preparation.
		return finish()
	}

	switch m.opts.Mode {
	case ModeDirect:
		err = m.runDirect(ctx, state, stats, prep)
	case ModeStaged:
		err = m.runStaged(ctx, state, prep)
	}
	if err != nil {
		log.Error(ctx, "collection migration failed", zap.Error(err))
		span.RecordError(err)
		state.Fail(err)
		return finish()
	}

	if err := m.verify(ctx, state, prep); err != nil {
		state.Fail(err)
		return finish()
	}

	if err := state.Transition(StatusCompleted); err != nil {
		state.Fail(err)
		return finish()
	}

	final := state.Snapshot()
	log.Info(ctx, "collection migrated",
		zap.String("target", final.Target),
		zap.Int64("extracted", final.Extracted),
		zap.Int64("migrated", final.Migrated),
		zap.Int64("failed_batches", final.FailedBatches),
		zap.Int("warnings", len(final.Warnings)),
	)
	return finish()
}

// prepared carries everything the loading phase needs.
type prepared struct {
	target      schema.TargetSchema
	transformer *record.Transformer
	sourceCount int64
}

// prepare maps the schema and ensures the target collection. A nil result
// without error means the collection was skipped.
func (m *Migrator) prepare(ctx context.Context, state *CollectionState, name string) (*prepared, error) {
	if err := state.Transition(StatusMappingSchema); err != nil {
		return nil, err
	}

	count, err := m.deps.Reader.Count(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: counting %s: %w", source.ErrExtraction, name, err)
	}
	if count == 0 {
		m.deps.Logger.Warn(ctx, "source collection is empty, skipping")
		state.Skip("source collection is empty")
		return nil, nil
	}
	state.SetCounts(count, 0)

	src, err := m.deps.Reader.Schema(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: reading schema of %s: %w", schema.ErrSchema, name, err)
	}
	dim, err := m.deps.Reader.SampleDimension(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: sampling dimension of %s: %w", schema.ErrSchema, name, err)
	}

	mapped, warnings, err := schema.Map(src, dim)
	if err != nil {
		return nil, err
	}
	state.SetTarget(mapped.Collection)
	state.AddWarnings(warnings...)

	result, err := m.deps.Writer.EnsureCollection(ctx, mapped, m.opts.OnExisting)
	if err != nil {
		return nil, fmt.Errorf("%w: ensuring %s: %w", target.ErrLoad, mapped.Collection, err)
	}
	if result.Skipped {
		m.deps.Logger.Info(ctx, "target collection exists, skipping",
			zap.String("target", mapped.Collection))
		state.Skip("target collection already exists")
		return nil, nil
	}

	transformer := record.NewTransformer(mapped, m.opts.TextField, m.opts.MaxTextLength)
	return &prepared{target: mapped, transformer: transformer, sourceCount: count}, nil
}

// runDirect extracts, transforms and upserts with a bounded worker pool.
// One producer owns the cursor; BatchWorkers consumers load batches. A batch
// that fails permanently is counted and the collection continues.
func (m *Migrator) runDirect(ctx context.Context, state *CollectionState, stats *Stats, prep *prepared) error {
	if err := state.Transition(StatusMigrating); err != nil {
		return err
	}

	extractor := source.NewExtractor(m.deps.Reader, m.extractionPolicy(), m.deps.Logger)
	stream, err := extractor.Stream(state.Snapshot().Collection, source.StreamOptions{
		PageSize: m.opts.BatchSize,
		Limit:    m.opts.Limit,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches := make(chan record.Batch, m.opts.BatchWorkers)
	errs := make(chan error, m.opts.BatchWorkers+1)
	gauge := m.deps.Metrics.workerGauge("batch")

	var wg sync.WaitGroup
	for i := 0; i < m.opts.BatchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats.WorkerStarted(false)
			gauge.Inc()
			defer stats.WorkerStopped(false)
			defer gauge.Dec()

			for batch := range batches {
				if err := m.loadBatch(ctx, state, stats, prep, batch); err != nil {
					errs <- err
					cancel()
					return
				}
			}
		}()
	}

	// Producer: the stream is not safe for concurrent use, so only this
	// goroutine advances the cursor.
	var produceErr error
	for {
		batch, ok, err := stream.Next(ctx)
		if err != nil {
			produceErr = err
			break
		}
		if !ok {
			break
		}
		state.AddExtracted(int64(batch.Len()))

		select {
		case batches <- batch:
		case <-ctx.Done():
			produceErr = ctx.Err()
		}
		if produceErr != nil {
			break
		}
	}
	close(batches)
	wg.Wait()
	close(errs)

	if produceErr != nil && !errors.Is(produceErr, context.Canceled) {
		return produceErr
	}
	for err := range errs {
		return err
	}
	if produceErr != nil {
		return produceErr
	}

	name := prep.target.Collection
	if err := m.deps.Writer.Flush(ctx, name); err != nil {
		return fmt.Errorf("%w: %w", target.ErrLoad, err)
	}
	if err := m.deps.Writer.Load(ctx, name); err != nil {
		return fmt.Errorf("%w: %w", target.ErrLoad, err)
	}
	return nil
}

// loadBatch transforms and upserts one batch. Only a permanently failing
// upsert returns a nil error with the batch counted as failed; fatal errors
// (cancellation) propagate.
func (m *Migrator) loadBatch(ctx context.Context, state *CollectionState, stats *Stats, prep *prepared, batch record.Batch) error {
	start := time.Now()
	name := prep.target.Collection

	ctx, span := tracer.Start(ctx, "Migrator.LoadBatch")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", name),
		attribute.Int("seq", batch.Seq),
		attribute.Int("records", batch.Len()),
	)

	transformed := m.transformBatch(ctx, state, prep, batch)
	if len(transformed) == 0 {
		return nil
	}

	if m.limiter != nil {
		if err := m.limiter.WaitN(ctx, len(transformed)); err != nil {
			return err
		}
	}

	op := fmt.Sprintf("upsert batch %d into %s", batch.Seq, name)
	err := m.loadPolicy().Do(ctx, op, func(ctx context.Context) error {
		_, err := m.deps.Writer.Upsert(ctx, prep.target, transformed)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Permanent batch failure: record it and move on.
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, err.Error())
		m.deps.Logger.Error(ctx, "batch failed permanently",
			zap.Int("seq", batch.Seq),
			zap.Int("records", batch.Len()),
			zap.Error(err),
		)
		state.BatchFailed()
		state.AddWarnings(fmt.Sprintf("batch %d failed permanently: %v", batch.Seq, err))
		m.deps.Metrics.recordBatchFailure(name)
		return nil
	}

	state.AddMigrated(int64(len(transformed)))
	stats.BatchCompleted()
	m.deps.Metrics.recordBatch(name, len(transformed), time.Since(start))
	return nil
}

// transformBatch converts records, dropping ones that fail with a warning.
func (m *Migrator) transformBatch(ctx context.Context, state *CollectionState, prep *prepared, batch record.Batch) []record.Transformed {
	out := make([]record.Transformed, 0, batch.Len())
	for _, rec := range batch.Records {
		transformed, warnings, err := prep.transformer.Transform(rec)
		if err != nil {
			m.deps.Logger.Warn(ctx, "record dropped",
				zap.String("record_id", rec.ID),
				zap.Error(err),
			)
			state.AddWarnings(fmt.Sprintf("record %s dropped: %v", rec.ID, err))
			continue
		}
		state.AddWarnings(warnings...)
		out = append(out, transformed)
	}
	return out
}

func (m *Migrator) extractionPolicy() retry.Policy {
	policy := m.deps.Policy
	if policy.MaxAttempts == 0 {
		policy = retry.DefaultPolicy()
	}
	return policy
}

func (m *Migrator) loadPolicy() retry.Policy {
	return m.extractionPolicy()
}

// verify compares source and target counts. A mismatch is a warning, never
// a failure; the numbers are logged either way.
func (m *Migrator) verify(ctx context.Context, state *CollectionState, prep *prepared) error {
	if err := state.Transition(StatusVerifying); err != nil {
		return err
	}

	report := state.Snapshot()
	if m.opts.SkipVerification {
		m.deps.Logger.Info(ctx, "verification skipped")
		return nil
	}

	targetCount, err := m.deps.Writer.Count(ctx, prep.target.Collection)
	if err != nil {
		// Verification must not fail a migrated collection.
		state.AddWarnings(fmt.Sprintf("verification count failed: %v", err))
		m.deps.Logger.Warn(ctx, "verification count failed", zap.Error(err))
		return nil
	}
	state.SetCounts(prep.sourceCount, targetCount)

	expected := prep.sourceCount
	if m.opts.Limit > 0 && m.opts.Limit < expected {
		expected = m.opts.Limit
	}

	if targetCount != expected {
		msg := fmt.Sprintf("count mismatch: source has %d records, target has %d", expected, targetCount)
		state.AddWarnings(msg)
		m.deps.Logger.Warn(ctx, "verification mismatch",
			zap.Int64("source_count", expected),
			zap.Int64("target_count", targetCount),
			zap.Int64("failed_batches", report.FailedBatches),
		)
		return nil
	}

	m.deps.Logger.Info(ctx, "verification passed",
		zap.Int64("count", targetCount))
	return nil
}
