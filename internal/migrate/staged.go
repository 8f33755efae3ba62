package migrate

import (
	"context"
	"fmt"
	"path"

	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecshift/internal/bulkimport"
	"github.com/fyrsmithlabs/vecshift/internal/logging"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
	"github.com/fyrsmithlabs/vecshift/internal/segment"
	"github.com/fyrsmithlabs/vecshift/internal/source"
	"github.com/fyrsmithlabs/vecshift/internal/target"
)

// runStaged uploads every segment of the collection before submitting one
// bulk import job over all of them. Import strictly follows staging; a
// failure in either phase fails the collection.
func (m *Migrator) runStaged(ctx context.Context, state *CollectionState, prep *prepared) error {
	if err := state.Transition(StatusBackingUp); err != nil {
		return err
	}

	name := state.Snapshot().Collection

	if err := m.deps.Store.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("%w: %w", bulkimport.ErrImportJob, err)
	}

	writer, err := segment.NewWriter(m.deps.Store, prep.target, segment.Options{
		Prefix:          m.opts.SegmentPrefix,
		RunID:           m.runID,
		Collection:      prep.target.Collection,
		Format:          m.opts.SegmentFormat,
		MaxSegmentBytes: m.opts.MaxSegmentBytes,
	})
	if err != nil {
		return err
	}

	extractor := source.NewExtractor(m.deps.Reader, m.extractionPolicy(), m.deps.Logger)
	stream, err := extractor.Stream(name, source.StreamOptions{
		PageSize: m.opts.BatchSize,
		Limit:    m.opts.Limit,
	})
	if err != nil {
		return err
	}

	// The segment writer owns an exclusive buffer, so staging runs on the
	// extraction goroutine; transform cost dominates and stays here too.
	for {
		batch, ok, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		state.AddExtracted(int64(batch.Len()))

		transformed := m.transformBatch(ctx, state, prep, batch)
		if len(transformed) == 0 {
			continue
		}
		if err := writer.Append(ctx, transformed); err != nil {
			return err
		}
	}

	segments, err := writer.Close(ctx)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return fmt.Errorf("%w: no segments staged for %s", bulkimport.ErrImportJob, name)
	}

	files := make([]string, len(segments))
	for i, seg := range segments {
		state.AddSegment(seg.Key)
		files[i] = m.deps.Store.URL(seg.Key)
	}

	if err := state.Transition(StatusBackedUp); err != nil {
		return err
	}
	m.deps.Logger.Info(ctx, "staging complete",
		zap.Int("segments", len(segments)),
		zap.Int64("extracted", state.Snapshot().Extracted),
	)

	return m.importSegments(ctx, state, prep.target.Collection, files)
}

// importSegments submits one bulk import job over the staged files and
// waits for it to finish.
func (m *Migrator) importSegments(ctx context.Context, state *CollectionState, collection string, files []string) error {
	if err := state.Transition(StatusImporting); err != nil {
		return err
	}

	jobID, err := m.deps.Importer.Submit(ctx, collection, files)
	if err != nil {
		return err
	}
	state.SetImportJob(jobID)
	m.deps.Logger.Info(ctx, "import job submitted", zap.String("job_id", jobID))

	poller := bulkimport.NewPoller(m.deps.Importer, m.opts.PollInterval, m.deps.Logger)
	status, err := poller.Wait(ctx, jobID)
	if err != nil {
		return err
	}

	state.AddMigrated(status.ImportedRows)
	if err := m.deps.Writer.Load(ctx, collection); err != nil {
		state.AddWarnings(fmt.Sprintf("loading collection after import: %v", err))
	}

	m.deps.Logger.Info(ctx, "import job completed",
		zap.String("job_id", jobID),
		zap.Int64("imported_rows", status.ImportedRows),
	)
	return nil
}

// ResumeImport finishes a staged collection whose earlier run crashed after
// BackedUp: the uploaded segments are rediscovered under the run's staging
// prefix and a fresh import job is submitted over them. The target
// collection is left exactly as the crashed run created it.
func (m *Migrator) ResumeImport(ctx context.Context, state *CollectionState, stats *Stats) CollectionReport {
	ctx = logging.ContextWithCollection(ctx, state.Snapshot().Collection)
	log := m.deps.Logger
	name := state.Snapshot().Collection

	ctx, span := tracer.Start(ctx, "Migrator.ResumeImport")
	defer span.End()
	span.SetAttributes(attribute.String("collection", name))

	finish := func() CollectionReport {
		final := state.Snapshot()
		stats.CollectionDone(final)
		m.deps.Metrics.recordCollectionDone(final.Status)
		if final.Status == StatusFailed {
			span.SetStatus(otelcodes.Error, final.Err)
		} else {
			span.SetStatus(otelcodes.Ok, string(final.Status))
		}
		return final
	}
	fail := func(err error) CollectionReport {
		log.Error(ctx, "resume failed", zap.Error(err))
		span.RecordError(err)
		state.Fail(err)
		return finish()
	}

	if m.opts.Mode != ModeStaged {
		return fail(fmt.Errorf("resume requires staged mode, got %q", m.opts.Mode))
	}

	prep, err := m.prepareResume(ctx, state, name)
	if err != nil {
		return fail(err)
	}

	if err := state.Transition(StatusBackingUp); err != nil {
		return fail(err)
	}

	prefix := path.Join(m.opts.SegmentPrefix, m.runID, prep.target.Collection)
	objects, err := m.deps.Store.List(ctx, prefix)
	if err != nil {
		return fail(fmt.Errorf("%w: listing staged segments under %s: %w", bulkimport.ErrImportJob, prefix, err))
	}
	if len(objects) == 0 {
		return fail(fmt.Errorf("%w: no staged segments under %s", bulkimport.ErrImportJob, prefix))
	}

	files := make([]string, len(objects))
	for i, obj := range objects {
		state.AddSegment(obj.Key)
		files[i] = m.deps.Store.URL(obj.Key)
	}
	if err := state.Transition(StatusBackedUp); err != nil {
		return fail(err)
	}
	log.Info(ctx, "recovered staged segments", zap.Int("segments", len(files)))

	if err := m.importSegments(ctx, state, prep.target.Collection, files); err != nil {
		return fail(err)
	}

	if err := m.verify(ctx, state, prep); err != nil {
		return fail(err)
	}
	if err := state.Transition(StatusCompleted); err != nil {
		return fail(err)
	}

	final := state.Snapshot()
	log.Info(ctx, "import resumed and completed",
		zap.String("target", final.Target),
		zap.String("job_id", final.ImportJobID),
		zap.Int64("migrated", final.Migrated),
	)
	return finish()
}

// prepareResume maps the schema like a fresh run but requires the target
// collection to already exist instead of creating it.
func (m *Migrator) prepareResume(ctx context.Context, state *CollectionState, name string) (*prepared, error) {
	if err := state.Transition(StatusMappingSchema); err != nil {
		return nil, err
	}

	count, err := m.deps.Reader.Count(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("%w: counting %s: %w", source.ErrExtraction, name, err)
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

	exists, err := m.deps.Writer.Has(ctx, mapped.Collection)
	if err != nil {
		return nil, fmt.Errorf("%w: checking %s: %w", target.ErrLoad, mapped.Collection, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: target collection %s does not exist, rerun the staged migration", target.ErrLoad, mapped.Collection)
	}

	return &prepared{target: mapped, sourceCount: count}, nil
}
