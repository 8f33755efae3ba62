package migrate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestrator_RunAllCollections(t *testing.T) {
	reader := newFakeReader(4, map[string]int{
		"articles": 120,
		"notes":    80,
		"empty":    0,
	})
	writer := newFakeWriter()

	o, err := NewOrchestrator(testDeps(reader, writer), Options{
		Mode:         ModeDirect,
		BatchSize:    50,
		BatchWorkers: 2,
	}, OrchestratorOptions{CollectionWorkers: 2})
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	require.Len(t, report.Collections, 3)

	byName := map[string]CollectionReport{}
	for _, c := range report.Collections {
		byName[c.Collection] = c
	}
	assert.Equal(t, StatusCompleted, byName["articles"].Status)
	assert.Equal(t, StatusCompleted, byName["notes"].Status)
	assert.Equal(t, StatusSkipped, byName["empty"].Status)

	assert.Equal(t, int64(3), report.Stats.CollectionsTotal)
	assert.Equal(t, int64(2), report.Stats.CollectionsCompleted)
	assert.Equal(t, int64(1), report.Stats.CollectionsSkipped)
	assert.Equal(t, int64(200), report.Stats.DocumentsMigrated)
	assert.False(t, report.Stats.FinishedAt.IsZero())
	assert.Equal(t, 0, report.Stats.ActiveCollectionWorkers)
}

func TestOrchestrator_SubsetAndSequential(t *testing.T) {
	reader := newFakeReader(4, map[string]int{"a": 10, "b": 10, "c": 10})
	writer := newFakeWriter()

	o, err := NewOrchestrator(testDeps(reader, writer), Options{
		Mode:      ModeDirect,
		BatchSize: 5,
	}, OrchestratorOptions{Collections: []string{"a", "c"}})
	require.NoError(t, err)

	report, err := o.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Collections, 2)
	assert.Equal(t, "a", report.Collections[0].Collection)
	assert.Equal(t, "c", report.Collections[1].Collection)
	assert.Equal(t, int64(20), report.Stats.DocumentsMigrated)
}

func TestOrchestrator_UnreachableSourceAborts(t *testing.T) {
	reader := newFakeReader(4, map[string]int{"docs": 10})
	reader.pingErr = errors.New("dial tcp: connection refused")
	writer := newFakeWriter()

	o, err := NewOrchestrator(testDeps(reader, writer), Options{Mode: ModeDirect}, OrchestratorOptions{})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
	assert.Equal(t, 0, writer.ensures)
}

func TestOrchestrator_UnreachableTargetAborts(t *testing.T) {
	reader := newFakeReader(4, map[string]int{"docs": 10})
	writer := newFakeWriter()
	writer.pingErr = errors.New("milvus unreachable")

	o, err := NewOrchestrator(testDeps(reader, writer), Options{Mode: ModeDirect}, OrchestratorOptions{})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	reader := newFakeReader(4, map[string]int{"docs": 1000})
	writer := newFakeWriter()

	o, err := NewOrchestrator(testDeps(reader, writer), Options{
		Mode:      ModeDirect,
		BatchSize: 50,
	}, OrchestratorOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := o.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
}

func TestOrchestrator_Plan(t *testing.T) {
	reader := newFakeReader(8, map[string]int{"articles": 1001, "empty": 0})
	writer := newFakeWriter()
	writer.existing["articles"] = true

	o, err := NewOrchestrator(testDeps(reader, writer), Options{
		Mode:      ModeDirect,
		BatchSize: 100,
	}, OrchestratorOptions{})
	require.NoError(t, err)

	plan, err := o.Plan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.Collections, 2)
	byName := map[string]CollectionPlan{}
	for _, c := range plan.Collections {
		byName[c.Collection] = c
	}

	articles := byName["articles"]
	assert.Equal(t, "articles", articles.Target)
	assert.Equal(t, int64(1001), articles.Records)
	assert.Equal(t, int64(11), articles.Batches)
	assert.Equal(t, 8, articles.Dim)
	assert.True(t, articles.TargetExists)
	assert.Equal(t, "recreate and migrate", articles.Action)
	assert.Contains(t, articles.Fields, "id:varchar")
	assert.Contains(t, articles.Fields, "vector:float_vector")

	assert.Equal(t, "skip: empty", byName["empty"].Action)

	// Planning writes nothing.
	assert.Equal(t, 0, writer.ensures)
	assert.Equal(t, 0, writer.upserts)
	assert.Equal(t, int64(1001), plan.TotalRecords)
}

func TestOrchestrator_ResumeImports(t *testing.T) {
	deps, writer, store, importer := stagedResumeDeps(t, 200)
	require.NoError(t, store.Put(context.Background(),
		"staging/run-7/docs/segment-00000.parquet", strings.NewReader("x"), 1, "application/octet-stream"))

	o, err := NewOrchestrator(deps, Options{
		Mode:         ModeStaged,
		PollInterval: time.Millisecond,
	}, OrchestratorOptions{RunID: "run-7", Collections: []string{"docs"}})
	require.NoError(t, err)

	report, err := o.ResumeImports(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Collections, 1)
	assert.Equal(t, StatusCompleted, report.Collections[0].Status)
	assert.Equal(t, "job-1", report.Collections[0].ImportJobID)
	assert.Len(t, importer.jobs["job-1"], 1)
	assert.Equal(t, 0, writer.upserts)
}

func TestOrchestrator_ResumeRequiresStagedMode(t *testing.T) {
	reader := newFakeReader(4, map[string]int{"docs": 10})
	writer := newFakeWriter()

	o, err := NewOrchestrator(testDeps(reader, writer), Options{Mode: ModeDirect}, OrchestratorOptions{})
	require.NoError(t, err)

	_, err = o.ResumeImports(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staged mode")
}

func TestOrchestrator_PlanWithZeroOptions(t *testing.T) {
	reader := newFakeReader(4, map[string]int{"docs": 1000})
	writer := newFakeWriter()

	o, err := NewOrchestrator(testDeps(reader, writer), Options{}, OrchestratorOptions{})
	require.NoError(t, err)

	plan, err := o.Plan(context.Background())
	require.NoError(t, err)

	require.Len(t, plan.Collections, 1)
	// Batch estimates use the defaulted batch size.
	assert.Equal(t, int64(1000), plan.Collections[0].Records)
	assert.Equal(t, int64(4), plan.Collections[0].Batches)
}

func TestOrchestrator_ProgressSnapshot(t *testing.T) {
	reader := newFakeReader(4, map[string]int{"docs": 50})
	writer := newFakeWriter()

	o, err := NewOrchestrator(testDeps(reader, writer), Options{
		Mode:      ModeDirect,
		BatchSize: 25,
	}, OrchestratorOptions{})
	require.NoError(t, err)

	// Before Run: empty but well-formed.
	progress := o.Progress()
	assert.Equal(t, o.RunID(), progress.RunID)
	assert.Empty(t, progress.Collections)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	progress = o.Progress()
	require.Len(t, progress.Collections, 1)
	assert.Equal(t, StatusCompleted, progress.Collections[0].Status)
}
