package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vecshift/internal/bulkimport"
	"github.com/fyrsmithlabs/vecshift/internal/config"
	"github.com/fyrsmithlabs/vecshift/internal/httpapi"
	"github.com/fyrsmithlabs/vecshift/internal/logging"
	"github.com/fyrsmithlabs/vecshift/internal/migrate"
	"github.com/fyrsmithlabs/vecshift/internal/objstore"
	"github.com/fyrsmithlabs/vecshift/internal/source"
	"github.com/fyrsmithlabs/vecshift/internal/target"
)

var (
	// Collection selection
	collections []string
	runID       string

	// Engine overrides
	mode              string
	batchSize         int
	batchWorkers      int
	collectionWorkers int
	limit             int64
	onExisting        string
	skipVerification  bool
	segmentFormat     string
	dryRun            bool
	resumeImport      bool
)

func init() {
	for _, cmd := range []*cobra.Command{migrateCmd, planCmd} {
		cmd.Flags().StringSliceVar(&collections, "collections", nil, "collections to migrate (default: all)")
		cmd.Flags().StringVar(&mode, "mode", "", "migration mode: direct or staged")
		cmd.Flags().IntVar(&batchSize, "batch-size", 0, "records per batch")
		cmd.Flags().Int64Var(&limit, "limit", 0, "cap on records extracted per collection (0 = no cap)")
		cmd.Flags().StringVar(&onExisting, "on-existing", "", "existing target collections: recreate, skip or fail")
		cmd.Flags().StringVar(&segmentFormat, "segment-format", "", "staged segment format: parquet or ndjson")
	}

	migrateCmd.Flags().IntVar(&batchWorkers, "batch-workers", 0, "concurrent batch loaders per collection")
	migrateCmd.Flags().IntVar(&collectionWorkers, "collection-workers", 0, "collections migrated in parallel")
	migrateCmd.Flags().BoolVar(&skipVerification, "skip-verification", false, "skip the post-load count check")
	migrateCmd.Flags().StringVar(&runID, "run-id", "", "run identifier override")
	migrateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan the run without writing anything")
	migrateCmd.Flags().BoolVar(&resumeImport, "resume", false, "re-submit bulk imports over segments staged by a crashed run (staged mode, requires --run-id)")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate collections from Qdrant to Milvus",
	Long: `Migrate collections from a Qdrant server into a Milvus cluster.

Examples:
  # Migrate every collection
  vecshift migrate --config vecshift.yaml

  # Migrate two collections with four parallel batch loaders
  vecshift migrate --collections articles,comments --batch-workers 4

  # Staged migration through object storage and bulk import
  vecshift migrate --mode staged --segment-format parquet

  # Finish a staged run that crashed before importing
  vecshift migrate --mode staged --resume --run-id 2f6c0c1e

  # See what would happen without writing
  vecshift migrate --dry-run`,
	RunE: runMigrate,
}

// runtime is the wired engine for one invocation.
type runtime struct {
	cfg          *config.Config
	logger       *logging.Logger
	registry     *prometheus.Registry
	orchestrator *migrate.Orchestrator
	reader       *source.QdrantReader
	writer       *target.MilvusWriter
}

func (r *runtime) close() {
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
	if r.logger != nil {
		_ = r.logger.Sync()
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := buildRuntime(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	if dryRun {
		return printPlan(ctx, rt)
	}

	var srv *httpapi.Server
	if rt.cfg.HTTP.Enabled {
		srv = httpapi.NewServer(rt.cfg.HTTP.Addr, rt.orchestrator, rt.registry, rt.logger)
		go func() {
			if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Warn(ctx, "http server stopped", zap.Error(err))
			}
		}()
		defer func() { _ = srv.Shutdown(context.Background()) }()
	}

	var report *migrate.RunReport
	if resumeImport {
		if runID == "" {
			return fmt.Errorf("--resume requires --run-id of the crashed run")
		}
		report, err = rt.orchestrator.ResumeImports(ctx)
	} else {
		report, err = rt.orchestrator.Run(ctx)
	}
	if err != nil {
		return err
	}

	printSummary(report)
	if report.Stats.CollectionsFailed > 0 {
		return fmt.Errorf("%d of %d collections failed", report.Stats.CollectionsFailed, report.Stats.CollectionsTotal)
	}
	return nil
}

// buildRuntime loads configuration, applies flag overrides and wires the
// engine. Staged mode additionally connects object storage and the bulk
// import client.
func buildRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := applyFlagOverrides(cmd, cfg); err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger}

	rt.reader, err = source.NewQdrantReader(cfg.Source)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("connect source: %w", err)
	}

	rt.writer, err = target.NewMilvusWriter(ctx, cfg.Target, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("connect target: %w", err)
	}

	opts := cfg.Migration.Options()

	deps := migrate.Deps{
		Reader: rt.reader,
		Writer: rt.writer,
		Policy: cfg.Retry.Policy(),
		Logger: logger,
	}
	deps.Policy.Classify = retryable

	if opts.Mode == migrate.ModeStaged {
		store, err := objstore.NewMinioStore(cfg.ObjectStore)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("connect object store: %w", err)
		}
		deps.Store = store

		importer, err := bulkimport.NewRESTClient(cfg.Import)
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("init import client: %w", err)
		}
		deps.Importer = importer
	}

	rt.registry = prometheus.NewRegistry()
	deps.Metrics = migrate.NewMetrics(rt.registry)

	rt.orchestrator, err = migrate.NewOrchestrator(deps, opts, migrate.OrchestratorOptions{
		Collections:       collections,
		CollectionWorkers: cfg.Migration.CollectionWorkers,
		RunID:             runID,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	return rt, nil
}

// retryable classifies errors for the shared retry policy. Extraction
// failures retry by re-reading the page from the last good cursor, and
// load failures retry the idempotent upsert; both are bounded by the
// policy's attempt count. Anything else retries only on transient
// transport status codes.
func retryable(err error) bool {
	if errors.Is(err, source.ErrExtraction) || errors.Is(err, target.ErrLoad) {
		return true
	}
	return source.IsTransient(err)
}

// applyFlagOverrides copies explicitly set flags over the loaded config.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if logLevel != "" {
		level, err := zapcore.ParseLevel(logLevel)
		if err != nil {
			return fmt.Errorf("invalid log level %q", logLevel)
		}
		cfg.Logging.Level = level
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Migration.Mode = mode
	}
	if flags.Changed("batch-size") {
		cfg.Migration.BatchSize = batchSize
	}
	if flags.Changed("batch-workers") {
		cfg.Migration.BatchWorkers = batchWorkers
	}
	if flags.Changed("collection-workers") {
		cfg.Migration.CollectionWorkers = collectionWorkers
	}
	if flags.Changed("limit") {
		cfg.Migration.Limit = limit
	}
	if flags.Changed("on-existing") {
		if onExisting == "overwrite" {
			onExisting = string(target.ExistingRecreate)
		}
		cfg.Migration.OnExisting = onExisting
	}
	if flags.Changed("segment-format") {
		cfg.Migration.SegmentFormat = segmentFormat
	}
	if skipVerification {
		cfg.Migration.SkipVerification = true
	}
	return cfg.Validate()
}

func printSummary(report *migrate.RunReport) {
	fmt.Printf("\nRun %s finished in %s\n", report.RunID, report.Stats.Elapsed)
	fmt.Printf("  Collections: %d migrated, %d skipped, %d failed (of %d)\n",
		report.Stats.CollectionsCompleted, report.Stats.CollectionsSkipped,
		report.Stats.CollectionsFailed, report.Stats.CollectionsTotal)
	fmt.Printf("  Documents:   %d extracted, %d migrated\n",
		report.Stats.DocumentsExtracted, report.Stats.DocumentsMigrated)
	fmt.Printf("  Batches:     %d completed, %d failed\n",
		report.Stats.BatchesCompleted, report.Stats.BatchesFailed)

	for _, coll := range report.Collections {
		fmt.Printf("\n  %s -> %s: %s\n", coll.Collection, coll.Target, coll.Status)
		if coll.Err != "" {
			fmt.Printf("    error: %s\n", coll.Err)
		}
		for _, warning := range coll.Warnings {
			fmt.Printf("    warning: %s\n", warning)
		}
	}
}
