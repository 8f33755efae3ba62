package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vecshift/internal/migrate"
	"github.com/fyrsmithlabs/vecshift/internal/segment"
	"github.com/fyrsmithlabs/vecshift/internal/target"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Source.Host)
	assert.Equal(t, 6334, cfg.Source.Port)
	assert.Equal(t, "default", cfg.Target.Database)
	assert.Equal(t, string(migrate.ModeDirect), cfg.Migration.Mode)
	assert.Equal(t, string(target.ExistingRecreate), cfg.Migration.OnExisting)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := writeConfig(t, `
source:
  host: qdrant.internal
  port: 7334
target:
  address: milvus.internal:19530
  database: prod
migration:
  mode: staged
  batch_size: 500
  collection_workers: 3
  segment_format: ndjson
  poll_interval: 5s
object_store:
  endpoint: minio.internal:9000
  bucket: vecshift-staging
import:
  base_url: https://milvus.internal:19530
retry:
  max_attempts: 6
  base_delay: 2s
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "qdrant.internal", cfg.Source.Host)
	assert.Equal(t, 7334, cfg.Source.Port)
	assert.Equal(t, "milvus.internal:19530", cfg.Target.Address)
	assert.Equal(t, "prod", cfg.Target.Database)
	assert.Equal(t, "vecshift-staging", cfg.ObjectStore.Bucket)
	assert.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)

	opts := cfg.Migration.Options()
	assert.Equal(t, migrate.ModeStaged, opts.Mode)
	assert.Equal(t, 500, opts.BatchSize)
	assert.Equal(t, segment.FormatNDJSON, opts.SegmentFormat)
	assert.Equal(t, 5*time.Second, opts.PollInterval)

	policy := cfg.Retry.Policy()
	assert.Equal(t, 6, policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, policy.BaseDelay)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
source:
  host: from-file
migration:
  batch_size: 100
`)

	t.Setenv("VECSHIFT_SOURCE_HOST", "from-env")
	t.Setenv("VECSHIFT_MIGRATION_BATCH_SIZE", "250")
	t.Setenv("VECSHIFT_OBJECT_STORE_BUCKET", "env-bucket")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Source.Host)
	assert.Equal(t, 250, cfg.Migration.BatchSize)
	assert.Equal(t, "env-bucket", cfg.ObjectStore.Bucket)
}

func TestLoad_InvalidMode(t *testing.T) {
	path := writeConfig(t, `
migration:
  mode: sideways
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration.mode")
}

func TestLoad_StagedRequiresObjectStore(t *testing.T) {
	path := writeConfig(t, `
migration:
  mode: staged
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "object_store")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	require.Error(t, err)
}
