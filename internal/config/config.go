// Package config provides configuration loading for vecshift.
package config

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/vecshift/internal/bulkimport"
	"github.com/fyrsmithlabs/vecshift/internal/logging"
	"github.com/fyrsmithlabs/vecshift/internal/migrate"
	"github.com/fyrsmithlabs/vecshift/internal/objstore"
	"github.com/fyrsmithlabs/vecshift/internal/retry"
	"github.com/fyrsmithlabs/vecshift/internal/segment"
	"github.com/fyrsmithlabs/vecshift/internal/source"
	"github.com/fyrsmithlabs/vecshift/internal/target"
)

// Config is the root configuration.
type Config struct {
	Source      source.QdrantConfig  `koanf:"source"`
	Target      target.MilvusConfig  `koanf:"target"`
	ObjectStore objstore.MinioConfig `koanf:"object_store"`
	Import      bulkimport.Config    `koanf:"import"`
	Migration   MigrationConfig      `koanf:"migration"`
	Retry       RetryConfig          `koanf:"retry"`
	Logging     logging.Config       `koanf:"logging"`
	HTTP        HTTPConfig           `koanf:"http"`
}

// MigrationConfig tunes the engine.
type MigrationConfig struct {
	Mode              string  `koanf:"mode"`
	BatchSize         int     `koanf:"batch_size"`
	BatchWorkers      int     `koanf:"batch_workers"`
	CollectionWorkers int     `koanf:"collection_workers"`
	Limit             int64   `koanf:"limit"`
	OnExisting        string  `koanf:"on_existing"`
	SkipVerification  bool    `koanf:"skip_verification"`
	TextField         string  `koanf:"text_field"`
	MaxTextLength     int     `koanf:"max_text_length"`
	RecordsPerSecond  float64 `koanf:"records_per_second"`

	SegmentFormat   string        `koanf:"segment_format"`
	SegmentPrefix   string        `koanf:"segment_prefix"`
	MaxSegmentBytes int64         `koanf:"max_segment_bytes"`
	PollInterval    time.Duration `koanf:"poll_interval"`
}

// RetryConfig tunes the shared retry policy.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BaseDelay   time.Duration `koanf:"base_delay"`
	Multiplier  float64       `koanf:"multiplier"`
	MaxDelay    time.Duration `koanf:"max_delay"`
	Jitter      float64       `koanf:"jitter"`
}

// HTTPConfig controls the progress and metrics server.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled"`
	Addr    string `koanf:"addr"`
}

// Options converts the migration section to engine options.
func (c MigrationConfig) Options() migrate.Options {
	opts := migrate.Options{
		Mode:             migrate.Mode(c.Mode),
		BatchSize:        c.BatchSize,
		BatchWorkers:     c.BatchWorkers,
		Limit:            c.Limit,
		OnExisting:       target.ExistingPolicy(c.OnExisting),
		SkipVerification: c.SkipVerification,
		TextField:        c.TextField,
		MaxTextLength:    c.MaxTextLength,
		RecordsPerSecond: c.RecordsPerSecond,
		SegmentFormat:    segment.Format(c.SegmentFormat),
		SegmentPrefix:    c.SegmentPrefix,
		MaxSegmentBytes:  c.MaxSegmentBytes,
		PollInterval:     c.PollInterval,
	}
	opts.ApplyDefaults()
	return opts
}

// Policy converts the retry section to a retry policy.
func (c RetryConfig) Policy() retry.Policy {
	policy := retry.DefaultPolicy()
	if c.MaxAttempts > 0 {
		policy.MaxAttempts = c.MaxAttempts
	}
	if c.BaseDelay > 0 {
		policy.BaseDelay = c.BaseDelay
	}
	if c.Multiplier > 0 {
		policy.Multiplier = c.Multiplier
	}
	if c.MaxDelay > 0 {
		policy.MaxDelay = c.MaxDelay
	}
	if c.Jitter > 0 {
		policy.Jitter = c.Jitter
	}
	return policy
}

// applyDefaults fills in defaults for missing values.
func applyDefaults(cfg *Config) {
	cfg.Source.ApplyDefaults()
	cfg.Target.ApplyDefaults()
	cfg.Import.ApplyDefaults()

	if cfg.Migration.Mode == "" {
		cfg.Migration.Mode = string(migrate.ModeDirect)
	}
	switch cfg.Migration.OnExisting {
	case "":
		cfg.Migration.OnExisting = string(target.ExistingRecreate)
	case "overwrite":
		// Accepted spelling for drop-and-recreate.
		cfg.Migration.OnExisting = string(target.ExistingRecreate)
	}

	if cfg.Logging.Format == "" {
		def := logging.NewDefaultConfig()
		cfg.Logging.Format = def.Format
		cfg.Logging.Caller = def.Caller
		if cfg.Logging.Fields == nil {
			cfg.Logging.Fields = def.Fields
		}
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
}

// Validate checks cross-section consistency. Per-client configs are
// validated again by their constructors.
func (c *Config) Validate() error {
	mode := migrate.Mode(c.Migration.Mode)
	if !mode.Valid() {
		return fmt.Errorf("migration.mode must be direct or staged, got %q", c.Migration.Mode)
	}
	if !target.ExistingPolicy(c.Migration.OnExisting).Valid() {
		return fmt.Errorf("migration.on_existing must be recreate, skip or fail, got %q", c.Migration.OnExisting)
	}
	if mode == migrate.ModeStaged {
		if err := c.ObjectStore.Validate(); err != nil {
			return fmt.Errorf("object_store: %w", err)
		}
		if err := c.Import.Validate(); err != nil {
			return fmt.Errorf("import: %w", err)
		}
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}
