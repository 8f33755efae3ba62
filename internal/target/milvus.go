package target

import (
	"context"
	"fmt"
	"strconv"

	"github.com/milvus-io/milvus/client/v2/column"
	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/milvus-io/milvus/client/v2/index"
	"github.com/milvus-io/milvus/client/v2/milvusclient"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vecshift/internal/logging"
	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
)

// MilvusConfig holds connection settings for a Milvus target.
type MilvusConfig struct {
	Address  string `koanf:"address"`
	Database string `koanf:"database"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Index parameters for the vector field.
	IndexM              int `koanf:"index_m"`
	IndexEfConstruction int `koanf:"index_ef_construction"`
}

// ApplyDefaults fills in zero values.
func (c *MilvusConfig) ApplyDefaults() {
	if c.Database == "" {
		c.Database = "default"
	}
	if c.IndexM == 0 {
		c.IndexM = 64
	}
	if c.IndexEfConstruction == 0 {
		c.IndexEfConstruction = 128
	}
}

// Validate checks the configuration.
func (c *MilvusConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	return nil
}

// MilvusWriter writes migrated collections into a Milvus instance.
type MilvusWriter struct {
	client *milvusclient.Client
	cfg    MilvusConfig
	log    *logging.Logger
}

var _ Writer = (*MilvusWriter)(nil)

// NewMilvusWriter connects to Milvus using cfg.
func NewMilvusWriter(ctx context.Context, cfg MilvusConfig, log *logging.Logger) (*MilvusWriter, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid milvus config: %w", err)
	}
	if log == nil {
		log = logging.NewNop()
	}

	client, err := milvusclient.New(ctx, &milvusclient.ClientConfig{
		Address:  cfg.Address,
		DBName:   cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client for %s: %w", cfg.Address, err)
	}
	return &MilvusWriter{client: client, cfg: cfg, log: log}, nil
}

// Has reports whether a collection exists.
func (w *MilvusWriter) Has(ctx context.Context, collection string) (bool, error) {
	has, err := w.client.HasCollection(ctx, milvusclient.NewHasCollectionOption(collection))
	if err != nil {
		return false, fmt.Errorf("failed to check collection %s: %w", collection, err)
	}
	return has, nil
}

// EnsureCollection creates the collection from the derived schema with an
// HNSW index on the vector field.
func (w *MilvusWriter) EnsureCollection(ctx context.Context, target schema.TargetSchema, policy ExistingPolicy) (EnsureResult, error) {
	has, err := w.Has(ctx, target.Collection)
	if err != nil {
		return EnsureResult{}, err
	}

	if has {
		switch policy {
		case ExistingSkip:
			return EnsureResult{Skipped: true}, nil
		case ExistingFail:
			return EnsureResult{}, fmt.Errorf("%w: %s", ErrCollectionExists, target.Collection)
		case ExistingRecreate:
			if err := w.client.DropCollection(ctx, milvusclient.NewDropCollectionOption(target.Collection)); err != nil {
				return EnsureResult{}, fmt.Errorf("failed to drop collection %s: %w", target.Collection, err)
			}
			w.log.Info(ctx, "dropped existing collection", zap.String("collection", target.Collection))
		default:
			return EnsureResult{}, fmt.Errorf("unknown existing-collection policy %q", policy)
		}
	}

	milvusSchema := &entity.Schema{
		CollectionName: target.Collection,
		Description:    "migrated collection",
		AutoID:         false,
		Fields:         milvusFields(target),
	}

	createOpt := milvusclient.NewCreateCollectionOption(target.Collection, milvusSchema).
		WithIndexOptions(milvusclient.NewCreateIndexOption(
			target.Collection,
			schema.FieldVector,
			index.NewHNSWIndex(entity.COSINE, w.cfg.IndexM, w.cfg.IndexEfConstruction),
		))
	if err := w.client.CreateCollection(ctx, createOpt); err != nil {
		return EnsureResult{}, fmt.Errorf("failed to create collection %s: %w", target.Collection, err)
	}

	w.log.Info(ctx, "created collection",
		zap.String("collection", target.Collection),
		zap.Int("dim", target.Dim),
		zap.Int("fields", len(target.Fields)),
	)
	return EnsureResult{Created: true}, nil
}

// Upsert writes one batch keyed by id. Safe for concurrent use.
func (w *MilvusWriter) Upsert(ctx context.Context, target schema.TargetSchema, batch []record.Transformed) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	columns, err := buildColumns(target, batch)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrLoad, err)
	}

	result, err := w.client.Upsert(ctx, milvusclient.NewColumnBasedInsertOption(target.Collection, columns...))
	if err != nil {
		return 0, fmt.Errorf("%w: upsert into %s: %w", ErrLoad, target.Collection, err)
	}
	return result.UpsertCount, nil
}

// Flush persists buffered writes so Count sees them.
func (w *MilvusWriter) Flush(ctx context.Context, collection string) error {
	task, err := w.client.Flush(ctx, milvusclient.NewFlushOption(collection))
	if err != nil {
		return fmt.Errorf("failed to flush collection %s: %w", collection, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to await flush of %s: %w", collection, err)
	}
	return nil
}

// Load makes the collection queryable.
func (w *MilvusWriter) Load(ctx context.Context, collection string) error {
	task, err := w.client.LoadCollection(ctx, milvusclient.NewLoadCollectionOption(collection))
	if err != nil {
		return fmt.Errorf("failed to load collection %s: %w", collection, err)
	}
	if err := task.Await(ctx); err != nil {
		return fmt.Errorf("failed to await load of %s: %w", collection, err)
	}
	return nil
}

// Count returns the persisted record count via a strongly consistent
// count(*) query.
func (w *MilvusWriter) Count(ctx context.Context, collection string) (int64, error) {
	rs, err := w.client.Query(ctx, milvusclient.NewQueryOption(collection).
		WithOutputFields("count(*)").
		WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return 0, fmt.Errorf("failed to count collection %s: %w", collection, err)
	}

	col := rs.GetColumn("count(*)")
	if col == nil || col.Len() == 0 {
		return 0, fmt.Errorf("count query for %s returned no rows", collection)
	}
	count, err := col.GetAsInt64(0)
	if err != nil {
		return 0, fmt.Errorf("failed to read count for %s: %w", collection, err)
	}
	return count, nil
}

// Ping verifies the instance is reachable.
func (w *MilvusWriter) Ping(ctx context.Context) error {
	if _, err := w.client.ListCollections(ctx, milvusclient.NewListCollectionOption()); err != nil {
		return fmt.Errorf("milvus unreachable at %s: %w", w.cfg.Address, err)
	}
	return nil
}

// Close closes the underlying connection.
func (w *MilvusWriter) Close() error {
	return w.client.Close(context.Background())
}

// milvusFields converts a derived schema into Milvus field definitions.
func milvusFields(target schema.TargetSchema) []*entity.Field {
	fields := make([]*entity.Field, 0, len(target.Fields))
	for _, f := range target.Fields {
		ef := &entity.Field{
			Name:       f.Name,
			PrimaryKey: f.PrimaryKey,
			AutoID:     false,
		}
		switch f.Type {
		case schema.TypeVarChar:
			ef.DataType = entity.FieldTypeVarChar
			ef.TypeParams = map[string]string{"max_length": strconv.Itoa(f.MaxLength)}
		case schema.TypeInt64:
			ef.DataType = entity.FieldTypeInt64
		case schema.TypeDouble:
			ef.DataType = entity.FieldTypeDouble
		case schema.TypeBool:
			ef.DataType = entity.FieldTypeBool
		case schema.TypeJSON:
			ef.DataType = entity.FieldTypeJSON
		case schema.TypeFloatVector:
			ef.DataType = entity.FieldTypeFloatVector
			ef.TypeParams = map[string]string{"dim": strconv.Itoa(target.Dim)}
		}
		fields = append(fields, ef)
	}
	return fields
}

// buildColumns turns a batch of transformed records into column data matching
// the target schema.
func buildColumns(target schema.TargetSchema, batch []record.Transformed) ([]column.Column, error) {
	n := len(batch)
	ids := make([]string, n)
	texts := make([]string, n)
	vectors := make([][]float32, n)
	metadata := make([][]byte, n)

	for i, rec := range batch {
		ids[i] = rec.ID
		texts[i] = rec.Text
		vectors[i] = rec.Vector
		if len(rec.Metadata) == 0 {
			metadata[i] = []byte("{}")
		} else {
			metadata[i] = rec.Metadata
		}
	}

	columns := []column.Column{
		column.NewColumnVarChar(schema.FieldID, ids),
		column.NewColumnFloatVector(schema.FieldVector, target.Dim, vectors),
		column.NewColumnVarChar(schema.FieldText, texts),
		column.NewColumnJSONBytes(schema.FieldMetadata, metadata),
	}

	for _, f := range target.ScalarFields() {
		col, err := scalarColumn(f, batch)
		if err != nil {
			return nil, err
		}
		columns = append(columns, col)
	}
	return columns, nil
}

// scalarColumn builds one mapped-property column. Transformed records carry
// values already coerced to the field type, so a bare type assertion with a
// zero-value fallback is enough.
func scalarColumn(f schema.Field, batch []record.Transformed) (column.Column, error) {
	switch f.Type {
	case schema.TypeVarChar:
		vals := make([]string, len(batch))
		for i, rec := range batch {
			vals[i], _ = rec.Scalars[f.Name].(string)
		}
		return column.NewColumnVarChar(f.Name, vals), nil
	case schema.TypeInt64:
		vals := make([]int64, len(batch))
		for i, rec := range batch {
			vals[i], _ = rec.Scalars[f.Name].(int64)
		}
		return column.NewColumnInt64(f.Name, vals), nil
	case schema.TypeDouble:
		vals := make([]float64, len(batch))
		for i, rec := range batch {
			vals[i], _ = rec.Scalars[f.Name].(float64)
		}
		return column.NewColumnDouble(f.Name, vals), nil
	case schema.TypeBool:
		vals := make([]bool, len(batch))
		for i, rec := range batch {
			vals[i], _ = rec.Scalars[f.Name].(bool)
		}
		return column.NewColumnBool(f.Name, vals), nil
	default:
		return nil, fmt.Errorf("field %s has unsupported scalar type %s", f.Name, f.Type)
	}
}
