package source

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
)

// QdrantConfig holds connection settings for a Qdrant source.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	APIKey string `koanf:"api_key"`
	UseTLS bool   `koanf:"use_tls"`

	// SampleSize is how many records to inspect when inferring a
	// collection's property schema.
	SampleSize int `koanf:"sample_size"`
}

// ApplyDefaults fills in zero values.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.SampleSize == 0 {
		c.SampleSize = 32
	}
}

// Validate checks the configuration.
func (c *QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// QdrantReader reads collections from a Qdrant instance over gRPC.
type QdrantReader struct {
	client *qdrant.Client
	cfg    QdrantConfig
}

var _ Reader = (*QdrantReader)(nil)

// NewQdrantReader connects to Qdrant using cfg.
func NewQdrantReader(cfg QdrantConfig) (*QdrantReader, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid qdrant config: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &QdrantReader{client: client, cfg: cfg}, nil
}

// ListCollections returns all collection names.
func (r *QdrantReader) ListCollections(ctx context.Context) ([]string, error) {
	names, err := r.client.ListCollections(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return names, nil
}

// Count returns the number of points in a collection.
func (r *QdrantReader) Count(ctx context.Context, collection string) (int64, error) {
	info, err := r.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info for %s: %w", collection, err)
	}
	return int64(info.GetPointsCount()), nil
}

// SampleDimension returns the configured dense vector size, falling back to
// the first sampled vector when the collection config does not declare one.
func (r *QdrantReader) SampleDimension(ctx context.Context, collection string) (int, error) {
	info, err := r.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("failed to get collection info for %s: %w", collection, err)
	}
	if size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize(); size > 0 {
		return int(size), nil
	}

	points, _, err := r.scroll(ctx, collection, nil, 1)
	if err != nil {
		return 0, err
	}
	for _, point := range points {
		if vec := pointVector(point); len(vec) > 0 {
			return len(vec), nil
		}
	}
	return 0, nil
}

// Schema infers the property schema of a collection by sampling payloads.
// Qdrant has no declared payload schema, so types come from observed values;
// a property seen with conflicting types degrades to text.
func (r *QdrantReader) Schema(ctx context.Context, collection string) (schema.SourceSchema, error) {
	points, _, err := r.scroll(ctx, collection, nil, uint32(r.cfg.SampleSize))
	if err != nil {
		return schema.SourceSchema{}, err
	}

	types := map[string]string{}
	var order []string
	for _, point := range points {
		for key, value := range point.GetPayload() {
			dt := payloadDataType(value)
			prev, seen := types[key]
			if !seen {
				types[key] = dt
				order = append(order, key)
				continue
			}
			if prev != dt {
				types[key] = "text"
			}
		}
	}

	// Sample order is not stable across runs; sort for determinism.
	sort.Strings(order)

	src := schema.SourceSchema{Collection: collection}
	for _, key := range order {
		src.Properties = append(src.Properties, schema.Property{Name: key, DataType: types[key]})
	}
	return src, nil
}

// Read returns one page of points after cursor.
func (r *QdrantReader) Read(ctx context.Context, collection string, cursor Cursor, pageSize int) (Page, Cursor, error) {
	if !cursor.IsZero() && cursor.Collection != collection {
		return Page{}, Cursor{}, fmt.Errorf("%w: cursor issued for %q, used on %q",
			ErrCursorMismatch, cursor.Collection, collection)
	}

	offset, err := decodeOffset(cursor)
	if err != nil {
		return Page{}, Cursor{}, err
	}

	points, nextOffset, err := r.scroll(ctx, collection, offset, uint32(pageSize))
	if err != nil {
		return Page{}, Cursor{}, err
	}

	page := Page{Records: make([]record.Record, 0, len(points))}
	for _, point := range points {
		rec, err := convertPoint(point)
		if err != nil {
			return Page{}, Cursor{}, fmt.Errorf("collection %s: %w", collection, err)
		}
		page.Records = append(page.Records, rec)
	}

	return page, encodeOffset(collection, nextOffset), nil
}

// Ping verifies the instance is reachable.
func (r *QdrantReader) Ping(ctx context.Context) error {
	if _, err := r.client.ListCollections(ctx); err != nil {
		return fmt.Errorf("qdrant unreachable at %s:%d: %w", r.cfg.Host, r.cfg.Port, err)
	}
	return nil
}

// Close closes the underlying gRPC connection.
func (r *QdrantReader) Close() error {
	return r.client.Close()
}

// IsTransient reports whether an error is a transient gRPC failure worth
// retrying.
func IsTransient(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Aborted, codes.ResourceExhausted:
		return true
	default:
		return false
	}
}

func (r *QdrantReader) scroll(ctx context.Context, collection string, offset *qdrant.PointId, limit uint32) ([]*qdrant.RetrievedPoint, *qdrant.PointId, error) {
	points, nextOffset, err := r.client.ScrollAndOffset(ctx, &qdrant.ScrollPoints{
		CollectionName: collection,
		Offset:         offset,
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
		}
		return nil, nil, fmt.Errorf("failed to scroll points in %s: %w", collection, err)
	}
	return points, nextOffset, nil
}

func convertPoint(point *qdrant.RetrievedPoint) (record.Record, error) {
	rec := record.Record{Properties: map[string]any{}}

	switch pid := point.GetId().GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		rec.ID = pid.Uuid
	case *qdrant.PointId_Num:
		rec.ID = strconv.FormatUint(pid.Num, 10)
	default:
		return record.Record{}, fmt.Errorf("point has no id")
	}

	rec.Vector = pointVector(point)

	for key, value := range point.GetPayload() {
		rec.Properties[key] = payloadValue(value)
	}
	return rec, nil
}

func pointVector(point *qdrant.RetrievedPoint) []float32 {
	if vectors := point.GetVectors(); vectors != nil {
		if v := vectors.GetVector(); v != nil {
			return v.GetData()
		}
	}
	return nil
}

// payloadValue converts a Qdrant payload value into its Go equivalent,
// recursing into lists and nested objects.
func payloadValue(v *qdrant.Value) any {
	switch val := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_ListValue:
		items := val.ListValue.GetValues()
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, payloadValue(item))
		}
		return out
	case *qdrant.Value_StructValue:
		fields := val.StructValue.GetFields()
		out := make(map[string]any, len(fields))
		for k, item := range fields {
			out[k] = payloadValue(item)
		}
		return out
	default:
		return nil
	}
}

func payloadDataType(v *qdrant.Value) string {
	switch v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return "text"
	case *qdrant.Value_IntegerValue:
		return "int"
	case *qdrant.Value_DoubleValue:
		return "number"
	case *qdrant.Value_BoolValue:
		return "boolean"
	default:
		return "object"
	}
}

// Cursor tokens carry the typed Qdrant offset so resumed runs rebuild the
// exact point id.
const (
	tokenUUIDPrefix = "uuid:"
	tokenNumPrefix  = "num:"
)

func encodeOffset(collection string, offset *qdrant.PointId) Cursor {
	if offset == nil {
		return Cursor{}
	}
	switch pid := offset.GetPointIdOptions().(type) {
	case *qdrant.PointId_Uuid:
		return Cursor{Collection: collection, Token: tokenUUIDPrefix + pid.Uuid}
	case *qdrant.PointId_Num:
		return Cursor{Collection: collection, Token: tokenNumPrefix + strconv.FormatUint(pid.Num, 10)}
	default:
		return Cursor{}
	}
}

func decodeOffset(cursor Cursor) (*qdrant.PointId, error) {
	if cursor.IsZero() {
		return nil, nil
	}
	switch {
	case strings.HasPrefix(cursor.Token, tokenUUIDPrefix):
		return &qdrant.PointId{
			PointIdOptions: &qdrant.PointId_Uuid{Uuid: strings.TrimPrefix(cursor.Token, tokenUUIDPrefix)},
		}, nil
	case strings.HasPrefix(cursor.Token, tokenNumPrefix):
		num, err := strconv.ParseUint(strings.TrimPrefix(cursor.Token, tokenNumPrefix), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor token %q", ErrExtraction, cursor.Token)
		}
		return &qdrant.PointId{PointIdOptions: &qdrant.PointId_Num{Num: num}}, nil
	default:
		return nil, fmt.Errorf("%w: malformed cursor token %q", ErrExtraction, cursor.Token)
	}
}
