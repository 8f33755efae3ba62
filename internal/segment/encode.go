package segment

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/parquet-go/parquet-go"

	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
)

// rowMap flattens one transformed record into the column values of the
// target schema.
func rowMap(target schema.TargetSchema, rec record.Transformed) map[string]any {
	row := map[string]any{
		schema.FieldID:     rec.ID,
		schema.FieldVector: rec.Vector,
		schema.FieldText:   rec.Text,
	}
	if len(rec.Metadata) == 0 {
		row[schema.FieldMetadata] = json.RawMessage("{}")
	} else {
		row[schema.FieldMetadata] = json.RawMessage(rec.Metadata)
	}
	for _, f := range target.ScalarFields() {
		if v, ok := rec.Scalars[f.Name]; ok {
			row[f.Name] = v
			continue
		}
		row[f.Name] = zeroScalar(f.Type)
	}
	return row
}

func zeroScalar(t schema.FieldType) any {
	switch t {
	case schema.TypeInt64:
		return int64(0)
	case schema.TypeDouble:
		return float64(0)
	case schema.TypeBool:
		return false
	default:
		return ""
	}
}

// ndjsonEncoder writes one JSON object per line.
type ndjsonEncoder struct{}

func (ndjsonEncoder) extension() string   { return "ndjson" }
func (ndjsonEncoder) contentType() string { return "application/x-ndjson" }

func (ndjsonEncoder) encode(target schema.TargetSchema, recs []record.Transformed) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range recs {
		line, err := sonic.Marshal(rowMap(target, rec))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// parquetEncoder writes a columnar segment with a schema derived from the
// target schema.
type parquetEncoder struct{}

func (parquetEncoder) extension() string   { return "parquet" }
func (parquetEncoder) contentType() string { return "application/octet-stream" }

func (parquetEncoder) encode(target schema.TargetSchema, recs []record.Transformed) ([]byte, error) {
	ps, err := parquetSchema(target)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[map[string]any](&buf, ps,
		parquet.Compression(&parquet.Zstd))

	rows := make([]map[string]any, len(recs))
	for i, rec := range recs {
		row := rowMap(target, rec)
		// Parquet JSON columns take string values.
		row[schema.FieldMetadata] = string(rec.Metadata)
		if len(rec.Metadata) == 0 {
			row[schema.FieldMetadata] = "{}"
		}
		rows[i] = row
	}

	if _, err := writer.Write(rows); err != nil {
		return nil, fmt.Errorf("failed to write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// parquetSchema builds the parquet schema matching the target collection.
func parquetSchema(target schema.TargetSchema) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, f := range target.Fields {
		switch f.Type {
		case schema.TypeVarChar:
			group[f.Name] = parquet.String()
		case schema.TypeInt64:
			group[f.Name] = parquet.Int(64)
		case schema.TypeDouble:
			group[f.Name] = parquet.Leaf(parquet.DoubleType)
		case schema.TypeBool:
			group[f.Name] = parquet.Leaf(parquet.BooleanType)
		case schema.TypeJSON:
			group[f.Name] = parquet.String()
		case schema.TypeFloatVector:
			group[f.Name] = parquet.Repeated(parquet.Leaf(parquet.FloatType))
		default:
			return nil, fmt.Errorf("field %s has unsupported type %s", f.Name, f.Type)
		}
	}
	return parquet.NewSchema(target.Collection, group), nil
}
