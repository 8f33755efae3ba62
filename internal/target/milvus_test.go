package target

import (
	"testing"

	"github.com/milvus-io/milvus/client/v2/entity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/vecshift/internal/record"
	"github.com/fyrsmithlabs/vecshift/internal/schema"
)

func testSchema() schema.TargetSchema {
	target, _, err := schema.Map(schema.SourceSchema{
		Collection: "articles",
		Properties: []schema.Property{
			{Name: "title", DataType: "text"},
			{Name: "views", DataType: "int"},
			{Name: "score", DataType: "number"},
			{Name: "published", DataType: "boolean"},
		},
	}, 4)
	if err != nil {
		panic(err)
	}
	return target
}

func TestMilvusFields(t *testing.T) {
	fields := milvusFields(testSchema())
	require.Len(t, fields, 8)

	byName := map[string]*entity.Field{}
	for _, f := range fields {
		byName[f.Name] = f
	}

	id := byName["id"]
	require.NotNil(t, id)
	assert.True(t, id.PrimaryKey)
	assert.False(t, id.AutoID)
	assert.Equal(t, entity.FieldTypeVarChar, id.DataType)
	assert.Equal(t, "512", id.TypeParams["max_length"])

	vector := byName["vector"]
	require.NotNil(t, vector)
	assert.Equal(t, entity.FieldTypeFloatVector, vector.DataType)
	assert.Equal(t, "4", vector.TypeParams["dim"])

	assert.Equal(t, entity.FieldTypeJSON, byName["metadata"].DataType)
	assert.Equal(t, entity.FieldTypeVarChar, byName["text"].DataType)
	assert.Equal(t, entity.FieldTypeVarChar, byName["title"].DataType)
	assert.Equal(t, entity.FieldTypeInt64, byName["views"].DataType)
	assert.Equal(t, entity.FieldTypeDouble, byName["score"].DataType)
	assert.Equal(t, entity.FieldTypeBool, byName["published"].DataType)
}

func TestBuildColumns(t *testing.T) {
	target := testSchema()
	batch := []record.Transformed{
		{
			ID:       "a",
			Vector:   []float32{1, 2, 3, 4},
			Text:     "first",
			Metadata: []byte(`{"title":"first"}`),
			Scalars: map[string]any{
				"title":     "first",
				"views":     int64(10),
				"score":     0.5,
				"published": true,
			},
		},
		{
			ID:     "b",
			Vector: []float32{5, 6, 7, 8},
			Text:   "second",
			// Metadata intentionally empty; scalar "views" missing.
			Scalars: map[string]any{
				"title":     "second",
				"score":     1.5,
				"published": false,
			},
		},
	}

	columns, err := buildColumns(target, batch)
	require.NoError(t, err)
	require.Len(t, columns, 8)

	for _, col := range columns {
		assert.Equal(t, 2, col.Len(), "column %s", col.Name())
	}

	names := make([]string, len(columns))
	for i, col := range columns {
		names[i] = col.Name()
	}
	assert.Equal(t, []string{"id", "vector", "text", "metadata", "title", "views", "score", "published"}, names)

	// Missing metadata becomes an empty JSON object, missing scalars the
	// type's zero value.
	views, err := columns[5].GetAsInt64(1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), views)
}

func TestExistingPolicyValid(t *testing.T) {
	assert.True(t, ExistingRecreate.Valid())
	assert.True(t, ExistingSkip.Valid())
	assert.True(t, ExistingFail.Valid())
	assert.False(t, ExistingPolicy("drop").Valid())
}
