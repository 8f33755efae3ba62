package schema_test

import (
	"testing"

	"github.com/fyrsmithlabs/vecshift/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() schema.SourceSchema {
	return schema.SourceSchema{
		Collection: "Docs",
		Properties: []schema.Property{
			{Name: "content", DataType: "text"},
			{Name: "page", DataType: "int"},
			{Name: "score", DataType: "number"},
			{Name: "published", DataType: "boolean"},
		},
	}
}

func TestMap_ReservedFieldsAlwaysPresent(t *testing.T) {
	target, _, err := schema.Map(sampleSchema(), 128)
	require.NoError(t, err)

	for _, name := range []string{schema.FieldID, schema.FieldVector, schema.FieldText, schema.FieldMetadata} {
		assert.NotNil(t, target.Field(name), "reserved field %s missing", name)
	}
	assert.Equal(t, 128, target.Dim)
	assert.True(t, target.Field(schema.FieldID).PrimaryKey)
	assert.Equal(t, schema.TypeJSON, target.Field(schema.FieldMetadata).Type)
}

func TestMap_TypeTable(t *testing.T) {
	tests := []struct {
		name     string
		dataType string
		want     schema.FieldType
	}{
		{name: "text", dataType: "text", want: schema.TypeVarChar},
		{name: "string", dataType: "string", want: schema.TypeVarChar},
		{name: "int", dataType: "int", want: schema.TypeInt64},
		{name: "integer uppercase", dataType: "Integer", want: schema.TypeInt64},
		{name: "number", dataType: "number", want: schema.TypeDouble},
		{name: "float", dataType: "float", want: schema.TypeDouble},
		{name: "boolean", dataType: "boolean", want: schema.TypeBool},
		{name: "unrecognized falls back to varchar", dataType: "geoCoordinates", want: schema.TypeVarChar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := schema.SourceSchema{
				Collection: "c",
				Properties: []schema.Property{{Name: "p", DataType: tt.dataType}},
			}
			target, warnings, err := schema.Map(src, 4)
			require.NoError(t, err)
			assert.Equal(t, tt.want, target.Field("p").Type)
			if tt.dataType == "geoCoordinates" {
				assert.NotEmpty(t, warnings)
			}
		})
	}
}

func TestMap_UniqueFieldNames(t *testing.T) {
	src := schema.SourceSchema{
		Collection: "c",
		Properties: []schema.Property{
			{Name: "my-field", DataType: "text"},
			{Name: "my_field", DataType: "text"}, // sanitizes to the same name
			{Name: "my.field", DataType: "int"},  // and again
		},
	}
	target, warnings, err := schema.Map(src, 4)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, f := range target.Fields {
		assert.False(t, seen[f.Name], "duplicate field name %q", f.Name)
		seen[f.Name] = true
	}
	assert.NotEmpty(t, warnings)
}

func TestMap_ReservedNameCollision(t *testing.T) {
	src := schema.SourceSchema{
		Collection: "c",
		Properties: []schema.Property{
			{Name: "id", DataType: "text"},
			{Name: "metadata", DataType: "text"},
		},
	}
	target, _, err := schema.Map(src, 4)
	require.NoError(t, err)

	// Source properties must not shadow reserved fields.
	assert.True(t, target.Field("id").PrimaryKey)
	assert.Equal(t, schema.TypeJSON, target.Field("metadata").Type)
	assert.NotNil(t, target.Field("id_2"))
	assert.NotNil(t, target.Field("metadata_2"))
}

func TestMap_Idempotent(t *testing.T) {
	first, _, err := schema.Map(sampleSchema(), 128)
	require.NoError(t, err)
	second, _, err := schema.Map(sampleSchema(), 128)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestMap_EmptySchemaFails(t *testing.T) {
	_, _, err := schema.Map(schema.SourceSchema{Collection: "empty"}, 128)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrSchema)
}

func TestMap_UnknownDimensionFails(t *testing.T) {
	_, _, err := schema.Map(sampleSchema(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, schema.ErrSchema)
}

func TestSanitizeFieldName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"with-dash", "with_dash"},
		{"with space", "with_space"},
		{"dotted.name", "dotted_name"},
		{"1starts_with_digit", "field_1starts_with_digit"},
		{"", "unknown_field"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, schema.SanitizeFieldName(tt.in), "input %q", tt.in)
	}
}

func TestSafeCollectionName(t *testing.T) {
	assert.Equal(t, "Vector_index_abc123_Node", schema.SafeCollectionName("Vector_index_abc123_Node"))
	assert.Equal(t, "my_collection", schema.SafeCollectionName("my collection"))
	assert.Equal(t, "collection_3nodes", schema.SafeCollectionName("3nodes"))
	assert.Equal(t, "unknown_collection", schema.SafeCollectionName(""))
}
