// Package schema derives a target collection schema from a source
// collection's property list.
package schema

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrSchema indicates the source schema cannot be mapped. It is fatal for
// the collection it belongs to; other collections continue.
var ErrSchema = errors.New("schema mapping failed")

// FieldType is the target store's primitive type for a mapped field.
type FieldType string

const (
	TypeVarChar     FieldType = "varchar"
	TypeInt64       FieldType = "int64"
	TypeDouble      FieldType = "double"
	TypeBool        FieldType = "bool"
	TypeJSON        FieldType = "json"
	TypeFloatVector FieldType = "float_vector"
)

// Reserved field names present in every target schema.
const (
	FieldID       = "id"
	FieldVector   = "vector"
	FieldText     = "text"
	FieldMetadata = "metadata"
)

// MaxVarCharLength is the target store's limit for variable-length strings.
const MaxVarCharLength = 65535

// Property is one entry of a source collection's schema.
type Property struct {
	// Name is the source property name, unmodified.
	Name string

	// DataType is the source's declared type (e.g. "text", "int", "number").
	DataType string

	// Nullable reports whether the source allows null values.
	Nullable bool
}

// SourceSchema is the ordered property list of a source collection.
// Immutable once read.
type SourceSchema struct {
	Collection string
	Properties []Property
}

// Field is one column of the derived target schema.
type Field struct {
	// Name is the sanitized target field name. Unique within a schema.
	Name string

	// SourceName is the property the field was derived from. Empty for
	// reserved fields.
	SourceName string

	Type FieldType

	// MaxLength applies to varchar fields only.
	MaxLength int

	PrimaryKey bool
}

// TargetSchema is the derived schema for a target collection. It always
// contains the reserved id, vector, text and metadata fields; the metadata
// field holds the full original property map as a single JSON blob.
type TargetSchema struct {
	Collection string
	Dim        int
	Fields     []Field
}

// Field returns the field with the given name, or nil.
func (s *TargetSchema) Field(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}

// ScalarFields returns the mapped per-property fields, excluding the
// reserved ones.
func (s *TargetSchema) ScalarFields() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.SourceName != "" {
			out = append(out, f)
		}
	}
	return out
}

// typeTable maps source declared types to target primitives. Unrecognized
// types fall back to varchar with a warning.
var typeTable = map[string]FieldType{
	"text":    TypeVarChar,
	"string":  TypeVarChar,
	"int":     TypeInt64,
	"integer": TypeInt64,
	"long":    TypeInt64,
	"number":  TypeDouble,
	"float":   TypeDouble,
	"double":  TypeDouble,
	"boolean": TypeBool,
	"bool":    TypeBool,
}

// Map derives a target schema from a source schema and the vector dimension
// determined from a sample record. It is deterministic: mapping the same
// schema twice yields the same target schema.
//
// Returned warnings cover unrecognized types and renamed fields. Returns
// ErrSchema if the source schema has no properties or dim is not positive.
func Map(src SourceSchema, dim int) (TargetSchema, []string, error) {
	if len(src.Properties) == 0 {
		return TargetSchema{}, nil, fmt.Errorf("%w: collection %q has no properties", ErrSchema, src.Collection)
	}
	if dim <= 0 {
		return TargetSchema{}, nil, fmt.Errorf("%w: collection %q vector dimension could not be determined", ErrSchema, src.Collection)
	}

	target := TargetSchema{
		Collection: SafeCollectionName(src.Collection),
		Dim:        dim,
		Fields: []Field{
			{Name: FieldID, Type: TypeVarChar, MaxLength: 512, PrimaryKey: true},
			{Name: FieldVector, Type: TypeFloatVector},
			{Name: FieldText, Type: TypeVarChar, MaxLength: MaxVarCharLength},
			{Name: FieldMetadata, Type: TypeJSON},
		},
	}

	var warnings []string
	seen := map[string]bool{
		FieldID:       true,
		FieldVector:   true,
		FieldText:     true,
		FieldMetadata: true,
	}

	for _, prop := range src.Properties {
		ft, ok := typeTable[strings.ToLower(prop.DataType)]
		if !ok {
			ft = TypeVarChar
			warnings = append(warnings, fmt.Sprintf("property %q has unrecognized type %q, mapped to varchar", prop.Name, prop.DataType))
		}

		name := SanitizeFieldName(prop.Name)
		if name != prop.Name {
			warnings = append(warnings, fmt.Sprintf("property %q renamed to %q", prop.Name, name))
		}

		// Later properties that collide get a disambiguating index.
		if seen[name] {
			for i := 2; ; i++ {
				candidate := fmt.Sprintf("%s_%d", name, i)
				if !seen[candidate] {
					warnings = append(warnings, fmt.Sprintf("property %q collides with %q, renamed to %q", prop.Name, name, candidate))
					name = candidate
					break
				}
			}
		}
		seen[name] = true

		f := Field{Name: name, SourceName: prop.Name, Type: ft}
		if ft == TypeVarChar {
			f.MaxLength = MaxVarCharLength
		}
		target.Fields = append(target.Fields, f)
	}

	return target, warnings, nil
}

var invalidFieldChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// SanitizeFieldName rewrites a source property name into a valid target
// field name: invalid characters replaced with underscores, leading digit
// prefixed, length capped at 64.
func SanitizeFieldName(name string) string {
	s := invalidFieldChars.ReplaceAllString(name, "_")
	if s != "" && !isLetterOrUnderscore(rune(s[0])) {
		s = "field_" + s
	}
	if len(s) > 64 {
		s = s[:64]
	}
	if s == "" {
		return "unknown_field"
	}
	return s
}

var invalidCollectionChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SafeCollectionName rewrites a source collection name into one the target
// store accepts. Valid names pass through unchanged.
func SafeCollectionName(name string) string {
	s := invalidCollectionChars.ReplaceAllString(name, "_")
	if s != "" && !isLetterOrUnderscore(rune(s[0])) {
		s = "collection_" + s
	}
	if len(s) > 255 {
		s = s[:255]
	}
	if s == "" {
		return "unknown_collection"
	}
	return s
}

func isLetterOrUnderscore(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
