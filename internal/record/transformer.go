package record

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/fyrsmithlabs/vecshift/internal/schema"
)

// ErrTransform indicates a record could not be transformed at all (missing
// or wrong-dimension vector). Field-level coercion failures are downgraded
// to warnings instead.
var ErrTransform = errors.New("record transform failed")

// wellKnownTextFields are tried in order when no primary text field hint is
// configured.
var wellKnownTextFields = []string{"content", "text", "title", "description", "body", "summary"}

// minInferredTextLen is the minimum length for a string property to be
// picked as the primary text field by inference.
const minInferredTextLen = 10

// Transformer converts source records into the target record shape.
// It is pure: the same input always yields the same output.
type Transformer struct {
	schema     schema.TargetSchema
	textField  string
	maxTextLen int
}

// NewTransformer creates a transformer for one collection.
//
// textField names the source property holding the primary free text; empty
// means infer per record (well-known names first, then the first string
// property with substantial content). maxTextLen caps string fields; zero
// uses the target store's varchar limit.
func NewTransformer(target schema.TargetSchema, textField string, maxTextLen int) *Transformer {
	if maxTextLen <= 0 {
		maxTextLen = schema.MaxVarCharLength
	}
	return &Transformer{
		schema:     target,
		textField:  textField,
		maxTextLen: maxTextLen,
	}
}

// Transform converts one source record. The vector is copied unchanged and
// must match the schema's declared dimension exactly; a mismatch fails with
// ErrTransform and no partial record is emitted.
//
// Per-field coercion failures substitute the type's zero value and are
// returned as warnings; the record itself is never dropped for them.
func (t *Transformer) Transform(rec Record) (Transformed, []string, error) {
	if rec.ID == "" {
		return Transformed{}, nil, fmt.Errorf("%w: record has no id", ErrTransform)
	}
	if len(rec.Vector) == 0 {
		return Transformed{}, nil, fmt.Errorf("%w: record %s has no vector", ErrTransform, rec.ID)
	}
	if len(rec.Vector) != t.schema.Dim {
		return Transformed{}, nil, fmt.Errorf("%w: record %s vector length %d does not match collection dimension %d",
			ErrTransform, rec.ID, len(rec.Vector), t.schema.Dim)
	}

	// The metadata blob serializes the complete original property map,
	// independent of how individual fields coerce.
	metadata, err := sonic.Marshal(rec.Properties)
	if err != nil {
		return Transformed{}, nil, fmt.Errorf("%w: record %s metadata not serializable: %v", ErrTransform, rec.ID, err)
	}

	out := Transformed{
		ID:       rec.ID,
		Vector:   rec.Vector,
		Text:     truncate(t.extractText(rec.Properties), t.maxTextLen),
		Metadata: metadata,
		Scalars:  make(map[string]any, len(t.schema.Fields)),
	}

	var warnings []string
	for _, f := range t.schema.ScalarFields() {
		raw, ok := rec.Properties[f.SourceName]
		if !ok || raw == nil {
			out.Scalars[f.Name] = zeroValue(f.Type)
			continue
		}
		coerced, err := coerce(raw, f.Type, t.maxTextLen)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("record %s field %q: %v, substituted zero value", rec.ID, f.Name, err))
			coerced = zeroValue(f.Type)
		}
		out.Scalars[f.Name] = coerced
	}

	return out, warnings, nil
}

// extractText picks the primary free-text content from the property map.
func (t *Transformer) extractText(props map[string]any) string {
	if t.textField != "" {
		if v, ok := props[t.textField]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}

	for _, name := range wellKnownTextFields {
		if v, ok := props[name]; ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}

	// Any string property with substantial content. Iterate the schema's
	// field order so the choice is deterministic.
	for _, f := range t.schema.ScalarFields() {
		if v, ok := props[f.SourceName]; ok {
			if s, ok := v.(string); ok && len(strings.TrimSpace(s)) >= minInferredTextLen {
				return strings.TrimSpace(s)
			}
		}
	}

	// Fall back to the JSON representation so the text field is never
	// silently empty for records that carry only non-string data.
	if blob, err := sonic.Marshal(props); err == nil {
		return string(blob)
	}
	return ""
}

// coerce converts a raw property value to the mapped target type.
func coerce(v any, ft schema.FieldType, maxLen int) (any, error) {
	switch ft {
	case schema.TypeVarChar:
		return truncate(stringify(v), maxLen), nil

	case schema.TypeInt64:
		switch x := v.(type) {
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		case int:
			return int64(x), nil
		case int32:
			return int64(x), nil
		case int64:
			return x, nil
		case float32:
			return int64(x), nil
		case float64:
			return int64(x), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to int64", x)
			}
			return int64(f), nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to int64", v)
		}

	case schema.TypeDouble:
		switch x := v.(type) {
		case int:
			return float64(x), nil
		case int32:
			return float64(x), nil
		case int64:
			return float64(x), nil
		case float32:
			return float64(x), nil
		case float64:
			return x, nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
			if err != nil {
				return nil, fmt.Errorf("cannot coerce %q to double", x)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to double", v)
		}

	case schema.TypeBool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(x)) {
			case "true", "1", "yes", "on":
				return true, nil
			case "false", "0", "no", "off", "":
				return false, nil
			default:
				return nil, fmt.Errorf("cannot coerce %q to bool", x)
			}
		case int, int32, int64:
			return fmt.Sprintf("%v", x) != "0", nil
		case float64:
			return x != 0, nil
		default:
			return nil, fmt.Errorf("cannot coerce %T to bool", v)
		}

	default:
		return truncate(stringify(v), maxLen), nil
	}
}

// zeroValue returns the substitution value for a failed or absent field.
func zeroValue(ft schema.FieldType) any {
	switch ft {
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

// stringify renders any value as a string, using JSON for composites.
func stringify(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	default:
		if blob, err := sonic.Marshal(v); err == nil {
			return string(blob)
		}
		return fmt.Sprintf("%v", v)
	}
}

// truncate shortens s to at most max bytes, marking the cut with an
// ellipsis. The cut lands on a rune boundary so the result stays valid
// UTF-8.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return cutAtRune(s, max)
	}
	return cutAtRune(s, max-3) + "..."
}

// cutAtRune slices s to at most n bytes without splitting a rune.
func cutAtRune(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
