// Package record defines the migration unit types and the transformer that
// reshapes source records into the target schema.
package record

// Record is one source entity: id, vector and the raw property map.
type Record struct {
	ID         string
	Vector     []float32
	Properties map[string]any
}

// Transformed is a record reshaped for the target store. The Metadata blob
// always carries the full original property map so no source data is lost,
// regardless of per-field coercion outcomes.
type Transformed struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata []byte
	Scalars  map[string]any
}

// Batch is an ordered sequence of source records; the unit of
// transformation, upload and retry.
type Batch struct {
	// Seq is the zero-based batch number within its collection.
	Seq int

	Records []Record
}

// Len returns the number of records in the batch.
func (b Batch) Len() int { return len(b.Records) }
