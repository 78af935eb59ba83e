package models

import "time"

// FieldType is the semantic type declared for a column.
// The zero value (FieldTypeUndefined) means the type has not been inferred yet.
type FieldType string

const (
	FieldTypeUndefined FieldType = ""
	FieldTypeTime      FieldType = "time"
	FieldTypeNumber    FieldType = "number"
	FieldTypeString    FieldType = "string"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeOther     FieldType = "other"
)

// IsValid reports whether t is one of the known field types, including undefined.
func (t FieldType) IsValid() bool {
	switch t {
	case FieldTypeUndefined, FieldTypeTime, FieldTypeNumber, FieldTypeString, FieldTypeBoolean, FieldTypeOther:
		return true
	}
	return false
}

// TimeValuer is implemented by wrapped time values (for example values carried
// together with their source precision). Any TimeValuer is treated as a time value.
type TimeValuer interface {
	AsTime() time.Time
}

// Vector is the index-addressable values accessor of a Field.
// A nil element is the missing-value sentinel.
type Vector interface {
	Len() int
	At(i int) interface{}
	ToSlice() []interface{}
}

// ArrayVector is a Vector backed by a plain slice.
type ArrayVector struct {
	values []interface{}
}

// NewArrayVector wraps values without copying them.
func NewArrayVector(values []interface{}) *ArrayVector {
	if values == nil {
		values = []interface{}{}
	}
	return &ArrayVector{values: values}
}

func (v *ArrayVector) Len() int               { return len(v.values) }
func (v *ArrayVector) At(i int) interface{}   { return v.values[i] }
func (v *ArrayVector) ToSlice() []interface{} { return v.values }

// FieldConfig is the opaque per-column metadata bag (unit, filterable, ...).
type FieldConfig map[string]interface{}

// Field is a single named column of a Frame.
type Field struct {
	Name   string
	Type   FieldType
	Config FieldConfig
	Labels map[string]string
	Values Vector
}

// Len returns the number of values in the field.
func (f *Field) Len() int {
	if f.Values == nil {
		return 0
	}
	return f.Values.Len()
}

// Frame is the canonical columnar representation every legacy shape converts to.
// All field value vectors share the same length.
type Frame struct {
	Name   string
	RefID  string
	Meta   map[string]interface{}
	Fields []*Field

	// Origin records the legacy family the frame was built from.
	Origin ShapeTag

	// Passthrough holds non-columnar keys of a document set so they can be
	// restored when the frame is projected back to its legacy shape.
	Passthrough map[string]interface{}
}

// Length returns the row count of the frame.
func (f *Frame) Length() int {
	if len(f.Fields) == 0 {
		return 0
	}
	return f.Fields[0].Len()
}
