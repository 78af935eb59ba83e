package dataframe

import (
	"encoding/json"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/basekick-labs/arcframe/pkg/models"
	"github.com/shopspring/decimal"
)

// numberPattern matches plain decimal and scientific notation. Hex floats,
// underscores, "Inf" and "NaN" are not numbers for inference purposes.
var numberPattern = regexp.MustCompile(`^[-+]?(\d+\.?\d*|\.\d+)([eE][-+]?\d+)?$`)

// InferFromValue returns the most specific type of a single raw value.
// Missing values return models.FieldTypeUndefined: the caller has to sample
// another value.
func InferFromValue(v interface{}) models.FieldType {
	if isMissing(v) {
		return models.FieldTypeUndefined
	}

	switch val := baseScalar(v).(type) {
	case bool:
		return models.FieldTypeBoolean
	case string:
		return inferFromString(val)
	case []byte:
		return inferFromString(string(val))
	}

	if _, ok := toFloat64(v); ok {
		return models.FieldTypeNumber
	}
	if IsTimeValue(v) {
		return models.FieldTypeTime
	}
	return models.FieldTypeOther
}

func inferFromString(s string) models.FieldType {
	s = strings.TrimSpace(s)
	if isNumericString(s) {
		return models.FieldTypeNumber
	}
	if strings.EqualFold(s, "true") || strings.EqualFold(s, "false") {
		return models.FieldTypeBoolean
	}
	return models.FieldTypeString
}

func isNumericString(s string) bool {
	if !numberPattern.MatchString(s) {
		return false
	}
	f, err := strconv.ParseFloat(s, 64)
	return err == nil && !math.IsInf(f, 0)
}

// InferFromValues types a column from its first non-missing value.
// An all-missing column returns models.FieldTypeUndefined.
func InferFromValues(values []interface{}) models.FieldType {
	return InferFromValue(firstNonNil(values))
}

// InferFromVector is InferFromValues for a models.Vector.
func InferFromVector(v models.Vector) models.FieldType {
	if v == nil {
		return models.FieldTypeUndefined
	}
	for i := 0; i < v.Len(); i++ {
		if val := v.At(i); !isMissing(val) {
			return InferFromValue(val)
		}
	}
	return models.FieldTypeUndefined
}

// IsTimeValue reports whether v is a time value: time.Time, a non-nil
// *time.Time or a models.TimeValuer.
func IsTimeValue(v interface{}) bool {
	switch t := v.(type) {
	case time.Time:
		return true
	case *time.Time:
		return t != nil
	case models.TimeValuer:
		return t != nil
	}
	return false
}

// AsTime extracts the time.Time of a time value.
func AsTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return *t, true
	case models.TimeValuer:
		if t == nil {
			return time.Time{}, false
		}
		return t.AsTime(), true
	}
	return time.Time{}, false
}

// FormatTime renders a time value for display (RFC3339Nano, UTC).
// The second return is false when v is not a time value.
func FormatTime(v interface{}) (string, bool) {
	t, ok := AsTime(v)
	if !ok {
		return "", false
	}
	return t.UTC().Format(time.RFC3339Nano), true
}

// AsNumber returns the float64 value of a number: any native numeric value
// or a string that InferFromValue would classify as a number.
func AsNumber(v interface{}) (float64, bool) {
	if f, ok := toFloat64(v); ok {
		return f, true
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case []byte:
		s = string(val)
	default:
		return 0, false
	}
	s = strings.TrimSpace(s)
	if !isNumericString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

// toFloat64 converts any native numeric value to float64, including values
// of named integer and float types.
func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int8:
		return float64(val), true
	case int16:
		return float64(val), true
	case int32:
		return float64(val), true
	case int64:
		return float64(val), true
	case uint:
		return float64(val), true
	case uint8:
		return float64(val), true
	case uint16:
		return float64(val), true
	case uint32:
		return float64(val), true
	case uint64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case decimal.Decimal:
		return val.InexactFloat64(), true
	case *decimal.Decimal:
		if val == nil {
			return 0, false
		}
		return val.InexactFloat64(), true
	case nil:
		return 0, false
	}

	// named numeric types (type celsius float64)
	if _, ok := v.(models.TimeValuer); ok {
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// Inferencer normalizes field types. The zero value is not usable; use
// NewInferencer or the package level NormalizeTypes.
type Inferencer struct {
	timeAliases map[string]struct{}
}

// NewInferencer returns an Inferencer that forces the time type on columns
// whose name matches one of aliases (case-insensitive). With no aliases,
// DefaultTimeAliases is used.
func NewInferencer(aliases ...string) *Inferencer {
	if len(aliases) == 0 {
		aliases = DefaultTimeAliases
	}
	set := make(map[string]struct{}, len(aliases))
	for _, a := range aliases {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			set[a] = struct{}{}
		}
	}
	return &Inferencer{timeAliases: set}
}

var defaultInferencer = NewInferencer()

// IsTimeName reports whether name is a temporal alias.
func (in *Inferencer) IsTimeName(name string) bool {
	_, ok := in.timeAliases[strings.ToLower(name)]
	return ok
}

// FieldType returns the type a field would get from normalization.
// Explicitly typed fields keep their type.
func (in *Inferencer) FieldType(f *models.Field) models.FieldType {
	if f.Type != models.FieldTypeUndefined {
		return f.Type
	}
	if in.IsTimeName(f.Name) {
		return models.FieldTypeTime
	}
	if t := InferFromVector(f.Values); t != models.FieldTypeUndefined {
		return t
	}
	return models.FieldTypeOther
}

// Normalize assigns a concrete type to every untyped field. Value vectors
// are shared with the input; the input frame itself is never modified.
// When every field is already typed the same frame is returned.
func (in *Inferencer) Normalize(frame *models.Frame) *models.Frame {
	if frame == nil {
		return nil
	}

	var fields []*models.Field
	for i, f := range frame.Fields {
		if f.Type != models.FieldTypeUndefined {
			continue
		}
		if fields == nil {
			fields = make([]*models.Field, len(frame.Fields))
			copy(fields, frame.Fields)
		}
		typed := *f
		typed.Type = in.FieldType(f)
		fields[i] = &typed
	}
	if fields == nil {
		return frame
	}

	out := *frame
	out.Fields = fields
	return &out
}

// NormalizeTypes normalizes frame with DefaultTimeAliases.
func NormalizeTypes(frame *models.Frame) *models.Frame {
	return defaultInferencer.Normalize(frame)
}
