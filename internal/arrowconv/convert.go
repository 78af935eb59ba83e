package arrowconv

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/basekick-labs/arcframe/internal/metrics"
	"github.com/basekick-labs/arcframe/pkg/dataframe"
	"github.com/basekick-labs/arcframe/pkg/models"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// Metadata keys carrying frame and field descriptors through Arrow schemas.
const (
	metaName   = "arcframe.name"
	metaRefID  = "arcframe.ref_id"
	metaOrigin = "arcframe.origin"
	metaMeta   = "arcframe.meta"
	metaPass   = "arcframe.passthrough"
	metaType   = "arcframe.type"
	metaConfig = "arcframe.config"
	metaLabels = "arcframe.labels"
)

// ErrUnsupportedType is returned when an Arrow column type has no field type mapping.
var ErrUnsupportedType = errors.New("unsupported arrow type")

// sharedAllocator is safe for concurrent use.
var sharedAllocator = memory.NewGoAllocator()

// Converter moves frames in and out of Arrow records.
//
// Column types follow the (inferred) field type: number to Float64, time to
// Timestamp(us, UTC), string to String, boolean to Boolean. Fields of type
// other are written as String columns holding one JSON document per row.
// Values that do not fit the column type become nulls.
type Converter struct {
	mem        memory.Allocator
	inferencer *dataframe.Inferencer
	logger     zerolog.Logger
}

// NewConverter creates a converter. A nil inferencer uses the default time aliases.
func NewConverter(inferencer *dataframe.Inferencer, logger zerolog.Logger) *Converter {
	if inferencer == nil {
		inferencer = dataframe.NewInferencer()
	}
	return &Converter{
		mem:        sharedAllocator,
		inferencer: inferencer,
		logger:     logger.With().Str("component", "arrow-converter").Logger(),
	}
}

// ToRecord builds an Arrow record from frame. The caller owns the record and must Release it.
func (c *Converter) ToRecord(frame *models.Frame) (arrow.Record, error) {
	n := frame.Length()
	fields := make([]arrow.Field, len(frame.Fields))
	arrays := make([]arrow.Array, len(frame.Fields))
	defer func() {
		for _, arr := range arrays {
			if arr != nil {
				arr.Release()
			}
		}
	}()

	var nullified int
	for j, f := range frame.Fields {
		typ := c.inferencer.FieldType(f)
		meta, err := fieldMetadata(f, typ)
		if err != nil {
			return nil, err
		}

		var dropped int
		fields[j] = arrow.Field{Name: f.Name, Type: arrowType(typ), Nullable: true, Metadata: meta}
		arrays[j], dropped, err = c.buildColumn(f, typ, n)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		nullified += dropped
	}

	if nullified > 0 {
		metrics.Get().AddNullsCoerced(nullified)
		c.logger.Debug().Int("values", nullified).Msg("Values not matching their column type written as null")
	}

	md, err := frameMetadata(frame)
	if err != nil {
		return nil, err
	}
	schema := arrow.NewSchema(fields, md)
	return array.NewRecord(schema, arrays, int64(n)), nil
}

func arrowType(typ models.FieldType) arrow.DataType {
	switch typ {
	case models.FieldTypeNumber:
		return arrow.PrimitiveTypes.Float64
	case models.FieldTypeTime:
		return arrow.FixedWidthTypes.Timestamp_us
	case models.FieldTypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.BinaryTypes.String
	}
}

// buildColumn appends n rows of f. It returns the number of non-missing
// values that could not be represented and were written as null.
func (c *Converter) buildColumn(f *models.Field, typ models.FieldType, n int) (arrow.Array, int, error) {
	var dropped int
	at := func(i int) interface{} {
		if f.Values == nil || i >= f.Values.Len() {
			return nil
		}
		return f.Values.At(i)
	}

	switch typ {
	case models.FieldTypeNumber:
		b := array.NewFloat64Builder(c.mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			v := at(i)
			if num, ok := dataframe.AsNumber(v); ok {
				b.Append(num)
				continue
			}
			if v != nil {
				dropped++
			}
			b.AppendNull()
		}
		return b.NewArray(), dropped, nil

	case models.FieldTypeTime:
		b := array.NewTimestampBuilder(c.mem, arrow.FixedWidthTypes.Timestamp_us.(*arrow.TimestampType))
		defer b.Release()
		for i := 0; i < n; i++ {
			v := at(i)
			if t, ok := timeOf(v); ok {
				b.Append(arrow.Timestamp(t.UnixMicro()))
				continue
			}
			if v != nil {
				dropped++
			}
			b.AppendNull()
		}
		return b.NewArray(), dropped, nil

	case models.FieldTypeBoolean:
		b := array.NewBooleanBuilder(c.mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			v := at(i)
			if bv, ok := boolOf(v); ok {
				b.Append(bv)
				continue
			}
			if v != nil {
				dropped++
			}
			b.AppendNull()
		}
		return b.NewArray(), dropped, nil

	case models.FieldTypeString:
		b := array.NewStringBuilder(c.mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			switch v := at(i).(type) {
			case nil:
				b.AppendNull()
			case string:
				b.Append(v)
			case []byte:
				b.Append(string(v))
			default:
				if s, ok := dataframe.FormatTime(v); ok {
					b.Append(s)
				} else {
					b.Append(fmt.Sprint(v))
				}
			}
		}
		return b.NewArray(), 0, nil

	default:
		b := array.NewStringBuilder(c.mem)
		defer b.Release()
		for i := 0; i < n; i++ {
			v := at(i)
			if v == nil {
				b.AppendNull()
				continue
			}
			doc, err := json.Marshal(v)
			if err != nil {
				return nil, 0, fmt.Errorf("row %d: failed to marshal json: %w", i, err)
			}
			b.Append(string(doc))
		}
		return b.NewArray(), 0, nil
	}
}

// timeOf accepts time values, epoch milliseconds and RFC3339 strings.
func timeOf(v interface{}) (time.Time, bool) {
	if t, ok := dataframe.AsTime(v); ok {
		return t, true
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s)); err == nil {
			return t, true
		}
	}
	if ms, ok := dataframe.AsNumber(v); ok {
		return time.UnixMicro(int64(ms * 1000)), true
	}
	return time.Time{}, false
}

func boolOf(v interface{}) (bool, bool) {
	switch b := v.(type) {
	case bool:
		return b, true
	case string:
		s := strings.TrimSpace(b)
		if strings.EqualFold(s, "true") {
			return true, true
		}
		if strings.EqualFold(s, "false") {
			return false, true
		}
	}
	return false, false
}

func frameMetadata(frame *models.Frame) (*arrow.Metadata, error) {
	keys := []string{}
	values := []string{}
	add := func(k, v string) {
		if v != "" {
			keys = append(keys, k)
			values = append(values, v)
		}
	}
	add(metaName, frame.Name)
	add(metaRefID, frame.RefID)
	add(metaOrigin, string(frame.Origin))

	if len(frame.Meta) > 0 {
		raw, err := json.Marshal(frame.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal frame meta: %w", err)
		}
		add(metaMeta, string(raw))
	}
	// an empty pass-through bag still marks a document set
	if frame.Passthrough != nil {
		raw, err := json.Marshal(frame.Passthrough)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal pass-through keys: %w", err)
		}
		add(metaPass, string(raw))
	}

	md := arrow.NewMetadata(keys, values)
	return &md, nil
}

func fieldMetadata(f *models.Field, typ models.FieldType) (arrow.Metadata, error) {
	keys := []string{metaType}
	values := []string{string(typ)}
	if len(f.Config) > 0 {
		raw, err := json.Marshal(f.Config)
		if err != nil {
			return arrow.Metadata{}, fmt.Errorf("field %q: failed to marshal config: %w", f.Name, err)
		}
		keys = append(keys, metaConfig)
		values = append(values, string(raw))
	}
	if len(f.Labels) > 0 {
		raw, err := json.Marshal(f.Labels)
		if err != nil {
			return arrow.Metadata{}, fmt.Errorf("field %q: failed to marshal labels: %w", f.Name, err)
		}
		keys = append(keys, metaLabels)
		values = append(values, string(raw))
	}
	return arrow.NewMetadata(keys, values), nil
}

// FromRecord converts an Arrow record back to a frame with explicit field
// types. Time columns yield time.Time values; integer columns yield int64.
func FromRecord(rec arrow.Record) (*models.Frame, error) {
	schema := rec.Schema()
	frame := &models.Frame{
		Fields: make([]*models.Field, rec.NumCols()),
		Origin: models.ShapeFrame,
	}
	if md := schema.Metadata(); md.Len() > 0 {
		frame.Name = metadataValue(md, metaName)
		frame.RefID = metadataValue(md, metaRefID)
		if origin, ok := models.ParseShapeTag(metadataValue(md, metaOrigin)); ok {
			frame.Origin = origin
		}
		if raw := metadataValue(md, metaMeta); raw != "" {
			if err := json.Unmarshal([]byte(raw), &frame.Meta); err != nil {
				return nil, fmt.Errorf("invalid frame meta metadata: %w", err)
			}
		}
		if raw := metadataValue(md, metaPass); raw != "" {
			if err := json.Unmarshal([]byte(raw), &frame.Passthrough); err != nil {
				return nil, fmt.Errorf("invalid pass-through metadata: %w", err)
			}
		}
	}

	for j, af := range schema.Fields() {
		col := rec.Column(j)
		field := &models.Field{Name: af.Name}

		declared := models.FieldType(metadataValue(af.Metadata, metaType))
		if raw := metadataValue(af.Metadata, metaConfig); raw != "" {
			if err := json.Unmarshal([]byte(raw), &field.Config); err != nil {
				return nil, fmt.Errorf("field %q: invalid config metadata: %w", af.Name, err)
			}
		}
		if raw := metadataValue(af.Metadata, metaLabels); raw != "" {
			if err := json.Unmarshal([]byte(raw), &field.Labels); err != nil {
				return nil, fmt.Errorf("field %q: invalid labels metadata: %w", af.Name, err)
			}
		}

		values, typ, err := columnValues(col, declared)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", af.Name, err)
		}
		field.Type = typ
		field.Values = models.NewArrayVector(values)
		frame.Fields[j] = field
	}
	return frame, nil
}

func columnValues(col arrow.Array, declared models.FieldType) ([]interface{}, models.FieldType, error) {
	n := col.Len()
	values := make([]interface{}, n)

	switch arr := col.(type) {
	case *array.Float64:
		for i := 0; i < n; i++ {
			if arr.IsValid(i) {
				values[i] = arr.Value(i)
			}
		}
		return values, models.FieldTypeNumber, nil
	case *array.Int64:
		for i := 0; i < n; i++ {
			if arr.IsValid(i) {
				values[i] = arr.Value(i)
			}
		}
		return values, models.FieldTypeNumber, nil
	case *array.Timestamp:
		unit := arr.DataType().(*arrow.TimestampType).Unit
		for i := 0; i < n; i++ {
			if arr.IsValid(i) {
				values[i] = arr.Value(i).ToTime(unit)
			}
		}
		return values, models.FieldTypeTime, nil
	case *array.Boolean:
		for i := 0; i < n; i++ {
			if arr.IsValid(i) {
				values[i] = arr.Value(i)
			}
		}
		return values, models.FieldTypeBoolean, nil
	case *array.String:
		if declared == models.FieldTypeOther {
			for i := 0; i < n; i++ {
				if !arr.IsValid(i) {
					continue
				}
				var doc interface{}
				if err := json.Unmarshal([]byte(arr.Value(i)), &doc); err != nil {
					return nil, "", fmt.Errorf("row %d: invalid json document: %w", i, err)
				}
				values[i] = doc
			}
			return values, models.FieldTypeOther, nil
		}
		for i := 0; i < n; i++ {
			if arr.IsValid(i) {
				values[i] = arr.Value(i)
			}
		}
		return values, models.FieldTypeString, nil
	}
	return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedType, col.DataType().Name())
}

func metadataValue(md arrow.Metadata, key string) string {
	if idx := md.FindKey(key); idx >= 0 {
		return md.Values()[idx]
	}
	return ""
}
