package dataframe

import (
	"github.com/basekick-labs/arcframe/pkg/models"
)

// ToFrame converts any supported input into a canonical frame.
//
// A *models.Frame is returned as is (same pointer), so callers caching by
// reference keep their entries. Unrecognized input yields an empty frame with
// zero fields. Converted legacy shapes are not type-normalized; run
// NormalizeTypes when inferred types are wanted.
func ToFrame(input interface{}) *models.Frame {
	switch v := input.(type) {
	case *models.Frame:
		if v != nil {
			return v
		}
	case models.Frame:
		return &v
	case *models.FrameDTO:
		if v != nil {
			return FromDTO(v)
		}
	case models.FrameDTO:
		return FromDTO(&v)
	case *models.TableData:
		if v != nil {
			return FromTable(v)
		}
	case models.TableData:
		return FromTable(&v)
	case *models.TimeSeries:
		if v != nil {
			return FromTimeSeries(v)
		}
	case models.TimeSeries:
		return FromTimeSeries(&v)
	case *models.DocumentSet:
		if v != nil {
			return FromDocuments(v)
		}
	case models.DocumentSet:
		return FromDocuments(&v)
	default:
		if m, ok := asMap(input); ok {
			switch classifyMap(m) {
			case models.ShapeColumnarDTO:
				return FromDTO(dtoFromMap(m))
			case models.ShapeTable:
				return FromTable(tableFromMap(m))
			case models.ShapeTimeSeries:
				return FromTimeSeries(timeSeriesFromMap(m))
			case models.ShapeDocuments:
				return FromDocuments(documentsFromMap(m))
			}
		}
	}
	return emptyFrame()
}

func emptyFrame() *models.Frame {
	return &models.Frame{
		Fields: []*models.Field{},
		Origin: models.ShapeUnknown,
	}
}

// FromTable builds one field per column; row i, column j becomes values[i]
// of field j. Short rows leave missing values. Column descriptor keys other
// than text are copied into the field config. Types are left undefined.
func FromTable(t *models.TableData) *models.Frame {
	frame := &models.Frame{
		RefID:  t.RefID,
		Meta:   t.Meta,
		Fields: make([]*models.Field, len(t.Columns)),
		Origin: models.ShapeTable,
	}
	for j, col := range t.Columns {
		values := make([]interface{}, len(t.Rows))
		for i, row := range t.Rows {
			if j < len(row) {
				values[i] = row[j]
			}
		}
		frame.Fields[j] = &models.Field{
			Name:   col.Text,
			Config: models.FieldConfig(cloneMap(col.Config)),
			Values: models.NewArrayVector(values),
		}
	}
	return frame
}

// FromTimeSeries builds a value field and a time field. The value field is
// typed from its first non-missing sample: numbers (or an all-missing
// column) give number, anything else gives other. A series without
// datapoints converts to a frame with zero fields.
func FromTimeSeries(ts *models.TimeSeries) *models.Frame {
	frame := &models.Frame{
		Name:   ts.Target,
		RefID:  ts.RefID,
		Meta:   ts.Meta,
		Fields: []*models.Field{},
		Origin: models.ShapeTimeSeries,
	}
	if len(ts.Datapoints) == 0 {
		return frame
	}

	values := make([]interface{}, len(ts.Datapoints))
	times := make([]interface{}, len(ts.Datapoints))
	for i, dp := range ts.Datapoints {
		values[i] = dp[0]
		times[i] = dp[1]
	}

	name := ts.Target
	if name == "" {
		name = DefaultValueFieldName
	}
	var config models.FieldConfig
	if ts.Unit != "" {
		config = models.FieldConfig{keyUnit: ts.Unit}
	}

	frame.Fields = []*models.Field{
		{
			Name:   name,
			Type:   seriesValueType(values),
			Config: config,
			Labels: cloneLabels(ts.Tags),
			Values: models.NewArrayVector(values),
		},
		{
			Name:   DefaultTimeFieldName,
			Type:   models.FieldTypeTime,
			Values: models.NewArrayVector(times),
		},
	}
	return frame
}

func seriesValueType(values []interface{}) models.FieldType {
	switch InferFromValues(values) {
	case models.FieldTypeNumber, models.FieldTypeUndefined:
		return models.FieldTypeNumber
	default:
		return models.FieldTypeOther
	}
}

// FromDocuments builds a single field of type other holding one whole
// document per value. Every non-columnar key of the set is kept in
// Frame.Passthrough.
func FromDocuments(d *models.DocumentSet) *models.Frame {
	name := d.Target
	if name == "" {
		name = DefaultDocumentFieldName
	}
	passthrough := cloneMap(d.Extra)
	if passthrough == nil {
		passthrough = map[string]interface{}{}
	}
	docs := make([]interface{}, len(d.Documents))
	copy(docs, d.Documents)

	return &models.Frame{
		Name: d.Target,
		Fields: []*models.Field{{
			Name:   name,
			Type:   models.FieldTypeOther,
			Values: models.NewArrayVector(docs),
		}},
		Origin:      models.ShapeDocuments,
		Passthrough: passthrough,
	}
}

// FromDTO copies a columnar DTO field by field. Missing types stay
// undefined. A DTO whose fields carry no values but which has rows is
// filled from the rows.
func FromDTO(d *models.FrameDTO) *models.Frame {
	frame := &models.Frame{
		Name:   d.Name,
		RefID:  d.RefID,
		Meta:   d.Meta,
		Fields: make([]*models.Field, len(d.Fields)),
		Origin: models.ShapeColumnarDTO,
	}

	fromRows := len(d.Rows) > 0 && !dtoHasValues(d)
	for j, f := range d.Fields {
		values := f.Values
		if fromRows {
			values = make([]interface{}, len(d.Rows))
			for i, row := range d.Rows {
				if j < len(row) {
					values[i] = row[j]
				}
			}
		}
		typ := f.Type
		if !typ.IsValid() {
			typ = models.FieldTypeUndefined
		}
		frame.Fields[j] = &models.Field{
			Name:   f.Name,
			Type:   typ,
			Config: f.Config,
			Labels: f.Labels,
			Values: models.NewArrayVector(values),
		}
	}
	return frame
}

func dtoHasValues(d *models.FrameDTO) bool {
	for _, f := range d.Fields {
		if f.Values != nil {
			return true
		}
	}
	return false
}
