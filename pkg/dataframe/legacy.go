package dataframe

import (
	"github.com/basekick-labs/arcframe/pkg/models"
)

// ToLegacy projects a frame back onto the legacy family it is most
// compatible with. hint selects a family explicitly; pass "" (or
// models.ShapeUnknown) to let the frame decide:
//
//   - frames carrying document pass-through become a DocumentSet
//   - time series frames with one value and one time field become a TimeSeries
//   - everything else becomes a TableData
//
// A hint the frame cannot satisfy falls back to a table.
func ToLegacy(frame *models.Frame, hint models.ShapeTag) models.LegacyShape {
	if frame == nil {
		frame = emptyFrame()
	}

	switch hint {
	case models.ShapeColumnarDTO:
		return ToDTO(frame)
	case models.ShapeDocuments:
		if d, ok := toDocuments(frame); ok {
			return d
		}
		return toTable(frame)
	case models.ShapeTimeSeries:
		if ts, ok := toTimeSeries(frame); ok {
			return ts
		}
		return toTable(frame)
	case models.ShapeTable:
		return toTable(frame)
	}

	if frame.Passthrough != nil {
		if d, ok := toDocuments(frame); ok {
			return d
		}
	}
	if frame.Origin == models.ShapeTimeSeries {
		if ts, ok := toTimeSeries(frame); ok {
			return ts
		}
	}
	return toTable(frame)
}

func toDocuments(frame *models.Frame) (*models.DocumentSet, bool) {
	if len(frame.Fields) > 1 {
		return nil, false
	}
	d := &models.DocumentSet{
		Target:    frame.Name,
		Extra:     cloneMap(frame.Passthrough),
		Documents: []interface{}{},
	}
	if len(frame.Fields) == 1 {
		f := frame.Fields[0]
		if d.Target == "" && f.Name != DefaultDocumentFieldName {
			d.Target = f.Name
		}
		d.Documents = vectorSlice(f.Values)
	}
	if d.Extra == nil {
		d.Extra = map[string]interface{}{}
	}
	return d, true
}

func toTimeSeries(frame *models.Frame) (*models.TimeSeries, bool) {
	if len(frame.Fields) == 0 {
		return &models.TimeSeries{
			Target:     frame.Name,
			Datapoints: []models.Datapoint{},
			RefID:      frame.RefID,
			Meta:       frame.Meta,
		}, true
	}
	if len(frame.Fields) != 2 {
		return nil, false
	}

	valueIdx, timeIdx := -1, -1
	for i, f := range frame.Fields {
		switch defaultInferencer.FieldType(f) {
		case models.FieldTypeTime:
			if timeIdx < 0 {
				timeIdx = i
			}
		case models.FieldTypeNumber, models.FieldTypeOther:
			valueIdx = i
		}
	}
	if valueIdx < 0 || timeIdx < 0 || valueIdx == timeIdx {
		return nil, false
	}

	value, tm := frame.Fields[valueIdx], frame.Fields[timeIdx]
	n := frame.Length()
	ts := &models.TimeSeries{
		Target:     value.Name,
		Datapoints: make([]models.Datapoint, n),
		Tags:       cloneLabels(value.Labels),
		RefID:      frame.RefID,
		Meta:       frame.Meta,
	}
	if unit, ok := value.Config[keyUnit].(string); ok {
		ts.Unit = unit
	}
	for i := 0; i < n; i++ {
		ts.Datapoints[i] = models.Datapoint{valueAt(value, i), valueAt(tm, i)}
	}
	return ts, true
}

func toTable(frame *models.Frame) *models.TableData {
	n := frame.Length()
	t := &models.TableData{
		Columns: make([]models.Column, len(frame.Fields)),
		Rows:    make([][]interface{}, n),
		Type:    TableType,
		RefID:   frame.RefID,
		Meta:    frame.Meta,
	}
	for j, f := range frame.Fields {
		t.Columns[j] = models.Column{
			Text:   f.Name,
			Config: models.FieldConfig(cloneMap(f.Config)),
		}
	}
	for i := 0; i < n; i++ {
		row := make([]interface{}, len(frame.Fields))
		for j, f := range frame.Fields {
			row[j] = valueAt(f, i)
		}
		t.Rows[i] = row
	}
	return t
}

// ToDTO renders a frame as a columnar DTO. Value slices are shared with the frame.
func ToDTO(frame *models.Frame) *models.FrameDTO {
	d := &models.FrameDTO{
		Name:   frame.Name,
		RefID:  frame.RefID,
		Meta:   frame.Meta,
		Fields: make([]models.FieldDTO, len(frame.Fields)),
	}
	for i, f := range frame.Fields {
		d.Fields[i] = models.FieldDTO{
			Name:   f.Name,
			Type:   f.Type,
			Config: f.Config,
			Labels: f.Labels,
			Values: vectorSlice(f.Values),
		}
	}
	return d
}

// valueAt reads row i of f, treating rows past the end of a short vector as missing.
func valueAt(f *models.Field, i int) interface{} {
	if f.Values == nil || i >= f.Values.Len() {
		return nil
	}
	return f.Values.At(i)
}

func vectorSlice(v models.Vector) []interface{} {
	if v == nil {
		return []interface{}{}
	}
	return v.ToSlice()
}
