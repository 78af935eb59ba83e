package dataframe

import (
	"github.com/basekick-labs/arcframe/pkg/models"
)

// The functions below read untyped payloads (decoded JSON or MessagePack)
// into the typed legacy models. They are lenient: wrongly typed keys are
// ignored instead of failing the conversion.

func tableFromMap(m map[string]interface{}) *models.TableData {
	t := &models.TableData{
		RefID: stringOf(m[keyRefID]),
		Meta:  metaOf(m[keyMeta]),
	}
	if s, ok := m[keyType].(string); ok {
		t.Type = s
	}

	columns, _ := asList(m[keyColumns])
	t.Columns = make([]models.Column, len(columns))
	for j, c := range columns {
		desc, ok := asMap(c)
		if !ok {
			// bare column names are accepted as {text: name}
			t.Columns[j] = models.Column{Text: stringOf(c)}
			continue
		}
		col := models.Column{Text: stringOf(desc[keyText])}
		for k, v := range desc {
			if k == keyText {
				continue
			}
			if col.Config == nil {
				col.Config = models.FieldConfig{}
			}
			col.Config[k] = v
		}
		t.Columns[j] = col
	}

	rows, _ := asList(m[keyRows])
	t.Rows = make([][]interface{}, len(rows))
	for i, r := range rows {
		row, _ := asList(r)
		t.Rows[i] = row
	}
	return t
}

func timeSeriesFromMap(m map[string]interface{}) *models.TimeSeries {
	ts := &models.TimeSeries{
		Target: stringOf(m[keyTarget]),
		RefID:  stringOf(m[keyRefID]),
		Meta:   metaOf(m[keyMeta]),
	}
	if unit, ok := m[keyUnit].(string); ok {
		ts.Unit = unit
	}
	if tags, ok := asMap(m[keyTags]); ok {
		ts.Tags = make(map[string]string, len(tags))
		for k, v := range tags {
			ts.Tags[k] = stringOf(v)
		}
	}

	points, _ := asList(m[keyDatapoints])
	ts.Datapoints = make([]models.Datapoint, len(points))
	for i, p := range points {
		pair, _ := asList(p)
		if len(pair) == 2 {
			ts.Datapoints[i] = models.Datapoint{pair[0], pair[1]}
		}
	}
	return ts
}

func documentsFromMap(m map[string]interface{}) *models.DocumentSet {
	d := &models.DocumentSet{
		Target: stringOf(m[keyTarget]),
		Extra:  make(map[string]interface{}, len(m)),
	}
	docs, _ := asList(m[keyDatapoints])
	d.Documents = docs
	for k, v := range m {
		if k == keyDatapoints || k == keyTarget {
			continue
		}
		d.Extra[k] = v
	}
	return d
}

func dtoFromMap(m map[string]interface{}) *models.FrameDTO {
	d := &models.FrameDTO{
		Name:  stringOf(m[keyName]),
		RefID: stringOf(m[keyRefID]),
		Meta:  metaOf(m[keyMeta]),
	}

	fields, _ := asList(m[keyFields])
	d.Fields = make([]models.FieldDTO, len(fields))
	for j, raw := range fields {
		fm, ok := asMap(raw)
		if !ok {
			continue
		}
		f := models.FieldDTO{Name: stringOf(fm[keyName])}
		if s, ok := fm[keyType].(string); ok {
			f.Type = models.FieldType(s)
		}
		if cfg, ok := asMap(fm[keyConfig]); ok {
			f.Config = models.FieldConfig(cfg)
		}
		if labels, ok := asMap(fm[keyLabels]); ok {
			f.Labels = make(map[string]string, len(labels))
			for k, v := range labels {
				f.Labels[k] = stringOf(v)
			}
		}
		if values, ok := asList(fm[keyValues]); ok {
			f.Values = values
		}
		d.Fields[j] = f
	}

	if rows, ok := asList(m[keyRows]); ok {
		d.Rows = make([][]interface{}, len(rows))
		for i, r := range rows {
			row, _ := asList(r)
			d.Rows[i] = row
		}
	}
	return d
}

func metaOf(v interface{}) map[string]interface{} {
	m, _ := asMap(v)
	return m
}
