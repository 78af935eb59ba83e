package dataframe

import (
	"testing"

	"github.com/basekick-labs/arcframe/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToFrame_TimeSeries(t *testing.T) {
	series := ToFrame(map[string]interface{}{
		"target":     "Field Name",
		"datapoints": []interface{}{[]interface{}{100, 1}, []interface{}{200, 2}},
	})

	require.Len(t, series.Fields, 2)
	assert.Equal(t, "Field Name", series.Fields[0].Name)
	assert.Equal(t, DefaultTimeFieldName, series.Fields[1].Name)
	assert.Equal(t, models.FieldTypeTime, series.Fields[1].Type)
	assert.Equal(t, models.ShapeTimeSeries, series.Origin)

	v0, v1 := series.Fields[0].Values, series.Fields[1].Values
	require.Equal(t, 2, v0.Len())
	require.Equal(t, 2, v1.Len())
	assert.Equal(t, 100, v0.At(0))
	assert.Equal(t, 200, v0.At(1))
	assert.Equal(t, 1, v1.At(0))
	assert.Equal(t, 2, v1.At(1))
	assert.Equal(t, 2, series.Length())
}

func TestToFrame_TimeSeriesDefaultName(t *testing.T) {
	series := ToFrame(map[string]interface{}{
		"target":     "",
		"datapoints": []interface{}{[]interface{}{100, 1}},
	})
	assert.Equal(t, DefaultValueFieldName, series.Fields[0].Name)

	series = ToFrame(map[string]interface{}{
		"datapoints": []interface{}{[]interface{}{100, 1}},
	})
	assert.Equal(t, DefaultValueFieldName, series.Fields[0].Name)
}

func TestToFrame_TimeSeriesValueType(t *testing.T) {
	tests := []struct {
		name   string
		points []models.Datapoint
		want   models.FieldType
	}{
		{"numbers", []models.Datapoint{{100, 1}, {200, 2}}, models.FieldTypeNumber},
		{"leading nulls", []models.Datapoint{{nil, 1}, {200, 2}}, models.FieldTypeNumber},
		{"all nulls", []models.Datapoint{{nil, 1}, {nil, 2}}, models.FieldTypeNumber},
		{"numeric strings", []models.Datapoint{{"1.5", 1}}, models.FieldTypeNumber},
		{"text", []models.Datapoint{{"up", 1}, {200, 2}}, models.FieldTypeOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// a target named "time" must not trigger the name override here
			frame := ToFrame(&models.TimeSeries{Target: "time", Datapoints: tt.points})
			assert.Equal(t, tt.want, frame.Fields[0].Type)
		})
	}
}

func TestToFrame_TimeSeriesUnitAndTags(t *testing.T) {
	frame := ToFrame(map[string]interface{}{
		"target":     "cpu",
		"unit":       "percent",
		"tags":       map[string]interface{}{"host": "server01", "core": 3},
		"refId":      "A",
		"meta":       map[string]interface{}{"executedQueryString": "select 1"},
		"datapoints": []interface{}{[]interface{}{90.5, 1609459200000}},
	})
	assert.Equal(t, "percent", frame.Fields[0].Config["unit"])
	assert.Equal(t, map[string]string{"host": "server01", "core": "3"}, frame.Fields[0].Labels)
	assert.Equal(t, "A", frame.RefID)
	assert.Equal(t, "select 1", frame.Meta["executedQueryString"])
}

func TestToFrame_EmptyShapes(t *testing.T) {
	tests := []struct {
		name   string
		input  interface{}
		origin models.ShapeTag
	}{
		{"empty table", map[string]interface{}{"columns": []interface{}{}, "rows": []interface{}{}}, models.ShapeTable},
		{"empty series", map[string]interface{}{"target": "A", "datapoints": []interface{}{}}, models.ShapeTimeSeries},
		{"empty map", map[string]interface{}{}, models.ShapeUnknown},
		{"primitive", 3.14, models.ShapeUnknown},
		{"nil", nil, models.ShapeUnknown},
		{"nil typed pointer", (*models.TableData)(nil), models.ShapeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame := ToFrame(tt.input)
			require.NotNil(t, frame)
			assert.Empty(t, frame.Fields)
			assert.Equal(t, 0, frame.Length())
			assert.Equal(t, tt.origin, frame.Origin)
		})
	}
}

func TestToFrame_ScalarBag(t *testing.T) {
	frame := ToFrame(map[string]interface{}{"foo": "bar", "total": 2})
	require.Len(t, frame.Fields, 1)
	assert.Equal(t, models.ShapeDocuments, frame.Origin)
	assert.Equal(t, DefaultDocumentFieldName, frame.Fields[0].Name)
	assert.Equal(t, models.FieldTypeOther, frame.Fields[0].Type)
	assert.Equal(t, 0, frame.Length())
	assert.Equal(t, map[string]interface{}{"foo": "bar", "total": 2}, frame.Passthrough)

	d, ok := ToLegacy(frame, "").(*models.DocumentSet)
	require.True(t, ok)
	assert.Equal(t, map[string]interface{}{"foo": "bar", "total": 2}, d.Extra)
	assert.Empty(t, d.Documents)
}

func TestToFrame_KeepsFrameUnchanged(t *testing.T) {
	input := ToFrame(map[string]interface{}{
		"datapoints": []interface{}{[]interface{}{100, 1}, []interface{}{200, 2}},
	})
	assert.Equal(t, 2, input.Length())

	again := ToFrame(input)
	assert.Same(t, input, again)
	assert.Same(t, again, ToFrame(again))
}

func TestToFrame_Table(t *testing.T) {
	frame := ToFrame(map[string]interface{}{
		"columns": []interface{}{
			map[string]interface{}{"text": "a", "unit": "ms"},
			map[string]interface{}{"text": "b", "unit": "zz", "filterable": true},
			"c",
		},
		"rows": []interface{}{
			[]interface{}{100, 1, "a"},
			[]interface{}{200, 2},
		},
	})

	require.Len(t, frame.Fields, 3)
	assert.Equal(t, "a", frame.Fields[0].Name)
	assert.Equal(t, "ms", frame.Fields[0].Config["unit"])
	assert.Equal(t, true, frame.Fields[1].Config["filterable"])
	assert.Equal(t, "c", frame.Fields[2].Name)
	assert.Nil(t, frame.Fields[2].Config)
	for _, f := range frame.Fields {
		assert.Equal(t, models.FieldTypeUndefined, f.Type, "legacy tables are not auto-typed")
		assert.Equal(t, 2, f.Len())
	}
	assert.Equal(t, []interface{}{"a", nil}, frame.Fields[2].Values.ToSlice())
}

func TestToFrame_TableConfigIsCopied(t *testing.T) {
	table := &models.TableData{
		Columns: []models.Column{{Text: "a", Config: models.FieldConfig{"unit": "ms"}}},
		Rows:    [][]interface{}{{1}},
	}
	frame := ToFrame(table)
	frame.Fields[0].Config["unit"] = "s"
	assert.Equal(t, "ms", table.Columns[0].Config["unit"])
}

func TestToFrame_Documents(t *testing.T) {
	doc := map[string]interface{}{
		"_id":         "W5rvjW0BKe0cA-E1aHvr",
		"_type":       "_doc",
		"@message":    "Deployed website",
		"@timestamp":  []interface{}{1570044340458},
		"tags":        []interface{}{"deploy", "website-01"},
		"coordinates": map[string]interface{}{"latitude": 12, "longitude": 121},
	}
	input := map[string]interface{}{
		"datapoints": []interface{}{doc},
		"filterable": true,
		"target":     "docs",
		"total":      206,
		"type":       "docs",
	}

	frame := ToFrame(input)
	require.Len(t, frame.Fields, 1)
	assert.Equal(t, "docs", frame.Fields[0].Name)
	assert.Equal(t, models.FieldTypeOther, frame.Fields[0].Type)
	require.Equal(t, 1, frame.Fields[0].Len())
	assert.Equal(t, doc, frame.Fields[0].Values.At(0))
	assert.Equal(t, map[string]interface{}{"filterable": true, "total": 206, "type": "docs"}, frame.Passthrough)
}

func TestToFrame_DocumentsDefaultName(t *testing.T) {
	frame := ToFrame(&models.DocumentSet{Documents: []interface{}{map[string]interface{}{"a": 1}}})
	assert.Equal(t, DefaultDocumentFieldName, frame.Fields[0].Name)
	assert.NotNil(t, frame.Passthrough)
}

func TestToFrame_DTO(t *testing.T) {
	frame := ToFrame(map[string]interface{}{
		"refId": "Z",
		"meta":  map[string]interface{}{"something": 8},
		"fields": []interface{}{
			map[string]interface{}{"name": "T", "type": "time", "values": []interface{}{1, 2, 3}},
			map[string]interface{}{"name": "N", "type": "number", "config": map[string]interface{}{"filterable": true}, "values": []interface{}{100, 200, 300}},
			map[string]interface{}{"name": "S", "values": []interface{}{"1", "2", "3"}},
			map[string]interface{}{"name": "B", "type": "bogus", "values": []interface{}{true, false, true}},
		},
	})

	require.Len(t, frame.Fields, 4)
	assert.Equal(t, "Z", frame.RefID)
	assert.Equal(t, 8, frame.Meta["something"])
	assert.Equal(t, models.FieldTypeTime, frame.Fields[0].Type)
	assert.Equal(t, models.FieldTypeNumber, frame.Fields[1].Type)
	assert.Equal(t, true, frame.Fields[1].Config["filterable"])
	assert.Equal(t, models.FieldTypeUndefined, frame.Fields[2].Type)
	assert.Equal(t, models.FieldTypeUndefined, frame.Fields[3].Type)
	assert.Equal(t, 3, frame.Length())
}

func TestToFrame_DTORowsMigration(t *testing.T) {
	frame := ToFrame(map[string]interface{}{
		"fields": []interface{}{
			map[string]interface{}{"name": "A"},
			map[string]interface{}{"name": "B"},
			map[string]interface{}{"name": "C"},
		},
		"rows": []interface{}{
			[]interface{}{100, "A", 1},
			[]interface{}{200, "B", 2},
			[]interface{}{300, "C"},
		},
	})

	assert.Equal(t, 3, frame.Length())
	assert.Equal(t, []interface{}{100, 200, 300}, frame.Fields[0].Values.ToSlice())
	assert.Equal(t, []interface{}{1, 2, nil}, frame.Fields[2].Values.ToSlice())
}

func TestToFrame_OrderPreserved(t *testing.T) {
	names := []string{"z", "a", "m", "b"}
	columns := make([]models.Column, len(names))
	for i, n := range names {
		columns[i] = models.Column{Text: n}
	}
	frame := ToFrame(&models.TableData{Columns: columns})
	for i, f := range frame.Fields {
		assert.Equal(t, names[i], f.Name)
	}
}
