package dataframe

import (
	"testing"

	"github.com/basekick-labs/arcframe/pkg/models"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToLegacy_TimeSeriesRoundTrip(t *testing.T) {
	input := map[string]interface{}{
		"target": "Field Name",
		"datapoints": []interface{}{
			[]interface{}{100, 1},
			[]interface{}{200, 2},
		},
	}

	frame := ToFrame(input)
	legacy := ToLegacy(frame, "")
	require.Equal(t, models.ShapeTimeSeries, legacy.Shape())

	ts := legacy.(*models.TimeSeries)
	assert.Equal(t, "Field Name", ts.Target)
	assert.Equal(t, []models.Datapoint{{100, 1}, {200, 2}}, ts.Datapoints)

	if diff := cmp.Diff(input, legacy.ToMap()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestToLegacy_TimeSeriesKeepsUnitTagsAndRef(t *testing.T) {
	input := &models.TimeSeries{
		Target:     "cpu",
		Datapoints: []models.Datapoint{{1.5, 1000}, {2.5, 2000}},
		Unit:       "percent",
		Tags:       map[string]string{"host": "a"},
		RefID:      "B",
		Meta:       map[string]interface{}{"k": "v"},
	}

	got := ToLegacy(ToFrame(input), "")
	if diff := cmp.Diff(input, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestToLegacy_EmptyTimeSeries(t *testing.T) {
	frame := ToFrame(map[string]interface{}{"target": "A", "datapoints": []interface{}{}})
	got := ToLegacy(frame, "")
	require.Equal(t, models.ShapeTimeSeries, got.Shape())
	ts := got.(*models.TimeSeries)
	assert.Equal(t, "A", ts.Target)
	assert.Empty(t, ts.Datapoints)
}

func TestToLegacy_EmptyTable(t *testing.T) {
	frame := ToFrame(map[string]interface{}{"columns": []interface{}{}, "rows": []interface{}{}})
	got := ToLegacy(frame, "")

	want := map[string]interface{}{
		"columns": []interface{}{},
		"rows":    []interface{}{},
		"type":    "table",
	}
	if diff := cmp.Diff(want, got.ToMap()); diff != "" {
		t.Errorf("empty table mismatch (-want +got):\n%s", diff)
	}
}

func TestToLegacy_TableRoundTrip(t *testing.T) {
	input := map[string]interface{}{
		"columns": []interface{}{
			map[string]interface{}{"text": "a", "unit": "ms"},
			map[string]interface{}{"text": "b", "unit": "zz"},
			map[string]interface{}{"text": "c", "unit": "yy"},
		},
		"rows": []interface{}{
			[]interface{}{100, 1, "a"},
			[]interface{}{200, 2, "a"},
		},
		"type": "table",
	}

	frame := ToFrame(input)
	assert.Equal(t, "ms", frame.Fields[0].Config["unit"])

	got := ToLegacy(frame, "")
	require.Equal(t, models.ShapeTable, got.Shape())
	if diff := cmp.Diff(input, got.ToMap()); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestToLegacy_DTOToTable(t *testing.T) {
	frame := ToFrame(map[string]interface{}{
		"refId": "Z",
		"meta":  map[string]interface{}{"something": 8},
		"fields": []interface{}{
			map[string]interface{}{"name": "T", "type": "time", "values": []interface{}{1, 2, 3}},
			map[string]interface{}{"name": "N", "type": "number", "config": map[string]interface{}{"filterable": true}, "values": []interface{}{100, 200, 300}},
			map[string]interface{}{"name": "S", "type": "string", "config": map[string]interface{}{"filterable": true}, "values": []interface{}{"1", "2", "3"}},
		},
	})

	got := ToLegacy(frame, "")
	require.Equal(t, models.ShapeTable, got.Shape())
	table := got.(*models.TableData)

	assert.Equal(t, "Z", table.RefID)
	assert.Equal(t, map[string]interface{}{"something": 8}, table.Meta)
	assert.Equal(t, TableType, table.Type)

	names := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		names[i] = c.Text
	}
	assert.Equal(t, []string{"T", "N", "S"}, names)
	assert.Equal(t, true, table.Columns[1].Config["filterable"])
	assert.Equal(t, [][]interface{}{{1, 100, "1"}, {2, 200, "2"}, {3, 300, "3"}}, table.Rows)
}

func TestToLegacy_DocumentsRoundTrip(t *testing.T) {
	doc := map[string]interface{}{
		"_id":        "W5rvjW0BKe0cA-E1aHvr",
		"@message":   "Deployed website",
		"@timestamp": []interface{}{1570044340458},
	}
	input := map[string]interface{}{
		"datapoints": []interface{}{doc},
		"filterable": true,
		"target":     "docs",
		"total":      206,
		"type":       "docs",
	}

	got := ToLegacy(ToFrame(input), "")
	require.Equal(t, models.ShapeDocuments, got.Shape())

	m := got.ToMap()
	assert.Equal(t, "docs", m["type"])
	assert.Equal(t, "docs", m["target"])
	assert.Equal(t, true, m["filterable"])
	if diff := cmp.Diff(input, m); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestToLegacy_Hints(t *testing.T) {
	series := ToFrame(&models.TimeSeries{Target: "v", Datapoints: []models.Datapoint{{1, 10}, {2, 20}}})
	table := ToFrame(&models.TableData{
		Columns: []models.Column{{Text: "time"}, {Text: "value"}},
		Rows:    [][]interface{}{{10, 1}, {20, 2}},
	})
	wide := ToFrame(&models.TableData{
		Columns: []models.Column{{Text: "a"}, {Text: "b"}, {Text: "c"}},
		Rows:    [][]interface{}{{1, 2, 3}},
	})

	tests := []struct {
		name  string
		frame *models.Frame
		hint  models.ShapeTag
		want  models.ShapeTag
	}{
		{"series no hint", series, "", models.ShapeTimeSeries},
		{"series as table", series, models.ShapeTable, models.ShapeTable},
		{"series as dto", series, models.ShapeColumnarDTO, models.ShapeColumnarDTO},
		{"table no hint", table, models.ShapeUnknown, models.ShapeTable},
		{"time named table as series", table, models.ShapeTimeSeries, models.ShapeTimeSeries},
		{"wide table as series falls back", wide, models.ShapeTimeSeries, models.ShapeTable},
		{"wide table as docs falls back", wide, models.ShapeDocuments, models.ShapeTable},
		{"nil frame", nil, "", models.ShapeTable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ToLegacy(tt.frame, tt.hint).Shape())
		})
	}
}

func TestToLegacy_TimeSeriesFromTableByName(t *testing.T) {
	frame := ToFrame(&models.TableData{
		Columns: []models.Column{{Text: "value", Config: models.FieldConfig{"unit": "s"}}, {Text: "time"}},
		Rows:    [][]interface{}{{1, 10}, {2, 20}},
	})
	got := ToLegacy(frame, models.ShapeTimeSeries).(*models.TimeSeries)
	assert.Equal(t, "value", got.Target)
	assert.Equal(t, "s", got.Unit)
	assert.Equal(t, []models.Datapoint{{1, 10}, {2, 20}}, got.Datapoints)
}

func TestToDTO(t *testing.T) {
	frame := &models.Frame{
		Name:  "frame",
		RefID: "A",
		Fields: []*models.Field{
			{Name: "t", Type: models.FieldTypeTime, Values: models.NewArrayVector([]interface{}{1, 2})},
			{Name: "v", Labels: map[string]string{"host": "a"}, Values: models.NewArrayVector([]interface{}{"x", nil})},
		},
	}

	want := map[string]interface{}{
		"name":  "frame",
		"refId": "A",
		"fields": []interface{}{
			map[string]interface{}{"name": "t", "type": "time", "values": []interface{}{1, 2}},
			map[string]interface{}{"name": "v", "labels": map[string]string{"host": "a"}, "values": []interface{}{"x", nil}},
		},
	}
	if diff := cmp.Diff(want, ToDTO(frame).ToMap()); diff != "" {
		t.Errorf("dto mismatch (-want +got):\n%s", diff)
	}

	// DTO output converts back to an equivalent frame
	back := ToFrame(ToDTO(frame))
	require.Len(t, back.Fields, 2)
	assert.Equal(t, frame.Fields[1].Values.ToSlice(), back.Fields[1].Values.ToSlice())
}
