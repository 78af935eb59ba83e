package models

import "strings"

// ShapeTag identifies which payload family a value belongs to.
type ShapeTag string

const (
	ShapeUnknown     ShapeTag = "unknown"
	ShapeFrame       ShapeTag = "frame"
	ShapeColumnarDTO ShapeTag = "dto"
	ShapeTable       ShapeTag = "table"
	ShapeTimeSeries  ShapeTag = "timeseries"
	ShapeDocuments   ShapeTag = "docs"
)

// ParseShapeTag converts a user supplied name to a ShapeTag.
// Unrecognized names return ShapeUnknown and false.
func ParseShapeTag(s string) (ShapeTag, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "frame", "dataframe":
		return ShapeFrame, true
	case "dto", "columnar":
		return ShapeColumnarDTO, true
	case "table":
		return ShapeTable, true
	case "timeseries", "time_series", "series":
		return ShapeTimeSeries, true
	case "docs", "documents", "json":
		return ShapeDocuments, true
	default:
		return ShapeUnknown, false
	}
}

// LegacyShape is implemented by every legacy payload family.
// ToMap renders the value in its wire layout (the layout JSON and MessagePack encoders emit).
type LegacyShape interface {
	Shape() ShapeTag
	ToMap() map[string]interface{}
}

// Datapoint is one [value, timestamp] pair of a time series.
type Datapoint [2]interface{}

// TimeSeries is the legacy {target, datapoints} response.
type TimeSeries struct {
	Target     string
	Datapoints []Datapoint
	Unit       string
	Tags       map[string]string
	RefID      string
	Meta       map[string]interface{}
}

func (ts *TimeSeries) Shape() ShapeTag { return ShapeTimeSeries }

func (ts *TimeSeries) ToMap() map[string]interface{} {
	points := make([]interface{}, len(ts.Datapoints))
	for i, dp := range ts.Datapoints {
		points[i] = []interface{}{dp[0], dp[1]}
	}
	m := map[string]interface{}{
		"target":     ts.Target,
		"datapoints": points,
	}
	if ts.Unit != "" {
		m["unit"] = ts.Unit
	}
	if len(ts.Tags) > 0 {
		m["tags"] = ts.Tags
	}
	putRefAndMeta(m, ts.RefID, ts.Meta)
	return m
}

// Column describes one table column. Config holds every descriptor key other than text.
type Column struct {
	Text   string
	Config FieldConfig
}

// TableData is the legacy {columns, rows} response.
type TableData struct {
	Columns []Column
	Rows    [][]interface{}
	Type    string
	RefID   string
	Meta    map[string]interface{}
}

func (t *TableData) Shape() ShapeTag { return ShapeTable }

func (t *TableData) ToMap() map[string]interface{} {
	columns := make([]interface{}, len(t.Columns))
	for i, col := range t.Columns {
		desc := make(map[string]interface{}, len(col.Config)+1)
		for k, v := range col.Config {
			desc[k] = v
		}
		desc["text"] = col.Text
		columns[i] = desc
	}
	rows := make([]interface{}, len(t.Rows))
	for i, row := range t.Rows {
		rows[i] = row
	}
	m := map[string]interface{}{
		"columns": columns,
		"rows":    rows,
	}
	if t.Type != "" {
		m["type"] = t.Type
	}
	putRefAndMeta(m, t.RefID, t.Meta)
	return m
}

// DocumentSet is a list of raw JSON documents plus scalar metadata
// (filterable, total, type, ...) that travels next to them.
type DocumentSet struct {
	Target    string
	Documents []interface{}
	Extra     map[string]interface{}
}

func (d *DocumentSet) Shape() ShapeTag { return ShapeDocuments }

func (d *DocumentSet) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(d.Extra)+2)
	for k, v := range d.Extra {
		m[k] = v
	}
	docs := d.Documents
	if docs == nil {
		docs = []interface{}{}
	}
	m["datapoints"] = docs
	if d.Target != "" {
		m["target"] = d.Target
	}
	return m
}

// FieldDTO is the plain-list form of a Field.
type FieldDTO struct {
	Name   string
	Type   FieldType
	Config FieldConfig
	Labels map[string]string
	Values []interface{}
}

// FrameDTO is the explicit columnar transfer object.
// Rows is only read for payloads written before fields carried their own values.
type FrameDTO struct {
	Name   string
	RefID  string
	Meta   map[string]interface{}
	Fields []FieldDTO
	Rows   [][]interface{}
}

func (d *FrameDTO) Shape() ShapeTag { return ShapeColumnarDTO }

func (d *FrameDTO) ToMap() map[string]interface{} {
	fields := make([]interface{}, len(d.Fields))
	for i, f := range d.Fields {
		fm := map[string]interface{}{"name": f.Name}
		if f.Type != FieldTypeUndefined {
			fm["type"] = string(f.Type)
		}
		if len(f.Config) > 0 {
			fm["config"] = map[string]interface{}(f.Config)
		}
		if len(f.Labels) > 0 {
			fm["labels"] = f.Labels
		}
		values := f.Values
		if values == nil {
			values = []interface{}{}
		}
		fm["values"] = values
		fields[i] = fm
	}
	m := map[string]interface{}{"fields": fields}
	if d.Name != "" {
		m["name"] = d.Name
	}
	putRefAndMeta(m, d.RefID, d.Meta)
	return m
}

func putRefAndMeta(m map[string]interface{}, refID string, meta map[string]interface{}) {
	if refID != "" {
		m["refId"] = refID
	}
	if meta != nil {
		m["meta"] = meta
	}
}
