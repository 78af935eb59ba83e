package dataframe

// Names shared by the converters and the legacy adapter. Both sides must agree
// on them for round trips to be lossless.
const (
	DefaultValueFieldName    = "Value"
	DefaultTimeFieldName     = "Time"
	DefaultDocumentFieldName = "Document"

	// TableType is the type marker written on reconstructed tables.
	TableType = "table"
	// DocumentsType is the type marker identifying a document set.
	DocumentsType = "docs"
)

// DefaultTimeAliases are the column names that force a time type during inference.
var DefaultTimeAliases = []string{"time", "date"}

// wire keys of the legacy payloads
const (
	keyFields     = "fields"
	keyColumns    = "columns"
	keyRows       = "rows"
	keyDatapoints = "datapoints"
	keyTarget     = "target"
	keyType       = "type"
	keyText       = "text"
	keyName       = "name"
	keyValues     = "values"
	keyConfig     = "config"
	keyLabels     = "labels"
	keyUnit       = "unit"
	keyTags       = "tags"
	keyRefID      = "refId"
	keyMeta       = "meta"
)
