package dataframe

import (
	"strings"

	"github.com/basekick-labs/arcframe/pkg/models"
)

// Classify reports which shape family input belongs to. It never fails:
// anything it cannot recognize is models.ShapeUnknown.
//
// Checks run in priority order: canonical frame, columnar DTO, table,
// time series, document set. A non-empty map matching none of the others is
// a document set; an empty map is unknown.
func Classify(input interface{}) models.ShapeTag {
	switch v := input.(type) {
	case nil:
		return models.ShapeUnknown
	case *models.Frame:
		if v == nil {
			return models.ShapeUnknown
		}
		return models.ShapeFrame
	case models.Frame:
		return models.ShapeFrame
	case *models.FrameDTO:
		return nonNil(v != nil, models.ShapeColumnarDTO)
	case models.FrameDTO:
		return models.ShapeColumnarDTO
	case *models.TableData:
		return nonNil(v != nil, models.ShapeTable)
	case models.TableData:
		return models.ShapeTable
	case *models.TimeSeries:
		return nonNil(v != nil, models.ShapeTimeSeries)
	case models.TimeSeries:
		return models.ShapeTimeSeries
	case *models.DocumentSet:
		return nonNil(v != nil, models.ShapeDocuments)
	case models.DocumentSet:
		return models.ShapeDocuments
	}

	m, ok := asMap(input)
	if !ok {
		return models.ShapeUnknown
	}
	return classifyMap(m)
}

func nonNil(ok bool, tag models.ShapeTag) models.ShapeTag {
	if !ok {
		return models.ShapeUnknown
	}
	return tag
}

func classifyMap(m map[string]interface{}) models.ShapeTag {
	if _, ok := asList(m[keyFields]); ok {
		return models.ShapeColumnarDTO
	}

	_, hasColumns := asList(m[keyColumns])
	_, hasRows := asList(m[keyRows])
	if hasColumns && hasRows {
		return models.ShapeTable
	}

	docsMarker := isDocumentsMarker(m[keyType])
	if points, ok := asList(m[keyDatapoints]); ok {
		if docsMarker {
			return models.ShapeDocuments
		}
		for _, p := range points {
			if !isPair(p) {
				return models.ShapeDocuments
			}
		}
		return models.ShapeTimeSeries
	}

	// any other non-empty bag is a document set without documents
	if docsMarker || len(m) > 0 {
		return models.ShapeDocuments
	}
	return models.ShapeUnknown
}

func isDocumentsMarker(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.EqualFold(s, DocumentsType)
}
