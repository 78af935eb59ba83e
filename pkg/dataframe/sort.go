package dataframe

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/basekick-labs/arcframe/pkg/models"
)

// value ranks; determinate kinds order before rankOther
const (
	rankNumber = iota
	rankTime
	rankString
	rankBoolean
	rankOther
)

type sortKey struct {
	rank int
	num  float64
	str  string
	t    time.Time
	b    bool
}

func keyOf(v interface{}) sortKey {
	if isMissing(v) {
		return sortKey{rank: rankOther}
	}
	switch val := baseScalar(v).(type) {
	case bool:
		return sortKey{rank: rankBoolean, b: val}
	case string:
		return sortKey{rank: rankString, str: val}
	case []byte:
		return sortKey{rank: rankString, str: string(val)}
	}
	if f, ok := toFloat64(v); ok {
		if math.IsNaN(f) {
			return sortKey{rank: rankOther}
		}
		return sortKey{rank: rankNumber, num: f}
	}
	if t, ok := AsTime(v); ok {
		return sortKey{rank: rankTime, t: t}
	}
	return sortKey{rank: rankOther}
}

func compareKeys(a, b sortKey) int {
	if a.rank != b.rank {
		if a.rank < b.rank {
			return -1
		}
		return 1
	}
	switch a.rank {
	case rankNumber:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
	case rankTime:
		return a.t.Compare(b.t)
	case rankString:
		return strings.Compare(a.str, b.str)
	case rankBoolean:
		switch {
		case !a.b && b.b:
			return -1
		case a.b && !b.b:
			return 1
		}
	}
	return 0
}

// Sort returns a new frame whose rows are ordered by the values of field
// fieldIndex. Numbers compare numerically and strings by code point; missing
// and unrecognized values compare equal to each other and always sort last,
// in both directions. The sort is stable, also when descending.
//
// Every field is permuted with the same row order. Field descriptors (name,
// type, config, labels) are shared with the input; only value vectors are new.
func Sort(frame *models.Frame, fieldIndex int, descending bool) (*models.Frame, error) {
	count := 0
	if frame != nil {
		count = len(frame.Fields)
	}
	if fieldIndex < 0 || fieldIndex >= count {
		return nil, fmt.Errorf("%w: index %d, frame has %d fields", ErrFieldIndexOutOfRange, fieldIndex, count)
	}

	n := frame.Length()
	sortField := frame.Fields[fieldIndex]
	keys := make([]sortKey, n)
	for i := range keys {
		keys[i] = keyOf(valueAt(sortField, i))
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := keys[order[i]], keys[order[j]]
		if a.rank == rankOther {
			return false
		}
		if b.rank == rankOther {
			return true
		}
		c := compareKeys(a, b)
		if descending {
			c = -c
		}
		return c < 0
	})

	out := *frame
	out.Fields = make([]*models.Field, len(frame.Fields))
	for j, f := range frame.Fields {
		values := make([]interface{}, n)
		for i, src := range order {
			values[i] = valueAt(f, src)
		}
		out.Fields[j] = &models.Field{
			Name:   f.Name,
			Type:   f.Type,
			Config: f.Config,
			Labels: f.Labels,
			Values: models.NewArrayVector(values),
		}
	}
	return &out, nil
}
