package dataframe

import (
	"fmt"
	"reflect"

	"github.com/basekick-labs/arcframe/pkg/models"
)

// asList returns v as a generic list. Typed slices and arrays (other than
// byte slices) are converted element by element.
func asList(v interface{}) ([]interface{}, bool) {
	switch l := v.(type) {
	case nil:
		return nil, false
	case []interface{}:
		return l, true
	case []byte, string:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// asMap returns v as a string keyed map. MessagePack decoders may produce
// interface keyed maps; their keys are stringified.
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case nil:
		return nil, false
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[stringOf(k)] = val
		}
		return out, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[k] = val
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.IsNil() || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]interface{}, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

func stringOf(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// baseScalar unwraps values of named bool and string types to the
// built-in type. Everything else is returned as is.
func baseScalar(v interface{}) interface{} {
	switch v.(type) {
	case nil, bool, string, []byte, models.TimeValuer:
		return v
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return v
}

func isPair(v interface{}) bool {
	l, ok := asList(v)
	return ok && len(l) == 2
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneLabels(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// firstNonNil returns the first non-missing value of col, or nil.
func firstNonNil(col []interface{}) interface{} {
	for _, v := range col {
		if !isMissing(v) {
			return v
		}
	}
	return nil
}

// isMissing reports whether v is the missing-value sentinel. Typed nil
// pointers count as missing.
func isMissing(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
