// Package values holds helpers for the loosely typed values found in documents
// decoded from JSON, YAML or a store driver.
package values

import (
	"encoding/json"
	"reflect"
)

// ToFloat64 converts any Go numeric value to float64
func ToFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Equal compares numbers by value regardless of their Go type and
// everything else deeply
func Equal(a, b interface{}) bool {
	fa, aNum := ToFloat64(a)
	fb, bNum := ToFloat64(b)
	if aNum && bNum {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// Elements returns the elements of a slice value, or nil if v is not a slice
func Elements(v interface{}) []interface{} {
	if v == nil {
		return nil
	}
	if s, ok := v.([]interface{}); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// Contains reports whether the slice value v holds an element equal to want
func Contains(v interface{}, want interface{}) bool {
	for _, el := range Elements(v) {
		if Equal(el, want) {
			return true
		}
	}
	return false
}

// CopyDocument creates a deep copy of a document so that hooks and async
// tasks get fully isolated data
func CopyDocument(doc map[string]interface{}) map[string]interface{} {
	if doc == nil {
		return nil
	}
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = Copy(v)
	}
	return out
}

// Copy recursively copies maps and slices
func Copy(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return CopyDocument(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = Copy(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		copy(out, val)
		return out
	case []int:
		out := make([]int, len(val))
		copy(out, val)
		return out
	case []float64:
		out := make([]float64, len(val))
		copy(out, val)
		return out
	default:
		// primitives are copied by value
		return v
	}
}
