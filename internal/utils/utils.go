package utils

import (
	"reflect"
	"sort"
)

// NormalizeValue recursively normalizes a value for consistent JSON marshaling.
// Scope keys stay stable regardless of how the
// value was constructed.
func NormalizeValue(value interface{}) interface{} {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		result := make(map[string]interface{}, len(v))
		for _, k := range keys {
			result[k] = NormalizeValue(v[k])
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, item := range v {
			result[i] = NormalizeValue(item)
		}
		return result
	}

	// Typed slices ([]string, []int64, ...) normalize to []interface{} so that
	// IN arguments built differently still hash the same.
	rv := reflect.ValueOf(value)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		result := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			result[i] = NormalizeValue(rv.Index(i).Interface())
		}
		return result
	}
	return value
}

// IsZero checks if a reflect.Value is the zero value for its type.
// This handles various kinds including structs, slices, maps, pointers, and primitives.
func IsZero(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Invalid:
		return true
	case reflect.Array, reflect.String:
		return v.Len() == 0
	case reflect.Slice, reflect.Map:
		return v.IsNil() || v.Len() == 0
	case reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	case reflect.Ptr:
		return v.IsNil()
	default:
		return v.IsZero()
	}
}
