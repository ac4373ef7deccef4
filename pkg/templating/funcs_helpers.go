package templating

import "reflect"

// isSet reports whether a layout variable carries something worth printing:
// nil, empty strings, zero numbers and empty collections are unset.
func isSet(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case string:
		return v != ""
	case bool:
		return v
	}
	rv := reflect.ValueOf(val)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return !rv.IsZero()
}

// fallback returns val, or def when val is unset: {{default "Ulysse" .title}}.
func fallback(def, val any) any {
	if isSet(val) {
		return val
	}
	return def
}
