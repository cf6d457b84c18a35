package services

import (
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"studio-board/internal/common"
)

var timeType = reflect.TypeOf(time.Time{})

// NormalizeFields converts a field set into JSON-ready values before a
// write. Nil pointers, maps, slices and interfaces become explicit nulls,
// times become RFC 3339 strings and structs become maps following their json
// tags. Functions, channels and complex numbers are rejected.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for field, value := range fields {
		if field == "" {
			return nil, common.NewValidationError("INVALID_FIELD", "field name must not be empty")
		}
		normalized, err := normalizeValue(reflect.ValueOf(value))
		if err != nil {
			return nil, common.NewValidationError("INVALID_FIELD", fmt.Sprintf("field %q: %v", field, err))
		}
		out[field] = normalized
	}
	return out, nil
}

func normalizeValue(v reflect.Value) (any, error) {
	if !v.IsValid() {
		return nil, nil
	}

	if v.Type() == timeType {
		return v.Interface().(time.Time).UTC().Format(time.RFC3339Nano), nil
	}

	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil, nil
		}
		return normalizeValue(v.Elem())

	case reflect.Map:
		if v.IsNil() {
			return nil, nil
		}
		if v.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map keys must be strings, got %s", v.Type().Key())
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			value, err := normalizeValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = value
		}
		return out, nil

	case reflect.Slice:
		if v.IsNil() {
			return nil, nil
		}
		fallthrough
	case reflect.Array:
		out := make([]any, v.Len())
		for i := 0; i < v.Len(); i++ {
			value, err := normalizeValue(v.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = value
		}
		return out, nil

	case reflect.Struct:
		encoded, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, err
		}
		var out any
		if err := json.Unmarshal(encoded, &out); err != nil {
			return nil, err
		}
		return out, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer, reflect.Complex64, reflect.Complex128, reflect.Uintptr:
		return nil, fmt.Errorf("unsupported value of kind %s", v.Kind())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return v.Float(), nil
	case reflect.Bool:
		return v.Bool(), nil
	case reflect.String:
		return v.String(), nil
	}

	return nil, fmt.Errorf("unsupported value of kind %s", v.Kind())
}
