package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// ComputeChanges compares every key present in newValue against oldValue and
// returns only the keys whose values differ. A key missing from oldValue is
// treated as null. Keys present only in oldValue are not reported.
//
// Values may be maps or any JSON-marshalable struct; structs are compared by
// their JSON field names. Equality is by value: 1, int64(1) and 1.0 are equal.
func ComputeChanges(oldValue, newValue any) (map[string]FieldChange, error) {
	newFields, err := FieldMap(newValue)
	if err != nil {
		return nil, fmt.Errorf("new value: %w", err)
	}
	oldFields, err := FieldMap(oldValue)
	if err != nil {
		return nil, fmt.Errorf("old value: %w", err)
	}

	changes := make(map[string]FieldChange)
	for key, nv := range newFields {
		ov := oldFields[key]
		if valuesEqual(ov, nv) {
			continue
		}
		changes[key] = FieldChange{Old: ov, New: nv}
	}
	return changes, nil
}

// FieldMap returns v as field name to value. Structs and other non-map values
// go through their JSON encoding; nil yields an empty map.
func FieldMap(v any) (map[string]any, error) {
	switch typed := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return typed, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if bytes.Equal(data, []byte("null")) {
		return map[string]any{}, nil
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("value of type %T is not an object", v)
	}
	return fields, nil
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ca, errA := canonicalJSON(a)
	cb, errB := canonicalJSON(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ca, cb)
}

// canonicalJSON encodes v so that values which survive a JSON round trip (for
// example through a jsonb column) encode identically: map keys sorted, numbers
// normalised to float64.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
