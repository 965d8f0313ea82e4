package audit

import (
	"reflect"
	"testing"
)

func TestComputeChanges(t *testing.T) {
	tests := []struct {
		name     string
		oldValue any
		newValue any
		want     map[string]FieldChange
	}{
		{
			name:     "only differing keys",
			oldValue: map[string]any{"a": 1, "b": 2},
			newValue: map[string]any{"a": 1, "b": 5, "c": 9},
			want: map[string]FieldChange{
				"b": {Old: 2, New: 5},
				"c": {Old: nil, New: 9},
			},
		},
		{
			name:     "keys only in old value are ignored",
			oldValue: map[string]any{"a": 1, "gone": "x"},
			newValue: map[string]any{"a": 1},
			want:     map[string]FieldChange{},
		},
		{
			name:     "numeric types compare by value",
			oldValue: map[string]any{"amount": 10},
			newValue: map[string]any{"amount": 10.0},
			want:     map[string]FieldChange{},
		},
		{
			name:     "nested values compare by value",
			oldValue: map[string]any{"tags": []string{"a", "b"}},
			newValue: map[string]any{"tags": []any{"a", "b"}},
			want:     map[string]FieldChange{},
		},
		{
			name:     "nil old value",
			oldValue: nil,
			newValue: map[string]any{"a": "x"},
			want:     map[string]FieldChange{"a": {Old: nil, New: "x"}},
		},
		{
			name:     "null to null is unchanged",
			oldValue: map[string]any{},
			newValue: map[string]any{"a": nil},
			want:     map[string]FieldChange{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeChanges(tt.oldValue, tt.newValue)
			if err != nil {
				t.Fatalf("ComputeChanges() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ComputeChanges() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestComputeChanges_Structs(t *testing.T) {
	type rate struct {
		Amount float64 `json:"amount"`
		Unit   string  `json:"unit"`
	}

	got, err := ComputeChanges(rate{Amount: 12.5, Unit: "hour"}, rate{Amount: 14, Unit: "hour"})
	if err != nil {
		t.Fatalf("ComputeChanges() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 change, got %d: %v", len(got), got)
	}
	change, ok := got["amount"]
	if !ok {
		t.Fatal("expected change for amount")
	}
	if change.Old != 12.5 || change.New != float64(14) {
		t.Errorf("amount change = %v, want {12.5 14}", change)
	}
}

func TestComputeChanges_NotAnObject(t *testing.T) {
	if _, err := ComputeChanges(nil, []int{1, 2}); err == nil {
		t.Error("expected error for non-object value")
	}
}
