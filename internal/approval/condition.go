package approval

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/onnwee/caregov/internal/audit"
)

// Operator is a comparison used by a rule condition.
type Operator string

// Condition operators.
const (
	OpEq      Operator = "eq"
	OpNe      Operator = "ne"
	OpGt      Operator = "gt"
	OpGte     Operator = "gte"
	OpLt      Operator = "lt"
	OpLte     Operator = "lte"
	OpIn      Operator = "in"
	OpChanged Operator = "changed"
)

// Condition is a predicate over a change payload. A rule with a condition only
// applies to changes that satisfy it.
type Condition struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

// Payload is the change a condition is evaluated against.
type Payload struct {
	// Values holds the entity's new values by field.
	Values map[string]any
	// Changes holds the fields that differ from the previous state.
	Changes map[string]audit.FieldChange
}

// Validate checks that the condition is well formed.
func (c *Condition) Validate() error {
	if c.Field == "" {
		return errors.New("condition field is required")
	}
	switch c.Operator {
	case OpEq, OpNe, OpChanged:
	case OpGt, OpGte, OpLt, OpLte:
		if _, ok := toFloat(c.Value); !ok {
			if _, ok := c.Value.(string); !ok {
				return fmt.Errorf("operator %s needs a number or string value", c.Operator)
			}
		}
	case OpIn:
		if _, ok := c.Value.([]any); !ok {
			return errors.New("operator in needs a list value")
		}
	default:
		return fmt.Errorf("unknown condition operator %q", c.Operator)
	}
	return nil
}

// Matches evaluates the condition. A nil payload never matches.
func (c *Condition) Matches(p *Payload) bool {
	if p == nil {
		return false
	}
	if c.Operator == OpChanged {
		_, ok := p.Changes[c.Field]
		return ok
	}

	actual := p.Values[c.Field]
	switch c.Operator {
	case OpEq:
		return equalValues(actual, c.Value)
	case OpNe:
		return !equalValues(actual, c.Value)
	case OpIn:
		list, _ := c.Value.([]any)
		for _, candidate := range list {
			if equalValues(actual, candidate) {
				return true
			}
		}
		return false
	case OpGt, OpGte, OpLt, OpLte:
		cmp, ok := compareValues(actual, c.Value)
		if !ok {
			return false
		}
		switch c.Operator {
		case OpGt:
			return cmp > 0
		case OpGte:
			return cmp >= 0
		case OpLt:
			return cmp < 0
		default:
			return cmp <= 0
		}
	}
	return false
}

func equalValues(a, b any) bool {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		return fa == fb
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two numbers or two strings.
func compareValues(a, b any) (int, bool) {
	fa, okA := toFloat(a)
	fb, okB := toFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	sa, okA := a.(string)
	sb, okB := b.(string)
	if okA && okB {
		switch {
		case sa < sb:
			return -1, true
		case sa > sb:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
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
