// Package rules implements the condition evaluator, rule matcher, and
// approval-requirement resolver, plus the persisted rule catalog.
package rules

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/avasiliu/tradegate/pkg/types"
)

// Evaluate runs one condition against a fact record.
//
// Evaluation never fails open: a malformed condition, an absent field, or a
// non-numeric operand under a numeric operator all yield false, so a broken
// rule degrades to "never triggers" instead of blocking ticket submission.
// The only operators that match an absent field are the negative ones
// (not_equals, not_in) compared against concrete operands.
func Evaluate(c types.Condition, facts types.FactRecord) bool {
	if c.Validate() != nil {
		return false
	}

	actual, present := facts.Lookup(c.Field)
	if !present {
		// An absent fact differs from every concrete value.
		switch c.Op {
		case types.OpNotEquals:
			return c.Value != nil
		case types.OpNotIn:
			return len(c.Values) > 0
		}
		return false
	}

	switch c.Op {
	case types.OpEquals:
		return scalarEqual(actual, c.Value)
	case types.OpNotEquals:
		return !scalarEqual(actual, c.Value)
	case types.OpGreaterThan, types.OpLessThan, types.OpGreaterOrEqual, types.OpLessOrEqual:
		return compareNumeric(c.Op, actual, c.Value)
	case types.OpIn, types.OpIsOneOf:
		return containsEqual(c.Values, actual)
	case types.OpNotIn:
		return !containsEqual(c.Values, actual)
	}
	return false
}

// scalarEqual compares two scalars by value. Numerically coercible operands
// are compared as numbers so 2500000 matches "2500000" and 2.5e6 alike;
// everything else falls back to the canonical string form, which also
// handles booleans.
func scalarEqual(a, b any) bool {
	af, aOK := toNumber(a)
	bf, bOK := toNumber(b)
	if aOK && bOK {
		return af == bf
	}
	return canonString(a) == canonString(b)
}

func containsEqual(values []any, actual any) bool {
	for _, v := range values {
		if scalarEqual(actual, v) {
			return true
		}
	}
	return false
}

func compareNumeric(op types.Operator, actual, operand any) bool {
	af, ok := toNumber(actual)
	if !ok {
		return false
	}
	bf, ok := toNumber(operand)
	if !ok {
		return false
	}
	switch op {
	case types.OpGreaterThan:
		return af > bf
	case types.OpLessThan:
		return af < bf
	case types.OpGreaterOrEqual:
		return af >= bf
	case types.OpLessOrEqual:
		return af <= bf
	}
	return false
}

// toNumber coerces JSON scalars to float64. Booleans are not numbers.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func canonString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case float64:
		return strconv.FormatFloat(s, 'g', -1, 64)
	default:
		// Fallback for the rare operand that is not a JSON scalar.
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
