package rules

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/liamcoop/casereview/policy"
)

// Compare evaluates actual OP expected. It never panics and fails closed:
// a nil actual, an unknown operator, or operand types the operator cannot
// compare all yield false.
//
// Ordering operators accept two numbers or two strings. == and != compare
// numbers numerically and otherwise require operands of the same kind.
// in and not_in test actual against the expected collection (slice, array,
// map keys, or substring of a string); contains tests expected against actual.
func Compare(actual any, op policy.Operator, expected any) bool {
	if actual == nil {
		return false
	}

	switch op {
	case policy.OpGreater, policy.OpGreaterEqual, policy.OpLess, policy.OpLessEqual:
		c, ok := order(actual, expected)
		if !ok {
			return false
		}
		switch op {
		case policy.OpGreater:
			return c > 0
		case policy.OpGreaterEqual:
			return c >= 0
		case policy.OpLess:
			return c < 0
		default:
			return c <= 0
		}

	case policy.OpEqual:
		eq, ok := equal(actual, expected)
		return ok && eq

	case policy.OpNotEqual:
		eq, ok := equal(actual, expected)
		return ok && !eq

	case policy.OpIn:
		member, ok := contains(expected, actual)
		return ok && member

	case policy.OpNotIn:
		member, ok := contains(expected, actual)
		return ok && !member

	case policy.OpContains:
		member, ok := contains(actual, expected)
		return ok && member
	}

	return false
}

// toNumber converts Go numeric kinds and json.Number to float64.
// Strings are not numbers here: inputs are normalized before evaluation.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case int16:
		return float64(n), true
	case int8:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint8:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// order returns -1, 0 or 1, and false when the operands are not ordered against each other
func order(a, b any) (int, bool) {
	if x, ok := toNumber(a); ok {
		y, ok := toNumber(b)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		case x == y:
			return 0, true
		}
		// NaN
		return 0, false
	}

	if x, ok := a.(string); ok {
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	}

	return 0, false
}

// equal reports whether a equals b, and false when the operands are of incomparable kinds
func equal(a, b any) (bool, bool) {
	if a == nil || b == nil {
		return false, false
	}

	if x, ok := toNumber(a); ok {
		y, ok := toNumber(b)
		if !ok {
			return false, false
		}
		return x == y, true
	}

	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y, ok
	case bool:
		y, ok := b.(bool)
		return ok && x == y, ok
	}

	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() != vb.Kind() {
		return false, false
	}
	return reflect.DeepEqual(a, b), true
}

// contains reports whether element is a member of collection.
// The second result is false when collection is not a collection.
func contains(collection, element any) (bool, bool) {
	if collection == nil {
		return false, false
	}

	if s, ok := collection.(string); ok {
		sub, ok := element.(string)
		if !ok {
			return false, false
		}
		return strings.Contains(s, sub), true
	}

	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if eq, ok := equal(v.Index(i).Interface(), element); ok && eq {
				return true, true
			}
		}
		return false, true

	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if eq, ok := equal(iter.Key().Interface(), element); ok && eq {
				return true, true
			}
		}
		return false, true
	}

	return false, false
}
