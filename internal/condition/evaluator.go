package condition

import (
	"reflect"
	"strconv"
	"strings"
)

// MaxDepth bounds condition tree recursion. Nodes nested deeper than
// this evaluate to false instead of risking stack exhaustion on
// malformed or adversarial documents.
const MaxDepth = 32

// Evaluate runs a condition tree against a context object. It is pure:
// no state is read or written, and no error is ever raised. Malformed
// nodes (unknown operator, missing path) degrade to false.
//
// An empty All combinator is vacuously true; an empty Any is vacuously
// false. A node with neither combinator present is treated as a leaf.
func Evaluate(c Condition, ctx map[string]interface{}) bool {
	return evaluate(c, ctx, 0, nil)
}

// EvaluateTrace evaluates like Evaluate and additionally returns the
// per-node results in post-order, for rule simulation output.
func EvaluateTrace(c Condition, ctx map[string]interface{}) (bool, []NodeResult) {
	var trace []NodeResult
	ok := evaluate(c, ctx, 0, &trace)
	return ok, trace
}

func evaluate(c Condition, ctx map[string]interface{}, depth int, trace *[]NodeResult) bool {
	if depth > MaxDepth {
		return record(c, false, trace)
	}
	// A present-but-empty combinator keeps its vacuous value: nil vs
	// empty distinguishes an absent key from `{"all":[]}` in the JSON.
	if c.All != nil {
		ok := true
		for _, child := range c.All {
			if !evaluate(child, ctx, depth+1, trace) {
				ok = false
				if trace == nil {
					break
				}
			}
		}
		return record(c, ok, trace)
	}
	if c.Any != nil {
		ok := false
		for _, child := range c.Any {
			if evaluate(child, ctx, depth+1, trace) {
				ok = true
				if trace == nil {
					break
				}
			}
		}
		return record(c, ok, trace)
	}
	left, found := lookup(ctx, c.Field)
	return record(c, Compare(c.Op, left, found, c.Value), trace)
}

func record(c Condition, result bool, trace *[]NodeResult) bool {
	if trace != nil {
		*trace = append(*trace, NodeResult{Condition: c, Result: result})
	}
	return result
}

// lookup walks a dot-separated path through nested maps. The second
// return value is false when any segment is absent or the path crosses
// a non-map value.
func lookup(ctx map[string]interface{}, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	var current interface{} = ctx
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Compare applies one leaf operator. leftFound distinguishes an absent
// path from a present null. Unknown operators return false.
func Compare(op Operator, left interface{}, leftFound bool, right interface{}) bool {
	switch op {
	case OpEq:
		return looseEqual(left, right)
	case OpNeq:
		return !looseEqual(left, right)
	case OpGt:
		l, r, ok := bothNumbers(left, right)
		return ok && l > r
	case OpGte:
		l, r, ok := bothNumbers(left, right)
		return ok && l >= r
	case OpLt:
		l, r, ok := bothNumbers(left, right)
		return ok && l < r
	case OpLte:
		l, r, ok := bothNumbers(left, right)
		return ok && l <= r
	case OpIncludes:
		return includes(left, right)
	case OpExcludes:
		// Asymmetric with includes on purpose: a non-sequence,
		// non-text left operand yields false, not true.
		switch v := left.(type) {
		case []interface{}:
			return !sliceContains(v, right)
		case string:
			return !strings.Contains(v, stringify(right))
		}
		return false
	case OpExists:
		return leftFound && left != nil
	case OpMissing:
		return !leftFound || left == nil
	}
	return false
}

func includes(left, right interface{}) bool {
	switch v := left.(type) {
	case []interface{}:
		return sliceContains(v, right)
	case string:
		return strings.Contains(v, stringify(right))
	}
	return false
}

func sliceContains(items []interface{}, want interface{}) bool {
	for _, item := range items {
		if looseEqual(item, want) {
			return true
		}
	}
	return false
}

// looseEqual matches strict equality over JSON-decoded values, with
// numeric kinds normalized so that 30 and 30.0 compare equal.
func looseEqual(a, b interface{}) bool {
	if na, aok := toNumber(a); aok {
		if nb, bok := toNumber(b); bok {
			return na == nb
		}
		return false
	}
	if _, bok := toNumber(b); bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func bothNumbers(a, b interface{}) (float64, float64, bool) {
	l, lok := coerceNumber(a)
	r, rok := coerceNumber(b)
	return l, r, lok && rok
}

// toNumber recognizes values that are already numeric.
func toNumber(v interface{}) (float64, bool) {
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
	}
	return 0, false
}

// coerceNumber additionally coerces strings and booleans, matching the
// ordering operators' number-coercion semantics.
func coerceNumber(v interface{}) (float64, bool) {
	if n, ok := toNumber(v); ok {
		return n, true
	}
	switch t := v.(type) {
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return n, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return "null"
	}
	return ""
}
