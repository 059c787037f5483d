package style

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb/geojson"
)

// Filter is the restricted predicate language evaluated against feature
// properties: equality, membership, presence, and boolean combinators.
// It is parsed from the JSON array form used by map style documents,
// e.g. ["==","class","motorway"] or ["all",["has","name"],["!=","class","rail"]].
//
// A nil *Filter matches every feature.
type Filter struct {
	Op     string
	Prop   string
	Values []any
	Subs   []*Filter
}

func (f *Filter) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("filter must be a JSON array: %w", err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("filter array is empty")
	}

	var op string
	if err := json.Unmarshal(raw[0], &op); err != nil {
		return fmt.Errorf("filter operator: %w", err)
	}
	f.Op = op

	switch op {
	case "all", "any", "none":
		for _, r := range raw[1:] {
			sub := &Filter{}
			if err := json.Unmarshal(r, sub); err != nil {
				return err
			}
			f.Subs = append(f.Subs, sub)
		}
		return nil
	case "==", "!=", "in", "!in", "has", "!has":
		if len(raw) < 2 {
			return fmt.Errorf("filter %q needs a property name", op)
		}
		if err := json.Unmarshal(raw[1], &f.Prop); err != nil {
			return fmt.Errorf("filter %q property: %w", op, err)
		}
		for _, r := range raw[2:] {
			var v any
			if err := json.Unmarshal(r, &v); err != nil {
				return err
			}
			f.Values = append(f.Values, v)
		}
		return nil
	}
	return fmt.Errorf("unsupported filter operator %q", op)
}

// MarshalJSON emits the same array form UnmarshalJSON accepts.
func (f *Filter) MarshalJSON() ([]byte, error) {
	arr := []any{f.Op}
	switch f.Op {
	case "all", "any", "none":
		for _, s := range f.Subs {
			arr = append(arr, s)
		}
	default:
		arr = append(arr, f.Prop)
		for _, v := range f.Values {
			arr = append(arr, v)
		}
	}
	return json.Marshal(arr)
}

// Matches evaluates the filter against feature properties. A property with
// an unexpected shape never aborts evaluation: the comparison simply fails
// and the feature is treated as non-matching.
func (f *Filter) Matches(props geojson.Properties) bool {
	if f == nil {
		return true
	}
	switch f.Op {
	case "all":
		for _, s := range f.Subs {
			if !s.Matches(props) {
				return false
			}
		}
		return true
	case "any":
		for _, s := range f.Subs {
			if s.Matches(props) {
				return true
			}
		}
		return false
	case "none":
		for _, s := range f.Subs {
			if s.Matches(props) {
				return false
			}
		}
		return true
	case "has":
		_, ok := props[f.Prop]
		return ok
	case "!has":
		_, ok := props[f.Prop]
		return !ok
	case "==":
		v, ok := props[f.Prop]
		return ok && len(f.Values) == 1 && scalarEqual(v, f.Values[0])
	case "!=":
		v, ok := props[f.Prop]
		if !ok {
			return true
		}
		return len(f.Values) == 1 && !scalarEqual(v, f.Values[0])
	case "in":
		v, ok := props[f.Prop]
		if !ok {
			return false
		}
		for _, want := range f.Values {
			if scalarEqual(v, want) {
				return true
			}
		}
		return false
	case "!in":
		v, ok := props[f.Prop]
		if !ok {
			return true
		}
		for _, want := range f.Values {
			if scalarEqual(v, want) {
				return false
			}
		}
		return true
	}
	return false
}

// scalarEqual compares two property scalars, normalizing numeric types so
// an int64 from a decoded tile equals a float64 from style JSON.
func scalarEqual(a, b any) bool {
	if an, ok := toFloat(a); ok {
		bn, ok := toFloat(b)
		return ok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Value is a paint or layout value: either a literal constant or a case
// expression, an ordered list of (predicate, value) pairs with a default:
//
//	{"case": [{"when": ["==","class","motorway"], "value": 4}], "default": 1}
type Value struct {
	Literal any
	Cases   []Case
	Default any
	isCase  bool
}

type Case struct {
	When  *Filter `json:"when"`
	Value any     `json:"value"`
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var probe struct {
		Cases   []Case          `json:"case"`
		Default json.RawMessage `json:"default"`
	}
	if err := json.Unmarshal(b, &probe); err == nil && len(probe.Cases) > 0 {
		v.isCase = true
		v.Cases = probe.Cases
		if len(probe.Default) > 0 {
			if err := json.Unmarshal(probe.Default, &v.Default); err != nil {
				return fmt.Errorf("case default: %w", err)
			}
		}
		return nil
	}
	if err := json.Unmarshal(b, &v.Literal); err != nil {
		return fmt.Errorf("paint value: %w", err)
	}
	return nil
}

func (v Value) MarshalJSON() ([]byte, error) {
	if v.isCase {
		return json.Marshal(map[string]any{"case": v.Cases, "default": v.Default})
	}
	return json.Marshal(v.Literal)
}

// Resolve picks the value for a feature: the first case whose predicate
// matches, the default, or the literal.
func (v Value) Resolve(props geojson.Properties) any {
	if !v.isCase {
		return v.Literal
	}
	for _, c := range v.Cases {
		if c.When.Matches(props) {
			return c.Value
		}
	}
	return v.Default
}

// Lit builds a literal Value; used by the built-in style.
func Lit(v any) Value { return Value{Literal: v} }

// ByCase builds a case-expression Value; used by the built-in style.
func ByCase(def any, cases ...Case) Value {
	return Value{isCase: true, Cases: cases, Default: def}
}
