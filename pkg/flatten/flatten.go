package flatten

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
)

// Kind tags which value slot a flattened leaf occupies.
type Kind int

const (
	// KindNumeric holds non-boolean numbers.
	KindNumeric Kind = iota
	// KindText holds strings, booleans and nulls, stringified.
	KindText
	// KindJSON holds anything that is still structured after traversal,
	// serialized as compact JSON.
	KindJSON
)

// NullText is the sentinel stored in the text slot for an explicit null leaf.
// It matches the representation already present in exported data, so replays
// of old documents keep producing identical rows.
const NullText = "None"

// Value is one flattened leaf, resolved to exactly one of the three slots at
// flatten time.
type Value struct {
	Kind    Kind
	Numeric float64
	Text    string
	JSON    []byte
}

// Numeric wraps a number leaf.
func Numeric(f float64) Value { return Value{Kind: KindNumeric, Numeric: f} }

// Text wraps a textual leaf.
func Text(s string) Value { return Value{Kind: KindText, Text: s} }

// JSON wraps a structured leaf.
func JSON(b []byte) Value { return Value{Kind: KindJSON, JSON: b} }

// Flatten turns a nested value into a flat map of dotted-path keys to typed
// leaves. Object keys and array indices both become path segments, so
// {"labels":{"node":"n1"},"arr":[10,20]} flattens to
// {"labels.node": Text("n1"), "arr.0": Numeric(10), "arr.1": Numeric(20)}.
//
// A top-level scalar binds to the empty-string key. Empty objects and arrays
// contribute no keys. Flatten is pure and never fails: a leaf of an
// unexpected type is coerced to its JSON serialization rather than rejected.
func Flatten(v any) map[string]Value {
	out := make(map[string]Value)
	walk(v, "", out)
	return out
}

func walk(v any, prefix string, out map[string]Value) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			walk(child, join(prefix, k), out)
		}
	case []any:
		for i, child := range t {
			walk(child, join(prefix, strconv.Itoa(i)), out)
		}
	case []byte:
		// Raw bytes are a leaf, not a container of numbers.
		out[prefix] = Text(string(t))
	default:
		// Named map and slice types (decoder-specific wrappers) still count
		// as containers.
		rv := reflect.ValueOf(v)
		switch {
		case rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String:
			for _, k := range rv.MapKeys() {
				walk(rv.MapIndex(k).Interface(), join(prefix, k.String()), out)
			}
		case rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array:
			for i := 0; i < rv.Len(); i++ {
				walk(rv.Index(i).Interface(), join(prefix, strconv.Itoa(i)), out)
			}
		default:
			out[prefix] = classify(v)
		}
	}
}

func join(prefix, segment string) string {
	if prefix == "" {
		return segment
	}
	return prefix + "." + segment
}

// classify routes a leaf to its value slot: non-boolean numbers to the
// numeric slot, strings/booleans/nulls to the text slot, anything else to the
// structured slot as compact JSON.
func classify(v any) Value {
	switch t := v.(type) {
	case nil:
		return Text(NullText)
	case bool:
		return Text(strconv.FormatBool(t))
	case string:
		return Text(t)
	case float64:
		return Numeric(t)
	case float32:
		return Numeric(float64(t))
	case int:
		return Numeric(float64(t))
	case int8:
		return Numeric(float64(t))
	case int16:
		return Numeric(float64(t))
	case int32:
		return Numeric(float64(t))
	case int64:
		return Numeric(float64(t))
	case uint:
		return Numeric(float64(t))
	case uint8:
		return Numeric(float64(t))
	case uint16:
		return Numeric(float64(t))
	case uint32:
		return Numeric(float64(t))
	case uint64:
		return Numeric(float64(t))
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Text(t.String())
		}
		return Numeric(f)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			// Unmarshalable leaf. Fall back to Go's default formatting so
			// the batch still goes through.
			return Text(fmt.Sprint(v))
		}
		return JSON(b)
	}
}
