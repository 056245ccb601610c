// SPDX-FileCopyrightText: 2025 Jon Thor Kristinsson
// SPDX-License-Identifier: Apache-2.0

// Package jsonval is a tagged-sum JSON value tree, per the design note in
// spec.md §9: annotations and exception contexts are heterogeneous
// JSON-like trees, represented here as {Null, Bool, Int, Float, String,
// Array, Object} with a DeepMerge that drops null leaves (the semantics
// memo events need).
//
// No repo in the retrieval pack implements a generic JSON tagged-union
// tree, so this package is written directly against encoding/json rather
// than grounded on an example file; see DESIGN.md.
package jsonval

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind discriminates the tagged union held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

// Value is a single node of a heterogeneous JSON tree.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	arr  []Value
	obj  map[string]Value
	// keys preserves the order in which Set added object keys, for
	// deterministic re-marshaling; objects built by UnmarshalJSON receive
	// their keys in Go map iteration order, not document order.
	keys []string
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean leaf.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer leaf.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a floating-point leaf.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a string leaf.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps an ordered list of values.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object returns an empty object value; add keys with Set.
func Object() Value {
	return Value{kind: KindObject, obj: make(map[string]Value)}
}

// Kind reports the value's tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null value.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the boolean payload, or false if v is not a bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsInt returns the integer payload, or false if v is not numeric.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	default:
		return 0, false
	}
}

// AsFloat returns the float payload, or false if v is not numeric.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// AsString returns the string payload, or false if v is not a string.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.s, true
}

// AsArray returns the element slice, or nil/false if v is not an array.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

// Get looks up a key in an object value; ok is false if v is not an object
// or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	val, ok := v.obj[key]
	return val, ok
}

// Set stores key=val on an object value in place, preserving first-seen
// key order. If v is not an object it is first replaced by an empty
// object.
func (v *Value) Set(key string, val Value) {
	if v.kind != KindObject {
		*v = Object()
	}
	if _, exists := v.obj[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.obj[key] = val
}

// Keys returns an object's keys in first-seen order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	return append([]string(nil), v.keys...)
}

// DeepMerge merges patch onto base and returns the result, implementing the
// memo event's "deep-merge context under annotations ... drop null leaves"
// semantics (spec.md §4.4):
//   - a null leaf in patch deletes the corresponding key from the result
//   - two objects merge key-by-key, recursively
//   - anything else in patch (scalar, array, or object replacing a
//     non-object) overwrites the base value outright
func DeepMerge(base, patch Value) Value {
	if patch.kind != KindObject {
		return patch
	}
	if base.kind != KindObject {
		base = Object()
	}

	out := Object()
	for _, k := range base.keys {
		out.Set(k, base.obj[k])
	}
	for _, k := range patch.keys {
		pv := patch.obj[k]
		if pv.kind == KindNull {
			out.deleteKey(k)
			continue
		}
		// An absent key reads as the zero (null) Value, so an object in
		// patch is still merged into an empty object and loses its nulls.
		out.Set(k, DeepMerge(out.obj[k], pv))
	}
	return out
}

func (v *Value) deleteKey(key string) {
	if _, ok := v.obj[key]; !ok {
		return
	}
	delete(v.obj, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, item := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := v.obj[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("jsonval: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler using json.Decoder with
// UseNumber so integers survive the round trip as KindInt instead of
// collapsing to KindFloat.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		f, _ := t.Float64()
		return Float(f)
	case string:
		return String(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = fromAny(item)
		}
		return Array(items...)
	case map[string]any:
		out := Object()
		for k, item := range t {
			out.Set(k, fromAny(item))
		}
		return out
	default:
		return Null()
	}
}

// Parse decodes a JSON document into a Value tree.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}
