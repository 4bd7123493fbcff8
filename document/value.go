// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Value is a node of a document tree. Scalars are Null, String, Int, Float,
// Bool, Binary and Opaque; containers are Array and Object.
type Value interface {
	docValue()
}

type Null struct{}

type String string

type Int int64

type Float float64

type Bool bool

type Binary []byte

// Opaque carries a scalar the tree does not interpret, such as a driver
// specific object id or date. It is copied by value.
type Opaque struct {
	V interface{}
}

type Array []Value

type Object map[string]Value

func (Null) docValue()   {}
func (String) docValue() {}
func (Int) docValue()    {}
func (Float) docValue()  {}
func (Bool) docValue()   {}
func (Binary) docValue() {}
func (Opaque) docValue() {}
func (Array) docValue()  {}
func (Object) docValue() {}

// FromNative converts decoded JSON/BSON style values into a tree.
func FromNative(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Value:
		return t
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case int:
		return Int(t)
	case int8:
		return Int(t)
	case int16:
		return Int(t)
	case int32:
		return Int(t)
	case int64:
		return Int(t)
	case uint8:
		return Int(t)
	case uint16:
		return Int(t)
	case uint32:
		return Int(t)
	case uint:
		return fromUnsigned(uint64(t))
	case uint64:
		return fromUnsigned(t)
	case float32:
		return Float(t)
	case float64:
		return Float(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	case []byte:
		return Binary(append([]byte(nil), t...))
	case []interface{}:
		arr := make(Array, len(t))
		for i, e := range t {
			arr[i] = FromNative(e)
		}
		return arr
	case map[string]interface{}:
		return ObjectFromMap(t)
	}
	return Opaque{V: v}
}

// fromUnsigned keeps integers that fit an Int, larger ones degrade to Float.
func fromUnsigned(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(u)
	}
	return Int(u)
}

func ObjectFromMap(m map[string]interface{}) Object {
	obj := make(Object, len(m))
	for k, e := range m {
		obj[k] = FromNative(e)
	}
	return obj
}

// ToNative is the inverse of FromNative.
func ToNative(v Value) interface{} {
	switch t := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(t)
	case Int:
		return int64(t)
	case Float:
		return float64(t)
	case Bool:
		return bool(t)
	case Binary:
		return []byte(t)
	case Opaque:
		return t.V
	case Array:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = ToNative(e)
		}
		return out
	case Object:
		return t.Native()
	}
	return nil
}

func (o Object) Native() map[string]interface{} {
	out := make(map[string]interface{}, len(o))
	for k, v := range o {
		out[k] = ToNative(v)
	}
	return out
}

// Clone returns a deep copy of v. Opaque values are shared.
func Clone(v Value) Value {
	switch t := v.(type) {
	case Binary:
		return Binary(append([]byte(nil), t...))
	case Array:
		out := make(Array, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case Object:
		return t.Clone()
	}
	return v
}

func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = Clone(v)
	}
	return out
}

func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (o Object) GetString(key string) (string, bool) {
	s, ok := o[key].(String)
	return string(s), ok
}

// Truthy follows the loose truth test applied to command document fields:
// missing, null, false, zero and empty values are false.
func (o Object) Truthy(key string) bool {
	switch t := o[key].(type) {
	case nil, Null:
		return false
	case Bool:
		return bool(t)
	case Int:
		return t != 0
	case Float:
		return t != 0
	case String:
		return t != ""
	case Binary:
		return len(t) > 0
	case Array:
		return len(t) > 0
	case Object:
		return len(t) > 0
	}
	return true
}

// Clear removes every key, leaving a no-op document.
func (o Object) Clear() {
	for k := range o {
		delete(o, k)
	}
}

func (o Object) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.Native())
}

func (o *Object) UnmarshalJSON(data []byte) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var m map[string]interface{}
	if err := decoder.Decode(&m); err != nil {
		return err
	}
	*o = ObjectFromMap(m)
	return nil
}

// Key renders v as a string usable as a map key for document identity.
func Key(v Value) string {
	switch t := v.(type) {
	case nil, Null:
		return "null"
	case String:
		return "s:" + string(t)
	case Int:
		return fmt.Sprintf("i:%d", int64(t))
	case Float:
		if float64(t) == float64(int64(t)) {
			return fmt.Sprintf("i:%d", int64(t))
		}
		return fmt.Sprintf("f:%v", float64(t))
	case Bool:
		return fmt.Sprintf("b:%v", bool(t))
	case Binary:
		return fmt.Sprintf("x:%x", []byte(t))
	case Opaque:
		if s, ok := t.V.(fmt.Stringer); ok {
			return "o:" + s.String()
		}
		return fmt.Sprintf("o:%v", t.V)
	}
	b, err := json.Marshal(ToNative(v))
	if err != nil {
		return fmt.Sprintf("%v", ToNative(v))
	}
	return "j:" + string(b)
}
