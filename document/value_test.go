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
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromNativeRoundTrip(t *testing.T) {
	native := map[string]interface{}{
		"s": "str",
		"i": int64(3),
		"f": 1.5,
		"b": true,
		"n": nil,
		"l": []interface{}{int64(1), "two"},
		"m": map[string]interface{}{"k": "v"},
	}
	obj := ObjectFromMap(native)
	assert.Equal(t, Object{
		"s": String("str"),
		"i": Int(3),
		"f": Float(1.5),
		"b": Bool(true),
		"n": Null{},
		"l": Array{Int(1), String("two")},
		"m": Object{"k": String("v")},
	}, obj)
	assert.Equal(t, native, obj.Native())
}

func TestFromNativeUnsigned(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want Value
	}{
		{"uint", uint(7), Int(7)},
		{"uint64", uint64(42), Int(42)},
		{"largest int64", uint64(math.MaxInt64), Int(math.MaxInt64)},
		{"beyond int64", uint64(math.MaxUint64), Float(float64(uint64(math.MaxUint64)))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromNative(tt.in))
		})
	}
	assert.Equal(t, Key(Int(7)), Key(FromNative(uint(7))))
}

func TestObjectJSON(t *testing.T) {
	var obj Object
	require.NoError(t, json.Unmarshal([]byte(`{"_id":1,"x":{"y":[1,2.5,"z"]}}`), &obj))
	assert.Equal(t, Object{
		"_id": Int(1),
		"x":   Object{"y": Array{Int(1), Float(2.5), String("z")}},
	}, obj)

	out, err := json.Marshal(obj)
	require.NoError(t, err)
	assert.JSONEq(t, `{"_id":1,"x":{"y":[1,2.5,"z"]}}`, string(out))
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"a": Object{"b": Array{Int(1)}}}
	cp := orig.Clone()
	cp["a"].(Object)["b"].(Array)[0] = Int(2)
	assert.Equal(t, Int(1), orig["a"].(Object)["b"].(Array)[0])
}

func TestTruthy(t *testing.T) {
	obj := Object{"one": Int(1), "zero": Int(0), "s": String("x"), "empty": String(""), "t": Bool(true), "null": Null{}}
	assert.True(t, obj.Truthy("one"))
	assert.False(t, obj.Truthy("zero"))
	assert.True(t, obj.Truthy("s"))
	assert.False(t, obj.Truthy("empty"))
	assert.True(t, obj.Truthy("t"))
	assert.False(t, obj.Truthy("null"))
	assert.False(t, obj.Truthy("missing"))
}

func TestKey(t *testing.T) {
	assert.Equal(t, Key(Int(1)), Key(Float(1)))
	assert.NotEqual(t, Key(Int(1)), Key(String("1")))
	assert.Equal(t, "s:abc", Key(String("abc")))
}

func TestLookup(t *testing.T) {
	doc := Object{"a": Object{"l": Array{Int(4), Int(5)}}}
	v, ok := Lookup(doc, SplitPath("a.l.1"))
	assert.True(t, ok)
	assert.Equal(t, Int(5), v)

	_, ok = Lookup(doc, SplitPath("a.l.2"))
	assert.False(t, ok)
	_, ok = Lookup(doc, SplitPath("a.x"))
	assert.False(t, ok)
}
