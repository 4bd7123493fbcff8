// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package mongo

import (
	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// binary subtypes carrying plain bytes
const (
	binaryGeneric byte = 0x00
	binaryOld     byte = 0x02
)

// FromBSON converts a decoded BSON value into a document tree. BSON types
// with no tree counterpart (object ids, dates, decimals...) are kept as
// document.Opaque so they are written back unchanged.
func FromBSON(v interface{}) document.Value {
	switch t := v.(type) {
	case bson.D:
		return ObjectFromBSON(t)
	case bson.M:
		obj := make(document.Object, len(t))
		for k, e := range t {
			obj[k] = FromBSON(e)
		}
		return obj
	case map[string]interface{}:
		obj := make(document.Object, len(t))
		for k, e := range t {
			obj[k] = FromBSON(e)
		}
		return obj
	case bson.A:
		return arrayFromBSON(t)
	case []interface{}:
		return arrayFromBSON(t)
	case primitive.Binary:
		if t.Subtype == binaryGeneric || t.Subtype == binaryOld {
			return document.Binary(append([]byte(nil), t.Data...))
		}
		return document.Opaque{V: t}
	case primitive.Null, primitive.Undefined:
		return document.Null{}
	case nil, string, bool, int32, int64, float64, []byte:
		return document.FromNative(t)
	}
	return document.Opaque{V: v}
}

func ObjectFromBSON(d bson.D) document.Object {
	obj := make(document.Object, len(d))
	for _, e := range d {
		obj[e.Key] = FromBSON(e.Value)
	}
	return obj
}

func arrayFromBSON(a []interface{}) document.Array {
	arr := make(document.Array, len(a))
	for i, e := range a {
		arr[i] = FromBSON(e)
	}
	return arr
}

// ToBSON is the inverse of FromBSON. Objects become bson.M, so field order
// of the original document is not preserved.
func ToBSON(v document.Value) interface{} {
	switch t := v.(type) {
	case nil, document.Null:
		return nil
	case document.String:
		return string(t)
	case document.Int:
		return int64(t)
	case document.Float:
		return float64(t)
	case document.Bool:
		return bool(t)
	case document.Binary:
		return primitive.Binary{Subtype: binaryGeneric, Data: []byte(t)}
	case document.Opaque:
		return t.V
	case document.Array:
		out := make(bson.A, len(t))
		for i, e := range t {
			out[i] = ToBSON(e)
		}
		return out
	case document.Object:
		return ObjectToBSON(t)
	}
	return nil
}

func ObjectToBSON(o document.Object) bson.M {
	out := make(bson.M, len(o))
	for k, v := range o {
		out[k] = ToBSON(v)
	}
	return out
}

func ToTimestamp(ts primitive.Timestamp) base.Timestamp {
	return base.NewTimestamp(ts.T, ts.I)
}

func FromTimestamp(ts base.Timestamp) primitive.Timestamp {
	return primitive.Timestamp{T: ts.Seconds(), I: ts.Increment()}
}

// numeric reads a BSON number of any width, as found in GridFS metadata.
func numeric(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		return int64(t), true
	case document.Int:
		return int64(t), true
	case document.Float:
		return int64(t), true
	}
	return 0, false
}
