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
	"errors"
	"testing"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func diffUpdate(diff document.Object) document.Object {
	return document.Object{versionField: document.Int(2), diffField: diff}
}

func TestNormalizeUpdate(t *testing.T) {
	tests := []struct {
		name string
		in   document.Object
		want document.Object
	}{
		{
			name: "replacement untouched",
			in:   document.Object{"_id": document.Int(1), "x": document.Int(2)},
			want: document.Object{"_id": document.Int(1), "x": document.Int(2)},
		},
		{
			name: "version 1 marker dropped",
			in: document.Object{versionField: document.Int(1),
				base.SetOperator: document.Object{"a": document.Int(1)}},
			want: document.NewUpdateSpec(document.Object{"a": document.Int(1)}),
		},
		{
			name: "diff update insert delete",
			in: diffUpdate(document.Object{
				"u": document.Object{"a": document.Int(1)},
				"i": document.Object{"b": document.String("x")},
				"d": document.Object{"c": document.Bool(false)},
			}),
			want: document.NewUpdateSpec(document.Object{"a": document.Int(1), "b": document.String("x")}, "c"),
		},
		{
			name: "nested diff",
			in: diffUpdate(document.Object{
				"sa": document.Object{"u": document.Object{"b": document.Int(2)},
					"sc": document.Object{"d": document.Object{"e": document.Bool(false)}}},
			}),
			want: document.NewUpdateSpec(document.Object{"a.b": document.Int(2)}, "a.c.e"),
		},
		{
			name: "array diff",
			in: diffUpdate(document.Object{
				"sl": document.Object{
					"a":  document.Bool(true),
					"s0": document.Object{"u": document.Object{"k": document.Int(1)}},
					"s2": document.Object{"d": document.Object{"m": document.Bool(false)}},
				},
			}),
			want: document.NewUpdateSpec(document.Object{"l.0.k": document.Int(1)}, "l.2.m"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeUpdate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeUpdateAppliesLikeTheServer(t *testing.T) {
	doc := document.Object{"_id": document.Int(1), "a": document.Object{"b": document.Int(1), "c": document.Int(1)},
		"l": document.Array{document.Int(0), document.Object{"k": document.Int(0)}}}
	spec, err := NormalizeUpdate(diffUpdate(document.Object{
		"sa": document.Object{"u": document.Object{"b": document.Int(2)}, "d": document.Object{"c": document.Bool(false)}},
		"sl": document.Object{"a": document.Bool(true), "s1": document.Object{"u": document.Object{"k": document.Int(9)}}},
	}))
	require.NoError(t, err)

	got, err := document.ApplyUpdate(doc, spec)
	require.NoError(t, err)
	assert.Equal(t, document.Object{"_id": document.Int(1), "a": document.Object{"b": document.Int(2)},
		"l": document.Array{document.Int(0), document.Object{"k": document.Int(9)}}}, got)
}

func TestNormalizeUpdateRejects(t *testing.T) {
	tests := []struct {
		name string
		in   document.Object
	}{
		{"missing diff", document.Object{versionField: document.Int(2)}},
		{"unknown entry", diffUpdate(document.Object{"x": document.Object{}})},
		{"malformed update", diffUpdate(document.Object{"u": document.Int(1)})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeUpdate(tt.in)
			assert.True(t, errors.Is(err, base.ErrUpdateNotApplicable), "%v", err)
		})
	}
}

func TestNormalizeUpdateNeedsPostImage(t *testing.T) {
	tests := []struct {
		name string
		in   document.Object
	}{
		// what the server logs for {$push: {arr: 4}} on arr: [1, 2, 3]
		{"append", diffUpdate(document.Object{"sarr": document.Object{"a": document.Bool(true), "u3": document.Int(4)}})},
		{"element write", diffUpdate(document.Object{"sarr": document.Object{"a": document.Bool(true), "u0": document.Int(7)}})},
		{"shrink", diffUpdate(document.Object{"sarr": document.Object{"a": document.Bool(true), "l": document.Int(1)}})},
		{"nested array", diffUpdate(document.Object{
			"sa": document.Object{"sarr": document.Object{"a": document.Bool(true), "u1": document.String("x")}},
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeUpdate(tt.in)
			assert.Nil(t, got)
			assert.True(t, errors.Is(err, ErrNeedsPostImage), "%v", err)
		})
	}
}
