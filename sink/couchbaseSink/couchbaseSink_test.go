// Copyright (c) 2025 Couchbase, Inc.
// Licensed under the Apache License, Version 2.0 (the "License"); you may not use this file
// except in compliance with the License. You may obtain a copy of the License at
//   http://www.apache.org/licenses/LICENSE-2.0
// Unless required by applicable law or agreed to in writing, software distributed under the
// License is distributed on an "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND,
// either express or implied. See the License for the specific language governing permissions
// and limitations under the License.

package couchbaseSink

import (
	"errors"
	"testing"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromArgs(t *testing.T) {
	tests := []struct {
		name      string
		targetURL string
		args      map[string]string
		wantErr   bool
	}{
		{name: "complete", targetURL: "couchbase://localhost",
			args: map[string]string{ArgBucket: "target", ArgUsername: "u", ArgPassword: "p"}},
		{name: "missing url", args: map[string]string{ArgBucket: "target"}, wantErr: true},
		{name: "missing bucket", targetURL: "couchbase://localhost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := OptionsFromArgs(tt.targetURL, "_id", tt.args)
			if tt.wantErr {
				assert.True(t, errors.Is(err, base.ErrInvalidConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "target", opts.Bucket)
			assert.Equal(t, "u", opts.Username)
		})
	}
}

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "abc", DocumentKey(document.String("abc")))
	assert.Equal(t, "i:42", DocumentKey(document.Int(42)))
}

func TestKeyspace(t *testing.T) {
	assert.Equal(t, "`b`.`db`.`coll`", Keyspace("b", "db.coll"))
	assert.Equal(t, "`b`.`db`.`a.b`", Keyspace("b", "db.a.b"))
	assert.Equal(t, "`b``x`.`db`.`c`", Keyspace("b`x", "db.c"))
}

func TestBody(t *testing.T) {
	doc := document.Object{base.IdField: document.Int(1), "v": document.String("x")}

	body := Body(doc, "_id", "db.coll", 7)
	assert.Equal(t, document.Object{
		base.IdField:        document.Int(1),
		"v":                 document.String("x"),
		base.TimestampField: document.Int(7),
		base.NamespaceField: document.String("db.coll"),
	}, body)

	body = Body(doc, "docId", "db.coll", 7)
	assert.Equal(t, document.Int(1), body["docId"])
	assert.NotContains(t, body, base.IdField)
	// the input is left alone
	assert.Contains(t, doc, base.IdField)
}
