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
	"fmt"
	"testing"

	"github.com/couchbase/oplogConnector/base"
	"github.com/couchbase/oplogConnector/document"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	driver "go.mongodb.org/mongo-driver/mongo"
)

func TestRawEntryToLogEntry(t *testing.T) {
	ts := primitive.Timestamp{T: 100, I: 3}

	t.Run("insert", func(t *testing.T) {
		raw := rawEntry{Ts: ts, Op: "i", Ns: "db.coll", O: bson.D{{Key: "_id", Value: int32(1)}, {Key: "x", Value: "y"}}}
		entry, err := raw.toLogEntry()
		require.NoError(t, err)
		assert.Equal(t, base.NewTimestamp(100, 3), entry.Timestamp)
		assert.Equal(t, base.OpInsert, entry.Op)
		assert.Equal(t, "db.coll", entry.Namespace)
		assert.Equal(t, document.Object{"_id": document.Int(1), "x": document.String("y")}, entry.Payload)
		assert.Nil(t, entry.UpdatePayload)
	})

	t.Run("diff update", func(t *testing.T) {
		raw := rawEntry{Ts: ts, Op: "u", Ns: "db.coll",
			O: bson.D{
				{Key: "$v", Value: int32(2)},
				{Key: "diff", Value: bson.D{{Key: "u", Value: bson.D{{Key: "x", Value: int32(1)}}}}},
			},
			O2: bson.D{{Key: "_id", Value: int32(7)}},
		}
		entry, err := raw.toLogEntry()
		require.NoError(t, err)
		assert.Equal(t, document.NewUpdateSpec(document.Object{"x": document.Int(1)}), entry.Payload)
		id, ok := entry.DocumentId()
		assert.True(t, ok)
		assert.Equal(t, document.Int(7), id)
	})

	t.Run("array append is read back", func(t *testing.T) {
		o := bson.D{
			{Key: "$v", Value: int32(2)},
			{Key: "diff", Value: bson.D{{Key: "sarr", Value: bson.D{{Key: "a", Value: true}, {Key: "u3", Value: int32(4)}}}}},
		}
		raw := rawEntry{Ts: ts, Op: "u", Ns: "db.coll", O: o, O2: bson.D{{Key: "_id", Value: int32(7)}}}
		entry, err := raw.toLogEntry()
		require.NoError(t, err)
		assert.True(t, entry.Refetch)
		id, ok := entry.DocumentId()
		assert.True(t, ok)
		assert.Equal(t, document.Int(7), id)
	})

	t.Run("command", func(t *testing.T) {
		raw := rawEntry{Ts: ts, Op: "c", Ns: "db.$cmd", O: bson.D{{Key: "drop", Value: "coll"}}}
		entry, err := raw.toLogEntry()
		require.NoError(t, err)
		assert.True(t, entry.IsCommand())
	})

	t.Run("unknown operation", func(t *testing.T) {
		raw := rawEntry{Ts: ts, Op: "z", Ns: "db.coll"}
		_, err := raw.toLogEntry()
		assert.Error(t, err)
	})

	t.Run("unsupported diff", func(t *testing.T) {
		raw := rawEntry{Ts: ts, Op: "u", Ns: "db.coll", O: bson.D{{Key: "$v", Value: int32(2)}}}
		_, err := raw.toLogEntry()
		assert.True(t, errors.Is(err, base.ErrUpdateNotApplicable))
	})
}

func TestIsPositionLost(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"capped position lost", driver.CommandError{Code: cappedPositionLostCode}, true},
		{"cursor not found", driver.CommandError{Code: cursorNotFoundCode}, true},
		{"wrapped history lost", fmt.Errorf("getMore: %w", driver.CommandError{Code: historyLostCode}), true},
		{"other server error", driver.CommandError{Code: 11000}, false},
		{"client error", errors.New("connection reset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isPositionLost(tt.err))
		})
	}
}
